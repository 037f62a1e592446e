package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/scheduler"
)

type countingAssigner struct {
	overdue    atomic.Int32
	unassigned atomic.Int32
}

func (c *countingAssigner) ReassignOverdue(context.Context) (int, error) {
	c.overdue.Add(1)
	return 1, nil
}

func (c *countingAssigner) AssignUnassigned(context.Context) (int, error) {
	c.unassigned.Add(1)
	return 0, nil
}

func TestAssignmentJobsRun(t *testing.T) {
	m, err := scheduler.New(nil)
	require.NoError(t, err)
	a := &countingAssigner{}
	for _, job := range scheduler.AssignmentJobs(a, 20*time.Millisecond, nil) {
		require.NoError(t, m.Register(job))
	}
	m.Start()
	assert.Eventually(t, func() bool {
		return a.overdue.Load() >= 2 && a.unassigned.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop())

	after := a.overdue.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, a.overdue.Load())
}

func TestStopCancelsJobContext(t *testing.T) {
	m, err := scheduler.New(nil)
	require.NoError(t, err)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, m.Register(scheduler.Job{
		Name:  "blocking",
		Every: time.Hour,
		Run: func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			close(cancelled)
		},
	}))
	m.Start()
	<-started
	require.NoError(t, m.Stop())
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled")
	}
}

func TestRegisterRejectsBadInterval(t *testing.T) {
	m, err := scheduler.New(nil)
	require.NoError(t, err)
	err = m.Register(scheduler.Job{Name: "broken", Every: 0, Run: func(context.Context) {}})
	assert.Error(t, err)
	require.NoError(t, m.Stop())
}
