// Package scheduler runs the periodic assignment jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Assigner is the engine surface the assignment jobs drive.
type Assigner interface {
	ReassignOverdue(ctx context.Context) (int, error)
	AssignUnassigned(ctx context.Context) (int, error)
}

// Job is a named function run every Every.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Manager owns a gocron scheduler. A run never overlaps the previous run of
// the same job.
type Manager struct {
	scheduler gocron.Scheduler
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{scheduler: s, log: log, ctx: ctx, cancel: cancel}, nil
}

// Register adds job. The first run happens right after Start.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(job.Every),
		gocron.NewTask(func() {
			start := time.Now()
			job.Run(m.ctx)
			m.log.Debug("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
		}),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		m.log.Error("register job", zap.String("job", job.Name), zap.Error(err))
	}
	return err
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.log.Info("scheduler started", zap.Int("jobs", len(m.scheduler.Jobs())))
}

// Stop cancels running jobs and waits for them to return.
func (m *Manager) Stop() error {
	m.cancel()
	err := m.scheduler.Shutdown()
	if err != nil {
		m.log.Error("scheduler shutdown", zap.Error(err))
	}
	return err
}

// AssignmentJobs moves overdue tasks and elects contributors for open
// tasks every interval.
func AssignmentJobs(a Assigner, interval time.Duration, log *zap.Logger) []Job {
	if log == nil {
		log = zap.NewNop()
	}
	return []Job{
		{
			Name:  "reassign_overdue",
			Every: interval,
			Run: func(ctx context.Context) {
				n, err := a.ReassignOverdue(ctx)
				if err != nil {
					log.Error("reassign overdue", zap.Error(err))
				}
				if n > 0 {
					log.Info("overdue tasks reassigned", zap.Int("count", n))
				}
			},
		},
		{
			Name:  "assign_unassigned",
			Every: interval,
			Run: func(ctx context.Context) {
				n, err := a.AssignUnassigned(ctx)
				if err != nil {
					log.Error("assign unassigned", zap.Error(err))
				}
				if n > 0 {
					log.Info("open tasks assigned", zap.Int("count", n))
				}
			},
		},
	}
}
