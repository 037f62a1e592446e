package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/db"
	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/migrate"
	"contribline/internal/repo"
	"contribline/internal/storage"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newStorage(t *testing.T) (storage.Storage, domain.ProjectID) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := storage.New(repo.New(conn))
	if _, err := s.Users().Register(ctx, domain.User{Username: "john", Provider: "github"}, now); err != nil {
		t.Fatalf("owner: %v", err)
	}
	p, err := s.Projects().Register(ctx, domain.Project{RepoFullName: "john/test", Provider: "github", OwnerUsername: "john", CreatedAt: now})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	return s, p.ID()
}

func TestViewsScopeToTheirOwnID(t *testing.T) {
	s, project := newStorage(t)
	other := domain.ProjectID{RepoFullName: "john/other", Provider: "github"}

	contributors := s.Contributors().OfProject(project)
	same, err := contributors.OfProject(project)
	require.NoError(t, err)
	assert.Equal(t, contributors, same)
	_, err = contributors.OfProject(other)
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))

	tasks := s.Tasks().OfProject(project)
	_, err = tasks.OfProject(other)
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))

	cid := domain.ContractID{RepoFullName: "john/test", Username: "mihai", Provider: "github", Role: domain.RoleDEV}
	invoices := s.Invoices().OfContract(cid)
	_, err = invoices.OfContract(cid)
	require.NoError(t, err)
	cid.Role = domain.RoleQA
	_, err = invoices.OfContract(cid)
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))

	contracts := s.Contracts().OfContributor("mihai", "github")
	_, err = contracts.OfContributor("vlad", "github")
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))

	wallets := s.Wallets().OfProject(project)
	_, err = wallets.OfProject(other)
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))

	lines := s.InvoicedTasks().OfInvoice(1)
	_, err = lines.OfInvoice(2)
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))
}

func TestViewsReflectLatestState(t *testing.T) {
	s, project := newStorage(t)
	ctx := context.Background()
	pool := s.Contributors().OfProject(project)

	before, err := pool.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, before)

	_, created, err := pool.Register(ctx, "mihai", "github", now)
	require.NoError(t, err)
	assert.True(t, created)

	var names []string
	for c, err := range pool.All(ctx) {
		require.NoError(t, err)
		names = append(names, c.Username)
	}
	assert.Equal(t, []string{"mihai"}, names)

	_, created, err = pool.Register(ctx, "mihai", "github", now)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestTaskRegisterRejectsOtherProject(t *testing.T) {
	s, project := newStorage(t)
	_, err := s.Tasks().OfProject(project).Register(context.Background(), domain.Task{
		ID:   domain.TaskID{IssueID: "1", RepoFullName: "john/other", Provider: "github"},
		Role: domain.RoleDEV,
	})
	assert.True(t, errors.Is(err, errs.ErrScopeMismatch))
}

func TestOverdueViewReadsClockEachPass(t *testing.T) {
	s, project := newStorage(t)
	ctx := context.Background()
	_, _, err := s.Contributors().OfProject(project).Register(ctx, "mihai", "github", now)
	require.NoError(t, err)
	deadline := now.Add(time.Hour)
	assignee := "mihai"
	_, err = s.Tasks().OfProject(project).Register(ctx, domain.Task{
		ID:             domain.TaskID{IssueID: "1", RepoFullName: project.RepoFullName, Provider: project.Provider},
		Role:           domain.RoleDEV,
		Estimation:     60,
		Assignee:       &assignee,
		AssignmentDate: &now,
		Deadline:       &deadline,
		CreatedAt:      now,
	})
	require.NoError(t, err)

	clock := now
	overdue := s.Tasks().OfProject(project).Overdue(func() time.Time { return clock })
	got, err := overdue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	clock = now.Add(2 * time.Hour)
	got, err = overdue.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWalletsKeepOneActive(t *testing.T) {
	s, project := newStorage(t)
	ctx := context.Background()
	wallets := s.Wallets().OfProject(project)

	fake, err := wallets.Register(ctx, domain.Wallet{Project: project, Type: domain.WalletFake, CommissionBP: 800})
	require.NoError(t, err)
	assert.True(t, fake.Active)
	assert.Equal(t, domain.DefaultCurrency, fake.Currency)

	stripe, err := wallets.Register(ctx, domain.Wallet{Project: project, Type: domain.WalletStripe})
	require.NoError(t, err)
	assert.False(t, stripe.Active)

	_, err = wallets.Register(ctx, domain.Wallet{Project: project, Type: "PAYPAL", CommissionBP: 20_000})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	active, err := wallets.Activate(ctx, domain.WalletStripe)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStripe, active.Type)
	current, err := wallets.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, domain.WalletStripe, current.Type)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s, project := newStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(tx storage.Storage) error {
		if _, _, err := tx.Contributors().OfProject(project).Register(ctx, "mihai", "github", now); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Contributors().GetByID(ctx, "mihai", "github")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
