package repo_test

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
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
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
	// a second run finds nothing to apply
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	r := repo.New(conn)
	require.NoError(t, r.InsertUser(ctx, domain.User{Username: "john", Provider: "github"}, now))
	require.NoError(t, r.InsertProject(ctx, domain.Project{RepoFullName: "john/test", Provider: "github", OwnerUsername: "john", WebhookToken: "tok", CreatedAt: now}))
	require.NoError(t, r.InsertContributor(ctx, domain.Contributor{Username: "vlad", Provider: "github"}, now))
	require.NoError(t, r.InsertContract(ctx, domain.Contract{ID: contractID(), HourlyRate: 6000, CreatedAt: now}))
	return r
}

func contractID() domain.ContractID {
	return domain.ContractID{RepoFullName: "john/test", Username: "vlad", Provider: "github", Role: domain.RoleDEV}
}

func TestDuplicateContractIsAlreadyExists(t *testing.T) {
	r := newRepo(t)
	err := r.InsertContract(context.Background(), domain.Contract{ID: contractID(), CreatedAt: now})
	assert.True(t, errors.Is(err, errs.ErrAlreadyExists), "got %v", err)
}

func TestContractForeignKeysAreChecked(t *testing.T) {
	r := newRepo(t)
	id := contractID()
	id.Username = "ghost"
	err := r.InsertContract(context.Background(), domain.Contract{ID: id, CreatedAt: now})
	assert.True(t, errors.Is(err, errs.ErrReferencedEntityMissing), "got %v", err)
}

func TestAtMostOneUnpaidInvoicePerContract(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	first, err := r.InsertInvoice(ctx, domain.Invoice{Contract: contractID(), CreatedAt: now, Currency: "EUR"})
	require.NoError(t, err)

	_, err = r.InsertInvoice(ctx, domain.Invoice{Contract: contractID(), CreatedAt: now, Currency: "EUR"})
	assert.True(t, errors.Is(err, errs.ErrAlreadyExists), "second unpaid invoice: %v", err)

	require.NoError(t, r.MarkInvoicePaid(ctx, first, "ch_1", now, "Vlad", "John"))
	err = r.MarkInvoicePaid(ctx, first, "ch_2", now, "", "")
	assert.True(t, errors.Is(err, errs.ErrAlreadyPaid))

	paid, err := r.GetInvoice(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, paid.TransactionID)
	assert.Equal(t, "ch_1", *paid.TransactionID)
	assert.Equal(t, "Vlad", paid.BilledBy)

	second, err := r.InsertInvoice(ctx, domain.Invoice{Contract: contractID(), CreatedAt: now, Currency: "EUR"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	unpaid, err := r.CountUnpaidInvoices(ctx, contractID())
	require.NoError(t, err)
	assert.Equal(t, 1, unpaid)
}

func TestInvoiceSumsAndTotals(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.InsertInvoice(ctx, domain.Invoice{Contract: contractID(), CreatedAt: now, Currency: "EUR"})
	require.NoError(t, err)
	for i, value := range []int64{3000, 2500} {
		require.NoError(t, r.InsertInvoicedTask(ctx, domain.InvoicedTask{
			InvoiceID:         id,
			Task:              domain.TaskID{IssueID: string(rune('1' + i)), RepoFullName: "john/test", Provider: "github"},
			Username:          "vlad",
			Role:              domain.RoleDEV,
			EstimationMinutes: 30,
			Value:             value,
			Commission:        value / 10,
			InvoicedAt:        now,
		}))
	}
	sums, err := r.InvoiceSums(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repo.InvoiceSums{Amount: 5500, Commission: 550, Count: 2}, sums)
	assert.Equal(t, int64(6050), sums.Total())

	totals, err := r.ContractTotals(ctx, contractID())
	require.NoError(t, err)
	assert.Equal(t, repo.ContractTotals{Revenue: 5500, Value: 5500, Invoiced: 6050}, totals)
}

func TestPlatformInvoiceTransactionIsUnique(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.InsertInvoice(ctx, domain.Invoice{Contract: contractID(), CreatedAt: now, Currency: "EUR"})
	require.NoError(t, err)
	pi := domain.PlatformInvoice{InvoiceID: id, TransactionID: "ch_1", PaymentTime: now, BilledTo: "Vlad", TotalAmount: 100, Currency: "EUR", CreatedAt: now}
	_, err = r.InsertPlatformInvoice(ctx, pi)
	require.NoError(t, err)
	_, err = r.InsertPlatformInvoice(ctx, pi)
	assert.True(t, errors.Is(err, errs.ErrAlreadyExists))

	got, err := r.GetPlatformInvoice(ctx, "ch_1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalAmount)
	_, err = r.GetPlatformInvoice(ctx, "ch_1", now.Add(time.Second))
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestWithTxNestsAndRollsBack(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := r.WithTx(ctx, func(tx repo.Repo) error {
		return tx.WithTx(ctx, func(inner repo.Repo) error {
			require.Same(t, tx.Tx(), inner.Tx())
			if err := inner.UpdateContractRate(ctx, contractID(), 9000); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	c, err := r.GetContract(ctx, contractID())
	require.NoError(t, err)
	assert.Equal(t, int64(6000), c.HourlyRate)
}

func TestWithTxRetriesTransientFailures(t *testing.T) {
	r := newRepo(t)
	r.Retry = repo.Retry{Attempts: 3, Base: time.Millisecond}
	calls := 0
	err := r.WithTx(context.Background(), func(repo.Repo) error {
		calls++
		if calls < 3 {
			return errs.New(errs.Transient, "busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = r.WithTx(context.Background(), func(repo.Repo) error {
		calls++
		return errs.New(errs.InvalidState, "no")
	})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
	assert.Equal(t, 1, calls)
}
