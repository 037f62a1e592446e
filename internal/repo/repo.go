package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"contribline/internal/errs"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Retry bounds how often a transaction is re-run after a transient failure.
type Retry struct {
	Attempts int
	Base     time.Duration
}

var DefaultRetry = Retry{Attempts: 4, Base: 50 * time.Millisecond}

type Repo struct {
	DB    *sqlx.DB
	Retry Retry
	Log   *zap.Logger

	tx *sqlx.Tx
}

// ErrNotFound is returned when a row lookup misses.
var ErrNotFound = errs.New(errs.NotFound, "not found")

func New(db *sqlx.DB) Repo {
	return Repo{DB: db, Retry: DefaultRetry}
}

func (r Repo) q() DBTX {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// Tx returns the open transaction, or nil outside WithTx.
func (r Repo) Tx() *sqlx.Tx { return r.tx }

func (r Repo) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// WithTx runs fn in one write transaction. fn receives a Repo bound to the
// transaction. Nested calls join the outer transaction. Transient failures
// (busy database, lock contention) roll back and re-run fn with
// exponential backoff; every other error surfaces immediately.
func (r Repo) WithTx(ctx context.Context, fn func(Repo) error) error {
	if r.tx != nil {
		return fn(r)
	}
	policy := r.Retry
	if policy.Attempts <= 0 {
		policy = DefaultRetry
	}
	delay := policy.Base
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !errs.IsTransient(err) {
			return err
		}
		if attempt == policy.Attempts {
			break
		}
		r.logger().Warn("transaction retry", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Transient, "transaction cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (r Repo) runTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()
	inner := r
	inner.tx = tx
	if err := fn(inner); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// classify maps driver errors onto the error taxonomy. Already classified
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *errs.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Transient, "storage call interrupted", err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			return errs.Wrap(errs.Transient, "storage busy", err)
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errs.Wrap(errs.AlreadyExists, "duplicate row", err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", errs.ErrReferencedEntityMissing, err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return errs.Wrap(errs.Transient, "storage busy", err)
	}
	return err
}

// Classify exposes driver error classification to callers issuing raw statements.
func Classify(err error) error { return classify(err) }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return classify(err)
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
