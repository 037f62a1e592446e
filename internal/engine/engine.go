package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/events"
	"contribline/internal/payment"
	"contribline/internal/provider"
	"contribline/internal/repo"
	"contribline/internal/storage"
)

type Engine struct {
	DB         *sqlx.DB
	Repo       repo.Repo
	Store      storage.Storage
	Events     events.Writer
	Providers  provider.Registry
	Payments   payment.Gateway
	Commission CommissionPolicy
	Log        *zap.Logger
	Now        func() time.Time
}

func New(db *sqlx.DB) Engine {
	r := repo.New(db)
	return Engine{
		DB:         db,
		Repo:       r,
		Store:      storage.New(r),
		Commission: DefaultCommission,
		Log:        zap.NewNop(),
		Now:        time.Now,
	}
}

// WithLogger returns a copy logging to log, storage retries included.
func (e Engine) WithLogger(log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e.Log = log
	e.Repo.Log = log
	e.Store = storage.New(e.Repo)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) commission() CommissionPolicy {
	if e.Commission == nil {
		return DefaultCommission
	}
	return e.Commission
}

// tx runs fn in one storage transaction.
func (e Engine) tx(ctx context.Context, fn func(s storage.Storage) error) error {
	return e.Store.WithTransaction(ctx, fn)
}

// emit appends an event inside the transaction held by s.
func (e Engine) emit(ctx context.Context, s storage.Storage, evtType string, project domain.ProjectID, kind, id, actor string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	tx := s.Repo().Tx()
	if tx == nil {
		return errors.New("emit outside transaction")
	}
	return w.Append(ctx, tx, evtType, project.String(), kind, id, actor, payload)
}

// projectConfig returns the stored config of a project, or its defaults.
func (e Engine) projectConfig(ctx context.Context, s storage.Storage, id domain.ProjectID) (*config.Config, error) {
	cfg, err := s.Repo().GetProjectConfig(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return config.Default(id), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ProjectConfig is the effective configuration of a project.
func (e Engine) ProjectConfig(ctx context.Context, id domain.ProjectID) (*config.Config, error) {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return nil, err
	}
	return e.projectConfig(ctx, e.Store, id)
}

// retry re-runs op while it fails with a Transient error, backing off
// exponentially between attempts.
func (e Engine) retry(ctx context.Context, name string, op func() error) error {
	policy := e.Repo.Retry
	if policy.Attempts <= 0 {
		policy = repo.DefaultRetry
	}
	delay := policy.Base
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = op(); err == nil || !errs.IsTransient(err) {
			return err
		}
		if attempt == policy.Attempts {
			break
		}
		e.log().Warn("retrying", zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Transient, name+" cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
