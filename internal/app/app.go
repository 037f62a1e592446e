// Package app wires the process: database, logger, engine and providers.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"contribline/internal/db"
	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/logger"
	"contribline/internal/migrate"
	"contribline/internal/payment"
	"contribline/internal/provider"
)

// Options is the process configuration.
type Options struct {
	Workspace     string
	LogLevel      string
	LogFile       string
	LogConsole    bool
	GitHubToken   string
	JWTSecret     string
	PaymentSecret string
}

// OptionsFrom reads Options from v. Keys match the CLI flags; the
// CONTRIBLINE_ environment prefix applies.
func OptionsFrom(v *viper.Viper) Options {
	return Options{
		Workspace:     v.GetString("workspace"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
		LogConsole:    v.GetBool("log-console"),
		GitHubToken:   v.GetString("github-token"),
		JWTSecret:     v.GetString("jwt-secret"),
		PaymentSecret: v.GetString("payment-secret"),
	}
}

type App struct {
	DB     *sqlx.DB
	Engine engine.Engine
	Log    *zap.Logger
}

// Open opens the workspace database, applies migrations and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	log, err := logger.New(logger.Options{Level: opts.LogLevel, File: opts.LogFile, Console: opts.LogConsole})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn).WithLogger(log)
	e.Providers = provider.Registry{domain.ProviderGitHub: provider.NewGitHub(opts.GitHubToken)}
	e.Payments = payment.FakeGateway{Now: e.Now}
	log.Debug("workspace opened", zap.String("db", db.Path(opts.Workspace)))
	return &App{DB: conn, Engine: e, Log: log}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
