package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"contribline/internal/app"
	"contribline/internal/payment"
	"contribline/internal/scheduler"
	"contribline/internal/server"
)

func serveCmd() *cobra.Command {
	var devLogin bool
	var sweepEvery, dispatchEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the assignment and webhook jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, basePath := viper.GetString("addr"), viper.GetString("base-path")
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), DevLogin: devLogin}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("--jwt-secret or CONTRIBLINE_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg.Log = a.Log
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Payments: payment.Verifier{Secret: viper.GetString("payment-secret")},
					Log:      a.Log,
				})
				if err != nil {
					return err
				}

				jobs, err := scheduler.New(a.Log)
				if err != nil {
					return err
				}
				dispatcher := server.NewEventDispatcher(a.Engine, a.Log)
				all := append(scheduler.AssignmentJobs(a.Engine, sweepEvery, a.Log), scheduler.Job{
					Name:  "dispatch_webhooks",
					Every: dispatchEvery,
					Run:   dispatcher.DispatchAll,
				})
				for _, j := range all {
					if err := jobs.Register(j); err != nil {
						return err
					}
				}
				jobs.Start()
				defer func() {
					if err := jobs.Stop(); err != nil {
						a.Log.Warn("scheduler stop", zap.Error(err))
					}
				}()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
				a.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Contribline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("base-path", "/v0", "API base path")
	cmd.Flags().String("payment-secret", "", "HS256 secret of payment notifications")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-every", time.Hour, "interval of the overdue and open task sweeps")
	cmd.Flags().DurationVar(&dispatchEvery, "dispatch-every", 10*time.Second, "interval of outgoing webhook delivery")
	for _, name := range []string{"addr", "base-path", "payment-secret"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}
