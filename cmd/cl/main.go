package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contribline/internal/app"
	"contribline/internal/db"
	"contribline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Contribline CLI",
	Long: `Contribline elects contributors onto repository issues and bills the work.

- Project: a repository on a provider, owned by a registered user.
- Contributor: a user taking part in a project; joining gives a DEV contract at rate 0.
- Contract: (project, contributor, role) with an hourly rate in minor units.
- Task: an issue carrying a role label. Opened tasks go to the elected contributor.
- Invoice: one active invoice per contract collects closed tasks until it is paid.
- Wallet: pays invoices; its commission goes to the platform.
- Event log: every change, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CONTRIBLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	f := rootCmd.PersistentFlags()
	f.StringP("workspace", "w", ".", "workspace directory")
	f.Bool("json", false, "output JSON")
	f.String("actor-id", "local-user", "actor identifier")
	f.String("project", "", "project as owner/repo or provider:owner/repo")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-file", "", "rotated JSON log file; empty logs to stderr")
	f.Bool("log-console", false, "also log to stderr when --log-file is set")
	f.String("github-token", "", "GitHub API token")
	f.String("jwt-secret", "", "HS256 secret of API bearer tokens")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "log-file", "log-console", "github-token", "jwt-secret"} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(contributorCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.OptionsFrom(viper.GetViper()))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withProject resolves --project, or the only project of the workspace.
func withProject(ctx context.Context, fn func(context.Context, *app.App, domain.ProjectID) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		id, err := app.ResolveProject(ctx, a.Engine.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, a, id)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func contractID(project domain.ProjectID, username, role string) (domain.ContractID, error) {
	r, ok := domain.ParseRole(role)
	if !ok {
		return domain.ContractID{}, fmt.Errorf("unknown role %q, want one of %s", role, strings.Join(domain.Roles, ", "))
	}
	return domain.ContractID{RepoFullName: project.RepoFullName, Username: username, Provider: project.Provider, Role: r}, nil
}

func taskID(project domain.ProjectID, issueID string) domain.TaskID {
	return domain.TaskID{IssueID: issueID, RepoFullName: project.RepoFullName, Provider: project.Provider}
}

// printTable writes rows as a table, or v as JSON with --json.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
