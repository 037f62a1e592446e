package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"contribline/internal/app"
	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/engine"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	var provider, email string
	register := &cobra.Command{
		Use:   "register <username>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.RegisterUser(ctx, domain.User{Username: args[0], Provider: provider, Email: email})
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	register.Flags().StringVar(&provider, "provider", domain.ProviderGitHub, "provider")
	register.Flags().StringVar(&email, "email", "", "email")
	cmd.AddCommand(register)
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectBillingCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var owner, billing, configPath string
	cmd := &cobra.Command{
		Use:   "create <[provider:]owner/repo>",
		Short: "Register a project owned by a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.ParseProject(args[0])
			if err != nil {
				return err
			}
			var cfg *config.Config
			if configPath != "" {
				data, err := os.ReadFile(configPath)
				if err != nil {
					return err
				}
				if cfg, err = config.ForProject(id, data); err != nil {
					return err
				}
			}
			if owner == "" {
				owner = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.RegisterProject(ctx, engine.ProjectOptions{
					Repo:        id.RepoFullName,
					Provider:    id.Provider,
					Owner:       owner,
					BillingInfo: billing,
					Config:      cfg,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Project %s registered. Webhook token: %s\n", p.ID(), p.WebhookToken)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner username (defaults to --actor-id)")
	cmd.Flags().StringVar(&billing, "billing", "", "billing information")
	cmd.Flags().StringVar(&configPath, "config", "", "contribline.yml to seed the project config")
	return cmd
}

func projectListCmd() *cobra.Command {
	var owner, provider string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var u *domain.User
				if owner != "" {
					u = &domain.User{Username: owner, Provider: provider}
				}
				items, err := a.Engine.Repo.ListProjects(ctx, u)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID(), p.OwnerUsername, p.BillingInfo, p.CreatedAt.Format("2006-01-02")})
				}
				return printTable(items, table.Row{"Project", "Owner", "Billing", "Created"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only projects of this owner")
	cmd.Flags().StringVar(&provider, "provider", domain.ProviderGitHub, "owner provider")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project with its webhook token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				p, err := a.Engine.Store.Projects().GetByID(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(struct {
					domain.Project
					WebhookToken string `json:"webhook_token"`
				}{p, p.WebhookToken})
			})
		},
	}
}

func projectBillingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "billing <info>",
		Short: "Set the billing information invoices are addressed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				return a.Engine.SetProjectBilling(ctx, id, args[0])
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Project configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				cfg, err := a.Engine.ProjectConfig(ctx, id)
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			})
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replace the configuration from a contribline.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				cfg, err := config.ForProject(id, data)
				if err != nil {
					return err
				}
				if err := a.Engine.SetProjectConfig(ctx, id, cfg, actorID()); err != nil {
					return err
				}
				fmt.Printf("Config of %s imported from %s\n", id, args[0])
				return nil
			})
		},
	})
	return cfgCmd
}

func contributorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contributor", Short: "Manage project contributors"}
	var provider string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a contributor; a DEV contract at rate 0 comes with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				p := provider
				if p == "" {
					p = id.Provider
				}
				c, err := a.Engine.RegisterContributor(ctx, id, args[0], p, actorID())
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	add.Flags().StringVar(&provider, "provider", "", "contributor provider (defaults to the project's)")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contributors of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				items, err := a.Engine.Store.Contributors().OfProject(id).List(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.Username, c.Provider, c.BillingInfo})
				}
				return printTable(items, table.Row{"Username", "Provider", "Billing"}, rows)
			})
		},
	})
	var billingProvider string
	billing := &cobra.Command{
		Use:   "billing <username> <info>",
		Short: "Set the billing information a contributor invoices under",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.SetContributorBilling(ctx, args[0], billingProvider, args[1])
			})
		},
	}
	billing.Flags().StringVar(&billingProvider, "provider", domain.ProviderGitHub, "contributor provider")
	cmd.AddCommand(billing)
	return cmd
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Manage project wallets"}
	var cashLimit, commission int64
	var currency, identifier string
	add := &cobra.Command{
		Use:   "add <FAKE|STRIPE>",
		Short: "Register a wallet; the first one becomes active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				opts := engine.WalletOptions{
					Project:    id,
					Type:       args[0],
					CashLimit:  cashLimit,
					Currency:   currency,
					Identifier: identifier,
					ActorID:    actorID(),
				}
				if cmd.Flags().Changed("commission-bp") {
					opts.CommissionBP = &commission
				}
				w, err := a.Engine.RegisterWallet(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	add.Flags().Int64Var(&cashLimit, "cash-limit", 0, "largest single charge in minor units, 0 for none")
	add.Flags().Int64Var(&commission, "commission-bp", 0, "commission in basis points (defaults to the project's)")
	add.Flags().StringVar(&currency, "currency", "", "ISO currency (defaults to the project's)")
	add.Flags().StringVar(&identifier, "identifier", "", "processor account identifier")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List wallets of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				items, err := a.Engine.Store.Wallets().OfProject(id).List(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, w := range items {
					limit := "-"
					if w.CashLimit > 0 {
						limit = domain.FormatMoney(w.CashLimit, w.Currency)
					}
					rows = append(rows, table.Row{w.Type, w.Active, w.Currency, strconv.FormatInt(w.CommissionBP, 10) + "bp", limit})
				}
				return printTable(items, table.Row{"Type", "Active", "Currency", "Commission", "Cash limit"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "activate <type>",
		Short: "Make a wallet the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				w, err := a.Engine.ActivateWallet(ctx, id, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	})
	return cmd
}
