package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contribline/internal/app"
	"contribline/internal/domain"
	"contribline/internal/render"
	"contribline/internal/repo"
	"contribline/internal/server"
)

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contracts with revenue, value and invoiced totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, id domain.ProjectID) error {
				items, err := a.Engine.ProjectContracts(ctx, id)
				if err != nil {
					return err
				}
				cfg, err := a.Engine.ProjectConfig(ctx, id)
				if err != nil {
					return err
				}
				cur := cfg.Currency()
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					marked := "-"
					if c.MarkedForRemoval != nil {
						marked = c.MarkedForRemoval.Format("2006-01-02")
					}
					rows = append(rows, table.Row{
						c.ID.Username, c.ID.Role,
						domain.FormatMoney(c.HourlyRate, cur),
						domain.FormatMoney(c.Revenue, cur),
						domain.FormatMoney(c.Value, cur),
						domain.FormatMoney(c.Invoiced, cur),
						marked,
					})
				}
				return printTable(items, table.Row{"Username", "Role", "Rate/h", "Revenue", "Value", "Invoiced", "Removal"}, rows)
			})
		},
	})
	cmd.AddCommand(contractRateCmd("add", "Add a contract", func(ctx context.Context, a *app.App, id domain.ContractID, rate int64) (domain.Contract, error) {
		return a.Engine.AddContract(ctx, id, rate, actorID())
	}))
	cmd.AddCommand(contractRateCmd("update", "Change the hourly rate", func(ctx context.Context, a *app.App, id domain.ContractID, rate int64) (domain.Contract, error) {
		return a.Engine.UpdateContract(ctx, id, rate, actorID())
	}))
	cmd.AddCommand(contractIDCmd("show", "Show a contract with its totals", func(ctx context.Context, a *app.App, id domain.ContractID) error {
		s, err := a.Engine.ContractSummary(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(s)
	}))
	cmd.AddCommand(contractIDCmd("mark-removal", "Stop electing the contract from now on", func(ctx context.Context, a *app.App, id domain.ContractID) error {
		c, err := a.Engine.MarkForRemoval(ctx, id, time.Time{}, actorID())
		if err != nil {
			return err
		}
		return printJSON(c)
	}))
	cmd.AddCommand(contractIDCmd("remove", "Delete a contract whose work is settled", func(ctx context.Context, a *app.App, id domain.ContractID) error {
		if err := a.Engine.RemoveContract(ctx, id, actorID()); err != nil {
			return err
		}
		fmt.Printf("Contract %s removed\n", id)
		return nil
	}))
	cmd.AddCommand(contractIDCmd("active", "Show the active invoice, opening one if needed", func(ctx context.Context, a *app.App, id domain.ContractID) error {
		inv, err := a.Engine.ActiveOf(ctx, id, actorID())
		if err != nil {
			return err
		}
		return showInvoice(ctx, a, inv.ID)
	}))
	cmd.AddCommand(contractIDCmd("pay", "Charge the active wallet for the active invoice", func(ctx context.Context, a *app.App, id domain.ContractID) error {
		inv, err := a.Engine.PayActive(ctx, id, actorID())
		if err != nil {
			return err
		}
		return showInvoice(ctx, a, inv.ID)
	}))
	return cmd
}

func contractIDCmd(use, short string, fn func(context.Context, *app.App, domain.ContractID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username> <role>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				id, err := contractID(project, args[0], args[1])
				if err != nil {
					return err
				}
				return fn(ctx, a, id)
			})
		},
	}
}

func contractRateCmd(use, short string, fn func(context.Context, *app.App, domain.ContractID, int64) (domain.Contract, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username> <role> <hourly-rate>",
		Short: short + "; the rate is in minor units",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("hourly rate: %w", err)
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				id, err := contractID(project, args[0], args[1])
				if err != nil {
					return err
				}
				c, err := fn(ctx, a, id, rate)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskRegisterCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskActionCmd("show", "Show a task", func(ctx context.Context, a *app.App, id domain.TaskID) (any, error) {
		return a.Engine.Task(ctx, id)
	}))
	cmd.AddCommand(taskActionCmd("elect", "Show who would be elected", func(ctx context.Context, a *app.App, id domain.TaskID) (any, error) {
		candidates, err := a.Engine.Candidates(ctx, id)
		if err != nil {
			return nil, err
		}
		winner, err := a.Engine.Elect(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"winner": winner, "candidates": candidates}, nil
	}))
	cmd.AddCommand(taskAssignCmd())
	cmd.AddCommand(taskActionCmd("unassign", "Return the task to the pool", func(ctx context.Context, a *app.App, id domain.TaskID) (any, error) {
		return a.Engine.Unassign(ctx, id, actorID())
	}))
	cmd.AddCommand(taskActionCmd("resign", "Hand the task to the next elected contributor", func(ctx context.Context, a *app.App, id domain.TaskID) (any, error) {
		return a.Engine.Resign(ctx, id, actorID())
	}))
	cmd.AddCommand(taskActionCmd("close", "Close the task and invoice the work", func(ctx context.Context, a *app.App, id domain.TaskID) (any, error) {
		it, err := a.Engine.OnClosed(ctx, id, actorID())
		if err != nil {
			return nil, err
		}
		if it == nil {
			return map[string]any{"invoiced": false}, nil
		}
		return it, nil
	}))
	cmd.AddCommand(&cobra.Command{
		Use:   "estimate <issue> <minutes>",
		Short: "Change the estimation before the deadline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("minutes: %w", err)
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				t, err := a.Engine.UpdateEstimation(ctx, taskID(project, args[0]), minutes, actorID())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Reassign overdue tasks and assign open ones once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				moved, err := a.Engine.ReassignOverdue(ctx)
				if err != nil {
					return err
				}
				assigned, err := a.Engine.AssignUnassigned(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d overdue task(s) moved, %d open task(s) assigned\n", moved, assigned)
				return nil
			})
		},
	})
	return cmd
}

func taskActionCmd(use, short string, fn func(context.Context, *app.App, domain.TaskID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <issue>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				v, err := fn(ctx, a, taskID(project, args[0]))
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
}

func taskRegisterCmd() *cobra.Command {
	var title string
	var labels []string
	cmd := &cobra.Command{
		Use:   "register <issue>",
		Short: "Register an issue as a task; a role label is required",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue := domain.IssueSnapshot{ID: args[0], Title: title, State: "open"}
			for _, l := range labels {
				issue.Labels = append(issue.Labels, domain.Label{Name: l})
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				t, err := a.Engine.RegisterTask(ctx, project, issue, actorID())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "issue label, repeatable")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "assign <issue> [username]",
		Short: "Assign the task; without a username the elected contributor takes it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				id := taskID(project, args[0])
				var username string
				if len(args) == 2 {
					username = args[1]
				} else {
					winner, err := a.Engine.Elect(ctx, id)
					if err != nil {
						return err
					}
					if winner == nil {
						return fmt.Errorf("no contributor can take task %s", id)
					}
					username = winner.Username
				}
				t, err := a.Engine.Assign(ctx, id, username, days, actorID())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().IntVar(&days, "deadline-days", 0, "days until the deadline (defaults to the project's)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var assignee, role, state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				var items []domain.Task
				var err error
				if state == "overdue" {
					items, err = a.Engine.Overdue(ctx, project)
				} else {
					items, err = a.Engine.Repo.ListTasks(ctx, repo.TaskFilter{Project: &project, Assignee: assignee, Role: strings.ToUpper(role)})
				}
				if err != nil {
					return err
				}
				out := make([]domain.Task, 0, len(items))
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					if state != "" && state != "overdue" && string(t.State()) != state {
						continue
					}
					deadline := "-"
					if t.Deadline != nil {
						deadline = t.Deadline.Format("2006-01-02")
					}
					out = append(out, t)
					rows = append(rows, table.Row{t.ID.IssueID, t.Title, t.Role, t.State(), optional(t.Assignee), t.Estimation, deadline})
				}
				return printTable(out, table.Row{"Issue", "Title", "Role", "State", "Assignee", "Minutes", "Deadline"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	cmd.Flags().StringVar(&state, "state", "", "open, assigned, closed or overdue")
	return cmd
}

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invoice", Short: "Invoices and payments"}
	var username string
	var unpaid bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				f := repo.InvoiceFilter{Project: &project, Unpaid: unpaid}
				if username != "" {
					f.Username, f.Provider = username, project.Provider
				}
				items, err := a.Engine.Repo.ListInvoices(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, inv := range items {
					paid := "unpaid"
					if inv.IsPaid() {
						paid = inv.PaymentTime.Format("2006-01-02")
					}
					rows = append(rows, table.Row{inv.Number(), inv.Contract.Username, inv.Contract.Role, inv.Currency, paid, optional(inv.TransactionID)})
				}
				return printTable(items, table.Row{"Invoice", "Username", "Role", "Currency", "Paid", "Transaction"}, rows)
			})
		},
	}
	list.Flags().StringVar(&username, "username", "", "only invoices of this contributor")
	list.Flags().BoolVar(&unpaid, "unpaid", false, "only unpaid invoices")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Render an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return showInvoice(ctx, a, id)
			})
		},
	})
	var paidAt string
	pay := &cobra.Command{
		Use:   "pay <id> <transaction-id>",
		Short: "Record a payment made outside contribline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInvoiceID(args[0])
			if err != nil {
				return err
			}
			var at time.Time
			if paidAt != "" {
				if at, err = time.Parse(time.RFC3339, paidAt); err != nil {
					return fmt.Errorf("paid-at: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Pay(ctx, id, args[1], at, actorID()); err != nil {
					return err
				}
				return showInvoice(ctx, a, id)
			})
		},
	}
	pay.Flags().StringVar(&paidAt, "paid-at", "", "RFC3339 payment time (defaults to now)")
	cmd.AddCommand(pay)
	var commission int64
	addTask := &cobra.Command{
		Use:   "add-task <id> <issue>",
		Short: "Invoice a closed task of the invoice's contract",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inv, err := a.Engine.Store.Invoices().GetByID(ctx, id)
				if err != nil {
					return err
				}
				it, err := a.Engine.RegisterInvoicedTask(ctx, id, taskID(inv.Contract.Project(), args[1]), commission, actorID())
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
	addTask.Flags().Int64Var(&commission, "commission", 0, "commission in minor units")
	cmd.AddCommand(addTask)
	return cmd
}

func parseInvoiceID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.ToUpper(s), "SLFX-"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid invoice id %q", s)
	}
	return id, nil
}

func showInvoice(ctx context.Context, a *app.App, id int64) error {
	v, err := a.Engine.InvoiceView(ctx, id)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(v)
	}
	return render.Invoice(os.Stdout, v)
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change to projects, contracts, tasks, invoices and wallets.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest events of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, project domain.ProjectID) error {
				items, err := a.Engine.Repo.LatestEvents(ctx, repo.EventFilter{
					ProjectID:  project.String(),
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID})
				}
				return printTable(items, table.Row{"ID", "Time", "Type", "Entity", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Sign an API bearer token with the server secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("--jwt-secret or CONTRIBLINE_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
