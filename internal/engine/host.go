package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/payment"
	"contribline/internal/storage"
)

// Issue actions understood by HandleIssueEvent.
const (
	IssueOpened    = "opened"
	IssueReopened  = "reopened"
	IssueClosed    = "closed"
	IssueLabeled   = "labeled"
	IssueUnlabeled = "unlabeled"
	IssueEdited    = "edited"
)

// IssueEvent is a provider notification about one issue.
type IssueEvent struct {
	Action  string
	Issue   domain.IssueSnapshot
	ActorID string
}

// HandleIssueEvent applies a provider issue notification. Opening an issue
// registers the task and assigns it to the elected contributor in one
// transaction. Closing it invoices the work. Label and title changes
// refresh a task nobody holds yet. Other actions are ignored.
func (e Engine) HandleIssueEvent(ctx context.Context, project domain.ProjectID, ev IssueEvent) (domain.Task, error) {
	id := domain.TaskID{IssueID: ev.Issue.ID, RepoFullName: project.RepoFullName, Provider: project.Provider}
	switch ev.Action {
	case IssueOpened, IssueReopened:
		var out domain.Task
		err := e.tx(ctx, func(s storage.Storage) error {
			task, err := s.Tasks().GetByID(ctx, id)
			switch {
			case errors.Is(err, errs.ErrNotFound):
				if task, err = e.registerTask(ctx, s, project, ev.Issue, ev.ActorID); err != nil {
					return err
				}
			case err != nil:
				return err
			}
			out = task
			if task.State() != domain.TaskOpen {
				return nil
			}
			cfg, err := e.projectConfig(ctx, s, project)
			if err != nil {
				return err
			}
			winner, err := e.elect(ctx, s, cfg, task)
			if err != nil || winner == nil {
				return err
			}
			out, err = e.assign(ctx, s, cfg, task, winner.Username, 0, ev.ActorID)
			return err
		})
		if err == nil && out.Assignee != nil {
			e.notifyAssigned(ctx, out)
		}
		return out, err
	case IssueClosed:
		if _, err := e.OnClosed(ctx, id, ev.ActorID); err != nil {
			return domain.Task{}, err
		}
		return e.Store.Tasks().GetByID(ctx, id)
	case IssueLabeled, IssueUnlabeled, IssueEdited:
		var out domain.Task
		err := e.tx(ctx, func(s storage.Storage) error {
			task, err := s.Tasks().GetByID(ctx, id)
			if err != nil {
				return err
			}
			out = task
			if task.State() != domain.TaskOpen {
				return nil
			}
			cfg, err := e.projectConfig(ctx, s, project)
			if err != nil {
				return err
			}
			role, err := roleOf(cfg, ev.Issue)
			if err != nil {
				role = task.Role
			}
			if role == task.Role && ev.Issue.Title == task.Title {
				return nil
			}
			if err := s.Repo().SetTaskDetails(ctx, id, ev.Issue.Title, role); err != nil {
				return err
			}
			out.Title, out.Role = ev.Issue.Title, role
			return nil
		})
		return out, err
	default:
		e.log().Debug("issue action ignored", zap.String("action", ev.Action), zap.String("task", id.String()))
		return domain.Task{}, nil
	}
}

// Resign releases the task from its assignee and hands it to a newly
// elected contributor, the resigning one excluded.
func (e Engine) Resign(ctx context.Context, id domain.TaskID, actorID string) (domain.Task, error) {
	var out domain.Task
	var from string
	err := e.tx(ctx, func(s storage.Storage) error {
		task, err := s.Tasks().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if task.State() != domain.TaskAssigned {
			return errs.Newf(errs.InvalidState, "task %s is %s", id, task.State())
		}
		from = *task.Assignee
		out, err = e.handOver(ctx, s, task, "resigned", actorID)
		return err
	})
	if err == nil {
		e.notifyUnassigned(ctx, out, from)
		if out.Assignee != nil {
			e.notifyAssigned(ctx, out)
		}
	}
	return out, err
}

// handOver elects a successor while the incumbent is still set so the
// election excludes it, then moves the task.
func (e Engine) handOver(ctx context.Context, s storage.Storage, task domain.Task, reason, actorID string) (domain.Task, error) {
	cfg, err := e.projectConfig(ctx, s, task.ID.Project())
	if err != nil {
		return task, err
	}
	winner, err := e.elect(ctx, s, cfg, task)
	if err != nil {
		return task, err
	}
	if task, err = e.unassign(ctx, s, task, reason, actorID); err != nil {
		return task, err
	}
	if winner == nil {
		return task, nil
	}
	return e.assign(ctx, s, cfg, task, winner.Username, 0, actorID)
}

// ReassignOverdue moves every task past its deadline to another
// contributor, or back to the pool when nobody else qualifies. Each task is
// handled in its own transaction; failures are logged and skipped. It
// returns how many tasks were moved.
func (e Engine) ReassignOverdue(ctx context.Context) (int, error) {
	overdue, err := e.Store.Tasks().Overdue(ctx, e.now())
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, t := range overdue {
		if ctx.Err() != nil {
			return moved, errs.Wrap(errs.Transient, "reassignment cancelled", ctx.Err())
		}
		var out domain.Task
		var from string
		err := e.tx(ctx, func(s storage.Storage) error {
			task, err := s.Tasks().GetByID(ctx, t.ID)
			if err != nil {
				return err
			}
			if !task.Overdue(e.now()) {
				return nil
			}
			from = *task.Assignee
			out, err = e.handOver(ctx, s, task, "deadline", "system")
			return err
		})
		if err != nil {
			e.log().Error("reassign overdue task", zap.String("task", t.ID.String()), zap.Error(err))
			continue
		}
		if from == "" {
			continue
		}
		moved++
		e.notifyUnassigned(ctx, out, from)
		if out.Assignee != nil {
			e.notifyAssigned(ctx, out)
		}
	}
	return moved, nil
}

// AssignUnassigned runs an election for every open task without an
// assignee. It returns how many tasks were assigned.
func (e Engine) AssignUnassigned(ctx context.Context) (int, error) {
	open, err := e.Store.Tasks().Unassigned(ctx)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, t := range open {
		if ctx.Err() != nil {
			return assigned, errs.Wrap(errs.Transient, "assignment cancelled", ctx.Err())
		}
		var out domain.Task
		err := e.tx(ctx, func(s storage.Storage) error {
			task, err := s.Tasks().GetByID(ctx, t.ID)
			if err != nil {
				return err
			}
			out = task
			if task.State() != domain.TaskOpen {
				return nil
			}
			cfg, err := e.projectConfig(ctx, s, task.ID.Project())
			if err != nil {
				return err
			}
			winner, err := e.elect(ctx, s, cfg, task)
			if err != nil || winner == nil {
				return err
			}
			out, err = e.assign(ctx, s, cfg, task, winner.Username, 0, "system")
			return err
		})
		if err != nil {
			e.log().Error("assign open task", zap.String("task", t.ID.String()), zap.Error(err))
			continue
		}
		if out.Assignee != nil && t.Assignee == nil {
			assigned++
			e.notifyAssigned(ctx, out)
		}
	}
	return assigned, nil
}

// PayActive charges the project's active wallet for the contract's active
// invoice and seals the invoice with the resulting transaction. The charge
// is taken outside the storage transaction so the write lock is not held
// across the gateway call.
func (e Engine) PayActive(ctx context.Context, id domain.ContractID, actorID string) (domain.Invoice, error) {
	if e.Payments == nil {
		return domain.Invoice{}, errs.New(errs.Permanent, "no payment gateway configured")
	}
	inv, err := e.Store.Invoices().OfContract(id).Active(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv == nil {
		return domain.Invoice{}, errs.Newf(errs.InvalidState, "contract %s has no active invoice", id)
	}
	sums, err := e.Store.InvoicedTasks().OfInvoice(inv.ID).Sums(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if sums.Count == 0 {
		return domain.Invoice{}, errs.Newf(errs.InvalidState, "invoice %s has no tasks", inv.Number())
	}
	wallet, err := e.Store.Wallets().OfProject(id.Project()).Active(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if wallet == nil {
		return domain.Invoice{}, errs.Newf(errs.InvalidState, "project %s has no active wallet", id.Project())
	}

	var charge payment.Charge
	err = e.retry(ctx, "charge", func() error {
		c, err := e.Payments.Charge(ctx, *wallet, sums.Total(), fmt.Sprintf("%s %s", inv.Number(), id))
		if err == nil {
			charge = c
		}
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	// A retried transaction reuses the charge already taken.
	var out domain.Invoice
	err = e.tx(ctx, func(s storage.Storage) error {
		current, err := s.Invoices().GetByID(ctx, inv.ID)
		if err != nil {
			return err
		}
		latest, err := s.InvoicedTasks().OfInvoice(inv.ID).Sums(ctx)
		if err != nil {
			return err
		}
		if latest.Total() != sums.Total() {
			return errs.Newf(errs.InvalidState, "invoice %s changed while charging: charged %d, now %d",
				inv.Number(), sums.Total(), latest.Total())
		}
		out, err = e.pay(ctx, s, current, charge.TransactionID, charge.PaidAt, actorID)
		return err
	})
	if err != nil {
		e.log().Error("charge taken but invoice not sealed",
			zap.String("contract", id.String()),
			zap.String("transaction_id", charge.TransactionID),
			zap.Error(err))
	}
	return out, err
}

// HandlePaymentWebhook settles an invoice from a verified processor
// notification. Replaying a notification for the same transaction is a no-op.
func (e Engine) HandlePaymentWebhook(ctx context.Context, n payment.Notification) (domain.Invoice, error) {
	var out domain.Invoice
	err := e.tx(ctx, func(s storage.Storage) error {
		inv, err := s.Invoices().GetByID(ctx, n.InvoiceID)
		if err != nil {
			return err
		}
		if inv.TransactionID != nil && *inv.TransactionID == n.TransactionID {
			out = inv
			return nil
		}
		out, err = e.pay(ctx, s, inv, n.TransactionID, n.PaidAt, "payment-webhook")
		return err
	})
	return out, err
}

func (e Engine) notifyAssigned(ctx context.Context, task domain.Task) {
	client, err := e.Providers.For(task.ID.Provider)
	if err != nil || task.Assignee == nil {
		return
	}
	username := *task.Assignee
	if err := e.retry(ctx, "provider assign", func() error {
		return client.Assign(ctx, task.ID.RepoFullName, task.ID.IssueID, username)
	}); err != nil {
		e.log().Warn("provider assign failed", zap.String("task", task.ID.String()), zap.Error(err))
		return
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Assigned to @%s.", username)
	if task.Deadline != nil {
		fmt.Fprintf(&body, " Deadline: %s.", task.Deadline.Format(time.DateOnly))
	}
	if err := e.retry(ctx, "provider comment", func() error {
		return client.Comment(ctx, task.ID.RepoFullName, task.ID.IssueID, body.String())
	}); err != nil {
		e.log().Warn("provider comment failed", zap.String("task", task.ID.String()), zap.Error(err))
	}
}

func (e Engine) notifyUnassigned(ctx context.Context, task domain.Task, from string) {
	client, err := e.Providers.For(task.ID.Provider)
	if err != nil || from == "" {
		return
	}
	if err := e.retry(ctx, "provider unassign", func() error {
		return client.Unassign(ctx, task.ID.RepoFullName, task.ID.IssueID, from)
	}); err != nil {
		e.log().Warn("provider unassign failed", zap.String("task", task.ID.String()), zap.Error(err))
	}
}
