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
	"contribline/internal/events"
	"contribline/internal/storage"
)

// ActiveOf returns the contract's unpaid invoice, opening one on demand.
func (e Engine) ActiveOf(ctx context.Context, id domain.ContractID, actorID string) (domain.Invoice, error) {
	var out domain.Invoice
	err := e.tx(ctx, func(s storage.Storage) error {
		var err error
		out, err = e.activeOf(ctx, s, id, actorID)
		return err
	})
	return out, err
}

func (e Engine) activeOf(ctx context.Context, s storage.Storage, id domain.ContractID, actorID string) (domain.Invoice, error) {
	if _, err := s.Contracts().GetByID(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return domain.Invoice{}, errs.Wrap(errs.NotFound, id.String(), errs.ErrNoSuchContract)
		}
		return domain.Invoice{}, err
	}
	invoices := s.Invoices().OfContract(id)
	active, err := invoices.Active(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if active != nil {
		return *active, nil
	}
	cfg, err := e.projectConfig(ctx, s, id.Project())
	if err != nil {
		return domain.Invoice{}, err
	}
	wallet, err := walletFor(ctx, s, id.Project(), cfg)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := invoices.Register(ctx, e.now(), wallet.Currency)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := e.emit(ctx, s, events.InvoiceOpened, id.Project(), "invoice", inv.Number(), actorID,
		events.EventPayload{"contract": id.String(), "currency": inv.Currency}); err != nil {
		return domain.Invoice{}, err
	}
	e.log().Info("invoice opened", zap.String("invoice", inv.Number()), zap.String("contract", id.String()))
	return inv, nil
}

// RegisterInvoicedTask appends a snapshot of the task to the invoice. The
// commission is stored as given.
func (e Engine) RegisterInvoicedTask(ctx context.Context, invoiceID int64, taskID domain.TaskID, commission int64, actorID string) (domain.InvoicedTask, error) {
	if commission < 0 {
		return domain.InvoicedTask{}, errs.Newf(errs.InvalidArgument, "commission must be >= 0, got %d", commission)
	}
	var out domain.InvoicedTask
	err := e.tx(ctx, func(s storage.Storage) error {
		inv, err := s.Invoices().GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		task, err := s.Tasks().GetByID(ctx, taskID)
		if err != nil {
			return missingRef(err)
		}
		out, err = e.registerInvoiced(ctx, s, inv, task, commission, actorID)
		return err
	})
	return out, err
}

func (e Engine) registerInvoiced(ctx context.Context, s storage.Storage, inv domain.Invoice, task domain.Task, commission int64, actorID string) (domain.InvoicedTask, error) {
	cid, ok := task.ContractID()
	if !ok || cid != inv.Contract {
		return domain.InvoicedTask{}, errs.ErrWrongContract
	}
	if inv.PaymentTime != nil {
		return domain.InvoicedTask{}, errs.ErrAlreadyPaid
	}
	prior, err := s.InvoicedTasks().OfTask(task.ID).List(ctx)
	if err != nil {
		return domain.InvoicedTask{}, err
	}
	if len(prior) > 0 {
		return domain.InvoicedTask{}, errs.Wrap(errs.AlreadyExists,
			fmt.Sprintf("%s on invoice %d", task.ID, prior[0].InvoiceID), errs.ErrAlreadyInvoiced)
	}
	contract, err := s.Contracts().GetByID(ctx, cid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return domain.InvoicedTask{}, errs.Wrap(errs.NotFound, cid.String(), errs.ErrNoSuchContract)
		}
		return domain.InvoicedTask{}, err
	}
	it, err := s.InvoicedTasks().OfInvoice(inv.ID).Register(ctx, domain.InvoicedTask{
		Task:              task.ID,
		Username:          cid.Username,
		Role:              cid.Role,
		EstimationMinutes: task.Estimation,
		Value:             domain.TaskValue(contract.HourlyRate, task.Estimation),
		Commission:        commission,
		InvoicedAt:        e.now(),
	})
	if err != nil {
		return domain.InvoicedTask{}, err
	}
	if err := e.emit(ctx, s, events.InvoiceTaskAdded, cid.Project(), "invoice", inv.Number(), actorID,
		events.EventPayload{"task": task.ID.String(), "value": it.Value, "commission": it.Commission}); err != nil {
		return domain.InvoicedTask{}, err
	}
	e.log().Info("task invoiced",
		zap.String("invoice", inv.Number()),
		zap.String("task", task.ID.String()),
		zap.Int64("value", it.Value),
		zap.Int64("commission", it.Commission))
	return it, nil
}

// Pay seals the invoice with a payment. A payment that is not fake also
// issues the platform invoice for its commission.
func (e Engine) Pay(ctx context.Context, invoiceID int64, transactionID string, paidAt time.Time, actorID string) (domain.Invoice, error) {
	var out domain.Invoice
	err := e.tx(ctx, func(s storage.Storage) error {
		inv, err := s.Invoices().GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		out, err = e.pay(ctx, s, inv, transactionID, paidAt, actorID)
		return err
	})
	return out, err
}

func (e Engine) pay(ctx context.Context, s storage.Storage, inv domain.Invoice, transactionID string, paidAt time.Time, actorID string) (domain.Invoice, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return inv, errs.New(errs.InvalidArgument, "transaction id is required")
	}
	if inv.PaymentTime != nil {
		return inv, errs.ErrAlreadyPaid
	}
	if paidAt.IsZero() {
		paidAt = e.now()
	}
	paidAt = paidAt.UTC().Truncate(time.Second)
	billedBy, billedTo, err := billingParties(ctx, s, inv)
	if err != nil {
		return inv, err
	}
	if err := s.Repo().MarkInvoicePaid(ctx, inv.ID, transactionID, paidAt, billedBy, billedTo); err != nil {
		return inv, err
	}
	project := inv.Contract.Project()
	if err := e.emit(ctx, s, events.InvoicePaid, project, "invoice", inv.Number(), actorID,
		events.EventPayload{"transaction_id": transactionID, "contract": inv.Contract.String()}); err != nil {
		return inv, err
	}
	if !domain.IsFakePayment(transactionID) {
		sums, err := s.InvoicedTasks().OfInvoice(inv.ID).Sums(ctx)
		if err != nil {
			return inv, err
		}
		pi, err := s.PlatformInvoices().Register(ctx, domain.PlatformInvoice{
			InvoiceID:     inv.ID,
			TransactionID: transactionID,
			PaymentTime:   paidAt,
			BilledTo:      billedBy,
			Commission:    sums.Commission,
			TotalAmount:   sums.Total(),
			Currency:      inv.Currency,
			CreatedAt:     e.now(),
		})
		if err != nil {
			return inv, err
		}
		if err := e.emit(ctx, s, events.PlatformInvoiced, project, "platform_invoice", transactionID, actorID,
			events.EventPayload{"invoice": inv.Number(), "commission": pi.Commission}); err != nil {
			return inv, err
		}
	}
	e.log().Info("invoice paid", zap.String("invoice", inv.Number()), zap.String("transaction_id", transactionID))
	return s.Invoices().GetByID(ctx, inv.ID)
}

// billingParties returns the parties stored on the invoice, falling back to
// the contributor's and the project's billing info.
func billingParties(ctx context.Context, s storage.Storage, inv domain.Invoice) (string, string, error) {
	billedBy, billedTo := inv.BilledBy, inv.BilledTo
	if billedBy == "" {
		c, err := s.Contributors().GetByID(ctx, inv.Contract.Username, inv.Contract.Provider)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return "", "", err
		}
		billedBy = c.BillingInfo
	}
	if billedTo == "" {
		p, err := s.Projects().GetByID(ctx, inv.Contract.Project())
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return "", "", err
		}
		billedTo = p.BillingInfo
	}
	return billedBy, billedTo, nil
}

// InvoiceView assembles the read-only view of an invoice: its tasks, the
// resolved billing parties and, when paid for real, the platform invoice.
func (e Engine) InvoiceView(ctx context.Context, id int64) (domain.InvoiceView, error) {
	var view domain.InvoiceView
	err := e.tx(ctx, func(s storage.Storage) error {
		inv, err := s.Invoices().GetByID(ctx, id)
		if err != nil {
			return err
		}
		tasks, err := s.InvoicedTasks().OfInvoice(id).List(ctx)
		if err != nil {
			return err
		}
		billedBy, billedTo, err := billingParties(ctx, s, inv)
		if err != nil {
			return err
		}
		view = domain.InvoiceView{
			Invoice:  inv,
			Number:   inv.Number(),
			BilledBy: billedBy,
			BilledTo: billedTo,
			Tasks:    tasks,
		}
		if inv.IsPaid() && !domain.IsFakePayment(*inv.TransactionID) {
			view.Platform, err = s.PlatformInvoices().GetByPayment(ctx, *inv.TransactionID, *inv.PaymentTime)
			return err
		}
		return nil
	})
	return view, err
}
