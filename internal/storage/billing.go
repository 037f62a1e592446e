package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/repo"
)

// Invoices is the view over every invoice.
type Invoices struct {
	View[domain.Invoice]
	s Storage
}

func (s Storage) Invoices() Invoices {
	return Invoices{s: s, View: View[domain.Invoice]{load: func(ctx context.Context) ([]domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, repo.InvoiceFilter{})
	}}}
}

func (i Invoices) GetByID(ctx context.Context, id int64) (domain.Invoice, error) {
	return i.s.repo.GetInvoice(ctx, id)
}

func (i Invoices) OfContract(id domain.ContractID) ContractInvoices {
	return ContractInvoices{
		s:        i.s,
		contract: id,
		View: View[domain.Invoice]{load: func(ctx context.Context) ([]domain.Invoice, error) {
			return i.s.repo.ListInvoices(ctx, repo.InvoiceFilter{Contract: &id})
		}},
	}
}

// OfProject lists the invoices of every contract of one project.
func (i Invoices) OfProject(id domain.ProjectID) View[domain.Invoice] {
	return View[domain.Invoice]{load: func(ctx context.Context) ([]domain.Invoice, error) {
		return i.s.repo.ListInvoices(ctx, repo.InvoiceFilter{Project: &id})
	}}
}

// ContractInvoices lists the invoices of one contract.
type ContractInvoices struct {
	View[domain.Invoice]
	s        Storage
	contract domain.ContractID
}

func (c ContractInvoices) OfContract(id domain.ContractID) (ContractInvoices, error) {
	if c.contract == id {
		return c, nil
	}
	return ContractInvoices{}, scopeMismatch(c.contract.String(), id.String())
}

// Active returns the contract's unpaid invoice, or nil when there is none.
func (c ContractInvoices) Active(ctx context.Context) (*domain.Invoice, error) {
	inv, err := c.s.repo.GetActiveInvoice(ctx, c.contract)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

// Register opens a new unpaid invoice for the contract. The storage
// allocates the id.
func (c ContractInvoices) Register(ctx context.Context, createdAt time.Time, currency string) (domain.Invoice, error) {
	inv := domain.Invoice{Contract: c.contract, CreatedAt: createdAt, Currency: currency}
	id, err := c.s.repo.InsertInvoice(ctx, inv)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.ID = id
	return inv, nil
}

func (c ContractInvoices) GetByID(ctx context.Context, id int64) (domain.Invoice, error) {
	inv, err := c.s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Contract != c.contract {
		return domain.Invoice{}, errs.Newf(errs.NotFound, "invoice %d does not belong to %s", id, c.contract)
	}
	return inv, nil
}

// InvoicedTasks is the view over every invoiced task.
type InvoicedTasks struct {
	View[domain.InvoicedTask]
	s Storage
}

func (s Storage) InvoicedTasks() InvoicedTasks {
	return InvoicedTasks{s: s, View: View[domain.InvoicedTask]{load: func(ctx context.Context) ([]domain.InvoicedTask, error) {
		return s.repo.ListInvoicedTasks(ctx, repo.InvoicedTaskFilter{})
	}}}
}

func (t InvoicedTasks) OfInvoice(id int64) InvoiceTasks {
	return InvoiceTasks{
		s:       t.s,
		invoice: id,
		View: View[domain.InvoicedTask]{load: func(ctx context.Context) ([]domain.InvoicedTask, error) {
			return t.s.repo.ListInvoicedTasks(ctx, repo.InvoicedTaskFilter{InvoiceID: id})
		}},
	}
}

// OfContributor lists everything invoiced for one contributor.
func (t InvoicedTasks) OfContributor(username, provider string) View[domain.InvoicedTask] {
	return View[domain.InvoicedTask]{load: func(ctx context.Context) ([]domain.InvoicedTask, error) {
		return t.s.repo.ListInvoicedTasks(ctx, repo.InvoicedTaskFilter{Username: username, Provider: provider})
	}}
}

// OfTask lists the snapshots taken of one task, on any invoice.
func (t InvoicedTasks) OfTask(id domain.TaskID) View[domain.InvoicedTask] {
	return View[domain.InvoicedTask]{load: func(ctx context.Context) ([]domain.InvoicedTask, error) {
		return t.s.repo.ListInvoicedTasks(ctx, repo.InvoicedTaskFilter{Task: &id})
	}}
}

// InvoiceTasks lists the snapshots recorded on one invoice.
type InvoiceTasks struct {
	View[domain.InvoicedTask]
	s       Storage
	invoice int64
}

func (t InvoiceTasks) OfInvoice(id int64) (InvoiceTasks, error) {
	if t.invoice == id {
		return t, nil
	}
	return InvoiceTasks{}, scopeMismatch("invoice "+strconv.FormatInt(t.invoice, 10), "invoice "+strconv.FormatInt(id, 10))
}

// Register appends a snapshot to this invoice.
func (t InvoiceTasks) Register(ctx context.Context, it domain.InvoicedTask) (domain.InvoicedTask, error) {
	it.InvoiceID = t.invoice
	if err := t.s.repo.InsertInvoicedTask(ctx, it); err != nil {
		return domain.InvoicedTask{}, err
	}
	return it, nil
}

// Sums totals value and commission of the invoice.
func (t InvoiceTasks) Sums(ctx context.Context) (repo.InvoiceSums, error) {
	return t.s.repo.InvoiceSums(ctx, t.invoice)
}

// PlatformInvoices is the view over every platform invoice.
type PlatformInvoices struct {
	View[domain.PlatformInvoice]
	s Storage
}

func (s Storage) PlatformInvoices() PlatformInvoices {
	return PlatformInvoices{s: s, View: View[domain.PlatformInvoice]{load: s.repo.ListPlatformInvoices}}
}

// GetByPayment returns the platform invoice of a payment, or nil.
func (p PlatformInvoices) GetByPayment(ctx context.Context, transactionID string, paidAt time.Time) (*domain.PlatformInvoice, error) {
	found, err := p.s.repo.GetPlatformInvoice(ctx, transactionID, paidAt)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &found, nil
}

// Register stores a platform invoice. A second one for the same transaction
// fails with AlreadyExists.
func (p PlatformInvoices) Register(ctx context.Context, pi domain.PlatformInvoice) (domain.PlatformInvoice, error) {
	id, err := p.s.repo.InsertPlatformInvoice(ctx, pi)
	if err != nil {
		return domain.PlatformInvoice{}, err
	}
	pi.ID = id
	return pi, nil
}

// Wallets is the view over every wallet. Only a project's view knows which
// wallet is active.
type Wallets struct {
	View[domain.Wallet]
	s Storage
}

func (s Storage) Wallets() Wallets {
	return Wallets{s: s, View: View[domain.Wallet]{load: func(ctx context.Context) ([]domain.Wallet, error) {
		return s.repo.ListWallets(ctx, nil)
	}}}
}

func (w Wallets) OfProject(id domain.ProjectID) ProjectWallets {
	return ProjectWallets{
		s:       w.s,
		project: id,
		View: View[domain.Wallet]{load: func(ctx context.Context) ([]domain.Wallet, error) {
			return w.s.repo.ListWallets(ctx, &id)
		}},
	}
}

// ProjectWallets lists the wallets of one project.
type ProjectWallets struct {
	View[domain.Wallet]
	s       Storage
	project domain.ProjectID
}

func (p ProjectWallets) OfProject(id domain.ProjectID) (ProjectWallets, error) {
	if p.project == id {
		return p, nil
	}
	return ProjectWallets{}, scopeMismatch(p.project.String(), id.String())
}

// Active returns the active wallet, or nil when none is active.
func (p ProjectWallets) Active(ctx context.Context) (*domain.Wallet, error) {
	w, err := p.s.repo.GetActiveWallet(ctx, p.project)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// Register stores an inactive wallet; the first wallet of a project becomes active.
func (p ProjectWallets) Register(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	if w.Project != p.project {
		return domain.Wallet{}, scopeMismatch(p.project.String(), w.Project.String())
	}
	if w.CashLimit < 0 || w.CommissionBP < 0 || w.CommissionBP > 10_000 {
		return domain.Wallet{}, errs.New(errs.InvalidArgument, "cash limit and commission must be non-negative, commission at most 10000bp")
	}
	if w.Currency == "" {
		w.Currency = domain.DefaultCurrency
	}
	active, err := p.Active(ctx)
	if err != nil {
		return domain.Wallet{}, err
	}
	w.Active = active == nil
	if err := p.s.repo.InsertWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Activate makes walletType the single active wallet of the project.
func (p ProjectWallets) Activate(ctx context.Context, walletType string) (domain.Wallet, error) {
	var out domain.Wallet
	err := p.s.WithTransaction(ctx, func(tx Storage) error {
		if err := tx.repo.ActivateWallet(ctx, p.project, walletType); err != nil {
			return err
		}
		w, err := tx.repo.GetActiveWallet(ctx, p.project)
		out = w
		return err
	})
	return out, err
}
