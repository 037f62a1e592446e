package repo

import (
	"context"
	"database/sql"
	"time"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

type invoiceRow struct {
	ID            int64          `db:"id"`
	RepoFullName  string         `db:"repo_fullname"`
	Username      string         `db:"username"`
	Provider      string         `db:"provider"`
	Role          string         `db:"role"`
	CreatedAt     string         `db:"created_at"`
	PaymentTime   sql.NullString `db:"payment_time"`
	TransactionID sql.NullString `db:"transaction_id"`
	BilledBy      sql.NullString `db:"billed_by"`
	BilledTo      sql.NullString `db:"billed_to"`
	Currency      string         `db:"currency"`
}

func (i invoiceRow) toDomain() domain.Invoice {
	return domain.Invoice{
		ID: i.ID,
		Contract: domain.ContractID{
			RepoFullName: i.RepoFullName,
			Username:     i.Username,
			Provider:     i.Provider,
			Role:         i.Role,
		},
		CreatedAt:     parseTime(i.CreatedAt),
		PaymentTime:   parseNullTime(i.PaymentTime),
		TransactionID: nullString(i.TransactionID),
		BilledBy:      i.BilledBy.String,
		BilledTo:      i.BilledTo.String,
		Currency:      i.Currency,
	}
}

const invoiceCols = `id,repo_fullname,username,provider,role,created_at,payment_time,transaction_id,billed_by,billed_to,currency`

// InsertInvoice stores a new unpaid invoice and returns its allocated id.
// A second unpaid invoice for the same contract fails with AlreadyExists.
func (r Repo) InsertInvoice(ctx context.Context, inv domain.Invoice) (int64, error) {
	c := inv.Contract
	res, err := r.q().ExecContext(ctx, `INSERT INTO invoices(repo_fullname,username,provider,role,created_at,billed_by,billed_to,currency) VALUES (?,?,?,?,?,?,?,?)`,
		c.RepoFullName, c.Username, c.Provider, c.Role, formatTime(inv.CreatedAt), nullable(inv.BilledBy), nullable(inv.BilledTo), inv.Currency)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) GetInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	var row invoiceRow
	if err := r.q().GetContext(ctx, &row, `SELECT `+invoiceCols+` FROM invoices WHERE id=?`, id); err != nil {
		return domain.Invoice{}, notFound(err, "invoice")
	}
	return row.toDomain(), nil
}

// GetActiveInvoice returns the contract's unpaid invoice.
func (r Repo) GetActiveInvoice(ctx context.Context, id domain.ContractID) (domain.Invoice, error) {
	var row invoiceRow
	err := r.q().GetContext(ctx, &row, `SELECT `+invoiceCols+` FROM invoices WHERE `+contractKey+` AND payment_time IS NULL`, contractArgs(id)...)
	if err != nil {
		return domain.Invoice{}, notFound(err, "active invoice of "+id.String())
	}
	return row.toDomain(), nil
}

func (r Repo) GetInvoiceByTransaction(ctx context.Context, transactionID string) (domain.Invoice, error) {
	var row invoiceRow
	if err := r.q().GetContext(ctx, &row, `SELECT `+invoiceCols+` FROM invoices WHERE transaction_id=?`, transactionID); err != nil {
		return domain.Invoice{}, notFound(err, "invoice for transaction "+transactionID)
	}
	return row.toDomain(), nil
}

// MarkInvoicePaid seals an unpaid invoice and freezes its billing parties
// when they were not stored yet. A concurrent payment that won the race
// leaves no row to update and yields ErrAlreadyPaid.
func (r Repo) MarkInvoicePaid(ctx context.Context, id int64, transactionID string, paidAt time.Time, billedBy, billedTo string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE invoices SET payment_time=?, transaction_id=?,
  billed_by=COALESCE(NULLIF(billed_by,''), ?), billed_to=COALESCE(NULLIF(billed_to,''), ?)
WHERE id=? AND payment_time IS NULL`,
		formatTime(paidAt), transactionID, nullable(billedBy), nullable(billedTo), id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrAlreadyPaid
	}
	return nil
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Contract *domain.ContractID
	Project  *domain.ProjectID
	Username string
	Provider string
	Unpaid   bool
}

func (r Repo) ListInvoices(ctx context.Context, f InvoiceFilter) ([]domain.Invoice, error) {
	var w where
	if f.Contract != nil {
		w.add(contractKey, contractArgs(*f.Contract)...)
	}
	if f.Project != nil {
		w.add("repo_fullname=? AND provider=?", f.Project.RepoFullName, f.Project.Provider)
	}
	if f.Username != "" {
		w.add("username=?", f.Username)
	}
	if f.Provider != "" {
		w.add("provider=?", f.Provider)
	}
	if f.Unpaid {
		w.add("payment_time IS NULL")
	}
	var rows []invoiceRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+invoiceCols+` FROM invoices`+w.sql()+` ORDER BY id`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

type invoicedTaskRow struct {
	InvoiceID    int64  `db:"invoice_id"`
	IssueID      string `db:"issue_id"`
	RepoFullName string `db:"repo_fullname"`
	Provider     string `db:"provider"`
	Username     string `db:"username"`
	Role         string `db:"role"`
	Estimation   int    `db:"estimation_minutes"`
	Value        int64  `db:"value"`
	Commission   int64  `db:"commission"`
	InvoicedAt   string `db:"invoiced_at"`
}

func (t invoicedTaskRow) toDomain() domain.InvoicedTask {
	return domain.InvoicedTask{
		InvoiceID:         t.InvoiceID,
		Task:              domain.TaskID{IssueID: t.IssueID, RepoFullName: t.RepoFullName, Provider: t.Provider},
		Username:          t.Username,
		Role:              t.Role,
		EstimationMinutes: t.Estimation,
		Value:             t.Value,
		Commission:        t.Commission,
		InvoicedAt:        parseTime(t.InvoicedAt),
	}
}

const invoicedTaskCols = `invoice_id,issue_id,repo_fullname,provider,username,role,estimation_minutes,value,commission,invoiced_at`

func (r Repo) InsertInvoicedTask(ctx context.Context, it domain.InvoicedTask) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO invoiced_tasks(`+invoicedTaskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.InvoiceID, it.Task.IssueID, it.Task.RepoFullName, it.Task.Provider, it.Username, it.Role,
		it.EstimationMinutes, it.Value, it.Commission, formatTime(it.InvoicedAt))
	return classify(err)
}

// InvoicedTaskFilter narrows invoiced task listings.
type InvoicedTaskFilter struct {
	InvoiceID int64
	Project   *domain.ProjectID
	Username  string
	Provider  string
	Task      *domain.TaskID
}

func (r Repo) ListInvoicedTasks(ctx context.Context, f InvoicedTaskFilter) ([]domain.InvoicedTask, error) {
	var w where
	if f.InvoiceID > 0 {
		w.add("invoice_id=?", f.InvoiceID)
	}
	if f.Project != nil {
		w.add("repo_fullname=? AND provider=?", f.Project.RepoFullName, f.Project.Provider)
	}
	if f.Username != "" {
		w.add("username=?", f.Username)
	}
	if f.Provider != "" {
		w.add("provider=?", f.Provider)
	}
	if f.Task != nil {
		w.add("issue_id=? AND repo_fullname=? AND provider=?", f.Task.IssueID, f.Task.RepoFullName, f.Task.Provider)
	}
	var rows []invoicedTaskRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+invoicedTaskCols+` FROM invoiced_tasks`+w.sql()+` ORDER BY invoice_id, invoiced_at, issue_id`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.InvoicedTask, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

// InvoiceSums totals the invoiced tasks of one invoice.
type InvoiceSums struct {
	Amount     int64 `db:"amount"`
	Commission int64 `db:"commission"`
	Count      int   `db:"count"`
}

func (s InvoiceSums) Total() int64 { return s.Amount + s.Commission }

func (r Repo) InvoiceSums(ctx context.Context, invoiceID int64) (InvoiceSums, error) {
	var s InvoiceSums
	err := r.q().GetContext(ctx, &s, `SELECT COALESCE(SUM(value),0) AS amount, COALESCE(SUM(commission),0) AS commission, COUNT(*) AS count
FROM invoiced_tasks WHERE invoice_id=?`, invoiceID)
	return s, classify(err)
}

type platformInvoiceRow struct {
	ID            int64  `db:"id"`
	InvoiceID     int64  `db:"invoice_id"`
	TransactionID string `db:"transaction_id"`
	PaymentTime   string `db:"payment_time"`
	BilledTo      string `db:"billed_to"`
	Commission    int64  `db:"commission"`
	TotalAmount   int64  `db:"total_amount"`
	Currency      string `db:"currency"`
	CreatedAt     string `db:"created_at"`
}

func (p platformInvoiceRow) toDomain() domain.PlatformInvoice {
	return domain.PlatformInvoice{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		TransactionID: p.TransactionID,
		PaymentTime:   parseTime(p.PaymentTime),
		BilledTo:      p.BilledTo,
		Commission:    p.Commission,
		TotalAmount:   p.TotalAmount,
		Currency:      p.Currency,
		CreatedAt:     parseTime(p.CreatedAt),
	}
}

const platformInvoiceCols = `id,invoice_id,transaction_id,payment_time,billed_to,commission,total_amount,currency,created_at`

// InsertPlatformInvoice stores the counter-invoice. transaction_id is unique.
func (r Repo) InsertPlatformInvoice(ctx context.Context, p domain.PlatformInvoice) (int64, error) {
	res, err := r.q().ExecContext(ctx, `INSERT INTO platform_invoices(invoice_id,transaction_id,payment_time,billed_to,commission,total_amount,currency,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.InvoiceID, p.TransactionID, formatTime(p.PaymentTime), p.BilledTo, p.Commission, p.TotalAmount, p.Currency, formatTime(p.CreatedAt))
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

// GetPlatformInvoice looks a platform invoice up by its payment. A zero
// paidAt matches any payment time.
func (r Repo) GetPlatformInvoice(ctx context.Context, transactionID string, paidAt time.Time) (domain.PlatformInvoice, error) {
	var w where
	w.add("transaction_id=?", transactionID)
	if !paidAt.IsZero() {
		w.add("payment_time=?", formatTime(paidAt))
	}
	var row platformInvoiceRow
	if err := r.q().GetContext(ctx, &row, `SELECT `+platformInvoiceCols+` FROM platform_invoices`+w.sql(), w.args...); err != nil {
		return domain.PlatformInvoice{}, notFound(err, "platform invoice "+transactionID)
	}
	return row.toDomain(), nil
}

func (r Repo) ListPlatformInvoices(ctx context.Context) ([]domain.PlatformInvoice, error) {
	var rows []platformInvoiceRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+platformInvoiceCols+` FROM platform_invoices ORDER BY id`); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.PlatformInvoice, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}
