package repo

import (
	"context"
	"database/sql"
	"time"

	"contribline/internal/domain"
)

type contractRow struct {
	RepoFullName     string         `db:"repo_fullname"`
	Username         string         `db:"username"`
	Provider         string         `db:"provider"`
	Role             string         `db:"role"`
	HourlyRate       int64          `db:"hourly_rate"`
	MarkedForRemoval sql.NullString `db:"marked_for_removal"`
	CreatedAt        string         `db:"created_at"`
}

func (c contractRow) toDomain() domain.Contract {
	return domain.Contract{
		ID: domain.ContractID{
			RepoFullName: c.RepoFullName,
			Username:     c.Username,
			Provider:     c.Provider,
			Role:         c.Role,
		},
		HourlyRate:       c.HourlyRate,
		MarkedForRemoval: parseNullTime(c.MarkedForRemoval),
		CreatedAt:        parseTime(c.CreatedAt),
	}
}

const contractCols = `repo_fullname,username,provider,role,hourly_rate,marked_for_removal,created_at`

const contractKey = `repo_fullname=? AND username=? AND provider=? AND role=?`

func contractArgs(id domain.ContractID) []any {
	return []any{id.RepoFullName, id.Username, id.Provider, id.Role}
}

func (r Repo) InsertContract(ctx context.Context, c domain.Contract) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO contracts(`+contractCols+`) VALUES (?,?,?,?,?,?,?)`,
		c.ID.RepoFullName, c.ID.Username, c.ID.Provider, c.ID.Role, c.HourlyRate, nullableTime(c.MarkedForRemoval), formatTime(c.CreatedAt))
	return classify(err)
}

func (r Repo) GetContract(ctx context.Context, id domain.ContractID) (domain.Contract, error) {
	var row contractRow
	err := r.q().GetContext(ctx, &row, `SELECT `+contractCols+` FROM contracts WHERE `+contractKey, contractArgs(id)...)
	if err != nil {
		return domain.Contract{}, notFound(err, "contract "+id.String())
	}
	return row.toDomain(), nil
}

func (r Repo) UpdateContractRate(ctx context.Context, id domain.ContractID, hourlyRate int64) error {
	args := append([]any{hourlyRate}, contractArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE contracts SET hourly_rate=? WHERE `+contractKey, args...))
}

// MarkContractForRemoval stamps the contract once; later calls keep the first instant.
func (r Repo) MarkContractForRemoval(ctx context.Context, id domain.ContractID, at time.Time) error {
	args := append([]any{formatTime(at)}, contractArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE contracts SET marked_for_removal=COALESCE(marked_for_removal, ?) WHERE `+contractKey, args...))
}

func (r Repo) DeleteContract(ctx context.Context, id domain.ContractID) error {
	return mustAffect(r.q().ExecContext(ctx, `DELETE FROM contracts WHERE `+contractKey, contractArgs(id)...))
}

// ContractFilter narrows contract listings. Empty fields match everything.
type ContractFilter struct {
	Project  *domain.ProjectID
	Username string
	Provider string
	Role     string
	// Active drops contracts marked for removal.
	Active bool
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilter) ([]domain.Contract, error) {
	var w where
	if f.Project != nil {
		w.add("repo_fullname=? AND provider=?", f.Project.RepoFullName, f.Project.Provider)
	}
	if f.Username != "" {
		w.add("username=?", f.Username)
	}
	if f.Provider != "" {
		w.add("provider=?", f.Provider)
	}
	if f.Role != "" {
		w.add("role=?", f.Role)
	}
	if f.Active {
		w.add("marked_for_removal IS NULL")
	}
	var rows []contractRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+contractCols+` FROM contracts`+w.sql()+` ORDER BY repo_fullname, provider, username, role`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Contract, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

// ContractTotals are the invoice aggregates of one contract.
type ContractTotals struct {
	// Revenue is the lifetime sum of task values.
	Revenue int64 `db:"revenue"`
	// Value is the task value sitting on the unpaid invoice.
	Value int64 `db:"value"`
	// Invoiced is the grand total, commission included, over all invoices.
	Invoiced int64 `db:"invoiced"`
}

func (r Repo) ContractTotals(ctx context.Context, id domain.ContractID) (ContractTotals, error) {
	var t ContractTotals
	err := r.q().GetContext(ctx, &t, `SELECT
  COALESCE(SUM(it.value),0) AS revenue,
  COALESCE(SUM(CASE WHEN i.payment_time IS NULL THEN it.value ELSE 0 END),0) AS value,
  COALESCE(SUM(it.value + it.commission),0) AS invoiced
FROM invoices i JOIN invoiced_tasks it ON it.invoice_id=i.id
WHERE i.repo_fullname=? AND i.username=? AND i.provider=? AND i.role=?`, contractArgs(id)...)
	return t, classify(err)
}

// CountOpenAssigned counts tasks assigned and not closed under the contract.
func (r Repo) CountOpenAssigned(ctx context.Context, id domain.ContractID) (int, error) {
	var n int
	err := r.q().GetContext(ctx, &n, `SELECT COUNT(*) FROM tasks
WHERE repo_fullname=? AND assignee=? AND provider=? AND role=? AND closed_at IS NULL`, contractArgs(id)...)
	return n, classify(err)
}

// CountUnpaidInvoices counts the contract's invoices lacking a payment.
func (r Repo) CountUnpaidInvoices(ctx context.Context, id domain.ContractID) (int, error) {
	var n int
	err := r.q().GetContext(ctx, &n, `SELECT COUNT(*) FROM invoices
WHERE `+contractKey+` AND (payment_time IS NULL OR transaction_id IS NULL)`, contractArgs(id)...)
	return n, classify(err)
}
