package repo

import (
	"context"
	"database/sql"

	"contribline/internal/domain"
)

type walletRow struct {
	RepoFullName string         `db:"repo_fullname"`
	Provider     string         `db:"provider"`
	Type         string         `db:"type"`
	CashLimit    int64          `db:"cash_limit"`
	Currency     string         `db:"currency"`
	CommissionBP int64          `db:"commission_bp"`
	Active       bool           `db:"active"`
	Identifier   sql.NullString `db:"identifier"`
}

func (w walletRow) toDomain() domain.Wallet {
	return domain.Wallet{
		Project:      domain.ProjectID{RepoFullName: w.RepoFullName, Provider: w.Provider},
		Type:         w.Type,
		CashLimit:    w.CashLimit,
		Currency:     w.Currency,
		CommissionBP: w.CommissionBP,
		Active:       w.Active,
		Identifier:   w.Identifier.String,
	}
}

const walletCols = `repo_fullname,provider,type,cash_limit,currency,commission_bp,active,identifier`

func (r Repo) InsertWallet(ctx context.Context, w domain.Wallet) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO wallets(`+walletCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		w.Project.RepoFullName, w.Project.Provider, w.Type, w.CashLimit, w.Currency, w.CommissionBP, w.Active, nullable(w.Identifier))
	return classify(err)
}

// ListWallets returns every wallet, or those of project when non-nil.
func (r Repo) ListWallets(ctx context.Context, project *domain.ProjectID) ([]domain.Wallet, error) {
	var w where
	if project != nil {
		w.add("repo_fullname=? AND provider=?", project.RepoFullName, project.Provider)
	}
	var rows []walletRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+walletCols+` FROM wallets`+w.sql()+` ORDER BY repo_fullname, provider, type`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Wallet, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

func (r Repo) GetActiveWallet(ctx context.Context, project domain.ProjectID) (domain.Wallet, error) {
	var row walletRow
	err := r.q().GetContext(ctx, &row, `SELECT `+walletCols+` FROM wallets WHERE repo_fullname=? AND provider=? AND active=1`,
		project.RepoFullName, project.Provider)
	if err != nil {
		return domain.Wallet{}, notFound(err, "active wallet of "+project.String())
	}
	return row.toDomain(), nil
}

// ActivateWallet makes walletType the only active wallet of the project.
// Callers run it inside WithTx.
func (r Repo) ActivateWallet(ctx context.Context, project domain.ProjectID, walletType string) error {
	if _, err := r.q().ExecContext(ctx, `UPDATE wallets SET active=0 WHERE repo_fullname=? AND provider=? AND type<>?`,
		project.RepoFullName, project.Provider, walletType); err != nil {
		return classify(err)
	}
	return mustAffect(r.q().ExecContext(ctx, `UPDATE wallets SET active=1 WHERE repo_fullname=? AND provider=? AND type=?`,
		project.RepoFullName, project.Provider, walletType))
}
