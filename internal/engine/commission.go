package engine

import (
	"context"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/storage"
)

// CommissionPolicy computes the platform commission of an invoiced task
// from its value and the wallet that will pay it.
type CommissionPolicy func(task domain.Task, value int64, wallet domain.Wallet) int64

// DefaultCommission takes the wallet's basis points of value, rounded half-even.
func DefaultCommission(_ domain.Task, value int64, wallet domain.Wallet) int64 {
	return domain.BasisPoints(value, wallet.CommissionBP)
}

// walletFor returns the project's active wallet. Without one, a wallet is
// derived from the billing section of the project config.
func walletFor(ctx context.Context, s storage.Storage, project domain.ProjectID, cfg *config.Config) (domain.Wallet, error) {
	w, err := s.Wallets().OfProject(project).Active(ctx)
	if err != nil {
		return domain.Wallet{}, err
	}
	if w != nil {
		return *w, nil
	}
	return domain.Wallet{
		Project:      project,
		CommissionBP: cfg.Billing.CommissionBP,
		Currency:     cfg.Currency(),
	}, nil
}
