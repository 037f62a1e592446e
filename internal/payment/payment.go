// Package payment charges project wallets and reads payment notifications.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

// Charge is the outcome of a successful payment.
type Charge struct {
	TransactionID string
	PaidAt        time.Time
}

// Gateway charges a wallet. Implementations return Transient errors for
// retryable processor failures.
type Gateway interface {
	Charge(ctx context.Context, wallet domain.Wallet, amount int64, memo string) (Charge, error)
}

// FakeGateway settles every charge immediately with a fake_payment_ transaction.
type FakeGateway struct {
	Now func() time.Time
}

func (f FakeGateway) Charge(ctx context.Context, wallet domain.Wallet, amount int64, memo string) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, errs.Wrap(errs.Transient, "charge cancelled", err)
	}
	if amount <= 0 {
		return Charge{}, errs.Newf(errs.InvalidArgument, "charge amount must be positive, got %d", amount)
	}
	if !strings.EqualFold(wallet.Type, domain.WalletFake) {
		return Charge{}, errs.Newf(errs.InvalidArgument, "fake gateway cannot charge %s wallet", wallet.Type)
	}
	if wallet.CashLimit > 0 && amount > wallet.CashLimit {
		return Charge{}, errs.Newf(errs.InvalidState, "amount %s exceeds wallet cash limit %s",
			domain.FormatMoney(amount, wallet.Currency), domain.FormatMoney(wallet.CashLimit, wallet.Currency))
	}
	now := f.Now
	if now == nil {
		now = time.Now
	}
	return Charge{
		TransactionID: domain.FakePaymentPrefix + uuid.NewString(),
		PaidAt:        now().UTC().Truncate(time.Second),
	}, nil
}
