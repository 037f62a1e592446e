package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

func TestFakeGatewayCharge(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := FakeGateway{Now: func() time.Time { return now }}
	wallet := domain.Wallet{Type: domain.WalletFake, CashLimit: 10_000, Currency: "EUR"}

	charge, err := gw.Charge(context.Background(), wallet, 5500, "SLFX-1")
	require.NoError(t, err)
	assert.True(t, domain.IsFakePayment(charge.TransactionID))
	assert.Equal(t, now, charge.PaidAt)

	_, err = gw.Charge(context.Background(), wallet, 20_000, "SLFX-1")
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	_, err = gw.Charge(context.Background(), domain.Wallet{Type: domain.WalletStripe}, 100, "")
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestVerifierRoundTrip(t *testing.T) {
	v := Verifier{Secret: "s3cret"}
	paid := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := v.Sign(Notification{InvoiceID: 7, TransactionID: "ch_abc", PaidAt: paid})
	require.NoError(t, err)

	n, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.InvoiceID)
	assert.Equal(t, "ch_abc", n.TransactionID)
	assert.True(t, paid.Equal(n.PaidAt))

	_, err = Verifier{Secret: "other"}.Verify(token)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = Verifier{}.Verify(token)
	assert.True(t, errors.Is(err, errs.ErrPermanent))
}
