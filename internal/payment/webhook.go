package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"contribline/internal/errs"
)

// Notification is a verified payment event.
type Notification struct {
	InvoiceID     int64
	TransactionID string
	PaidAt        time.Time
}

type notificationClaims struct {
	jwt.RegisteredClaims
	InvoiceID     int64  `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	PaidAt        int64  `json:"paid_at"`
}

// Verifier checks HS256-signed payment notifications.
type Verifier struct {
	Secret string
}

// Verify turns a signed payload into a Notification.
func (v Verifier) Verify(token string) (Notification, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return Notification{}, errs.New(errs.Permanent, "payment webhook secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &notificationClaims{}
	parsed, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return Notification{}, errs.Wrap(errs.InvalidArgument, "invalid payment signature", err)
	}
	if !parsed.Valid {
		return Notification{}, errs.New(errs.InvalidArgument, "invalid payment signature")
	}
	if claims.InvoiceID <= 0 || claims.TransactionID == "" || claims.PaidAt <= 0 {
		return Notification{}, errs.Wrap(errs.InvalidArgument, "incomplete payment notification", errors.New("invoice_id, transaction_id and paid_at are required"))
	}
	return Notification{
		InvoiceID:     claims.InvoiceID,
		TransactionID: claims.TransactionID,
		PaidAt:        time.Unix(claims.PaidAt, 0).UTC(),
	}, nil
}

// Sign produces the payload a processor would post for n.
func (v Verifier) Sign(n Notification) (string, error) {
	claims := notificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  n.TransactionID,
			IssuedAt: jwt.NewNumericDate(n.PaidAt),
		},
		InvoiceID:     n.InvoiceID,
		TransactionID: n.TransactionID,
		PaidAt:        n.PaidAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.Secret))
}
