package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a wallet carries no currency code.
const DefaultCurrency = "EUR"

var (
	sixty     = decimal.NewFromInt(60)
	tenK      = decimal.NewFromInt(10_000)
	minorUnit = decimal.NewFromInt(100)
)

// TaskValue is hourlyRate × minutes / 60 in minor units, rounded half-even.
func TaskValue(hourlyRate int64, minutes int) int64 {
	v := decimal.NewFromInt(hourlyRate).
		Mul(decimal.NewFromInt(int64(minutes))).
		Div(sixty).
		RoundBank(0)
	return v.IntPart()
}

// BasisPoints returns amount × bp / 10000 in minor units, rounded half-even.
func BasisPoints(amount, bp int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bp)).
		Div(tenK).
		RoundBank(0).
		IntPart()
}

// FormatMoney renders minor units as a major-unit amount with its currency code.
func FormatMoney(minor int64, currency string) string {
	if strings.TrimSpace(currency) == "" {
		currency = DefaultCurrency
	}
	return decimal.NewFromInt(minor).Div(minorUnit).StringFixedBank(2) + " " + strings.ToUpper(currency)
}
