package render_test

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"contribline/internal/domain"
	"contribline/internal/render"
)

func view(lines int) domain.InvoiceView {
	cid := domain.ContractID{RepoFullName: "john/test", Username: "vlad", Provider: "github", Role: domain.RoleDEV}
	inv := domain.Invoice{ID: 7, Contract: cid, Currency: "EUR", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	v := domain.InvoiceView{Invoice: inv, Number: inv.Number(), BilledBy: "Vlad", BilledTo: "John Inc."}
	for i := 0; i < lines; i++ {
		v.Tasks = append(v.Tasks, domain.InvoicedTask{
			InvoiceID:         inv.ID,
			Task:              domain.TaskID{IssueID: strconv.Itoa(i + 1), RepoFullName: "john/test", Provider: "github"},
			Username:          "vlad",
			Role:              domain.RoleDEV,
			EstimationMinutes: 60,
			Value:             1000,
			Commission:        80,
		})
	}
	return v
}

func TestInvoiceTable(t *testing.T) {
	out := render.String(view(2))
	assert.Contains(t, out, "Invoice SLFX-7 (UNPAID)")
	assert.Contains(t, out, "Billed to: John Inc.")
	assert.Contains(t, out, "10.00 EUR")
	assert.Contains(t, out, "21.60 EUR")
	assert.NotContains(t, out, "...")
}

func TestInvoiceTableTruncates(t *testing.T) {
	out := render.String(view(render.MaxRows + 5))
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "| "+strconv.Itoa(render.MaxRows+1)+" ")
	// footer still sums every line
	assert.Contains(t, out, "450.00 EUR")
	assert.Equal(t, 1, strings.Count(out, "Invoice SLFX-7"))
}

func TestPaidInvoiceShowsTransaction(t *testing.T) {
	v := view(1)
	paid := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	tx := "ch_abc"
	v.Invoice.PaymentTime, v.Invoice.TransactionID = &paid, &tx
	out := render.String(v)
	assert.Contains(t, out, "PAID 2024-02-01 10:00:00")
	assert.Contains(t, out, "Transaction: ch_abc")
}
