// Package render prints read-only invoice views as text tables.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"contribline/internal/domain"
)

// MaxRows is the number of task lines printed before the table is cut with "...".
const MaxRows = 40

// Invoice writes v as a table: a header block, one row per invoiced task and
// the amount, commission and total footer.
func Invoice(w io.Writer, v domain.InvoiceView) error {
	currency := v.Invoice.Currency
	status := "UNPAID"
	if v.Invoice.IsPaid() {
		status = "PAID " + v.Invoice.PaymentTime.UTC().Format("2006-01-02 15:04:05")
	}
	var head strings.Builder
	fmt.Fprintf(&head, "Invoice %s (%s)\n", v.Number, status)
	fmt.Fprintf(&head, "Contract: %s\n", v.Invoice.Contract)
	fmt.Fprintf(&head, "Billed by: %s\n", orDash(v.BilledBy))
	fmt.Fprintf(&head, "Billed to: %s\n", orDash(v.BilledTo))
	if v.Invoice.TransactionID != nil {
		fmt.Fprintf(&head, "Transaction: %s\n", *v.Invoice.TransactionID)
	}
	if _, err := io.WriteString(w, head.String()); err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Issue", "Role", "Minutes", "Value", "Commission", "Total"})
	for i, it := range v.Tasks {
		if i == MaxRows {
			tw.AppendRow(table.Row{"...", "...", "...", "...", "...", "...", "..."})
			break
		}
		tw.AppendRow(table.Row{
			i + 1,
			it.Task.IssueID,
			it.Role,
			it.EstimationMinutes,
			domain.FormatMoney(it.Value, currency),
			domain.FormatMoney(it.Commission, currency),
			domain.FormatMoney(it.TotalAmount(), currency),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "Total",
		domain.FormatMoney(v.Amount(), currency),
		domain.FormatMoney(v.Commission(), currency),
		domain.FormatMoney(v.TotalAmount(), currency),
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 6, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 7, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	tw.Render()
	return nil
}

// String renders v to a string.
func String(v domain.InvoiceView) string {
	var b strings.Builder
	_ = Invoice(&b, v)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
