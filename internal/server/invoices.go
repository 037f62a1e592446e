package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/errs"
	"contribline/internal/render"
	"contribline/internal/repo"
)

type InvoicePath struct {
	ID int64 `path:"invoice_id" minimum:"1"`
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/invoices",
		Summary:     "List project invoices",
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Username string `query:"username"`
		Unpaid   bool   `query:"unpaid"`
	}) (*body[[]domain.Invoice], error) {
		project := input.id()
		f := repo.InvoiceFilter{Project: &project, Unpaid: input.Unpaid}
		if input.Username != "" {
			f.Username, f.Provider = input.Username, input.Provider
		}
		items, err := e.Repo.ListInvoices(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{invoice_id}",
		Summary:     "Invoice with its tasks and totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *InvoicePath) (*body[InvoiceResponse], error) {
		v, err := e.InvoiceView(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(v)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "render-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{invoice_id}/render",
		Summary:     "Invoice as a text table",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *InvoicePath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		v, err := e.InvoiceView(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/plain; charset=utf-8", Body: []byte(render.String(v))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-invoice-task",
		Method:        http.MethodPost,
		Path:          "/invoices/{invoice_id}/tasks",
		Summary:       "Invoice a task of the invoice's contract",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InvoicePath
		Body InvoiceTaskRequest `json:"body"`
	}) (*body[domain.InvoicedTask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.Store.Invoices().GetByID(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		taskID := domain.TaskID{IssueID: strings.TrimSpace(input.Body.IssueID), RepoFullName: inv.Contract.RepoFullName, Provider: inv.Contract.Provider}
		it, err := e.RegisterInvoicedTask(ctx, inv.ID, taskID, input.Body.Commission, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pay-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{invoice_id}/pay",
		Summary:     "Record an external payment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InvoicePath
		Body PayRequest `json:"body"`
	}) (*body[InvoiceResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var paidAt time.Time
		if input.Body.PaidAt != nil {
			paidAt = *input.Body.PaidAt
		}
		inv, err := e.Pay(ctx, input.ID, strings.TrimSpace(input.Body.TransactionID), paidAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.InvoiceView(ctx, inv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(v)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-platform-invoices",
		Method:      http.MethodGet,
		Path:        "/platform-invoices",
		Summary:     "List platform invoices",
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.PlatformInvoice], error) {
		items, err := e.Store.PlatformInvoices().List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-platform-invoice",
		Method:      http.MethodGet,
		Path:        "/platform-invoices/{transaction_id}",
		Summary:     "Platform invoice of a payment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransactionID string `path:"transaction_id"`
	}) (*body[domain.PlatformInvoice], error) {
		inv, err := e.Repo.GetInvoiceByTransaction(ctx, input.TransactionID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.InvoiceView(ctx, inv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if v.Platform == nil {
			return nil, handleError(errs.Newf(errs.NotFound, "no platform invoice for transaction %s", input.TransactionID))
		}
		return reply(*v.Platform), nil
	})
}
