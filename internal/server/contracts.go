package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"contribline/internal/domain"
	"contribline/internal/engine"
)

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts",
		Summary:     "List contracts with revenue, value and invoiced totals",
	}, func(ctx context.Context, input *ProjectPath) (*body[[]domain.ContractSummary], error) {
		items, err := e.ProjectContracts(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-contract",
		Method:        http.MethodPost,
		Path:          "/projects/{provider}/{owner}/{repo}/contracts",
		Summary:       "Add contract",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body AddContractRequest `json:"body"`
	}) (*body[domain.Contract], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := ContractPath{ProjectPath: input.ProjectPath, Username: strings.TrimSpace(input.Body.Username), Role: input.Body.Role}.id()
		c, err := e.AddContract(ctx, id, input.Body.HourlyRate, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}",
		Summary:     "Contract with totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ContractPath) (*body[domain.ContractSummary], error) {
		s, err := e.ContractSummary(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract",
		Method:      http.MethodPatch,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}",
		Summary:     "Change the hourly rate",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractPath
		Body UpdateContractRequest `json:"body"`
	}) (*body[domain.Contract], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateContract(ctx, input.id(), input.Body.HourlyRate, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-contract-for-removal",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}/mark-removal",
		Summary:     "Stop electing the contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractPath
		Body *MarkRemovalRequest `json:"body,omitempty" required:"false"`
	}) (*body[domain.Contract], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var at time.Time
		if input.Body != nil && input.Body.At != nil {
			at = *input.Body.At
		}
		c, err := e.MarkForRemoval(ctx, input.id(), at, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-contract",
		Method:        http.MethodDelete,
		Path:          "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}",
		Summary:       "Remove a contract with no unpaid invoice and no open task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *ContractPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveContract(ctx, input.id(), actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-invoice",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}/invoices/active",
		Summary:     "Get or open the contract's unpaid invoice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ContractPath) (*body[InvoiceResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.ActiveOf(ctx, input.id(), actorID)
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
		OperationID: "pay-active-invoice",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/contracts/{username}/{role}/pay",
		Summary:     "Charge the active wallet for the contract's unpaid invoice",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *ContractPath) (*body[InvoiceResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.PayActive(ctx, input.id(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.InvoiceView(ctx, inv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(v)), nil
	})
}
