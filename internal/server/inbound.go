package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/payment"
	"contribline/internal/provider"
)

// registerInboundWebhooks exposes the provider and payment callbacks. They
// skip bearer auth: provider deliveries carry the project webhook token and
// payment notifications are signed.
func registerInboundWebhooks(api huma.API, e engine.Engine, verifier payment.Verifier, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "provider-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/provider/{provider}/{owner}/{repo}",
		Summary:     "Issue notifications from the source host",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Token     string `header:"X-Contribline-Token"`
		TokenArg  string `query:"token"`
		EventType string `header:"X-GitHub-Event"`
		RawBody   []byte `contentType:"application/json"`
	}) (*body[ProviderWebhookResponse], error) {
		project, err := e.Store.Projects().GetByID(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		token := input.Token
		if token == "" {
			token = input.TokenArg
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(project.WebhookToken)) != 1 {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid webhook token", nil)
		}
		if input.Provider != domain.ProviderGitHub {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unsupported provider", map[string]any{"provider": input.Provider})
		}
		if input.EventType != "" && input.EventType != "issues" {
			log.Debug("provider event ignored", zap.String("event", input.EventType), zap.String("project", project.ID().String()))
			return reply(ProviderWebhookResponse{Action: input.EventType}), nil
		}
		ev, err := parseProviderEvent(input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		task, err := e.HandleIssueEvent(ctx, project.ID(), ev)
		if err != nil {
			log.Warn("provider event failed", zap.String("action", ev.Action), zap.String("issue", ev.Issue.ID), zap.Error(err))
			return nil, handleError(err)
		}
		resp := ProviderWebhookResponse{Action: ev.Action}
		if task.ID.IssueID != "" {
			resp.Task = &task
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "payment-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/payments",
		Summary:     "Signed payment notification from the processor",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/jwt"`
	}) (*body[InvoiceResponse], error) {
		n, err := verifier.Verify(strings.TrimSpace(string(input.RawBody)))
		if err != nil {
			return nil, handleError(err)
		}
		inv, err := e.HandlePaymentWebhook(ctx, n)
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

func parseProviderEvent(raw []byte) (engine.IssueEvent, error) {
	gh, err := provider.ParseGitHubIssueEvent(raw)
	if err != nil {
		return engine.IssueEvent{}, err
	}
	return engine.IssueEvent{Action: gh.Action, Issue: gh.Issue, ActorID: gh.Sender}, nil
}
