package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/errs"
	"contribline/internal/repo"
)

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RegisterUserRequest `json:"body"`
	}) (*body[domain.User], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		u, err := e.RegisterUser(ctx, domain.User{
			Username: strings.TrimSpace(input.Body.Username),
			Provider: input.Body.Provider,
			Email:    input.Body.Email,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-projects",
		Method:      http.MethodGet,
		Path:        "/users/{provider}/{username}/projects",
		Summary:     "Projects owned by a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Provider string `path:"provider"`
		Username string `path:"username"`
	}) (*body[[]ProjectResponse], error) {
		u, err := e.Store.Users().GetByID(ctx, input.Username, input.Provider)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Store.Projects().OwnedBy(u).List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapProjects(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contributor-billing",
		Method:      http.MethodPut,
		Path:        "/contributors/{provider}/{username}/billing",
		Summary:     "Set contributor billing info",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Provider string         `path:"provider"`
		Username string         `path:"username"`
		Body     BillingRequest `json:"body"`
	}) (*body[domain.Contributor], error) {
		if err := e.SetContributorBilling(ctx, input.Username, input.Provider, input.Body.BillingInfo); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Store.Contributors().GetByID(ctx, input.Username, input.Provider)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*body[ProjectResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		provider := input.Body.Provider
		if provider == "" {
			provider = domain.ProviderGitHub
		}
		id := domain.ProjectID{RepoFullName: strings.TrimSpace(input.Body.Repo), Provider: provider}
		cfg, err := configFromRequest(id, input.Body.ConfigYAML)
		if err != nil {
			return nil, handleError(errs.Wrap(errs.InvalidArgument, "project config", err))
		}
		p, err := e.RegisterProject(ctx, engine.ProjectOptions{
			Repo:        id.RepoFullName,
			Provider:    provider,
			Owner:       input.Body.Owner,
			BillingInfo: input.Body.BillingInfo,
			Config:      cfg,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := projectResponse(p)
		resp.WebhookToken = p.WebhookToken
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*body[[]ProjectResponse], error) {
		items, err := e.Store.Projects().List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapProjects(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*body[ProjectResponse], error) {
		p, err := e.Store.Projects().GetByID(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-billing",
		Method:      http.MethodPut,
		Path:        "/projects/{provider}/{owner}/{repo}/billing",
		Summary:     "Set project billing info",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body BillingRequest `json:"body"`
	}) (*body[ProjectResponse], error) {
		if err := e.SetProjectBilling(ctx, input.id(), input.Body.BillingInfo); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Store.Projects().GetByID(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/config",
		Summary:     "Effective project configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*body[*config.Config], error) {
		cfg, err := e.ProjectConfig(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(cfg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-project-config",
		Method:      http.MethodPut,
		Path:        "/projects/{provider}/{owner}/{repo}/config",
		Summary:     "Replace project configuration",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body ProjectConfigRequest `json:"body"`
	}) (*body[*config.Config], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.YAML) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "yaml is required", nil)
		}
		cfg, err := configFromRequest(input.id(), input.Body.YAML)
		if err != nil {
			return nil, handleError(errs.Wrap(errs.InvalidArgument, "project config", err))
		}
		if err := e.SetProjectConfig(ctx, input.id(), cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return reply(cfg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-contributor",
		Method:        http.MethodPost,
		Path:          "/projects/{provider}/{owner}/{repo}/contributors",
		Summary:       "Add a contributor to the project pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body RegisterContributorRequest `json:"body"`
	}) (*body[domain.Contributor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		provider := input.Body.Provider
		if provider == "" {
			provider = input.Provider
		}
		c, err := e.RegisterContributor(ctx, input.id(), strings.TrimSpace(input.Body.Username), provider, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributors",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/contributors",
		Summary:     "List the project pool",
	}, func(ctx context.Context, input *ProjectPath) (*body[[]domain.Contributor], error) {
		items, err := e.Store.Contributors().OfProject(input.id()).List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerWallets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-wallet",
		Method:        http.MethodPost,
		Path:          "/projects/{provider}/{owner}/{repo}/wallets",
		Summary:       "Register wallet",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body RegisterWalletRequest `json:"body"`
	}) (*body[domain.Wallet], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RegisterWallet(ctx, engine.WalletOptions{
			Project:      input.id(),
			Type:         input.Body.Type,
			CashLimit:    input.Body.CashLimit,
			Currency:     input.Body.Currency,
			CommissionBP: input.Body.CommissionBP,
			Identifier:   input.Body.Identifier,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-wallets",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/wallets",
		Summary:     "List project wallets",
	}, func(ctx context.Context, input *ProjectPath) (*body[[]domain.Wallet], error) {
		items, err := e.Store.Wallets().OfProject(input.id()).List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-wallet",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/wallets/{type}/activate",
		Summary:     "Make a wallet the active one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Type string `path:"type"`
	}) (*body[domain.Wallet], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.ActivateWallet(ctx, input.id(), input.Type, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" example:"task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*body[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilter{
			ProjectID:  input.id().String(),
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})
}
