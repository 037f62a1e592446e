package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/repo"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-task",
		Method:        http.MethodPost,
		Path:          "/projects/{provider}/{owner}/{repo}/tasks",
		Summary:       "Register an issue as a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body RegisterTaskRequest `json:"body"`
	}) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RegisterTask(ctx, input.id(), issueFromRequest(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Assignee string `query:"assignee"`
		Role     string `query:"role"`
		State    string `query:"state" doc:"open, assigned, closed or overdue"`
	}) (*body[[]domain.Task], error) {
		project := input.id()
		f := repo.TaskFilter{Project: &project, Assignee: input.Assignee, Role: strings.ToUpper(input.Role)}
		switch input.State {
		case "", string(domain.TaskClosed):
		case string(domain.TaskOpen):
			f.Unassigned, f.OpenOnly = true, true
		case string(domain.TaskAssigned):
			f.OpenOnly = true
		case "overdue":
			items, err := e.Overdue(ctx, project)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(nonNilSlice(items)), nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown state", map[string]any{"state": input.State})
		}
		items, err := e.Repo.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]domain.Task, 0, len(items))
		for _, t := range items {
			if input.State == string(domain.TaskAssigned) && t.Assignee == nil {
				continue
			}
			if input.State == string(domain.TaskClosed) && t.ClosedAt == nil {
				continue
			}
			out = append(out, t)
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*body[domain.Task], error) {
		t, err := e.Task(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "elect",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/elect",
		Summary:     "Run the election without assigning",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*body[ElectResponse], error) {
		candidates, err := e.Candidates(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		winner, err := e.Elect(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ElectResponse{Winner: winner, Candidates: nonNilSlice(candidates)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/assign",
		Summary:     "Assign the task; without a username the elected contributor is used",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body *AssignRequest `json:"body,omitempty" required:"false"`
	}) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var req AssignRequest
		if input.Body != nil {
			req = *input.Body
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			winner, err := e.Elect(ctx, input.id())
			if err != nil {
				return nil, handleError(err)
			}
			if winner == nil {
				return nil, newAPIError(http.StatusUnprocessableEntity, "no_candidate", "no contributor can take this task", nil)
			}
			username = winner.Username
		}
		t, err := e.Assign(ctx, input.id(), username, req.DeadlineDays, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/unassign",
		Summary:     "Return the task to the pool",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *TaskPath) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Unassign(ctx, input.id(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resign",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/resign",
		Summary:     "Release the task and hand it to the next elected contributor",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *TaskPath) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Resign(ctx, input.id(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-estimation",
		Method:      http.MethodPut,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/estimation",
		Summary:     "Change the estimation before the deadline",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body EstimationRequest `json:"body"`
	}) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateEstimation(ctx, input.id(), input.Body.Minutes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-task",
		Method:      http.MethodPost,
		Path:        "/projects/{provider}/{owner}/{repo}/tasks/{issue_id}/close",
		Summary:     "Close the task and invoice the work",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *TaskPath) (*body[CloseResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		invoiced, err := e.OnClosed(ctx, input.id(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Task(ctx, input.id())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CloseResponse{Task: t, Invoiced: invoiced}), nil
	})
}
