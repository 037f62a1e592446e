package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/events"
	"contribline/internal/storage"
)

// RegisterTask lifts an issue into a task of project. The role comes from the
// issue's labels and the estimation from the project's default.
func (e Engine) RegisterTask(ctx context.Context, project domain.ProjectID, issue domain.IssueSnapshot, actorID string) (domain.Task, error) {
	var out domain.Task
	err := e.tx(ctx, func(s storage.Storage) error {
		var err error
		out, err = e.registerTask(ctx, s, project, issue, actorID)
		return err
	})
	return out, err
}

func (e Engine) registerTask(ctx context.Context, s storage.Storage, project domain.ProjectID, issue domain.IssueSnapshot, actorID string) (domain.Task, error) {
	if strings.TrimSpace(issue.ID) == "" {
		return domain.Task{}, errs.New(errs.InvalidArgument, "issue id is required")
	}
	if _, err := s.Projects().GetByID(ctx, project); err != nil {
		return domain.Task{}, missingRef(err)
	}
	cfg, err := e.projectConfig(ctx, s, project)
	if err != nil {
		return domain.Task{}, err
	}
	role, err := roleOf(cfg, issue)
	if err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:         domain.TaskID{IssueID: issue.ID, RepoFullName: project.RepoFullName, Provider: project.Provider},
		Title:      issue.Title,
		Role:       role,
		Estimation: cfg.Estimation.DefaultMinutes,
		CreatedAt:  e.now(),
	}
	task, err = s.Tasks().OfProject(project).Register(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.emit(ctx, s, events.TaskRegistered, project, "task", task.ID.String(), actorID,
		events.EventPayload{"role": role, "estimation_minutes": task.Estimation}); err != nil {
		return domain.Task{}, err
	}
	e.log().Info("task registered", zap.String("task", task.ID.String()), zap.String("role", role))
	return task, nil
}

func roleOf(cfg *config.Config, issue domain.IssueSnapshot) (string, error) {
	role, ok := issue.Role()
	if !ok {
		return "", errs.Newf(errs.InvalidArgument, "issue %s carries no role label", issue.ID)
	}
	if !cfg.AllowsRole(role) {
		return "", errs.Newf(errs.InvalidArgument, "role %s is not enabled for this project", role)
	}
	return role, nil
}

// Task returns one task.
func (e Engine) Task(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return e.Store.Tasks().GetByID(ctx, id)
}

// Assign gives the task to username under the matching contract. A
// non-positive deadlineDays uses the project's configured deadline.
func (e Engine) Assign(ctx context.Context, id domain.TaskID, username string, deadlineDays int, actorID string) (domain.Task, error) {
	var out domain.Task
	err := e.tx(ctx, func(s storage.Storage) error {
		task, err := s.Tasks().GetByID(ctx, id)
		if err != nil {
			return err
		}
		cfg, err := e.projectConfig(ctx, s, id.Project())
		if err != nil {
			return err
		}
		out, err = e.assign(ctx, s, cfg, task, username, deadlineDays, actorID)
		return err
	})
	if err == nil {
		e.notifyAssigned(ctx, out)
	}
	return out, err
}

func (e Engine) assign(ctx context.Context, s storage.Storage, cfg *config.Config, task domain.Task, username string, deadlineDays int, actorID string) (domain.Task, error) {
	switch task.State() {
	case domain.TaskClosed:
		return task, errs.Newf(errs.InvalidState, "task %s is closed", task.ID)
	case domain.TaskAssigned:
		if *task.Assignee == username {
			return task, nil
		}
		return task, errs.Newf(errs.InvalidState, "task %s is assigned to %s", task.ID, *task.Assignee)
	}
	task.Assignee = &username
	cid, _ := task.ContractID()
	if _, err := s.Contracts().GetByID(ctx, cid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return task, errs.Wrap(errs.NotFound, cid.String(), errs.ErrNoSuchContract)
		}
		return task, err
	}
	if deadlineDays <= 0 {
		deadlineDays = cfg.Assignment.DeadlineDays
	}
	now := e.now()
	deadline := now.Add(time.Duration(deadlineDays) * 24 * time.Hour)
	if err := s.Repo().SetAssignment(ctx, task.ID, &username, &now, &deadline); err != nil {
		return task, err
	}
	task.AssignmentDate = &now
	task.Deadline = &deadline
	if err := e.emit(ctx, s, events.TaskAssigned, task.ID.Project(), "task", task.ID.String(), actorID,
		events.EventPayload{"contributor": username, "deadline": deadline.Format(time.RFC3339)}); err != nil {
		return task, err
	}
	e.log().Info("task assigned", zap.String("task", task.ID.String()), zap.String("contributor", username), zap.Time("deadline", deadline))
	return task, nil
}

// Unassign returns the task to the pool. Unassigning an open task does nothing.
func (e Engine) Unassign(ctx context.Context, id domain.TaskID, actorID string) (domain.Task, error) {
	var out domain.Task
	var from string
	err := e.tx(ctx, func(s storage.Storage) error {
		task, err := s.Tasks().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if task.Assignee != nil {
			from = *task.Assignee
		}
		out, err = e.unassign(ctx, s, task, "manual", actorID)
		return err
	})
	if err == nil && from != "" {
		e.notifyUnassigned(ctx, out, from)
	}
	return out, err
}

func (e Engine) unassign(ctx context.Context, s storage.Storage, task domain.Task, reason, actorID string) (domain.Task, error) {
	switch task.State() {
	case domain.TaskClosed:
		return task, errs.Newf(errs.InvalidState, "task %s is closed", task.ID)
	case domain.TaskOpen:
		return task, nil
	}
	from := *task.Assignee
	if err := s.Repo().SetAssignment(ctx, task.ID, nil, nil, nil); err != nil {
		return task, err
	}
	task.Assignee, task.AssignmentDate, task.Deadline = nil, nil, nil
	if err := e.emit(ctx, s, events.TaskUnassigned, task.ID.Project(), "task", task.ID.String(), actorID,
		events.EventPayload{"from": from, "reason": reason}); err != nil {
		return task, err
	}
	e.log().Info("task unassigned", zap.String("task", task.ID.String()), zap.String("contributor", from), zap.String("reason", reason))
	return task, nil
}

// UpdateEstimation re-estimates a task while it is unassigned or its
// assignment has not passed the deadline. Minutes are clamped to the
// project's estimation range.
func (e Engine) UpdateEstimation(ctx context.Context, id domain.TaskID, minutes int, actorID string) (domain.Task, error) {
	if minutes < 0 {
		return domain.Task{}, errs.Newf(errs.InvalidArgument, "estimation must be >= 0, got %d", minutes)
	}
	var out domain.Task
	err := e.tx(ctx, func(s storage.Storage) error {
		task, err := s.Tasks().GetByID(ctx, id)
		if err != nil {
			return err
		}
		now := e.now()
		switch {
		case task.State() == domain.TaskClosed:
			return errs.Newf(errs.InvalidState, "task %s is closed", id)
		case task.Deadline != nil && !now.Before(*task.Deadline):
			return errs.Newf(errs.InvalidState, "task %s passed its deadline", id)
		}
		cfg, err := e.projectConfig(ctx, s, id.Project())
		if err != nil {
			return err
		}
		clamped := cfg.ClampEstimation(minutes)
		out = task
		if clamped == task.Estimation {
			return nil
		}
		if err := s.Repo().SetEstimation(ctx, id, clamped); err != nil {
			return err
		}
		out.Estimation = clamped
		return e.emit(ctx, s, events.TaskEstimated, id.Project(), "task", id.String(), actorID,
			events.EventPayload{"from": task.Estimation, "to": clamped, "requested": minutes})
	})
	return out, err
}

// OnClosed closes the task. An assigned task is appended to its contract's
// active invoice and the snapshot is returned; an unassigned one is only
// marked closed. Closing twice does nothing.
func (e Engine) OnClosed(ctx context.Context, id domain.TaskID, actorID string) (*domain.InvoicedTask, error) {
	var out *domain.InvoicedTask
	err := e.tx(ctx, func(s storage.Storage) error {
		var err error
		out, err = e.onClosed(ctx, s, id, actorID)
		return err
	})
	return out, err
}

func (e Engine) onClosed(ctx context.Context, s storage.Storage, id domain.TaskID, actorID string) (*domain.InvoicedTask, error) {
	task, err := s.Tasks().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.State() == domain.TaskClosed {
		return nil, nil
	}
	now := e.now()
	if err := s.Repo().SetClosed(ctx, id, &now); err != nil {
		return nil, err
	}
	task.ClosedAt = &now
	payload := events.EventPayload{}
	if task.Assignee != nil {
		payload["assignee"] = *task.Assignee
	}
	if err := e.emit(ctx, s, events.TaskClosed, id.Project(), "task", id.String(), actorID, payload); err != nil {
		return nil, err
	}
	cid, ok := task.ContractID()
	if !ok {
		e.log().Info("unassigned task closed", zap.String("task", id.String()))
		return nil, nil
	}
	// A snapshot taken by hand before the close already bills the task.
	prior, err := s.InvoicedTasks().OfTask(id).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		e.log().Info("closed task already invoiced",
			zap.String("task", id.String()),
			zap.Int64("invoice_id", prior[0].InvoiceID))
		return &prior[0], nil
	}
	contract, err := s.Contracts().GetByID(ctx, cid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Wrap(errs.NotFound, cid.String(), errs.ErrNoSuchContract)
		}
		return nil, err
	}
	cfg, err := e.projectConfig(ctx, s, id.Project())
	if err != nil {
		return nil, err
	}
	wallet, err := walletFor(ctx, s, id.Project(), cfg)
	if err != nil {
		return nil, err
	}
	inv, err := e.activeOf(ctx, s, cid, actorID)
	if err != nil {
		return nil, err
	}
	value := domain.TaskValue(contract.HourlyRate, task.Estimation)
	commission := e.commission()(task, value, wallet)
	it, err := e.registerInvoiced(ctx, s, inv, task, commission, actorID)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// Overdue lists the project's assigned tasks whose deadline has passed.
func (e Engine) Overdue(ctx context.Context, project domain.ProjectID) ([]domain.Task, error) {
	return e.Store.Tasks().OfProject(project).Overdue(e.now).List(ctx)
}
