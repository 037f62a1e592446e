package storage

import (
	"context"
	"time"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/repo"
)

// Contracts is the view over every contract.
type Contracts struct {
	View[domain.Contract]
	s Storage
}

func (s Storage) Contracts() Contracts {
	return Contracts{s: s, View: View[domain.Contract]{load: func(ctx context.Context) ([]domain.Contract, error) {
		return s.repo.ListContracts(ctx, repo.ContractFilter{})
	}}}
}

func (c Contracts) GetByID(ctx context.Context, id domain.ContractID) (domain.Contract, error) {
	return c.s.repo.GetContract(ctx, id)
}

func (c Contracts) OfProject(id domain.ProjectID) ProjectContracts {
	return ProjectContracts{
		s:       c.s,
		project: id,
		View: View[domain.Contract]{load: func(ctx context.Context) ([]domain.Contract, error) {
			return c.s.repo.ListContracts(ctx, repo.ContractFilter{Project: &id})
		}},
	}
}

func (c Contracts) OfContributor(username, provider string) ContributorContracts {
	return ContributorContracts{
		username: username,
		provider: provider,
		View: View[domain.Contract]{load: func(ctx context.Context) ([]domain.Contract, error) {
			return c.s.repo.ListContracts(ctx, repo.ContractFilter{Username: username, Provider: provider})
		}},
	}
}

// ProjectContracts lists the contracts of one project.
type ProjectContracts struct {
	View[domain.Contract]
	s       Storage
	project domain.ProjectID
}

func (p ProjectContracts) OfProject(id domain.ProjectID) (ProjectContracts, error) {
	if p.project == id {
		return p, nil
	}
	return ProjectContracts{}, scopeMismatch(p.project.String(), id.String())
}

// Register stores a contract of this project. Project and contributor must exist.
func (p ProjectContracts) Register(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	if c.ID.Project() != p.project {
		return domain.Contract{}, scopeMismatch(p.project.String(), c.ID.Project().String())
	}
	if _, err := p.s.repo.GetProject(ctx, p.project); err != nil {
		return domain.Contract{}, missing(err)
	}
	if _, err := p.s.repo.GetContributor(ctx, c.ID.Username, c.ID.Provider); err != nil {
		return domain.Contract{}, missing(err)
	}
	if err := p.s.repo.InsertContract(ctx, c); err != nil {
		if errs.KindOf(err) == errs.AlreadyExists {
			return domain.Contract{}, errs.Wrap(errs.AlreadyExists, "contract "+c.ID.String()+" already exists", err)
		}
		return domain.Contract{}, err
	}
	return c, nil
}

// ForRole lists the contracts of this project under one role, removed ones included.
func (p ProjectContracts) ForRole(ctx context.Context, role string) ([]domain.Contract, error) {
	return p.s.repo.ListContracts(ctx, repo.ContractFilter{Project: &p.project, Role: role})
}

// ContributorContracts lists the contracts of one contributor across projects.
type ContributorContracts struct {
	View[domain.Contract]
	username string
	provider string
}

func (c ContributorContracts) OfContributor(username, provider string) (ContributorContracts, error) {
	if c.username == username && c.provider == provider {
		return c, nil
	}
	return ContributorContracts{}, scopeMismatch(c.provider+":"+c.username, provider+":"+username)
}

// Tasks is the view over every task.
type Tasks struct {
	View[domain.Task]
	s Storage
}

func (s Storage) Tasks() Tasks {
	return Tasks{s: s, View: View[domain.Task]{load: func(ctx context.Context) ([]domain.Task, error) {
		return s.repo.ListTasks(ctx, repo.TaskFilter{})
	}}}
}

func (t Tasks) GetByID(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return t.s.repo.GetTask(ctx, id)
}

// Overdue lists assigned open tasks of every project past their deadline at now.
func (t Tasks) Overdue(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return t.s.repo.ListTasks(ctx, repo.TaskFilter{OverdueAt: &now})
}

// Unassigned lists open tasks without an assignee across projects.
func (t Tasks) Unassigned(ctx context.Context) ([]domain.Task, error) {
	return t.s.repo.ListTasks(ctx, repo.TaskFilter{Unassigned: true})
}

func (t Tasks) OfProject(id domain.ProjectID) ProjectTasks {
	return ProjectTasks{
		s:       t.s,
		project: id,
		View: View[domain.Task]{load: func(ctx context.Context) ([]domain.Task, error) {
			return t.s.repo.ListTasks(ctx, repo.TaskFilter{Project: &id})
		}},
	}
}

// OfContributor lists the open tasks assigned to one contributor.
func (t Tasks) OfContributor(username, provider string) ContributorTasks {
	return ContributorTasks{
		username: username,
		provider: provider,
		View: View[domain.Task]{load: func(ctx context.Context) ([]domain.Task, error) {
			tasks, err := t.s.repo.ListTasks(ctx, repo.TaskFilter{Assignee: username, OpenOnly: true})
			if err != nil {
				return nil, err
			}
			out := tasks[:0]
			for _, task := range tasks {
				if task.ID.Provider == provider {
					out = append(out, task)
				}
			}
			return out, nil
		}},
	}
}

// ProjectTasks lists the tasks of one project.
type ProjectTasks struct {
	View[domain.Task]
	s       Storage
	project domain.ProjectID
}

func (p ProjectTasks) OfProject(id domain.ProjectID) (ProjectTasks, error) {
	if p.project == id {
		return p, nil
	}
	return ProjectTasks{}, scopeMismatch(p.project.String(), id.String())
}

// Register stores a new task of this project.
func (p ProjectTasks) Register(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.ID.Project() != p.project {
		return domain.Task{}, scopeMismatch(p.project.String(), task.ID.Project().String())
	}
	if err := p.s.repo.InsertTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (p ProjectTasks) GetByID(ctx context.Context, issueID string) (domain.Task, error) {
	return p.s.repo.GetTask(ctx, domain.TaskID{IssueID: issueID, RepoFullName: p.project.RepoFullName, Provider: p.project.Provider})
}

// Unassigned is a lazy view of the project's open tasks without an assignee.
func (p ProjectTasks) Unassigned() View[domain.Task] {
	return View[domain.Task]{load: func(ctx context.Context) ([]domain.Task, error) {
		return p.s.repo.ListTasks(ctx, repo.TaskFilter{Project: &p.project, Unassigned: true})
	}}
}

// Overdue is a lazy view of assigned open tasks whose deadline precedes the
// clock reading taken on each pass.
func (p ProjectTasks) Overdue(now func() time.Time) View[domain.Task] {
	return View[domain.Task]{load: func(ctx context.Context) ([]domain.Task, error) {
		at := now()
		return p.s.repo.ListTasks(ctx, repo.TaskFilter{Project: &p.project, OverdueAt: &at})
	}}
}

// ContributorTasks lists the open tasks assigned to one contributor.
type ContributorTasks struct {
	View[domain.Task]
	username string
	provider string
}

func (c ContributorTasks) OfContributor(username, provider string) (ContributorTasks, error) {
	if c.username == username && c.provider == provider {
		return c, nil
	}
	return ContributorTasks{}, scopeMismatch(c.provider+":"+c.username, provider+":"+username)
}

// missing turns a NotFound lookup into ReferencedEntityMissing.
func missing(err error) error {
	if errs.KindOf(err) == errs.NotFound {
		return errs.ErrReferencedEntityMissing
	}
	return err
}
