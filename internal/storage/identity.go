package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/repo"
)

// Users is the view over every registered user.
type Users struct {
	View[domain.User]
	s Storage
}

func (s Storage) Users() Users {
	return Users{s: s, View: View[domain.User]{load: s.repo.ListUsers}}
}

func (u Users) GetByID(ctx context.Context, username, provider string) (domain.User, error) {
	return u.s.repo.GetUser(ctx, username, provider)
}

// Register stores a user. Users are immutable once created; registering an
// existing identity returns the stored record.
func (u Users) Register(ctx context.Context, user domain.User, now time.Time) (domain.User, error) {
	if strings.TrimSpace(user.Username) == "" || strings.TrimSpace(user.Provider) == "" {
		return domain.User{}, errs.New(errs.InvalidArgument, "username and provider are required")
	}
	if existing, err := u.s.repo.GetUser(ctx, user.Username, user.Provider); err == nil {
		return existing, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return domain.User{}, err
	}
	if err := u.s.repo.InsertUser(ctx, user, now); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Projects is the view over every project.
type Projects struct {
	View[domain.Project]
	s Storage
}

func (s Storage) Projects() Projects {
	return Projects{s: s, View: View[domain.Project]{load: func(ctx context.Context) ([]domain.Project, error) {
		return s.repo.ListProjects(ctx, nil)
	}}}
}

func (p Projects) GetByID(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
	return p.s.repo.GetProject(ctx, id)
}

// Register stores a project for an existing owner. A webhook token is
// generated when none is given.
func (p Projects) Register(ctx context.Context, project domain.Project) (domain.Project, error) {
	if strings.TrimSpace(project.RepoFullName) == "" || strings.TrimSpace(project.Provider) == "" {
		return domain.Project{}, errs.New(errs.InvalidArgument, "repo and provider are required")
	}
	if _, err := p.s.repo.GetUser(ctx, project.OwnerUsername, project.Provider); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return domain.Project{}, errs.ErrReferencedEntityMissing
		}
		return domain.Project{}, err
	}
	if project.WebhookToken == "" {
		project.WebhookToken = uuid.NewString()
	}
	if err := p.s.repo.InsertProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// OwnedBy returns the projects view of one user.
func (p Projects) OwnedBy(user domain.User) UserProjects {
	owner := user
	return UserProjects{
		owner: user,
		View: View[domain.Project]{load: func(ctx context.Context) ([]domain.Project, error) {
			return p.s.repo.ListProjects(ctx, &owner)
		}},
	}
}

// UserProjects lists the projects owned by one user.
type UserProjects struct {
	View[domain.Project]
	owner domain.User
}

func (u UserProjects) OfUser(username, provider string) (UserProjects, error) {
	if u.owner.Username == username && u.owner.Provider == provider {
		return u, nil
	}
	return UserProjects{}, scopeMismatch(u.owner.Provider+":"+u.owner.Username, provider+":"+username)
}

// Contributors is the view over every contributor.
type Contributors struct {
	View[domain.Contributor]
	s Storage
}

func (s Storage) Contributors() Contributors {
	return Contributors{s: s, View: View[domain.Contributor]{load: func(ctx context.Context) ([]domain.Contributor, error) {
		return s.repo.ListContributors(ctx, nil)
	}}}
}

func (c Contributors) GetByID(ctx context.Context, username, provider string) (domain.Contributor, error) {
	return c.s.repo.GetContributor(ctx, username, provider)
}

// Register stores a contributor, returning the existing one if present.
func (c Contributors) Register(ctx context.Context, username, provider string, now time.Time) (domain.Contributor, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(provider) == "" {
		return domain.Contributor{}, errs.New(errs.InvalidArgument, "username and provider are required")
	}
	existing, err := c.s.repo.GetContributor(ctx, username, provider)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return domain.Contributor{}, err
	}
	contributor := domain.Contributor{Username: username, Provider: provider}
	if err := c.s.repo.InsertContributor(ctx, contributor, now); err != nil {
		return domain.Contributor{}, err
	}
	return contributor, nil
}

func (c Contributors) OfProject(id domain.ProjectID) ProjectContributors {
	return ProjectContributors{
		s:       c.s,
		project: id,
		View: View[domain.Contributor]{load: func(ctx context.Context) ([]domain.Contributor, error) {
			return c.s.repo.ListContributors(ctx, &id)
		}},
	}
}

// ProjectContributors is the pool of contributors holding a contract in one project.
type ProjectContributors struct {
	View[domain.Contributor]
	s       Storage
	project domain.ProjectID
}

func (p ProjectContributors) OfProject(id domain.ProjectID) (ProjectContributors, error) {
	if p.project == id {
		return p, nil
	}
	return ProjectContributors{}, scopeMismatch(p.project.String(), id.String())
}

// Register adds a contributor to the project pool. A contributor already in
// the pool is returned as is; a new one is registered and receives a DEV
// contract at hourly rate 0.
func (p ProjectContributors) Register(ctx context.Context, username, provider string, now time.Time) (domain.Contributor, bool, error) {
	if provider != p.project.Provider {
		return domain.Contributor{}, false, errs.Newf(errs.InvalidArgument,
			"contributor provider %s differs from project provider %s", provider, p.project.Provider)
	}
	inPool, err := p.s.repo.ListContracts(ctx, repo.ContractFilter{Project: &p.project, Username: username})
	if err != nil {
		return domain.Contributor{}, false, err
	}
	if len(inPool) > 0 {
		existing, err := p.s.repo.GetContributor(ctx, username, provider)
		return existing, false, err
	}
	contributor, err := p.s.Contributors().Register(ctx, username, provider, now)
	if err != nil {
		return domain.Contributor{}, false, err
	}
	contract := domain.Contract{
		ID: domain.ContractID{
			RepoFullName: p.project.RepoFullName,
			Username:     username,
			Provider:     provider,
			Role:         domain.RoleDEV,
		},
		CreatedAt: now,
	}
	if err := p.s.repo.InsertContract(ctx, contract); err != nil {
		return domain.Contributor{}, false, err
	}
	return contributor, true, nil
}

// GetByID returns a contributor of the pool.
func (p ProjectContributors) GetByID(ctx context.Context, username, provider string) (domain.Contributor, error) {
	contracts, err := p.s.repo.ListContracts(ctx, repo.ContractFilter{Project: &p.project, Username: username, Provider: provider})
	if err != nil {
		return domain.Contributor{}, err
	}
	if len(contracts) == 0 {
		return domain.Contributor{}, errs.Newf(errs.NotFound, "%s is not a contributor of %s", username, p.project)
	}
	return p.s.repo.GetContributor(ctx, username, provider)
}
