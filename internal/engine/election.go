package engine

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/storage"
)

// Candidate is a contract eligible to take a task, with the figures the
// election ranks it by.
type Candidate struct {
	Contract     domain.Contract `json:"contract"`
	OpenAssigned int             `json:"open_assigned"`
	Revenue      int64           `json:"revenue"`
	OverCapacity bool            `json:"over_capacity"`
}

// Elect picks the contributor who should take the task, or nil when no
// contract qualifies. Errors come only from storage reads.
func (e Engine) Elect(ctx context.Context, id domain.TaskID) (*domain.Contributor, error) {
	task, err := e.Store.Tasks().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := e.projectConfig(ctx, e.Store, id.Project())
	if err != nil {
		return nil, err
	}
	return e.elect(ctx, e.Store, cfg, task)
}

// Candidates returns the ranked candidates for a task, best first.
func (e Engine) Candidates(ctx context.Context, id domain.TaskID) ([]Candidate, error) {
	task, err := e.Store.Tasks().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := e.projectConfig(ctx, e.Store, id.Project())
	if err != nil {
		return nil, err
	}
	return e.candidates(ctx, e.Store, cfg, task)
}

func (e Engine) elect(ctx context.Context, s storage.Storage, cfg *config.Config, task domain.Task) (*domain.Contributor, error) {
	ranked, err := e.candidates(ctx, s, cfg, task)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		e.log().Debug("no candidate", zap.String("task", task.ID.String()), zap.String("role", task.Role))
		return nil, nil
	}
	best := ranked[0].Contract.ID
	c, err := s.Contributors().GetByID(ctx, best.Username, best.Provider)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// candidates filters the project's contracts for the task's role, drops the
// incumbent and contracts marked for removal, then orders the rest by
// capacity, open assignments, lifetime revenue and username.
func (e Engine) candidates(ctx context.Context, s storage.Storage, cfg *config.Config, task domain.Task) ([]Candidate, error) {
	contracts, err := s.Contracts().OfProject(task.ID.Project()).ForRole(ctx, task.Role)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, c := range contracts {
		if task.Assignee != nil && c.ID.Username == *task.Assignee {
			continue
		}
		if c.MarkedForRemoval != nil {
			continue
		}
		open, err := s.Repo().CountOpenAssigned(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		totals, err := s.Repo().ContractTotals(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Contract:     c,
			OpenAssigned: open,
			Revenue:      totals.Revenue,
			OverCapacity: cfg.Assignment.Capacity > 0 && open >= cfg.Assignment.Capacity,
		})
	}
	slices.SortFunc(out, compareCandidates)
	return out, nil
}

func compareCandidates(a, b Candidate) int {
	if a.OverCapacity != b.OverCapacity {
		if a.OverCapacity {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.OpenAssigned, b.OpenAssigned); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Revenue, b.Revenue); c != 0 {
		return c
	}
	return cmp.Compare(a.Contract.ID.Username, b.Contract.ID.Username)
}
