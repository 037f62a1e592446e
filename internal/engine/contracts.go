package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/events"
	"contribline/internal/storage"
)

// AddContract binds a contributor to a project under a role.
func (e Engine) AddContract(ctx context.Context, id domain.ContractID, hourlyRate int64, actorID string) (domain.Contract, error) {
	if hourlyRate < 0 {
		return domain.Contract{}, errs.Newf(errs.InvalidArgument, "hourly rate must be >= 0, got %d", hourlyRate)
	}
	role, ok := domain.ParseRole(id.Role)
	if !ok {
		return domain.Contract{}, errs.Newf(errs.InvalidArgument, "unknown role %s", id.Role)
	}
	id.Role = role
	var out domain.Contract
	err := e.tx(ctx, func(s storage.Storage) error {
		c, err := s.Contracts().OfProject(id.Project()).Register(ctx, domain.Contract{
			ID:         id,
			HourlyRate: hourlyRate,
			CreatedAt:  e.now(),
		})
		if err != nil {
			return err
		}
		out = c
		return e.emit(ctx, s, events.ContractAdded, id.Project(), "contract", id.String(), actorID,
			events.EventPayload{"hourly_rate": hourlyRate, "role": role, "contributor": id.Username})
	})
	if err != nil {
		return domain.Contract{}, err
	}
	e.log().Info("contract added", zap.String("contract", id.String()), zap.Int64("hourly_rate", hourlyRate))
	return out, nil
}

// UpdateContract changes the hourly rate. Already invoiced tasks keep their value.
func (e Engine) UpdateContract(ctx context.Context, id domain.ContractID, hourlyRate int64, actorID string) (domain.Contract, error) {
	if hourlyRate < 0 {
		return domain.Contract{}, errs.Newf(errs.InvalidArgument, "hourly rate must be >= 0, got %d", hourlyRate)
	}
	var out domain.Contract
	err := e.tx(ctx, func(s storage.Storage) error {
		old, err := s.Contracts().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Repo().UpdateContractRate(ctx, id, hourlyRate); err != nil {
			return err
		}
		out = old
		out.HourlyRate = hourlyRate
		return e.emit(ctx, s, events.ContractUpdated, id.Project(), "contract", id.String(), actorID,
			events.EventPayload{"from": old.HourlyRate, "to": hourlyRate})
	})
	return out, err
}

// MarkForRemoval flags the contract so elections skip it. Repeated calls
// keep the first instant.
func (e Engine) MarkForRemoval(ctx context.Context, id domain.ContractID, at time.Time, actorID string) (domain.Contract, error) {
	if at.IsZero() {
		at = e.now()
	}
	var out domain.Contract
	err := e.tx(ctx, func(s storage.Storage) error {
		old, err := s.Contracts().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if old.MarkedForRemoval != nil {
			out = old
			return nil
		}
		if err := s.Repo().MarkContractForRemoval(ctx, id, at); err != nil {
			return err
		}
		if out, err = s.Contracts().GetByID(ctx, id); err != nil {
			return err
		}
		return e.emit(ctx, s, events.ContractMarked, id.Project(), "contract", id.String(), actorID, nil)
	})
	return out, err
}

// RemoveContract deletes a contract once every invoice is paid and no task
// is assigned under it.
func (e Engine) RemoveContract(ctx context.Context, id domain.ContractID, actorID string) error {
	err := e.tx(ctx, func(s storage.Storage) error {
		if _, err := s.Contracts().GetByID(ctx, id); err != nil {
			return err
		}
		unpaid, err := s.Repo().CountUnpaidInvoices(ctx, id)
		if err != nil {
			return err
		}
		if unpaid > 0 {
			return errs.Newf(errs.InvalidState, "contract %s has %d unpaid invoice(s)", id, unpaid)
		}
		assigned, err := s.Repo().CountOpenAssigned(ctx, id)
		if err != nil {
			return err
		}
		if assigned > 0 {
			return errs.Newf(errs.InvalidState, "contract %s has %d assigned task(s)", id, assigned)
		}
		if err := s.Repo().DeleteContract(ctx, id); err != nil {
			return err
		}
		return e.emit(ctx, s, events.ContractRemoved, id.Project(), "contract", id.String(), actorID, nil)
	})
	if err == nil {
		e.log().Info("contract removed", zap.String("contract", id.String()))
	}
	return err
}

// ContractSummary returns a contract with revenue, value and invoiced totals.
func (e Engine) ContractSummary(ctx context.Context, id domain.ContractID) (domain.ContractSummary, error) {
	c, err := e.Store.Contracts().GetByID(ctx, id)
	if err != nil {
		return domain.ContractSummary{}, err
	}
	return e.summarize(ctx, e.Store, c)
}

func (e Engine) summarize(ctx context.Context, s storage.Storage, c domain.Contract) (domain.ContractSummary, error) {
	totals, err := s.Repo().ContractTotals(ctx, c.ID)
	if err != nil {
		return domain.ContractSummary{}, err
	}
	return domain.ContractSummary{Contract: c, Revenue: totals.Revenue, Value: totals.Value, Invoiced: totals.Invoiced}, nil
}

// ProjectContracts lists the contracts of a project with their aggregates.
func (e Engine) ProjectContracts(ctx context.Context, project domain.ProjectID) ([]domain.ContractSummary, error) {
	var out []domain.ContractSummary
	for c, err := range e.Store.Contracts().OfProject(project).All(ctx) {
		if err != nil {
			return nil, err
		}
		sum, err := e.summarize(ctx, e.Store, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}
