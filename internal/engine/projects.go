package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/events"
	"contribline/internal/storage"
)

// RegisterUser stores a user, or returns the existing one.
func (e Engine) RegisterUser(ctx context.Context, u domain.User) (domain.User, error) {
	var out domain.User
	err := e.tx(ctx, func(s storage.Storage) error {
		var err error
		out, err = s.Users().Register(ctx, u, e.now())
		return err
	})
	return out, err
}

// ProjectOptions are parameters for registering a project.
type ProjectOptions struct {
	Repo        string
	Provider    string
	Owner       string
	BillingInfo string
	Config      *config.Config
	ActorID     string
}

// RegisterProject stores a project owned by an existing user and seeds its config.
func (e Engine) RegisterProject(ctx context.Context, opts ProjectOptions) (domain.Project, error) {
	repoName := strings.TrimSpace(opts.Repo)
	if repoName == "" || !strings.Contains(repoName, "/") {
		return domain.Project{}, errs.New(errs.InvalidArgument, "repo must be owner/name")
	}
	id := domain.ProjectID{RepoFullName: repoName, Provider: opts.Provider}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(id)
	}
	var out domain.Project
	err := e.tx(ctx, func(s storage.Storage) error {
		p, err := s.Projects().Register(ctx, domain.Project{
			RepoFullName:  repoName,
			Provider:      opts.Provider,
			OwnerUsername: opts.Owner,
			BillingInfo:   opts.BillingInfo,
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		if err := s.Repo().UpsertProjectConfig(ctx, id, cfg, e.now()); err != nil {
			return err
		}
		out = p
		return e.emit(ctx, s, events.ProjectRegistered, id, "project", id.String(), actorOr(opts.ActorID, opts.Owner), events.EventPayload{"owner": opts.Owner})
	})
	return out, err
}

// SetProjectConfig replaces the project's configuration.
func (e Engine) SetProjectConfig(ctx context.Context, id domain.ProjectID, cfg *config.Config, actorID string) error {
	return e.tx(ctx, func(s storage.Storage) error {
		if _, err := s.Projects().GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.Repo().UpsertProjectConfig(ctx, id, cfg, e.now()); err != nil {
			return err
		}
		return e.emit(ctx, s, events.ProjectConfigSaved, id, "project", id.String(), actorID, nil)
	})
}

// SetProjectBilling stores who pays the project's invoices.
func (e Engine) SetProjectBilling(ctx context.Context, id domain.ProjectID, billingInfo string) error {
	return e.tx(ctx, func(s storage.Storage) error {
		return s.Repo().UpdateProjectBilling(ctx, id, billingInfo)
	})
}

// SetContributorBilling stores who emits a contributor's invoices.
func (e Engine) SetContributorBilling(ctx context.Context, username, provider, billingInfo string) error {
	return e.tx(ctx, func(s storage.Storage) error {
		return s.Repo().UpdateContributorBilling(ctx, username, provider, billingInfo)
	})
}

// RegisterContributor adds a contributor to a project pool. Newcomers get a
// DEV contract at hourly rate 0.
func (e Engine) RegisterContributor(ctx context.Context, project domain.ProjectID, username, provider, actorID string) (domain.Contributor, error) {
	var out domain.Contributor
	err := e.tx(ctx, func(s storage.Storage) error {
		if _, err := s.Projects().GetByID(ctx, project); err != nil {
			return missingRef(err)
		}
		c, created, err := s.Contributors().OfProject(project).Register(ctx, username, provider, e.now())
		if err != nil {
			return err
		}
		out = c
		if !created {
			return nil
		}
		return e.emit(ctx, s, events.ContributorJoined, project, "contributor", provider+":"+username, actorID,
			events.EventPayload{"role": domain.RoleDEV, "hourly_rate": 0})
	})
	if err == nil {
		e.log().Info("contributor registered", zap.String("project", project.String()), zap.String("contributor", username))
	}
	return out, err
}

// WalletOptions are parameters for registering a wallet.
type WalletOptions struct {
	Project      domain.ProjectID
	Type         string
	CashLimit    int64
	Currency     string
	CommissionBP *int64
	Identifier   string
	ActorID      string
}

// RegisterWallet adds a wallet to a project. The first wallet becomes active.
// Commission and currency default to the project's billing config.
func (e Engine) RegisterWallet(ctx context.Context, opts WalletOptions) (domain.Wallet, error) {
	typ := strings.ToUpper(strings.TrimSpace(opts.Type))
	if typ != domain.WalletFake && typ != domain.WalletStripe {
		return domain.Wallet{}, errs.Newf(errs.InvalidArgument, "unknown wallet type %s", opts.Type)
	}
	var out domain.Wallet
	err := e.tx(ctx, func(s storage.Storage) error {
		if _, err := s.Projects().GetByID(ctx, opts.Project); err != nil {
			return missingRef(err)
		}
		cfg, err := e.projectConfig(ctx, s, opts.Project)
		if err != nil {
			return err
		}
		w := domain.Wallet{
			Project:      opts.Project,
			Type:         typ,
			CashLimit:    opts.CashLimit,
			Currency:     strings.ToUpper(opts.Currency),
			CommissionBP: cfg.Billing.CommissionBP,
			Identifier:   opts.Identifier,
		}
		if w.Currency == "" {
			w.Currency = cfg.Currency()
		}
		if opts.CommissionBP != nil {
			w.CommissionBP = *opts.CommissionBP
		}
		out, err = s.Wallets().OfProject(opts.Project).Register(ctx, w)
		if err != nil {
			return err
		}
		return e.emit(ctx, s, events.WalletRegistered, opts.Project, "wallet", typ, opts.ActorID,
			events.EventPayload{"active": out.Active, "currency": out.Currency, "commission_bp": out.CommissionBP})
	})
	return out, err
}

// ActivateWallet makes walletType the project's only active wallet.
func (e Engine) ActivateWallet(ctx context.Context, project domain.ProjectID, walletType, actorID string) (domain.Wallet, error) {
	var out domain.Wallet
	err := e.tx(ctx, func(s storage.Storage) error {
		var err error
		out, err = s.Wallets().OfProject(project).Activate(ctx, strings.ToUpper(walletType))
		if err != nil {
			return err
		}
		return e.emit(ctx, s, events.WalletActivated, project, "wallet", out.Type, actorID, nil)
	})
	return out, err
}

// missingRef reports a NotFound lookup of a referenced entity as ReferencedEntityMissing.
func missingRef(err error) error {
	if errs.KindOf(err) == errs.NotFound {
		return fmt.Errorf("%w: %v", errs.ErrReferencedEntityMissing, err)
	}
	return err
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}
