package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/errs"
)

type userRow struct {
	Username    string         `db:"username"`
	Provider    string         `db:"provider"`
	Email       sql.NullString `db:"email"`
	Credentials sql.NullString `db:"credentials_json"`
}

func (u userRow) toDomain() domain.User {
	out := domain.User{Username: u.Username, Provider: u.Provider, Email: u.Email.String}
	if u.Credentials.Valid && u.Credentials.String != "" {
		_ = json.Unmarshal([]byte(u.Credentials.String), &out.Credentials)
	}
	return out
}

func (r Repo) InsertUser(ctx context.Context, u domain.User, now time.Time) error {
	var creds any
	if len(u.Credentials) > 0 {
		data, err := json.Marshal(u.Credentials)
		if err != nil {
			return err
		}
		creds = string(data)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO users(username,provider,email,credentials_json,created_at) VALUES (?,?,?,?,?)`,
		u.Username, u.Provider, nullable(u.Email), creds, formatTime(now))
	return classify(err)
}

func (r Repo) GetUser(ctx context.Context, username, provider string) (domain.User, error) {
	var row userRow
	err := r.q().GetContext(ctx, &row, `SELECT username,provider,email,credentials_json FROM users WHERE username=? AND provider=?`, username, provider)
	if err != nil {
		return domain.User{}, notFound(err, "user "+username)
	}
	return row.toDomain(), nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT username,provider,email,credentials_json FROM users ORDER BY provider, username`); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

type contributorRow struct {
	Username    string         `db:"username"`
	Provider    string         `db:"provider"`
	BillingInfo sql.NullString `db:"billing_info"`
}

func (c contributorRow) toDomain() domain.Contributor {
	return domain.Contributor{Username: c.Username, Provider: c.Provider, BillingInfo: c.BillingInfo.String}
}

func (r Repo) InsertContributor(ctx context.Context, c domain.Contributor, now time.Time) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO contributors(username,provider,billing_info,created_at) VALUES (?,?,?,?)`,
		c.Username, c.Provider, nullable(c.BillingInfo), formatTime(now))
	return classify(err)
}

func (r Repo) GetContributor(ctx context.Context, username, provider string) (domain.Contributor, error) {
	var row contributorRow
	err := r.q().GetContext(ctx, &row, `SELECT username,provider,billing_info FROM contributors WHERE username=? AND provider=?`, username, provider)
	if err != nil {
		return domain.Contributor{}, notFound(err, "contributor "+username)
	}
	return row.toDomain(), nil
}

func (r Repo) UpdateContributorBilling(ctx context.Context, username, provider, billingInfo string) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE contributors SET billing_info=? WHERE username=? AND provider=?`,
		nullable(billingInfo), username, provider))
}

// ListContributors returns all contributors, or only those holding a
// contract in project when it is non-nil.
func (r Repo) ListContributors(ctx context.Context, project *domain.ProjectID) ([]domain.Contributor, error) {
	var rows []contributorRow
	var err error
	if project == nil {
		err = r.q().SelectContext(ctx, &rows, `SELECT username,provider,billing_info FROM contributors ORDER BY provider, username`)
	} else {
		err = r.q().SelectContext(ctx, &rows, `SELECT DISTINCT c.username,c.provider,c.billing_info FROM contributors c
JOIN contracts k ON k.username=c.username AND k.provider=c.provider
WHERE k.repo_fullname=? AND k.provider=? ORDER BY c.username`, project.RepoFullName, project.Provider)
	}
	if err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Contributor, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

type projectRow struct {
	RepoFullName  string         `db:"repo_fullname"`
	Provider      string         `db:"provider"`
	OwnerUsername string         `db:"owner_username"`
	WebhookToken  string         `db:"webhook_token"`
	BillingInfo   sql.NullString `db:"billing_info"`
	CreatedAt     string         `db:"created_at"`
}

func (p projectRow) toDomain() domain.Project {
	return domain.Project{
		RepoFullName:  p.RepoFullName,
		Provider:      p.Provider,
		OwnerUsername: p.OwnerUsername,
		WebhookToken:  p.WebhookToken,
		BillingInfo:   p.BillingInfo.String,
		CreatedAt:     parseTime(p.CreatedAt),
	}
}

const projectCols = `repo_fullname,provider,owner_username,webhook_token,billing_info,created_at`

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?)`,
		p.RepoFullName, p.Provider, p.OwnerUsername, p.WebhookToken, nullable(p.BillingInfo), formatTime(p.CreatedAt))
	return classify(err)
}

func (r Repo) GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
	var row projectRow
	err := r.q().GetContext(ctx, &row, `SELECT `+projectCols+` FROM projects WHERE repo_fullname=? AND provider=?`, id.RepoFullName, id.Provider)
	if err != nil {
		return domain.Project{}, notFound(err, "project "+id.String())
	}
	return row.toDomain(), nil
}

func (r Repo) UpdateProjectBilling(ctx context.Context, id domain.ProjectID, billingInfo string) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE projects SET billing_info=? WHERE repo_fullname=? AND provider=?`,
		nullable(billingInfo), id.RepoFullName, id.Provider))
}

// ListProjects returns all projects, or the ones owned by owner when set.
func (r Repo) ListProjects(ctx context.Context, owner *domain.User) ([]domain.Project, error) {
	var w where
	if owner != nil {
		w.add("owner_username=? AND provider=?", owner.Username, owner.Provider)
	}
	var rows []projectRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+projectCols+` FROM projects`+w.sql()+` ORDER BY created_at DESC, repo_fullname`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, id domain.ProjectID, cfg *config.Config, now time.Time) error {
	if cfg == nil {
		return errs.New(errs.InvalidArgument, "project config is required")
	}
	cfg.Project.Repo = id.RepoFullName
	cfg.Project.Provider = id.Provider
	if err := cfg.Validate(); err != nil {
		return errs.Wrap(errs.InvalidArgument, "project config", err)
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	ts := formatTime(now)
	_, err = r.q().ExecContext(ctx, `INSERT INTO project_configs(repo_fullname,provider,config_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(repo_fullname,provider) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		id.RepoFullName, id.Provider, string(payload), ts, ts)
	return classify(err)
}

func (r Repo) GetProjectConfig(ctx context.Context, id domain.ProjectID) (*config.Config, error) {
	var payload string
	err := r.q().GetContext(ctx, &payload, `SELECT config_json FROM project_configs WHERE repo_fullname=? AND provider=?`, id.RepoFullName, id.Provider)
	if err != nil {
		return nil, notFound(err, "project config "+id.String())
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	cfg.Project.Repo = id.RepoFullName
	cfg.Project.Provider = id.Provider
	return &cfg, cfg.Validate()
}
