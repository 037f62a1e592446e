package server

import (
	"time"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/engine"
)

type RegisterUserRequest struct {
	Username string `json:"username"`
	Provider string `json:"provider,omitempty" default:"github"`
	Email    string `json:"email,omitempty"`
}

type CreateProjectRequest struct {
	Repo        string `json:"repo" example:"john/test"`
	Provider    string `json:"provider,omitempty" default:"github"`
	Owner       string `json:"owner"`
	BillingInfo string `json:"billing_info,omitempty"`
	// ConfigYAML seeds contribline.yml; empty takes the defaults.
	ConfigYAML string `json:"config_yaml,omitempty"`
}

type ProjectResponse struct {
	RepoFullName string    `json:"repo_full_name"`
	Provider     string    `json:"provider"`
	Owner        string    `json:"owner"`
	BillingInfo  string    `json:"billing_info,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	WebhookToken string    `json:"webhook_token,omitempty"`
}

type ProjectConfigRequest struct {
	YAML string `json:"yaml"`
}

type BillingRequest struct {
	BillingInfo string `json:"billing_info"`
}

type RegisterContributorRequest struct {
	Username string `json:"username"`
	Provider string `json:"provider,omitempty"`
}

type AddContractRequest struct {
	Username   string `json:"username"`
	Role       string `json:"role" example:"DEV"`
	HourlyRate int64  `json:"hourly_rate" minimum:"0"`
}

type UpdateContractRequest struct {
	HourlyRate int64 `json:"hourly_rate" minimum:"0"`
}

type MarkRemovalRequest struct {
	At *time.Time `json:"at,omitempty"`
}

type RegisterTaskRequest struct {
	IssueID string   `json:"issue_id"`
	Title   string   `json:"title,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

type AssignRequest struct {
	Username     string `json:"username"`
	DeadlineDays int    `json:"deadline_days,omitempty"`
}

type EstimationRequest struct {
	Minutes int `json:"minutes"`
}

type ElectResponse struct {
	Winner     *domain.Contributor `json:"winner"`
	Candidates []engine.Candidate  `json:"candidates"`
}

type CloseResponse struct {
	Task     domain.Task          `json:"task"`
	Invoiced *domain.InvoicedTask `json:"invoiced,omitempty"`
}

type InvoiceTaskRequest struct {
	IssueID    string `json:"issue_id"`
	Commission int64  `json:"commission" minimum:"0"`
}

type PayRequest struct {
	TransactionID string     `json:"transaction_id"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type InvoiceResponse struct {
	domain.InvoiceView
	Amount      int64 `json:"amount"`
	Commission  int64 `json:"commission"`
	TotalAmount int64 `json:"total_amount"`
}

type RegisterWalletRequest struct {
	Type         string `json:"type" enum:"FAKE,STRIPE"`
	CashLimit    int64  `json:"cash_limit,omitempty"`
	Currency     string `json:"currency,omitempty"`
	CommissionBP *int64 `json:"commission_bp,omitempty"`
	Identifier   string `json:"identifier,omitempty"`
}

type ProviderWebhookResponse struct {
	Action string       `json:"action"`
	Task   *domain.Task `json:"task,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		RepoFullName: p.RepoFullName,
		Provider:     p.Provider,
		Owner:        p.OwnerUsername,
		BillingInfo:  p.BillingInfo,
		CreatedAt:    p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func invoiceResponse(v domain.InvoiceView) InvoiceResponse {
	if v.Tasks == nil {
		v.Tasks = []domain.InvoicedTask{}
	}
	return InvoiceResponse{
		InvoiceView: v,
		Amount:      v.Amount(),
		Commission:  v.Commission(),
		TotalAmount: v.TotalAmount(),
	}
}

func issueFromRequest(req RegisterTaskRequest) domain.IssueSnapshot {
	issue := domain.IssueSnapshot{ID: req.IssueID, Title: req.Title, State: "open"}
	for _, l := range req.Labels {
		issue.Labels = append(issue.Labels, domain.Label{Name: l})
	}
	return issue
}

func configFromRequest(id domain.ProjectID, yamlText string) (*config.Config, error) {
	if yamlText == "" {
		return config.Default(id), nil
	}
	return config.ForProject(id, []byte(yamlText))
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
