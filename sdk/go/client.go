// Package contriblinesdk is a minimal client of the Contribline HTTP API.
package contriblinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one project of a Contribline server.
type Client struct {
	BaseURL     string
	Provider    string
	Repo        string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for repo ("owner/name") on GitHub.
func New(baseURL, repo string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Provider: "github",
		Repo:     repo,
		Timeout:  10 * time.Second,
	}
}

// Task is the API task model (partial).
type Task struct {
	ID struct {
		IssueID string `json:"issue_id"`
	} `json:"id"`
	Title      string     `json:"title"`
	Role       string     `json:"role"`
	Estimation int        `json:"estimation_minutes"`
	Assignee   *string    `json:"assignee"`
	Deadline   *time.Time `json:"deadline"`
	ClosedAt   *time.Time `json:"closed_at"`
}

// InvoicedTask is a task line of an invoice.
type InvoicedTask struct {
	Task struct {
		IssueID string `json:"issue_id"`
	} `json:"task"`
	Role              string `json:"role"`
	EstimationMinutes int    `json:"estimation_minutes"`
	Value             int64  `json:"value"`
	Commission        int64  `json:"commission"`
}

// Invoice is an invoice with its totals.
type Invoice struct {
	Invoice struct {
		ID            int64      `json:"id"`
		Currency      string     `json:"currency"`
		PaymentTime   *time.Time `json:"payment_time"`
		TransactionID *string    `json:"transaction_id"`
	} `json:"invoice"`
	Number      string         `json:"number"`
	BilledBy    string         `json:"billed_by"`
	BilledTo    string         `json:"billed_to"`
	Tasks       []InvoicedTask `json:"tasks"`
	Amount      int64          `json:"amount"`
	Commission  int64          `json:"commission"`
	TotalAmount int64          `json:"total_amount"`
}

// Event is a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error code of the envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

// RegisterTask registers an issue carrying role labels.
func (c *Client) RegisterTask(ctx context.Context, issueID, title string, labels ...string) (Task, error) {
	body := map[string]any{"issue_id": issueID, "title": title}
	if len(labels) > 0 {
		body["labels"] = labels
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// Tasks lists tasks; state is "", open, assigned, closed or overdue.
func (c *Client) Tasks(ctx context.Context, state string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Assign gives the task to username, or to the elected contributor when
// username is empty.
func (c *Client) Assign(ctx context.Context, issueID, username string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(issueID, "assign"), map[string]any{"username": username}, &resp)
	return resp, err
}

// Close closes the task and returns its invoice line, nil when nothing was invoiced.
func (c *Client) Close(ctx context.Context, issueID string) (*InvoicedTask, error) {
	var resp struct {
		Invoiced *InvoicedTask `json:"invoiced"`
	}
	err := c.do(ctx, http.MethodPost, c.taskPath(issueID, "close"), nil, &resp)
	return resp.Invoiced, err
}

// Invoice fetches an invoice with its tasks.
func (c *Client) Invoice(ctx context.Context, id int64) (Invoice, error) {
	var resp Invoice
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/invoices/%d", id), nil, &resp)
	return resp, err
}

// PayActive charges the project wallet for the contract's active invoice.
func (c *Client) PayActive(ctx context.Context, username, role string) (Invoice, error) {
	var resp Invoice
	endpoint := c.projectPath(fmt.Sprintf("contracts/%s/%s/pay", url.PathEscape(username), url.PathEscape(role)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	provider := c.Provider
	if provider == "" {
		provider = "github"
	}
	owner, name, _ := strings.Cut(c.Repo, "/")
	return fmt.Sprintf("v0/projects/%s/%s/%s/%s", url.PathEscape(provider), url.PathEscape(owner), url.PathEscape(name), strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(issueID, action string) string {
	return c.projectPath(fmt.Sprintf("tasks/%s/%s", url.PathEscape(issueID), action))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
