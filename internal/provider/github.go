package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

const githubAPI = "https://api.github.com"

// GitHub is a REST client for GitHub issues.
type GitHub struct {
	HTTPClient *http.Client
	BaseURL    string
	Token      string
}

// NewGitHub creates a client with a timeout. An empty token sends
// anonymous requests.
func NewGitHub(token string) *GitHub {
	return &GitHub{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    githubAPI,
		Token:      token,
	}
}

type githubLabel struct {
	Name string `json:"name"`
}

type githubIssue struct {
	Number   int               `json:"number"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	State    string            `json:"state"`
	Labels   []json.RawMessage `json:"labels"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
}

func (g *GitHub) Issue(ctx context.Context, repo, issueID string) (domain.IssueSnapshot, error) {
	var issue githubIssue
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%s", repo, issueID), nil, http.StatusOK, &issue); err != nil {
		return domain.IssueSnapshot{}, err
	}
	return issue.snapshot()
}

func (issue githubIssue) snapshot() (domain.IssueSnapshot, error) {
	snap := domain.IssueSnapshot{
		ID:    strconv.Itoa(issue.Number),
		Title: issue.Title,
		Body:  issue.Body,
		State: issue.State,
	}
	if issue.Assignee != nil {
		snap.Assignee = issue.Assignee.Login
	}
	for _, raw := range issue.Labels {
		var l githubLabel
		if err := json.Unmarshal(raw, &l); err != nil {
			return domain.IssueSnapshot{}, errs.Wrap(errs.Permanent, "decode github label", err)
		}
		snap.Labels = append(snap.Labels, domain.Label{Name: l.Name, JSON: string(raw)})
	}
	return snap, nil
}

// GitHubIssueEvent is the part of a GitHub "issues" webhook delivery the
// engine reads.
type GitHubIssueEvent struct {
	Action string
	Issue  domain.IssueSnapshot
	Sender string
}

// ParseGitHubIssueEvent decodes an "issues" webhook body.
func ParseGitHubIssueEvent(body []byte) (GitHubIssueEvent, error) {
	var payload struct {
		Action string       `json:"action"`
		Issue  *githubIssue `json:"issue"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return GitHubIssueEvent{}, errs.Wrap(errs.InvalidArgument, "decode github event", err)
	}
	if payload.Action == "" || payload.Issue == nil || payload.Issue.Number <= 0 {
		return GitHubIssueEvent{}, errs.New(errs.InvalidArgument, "github event needs action and issue")
	}
	snap, err := payload.Issue.snapshot()
	if err != nil {
		return GitHubIssueEvent{}, errs.Wrap(errs.InvalidArgument, "decode github event", err)
	}
	return GitHubIssueEvent{Action: payload.Action, Issue: snap, Sender: payload.Sender.Login}, nil
}

func (g *GitHub) Assign(ctx context.Context, repo, issueID, username string) error {
	body := map[string][]string{"assignees": {username}}
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%s/assignees", repo, issueID), body, http.StatusCreated, nil)
}

func (g *GitHub) Unassign(ctx context.Context, repo, issueID, username string) error {
	body := map[string][]string{"assignees": {username}}
	return g.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/issues/%s/assignees", repo, issueID), body, http.StatusOK, nil)
}

func (g *GitHub) Comment(ctx context.Context, repo, issueID, text string) error {
	body := map[string]string{"body": text}
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%s/comments", repo, issueID), body, http.StatusCreated, nil)
}

func (g *GitHub) Close(ctx context.Context, repo, issueID string) error {
	return g.setState(ctx, repo, issueID, "closed")
}

func (g *GitHub) Reopen(ctx context.Context, repo, issueID string) error {
	return g.setState(ctx, repo, issueID, "open")
}

func (g *GitHub) setState(ctx context.Context, repo, issueID, state string) error {
	body := map[string]string{"state": state}
	return g.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/issues/%s", repo, issueID), body, http.StatusOK, nil)
}

func (g *GitHub) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	base := g.BaseURL
	if base == "" {
		base = githubAPI
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transient, method+" "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return StatusError(method+" "+path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Permanent, "decode "+path, err)
	}
	return nil
}
