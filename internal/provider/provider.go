// Package provider talks to source-hosting providers about issues.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

// Client is the issue capability of one provider. Authentication is fixed
// when the client is built.
type Client interface {
	Issue(ctx context.Context, repo, issueID string) (domain.IssueSnapshot, error)
	Assign(ctx context.Context, repo, issueID, username string) error
	Unassign(ctx context.Context, repo, issueID, username string) error
	Comment(ctx context.Context, repo, issueID, body string) error
	Close(ctx context.Context, repo, issueID string) error
	Reopen(ctx context.Context, repo, issueID string) error
}

// Registry maps provider names to clients.
type Registry map[string]Client

// For returns the client of provider.
func (r Registry) For(provider string) (Client, error) {
	if c, ok := r[provider]; ok && c != nil {
		return c, nil
	}
	return nil, errs.Newf(errs.InvalidArgument, "no client for provider %s", provider)
}

// StatusError classifies an upstream HTTP status: 429 and 5xx are Transient,
// any other failure is Permanent.
func StatusError(op string, status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return errs.Wrap(errs.Transient, op, fmt.Errorf("status %d", status))
	}
	return errs.Wrap(errs.Permanent, op, fmt.Errorf("status %d", status))
}
