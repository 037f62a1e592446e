// Package providertest provides a testify mock of provider.Client.
package providertest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"contribline/internal/domain"
)

type Client struct {
	mock.Mock
}

func (c *Client) Issue(ctx context.Context, repo, issueID string) (domain.IssueSnapshot, error) {
	args := c.Called(ctx, repo, issueID)
	issue, _ := args.Get(0).(domain.IssueSnapshot)
	return issue, args.Error(1)
}

func (c *Client) Assign(ctx context.Context, repo, issueID, username string) error {
	return c.Called(ctx, repo, issueID, username).Error(0)
}

func (c *Client) Unassign(ctx context.Context, repo, issueID, username string) error {
	return c.Called(ctx, repo, issueID, username).Error(0)
}

func (c *Client) Comment(ctx context.Context, repo, issueID, body string) error {
	return c.Called(ctx, repo, issueID, body).Error(0)
}

func (c *Client) Close(ctx context.Context, repo, issueID string) error {
	return c.Called(ctx, repo, issueID).Error(0)
}

func (c *Client) Reopen(ctx context.Context, repo, issueID string) error {
	return c.Called(ctx, repo, issueID).Error(0)
}
