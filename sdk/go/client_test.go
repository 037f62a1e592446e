package contriblinesdk_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/db"
	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/migrate"
	"contribline/internal/payment"
	"contribline/internal/server"
	contriblinesdk "contribline/sdk/go"
)

func newClient(t *testing.T) *contriblinesdk.Client {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	e := engine.New(conn)
	e.Payments = payment.FakeGateway{Now: e.Now}
	project := domain.ProjectID{RepoFullName: "john/test", Provider: "github"}
	_, err = e.RegisterUser(ctx, domain.User{Username: "john", Provider: "github"})
	require.NoError(t, err)
	_, err = e.RegisterProject(ctx, engine.ProjectOptions{Repo: "john/test", Provider: "github", Owner: "john"})
	require.NoError(t, err)
	_, err = e.RegisterContributor(ctx, project, "vlad", "github", "john")
	require.NoError(t, err)
	_, err = e.UpdateContract(ctx, domain.ContractID{RepoFullName: "john/test", Username: "vlad", Provider: "github", Role: "DEV"}, 6000, "john")
	require.NoError(t, err)
	_, err = e.RegisterWallet(ctx, engine.WalletOptions{Project: project, Type: domain.WalletFake})
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: "secret"}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token, err := server.SignToken("secret", "john", time.Hour)
	require.NoError(t, err)
	c := contriblinesdk.New(srv.URL, "john/test")
	c.BearerToken = token
	return c
}

func TestClientTaskToPayment(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	task, err := c.RegisterTask(ctx, "12", "Fix login", "DEV")
	require.NoError(t, err)
	assert.Equal(t, "12", task.ID.IssueID)
	assert.Equal(t, "DEV", task.Role)

	task, err = c.Assign(ctx, "12", "")
	require.NoError(t, err)
	require.NotNil(t, task.Assignee)
	assert.Equal(t, "vlad", *task.Assignee)

	open, err := c.Tasks(ctx, "assigned")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	line, err := c.Close(ctx, "12")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, int64(6000), line.Value)
	assert.Equal(t, int64(480), line.Commission)

	inv, err := c.PayActive(ctx, "vlad", "DEV")
	require.NoError(t, err)
	assert.Equal(t, int64(6480), inv.TotalAmount)
	require.NotNil(t, inv.Invoice.TransactionID)

	again, err := c.Invoice(ctx, inv.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, again.Number)

	events, err := c.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "invoice.paid", events[0].Type)
}

func TestClientErrors(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Assign(ctx, "404", "vlad")
	require.Error(t, err)
	assert.True(t, contriblinesdk.IsCode(err, "not_found"), err.Error())

	_, err = c.RegisterTask(ctx, "1", "No role")
	assert.True(t, contriblinesdk.IsCode(err, "invalid_argument"), err.Error())

	c.BearerToken = ""
	_, err = c.Tasks(ctx, "")
	assert.True(t, contriblinesdk.IsCode(err, "unauthorized"), err.Error())
}
