package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/domain"
	"contribline/internal/errs"
)

// MockTransport answers requests without touching the network.
type MockTransport struct {
	RoundTripper func(req *http.Request) (*http.Response, error)
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripper(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body)), Header: http.Header{}}
}

func TestIssueDecodesLabelsAndAssignee(t *testing.T) {
	client := &GitHub{
		BaseURL: "https://gh.test",
		Token:   "tkn",
		HTTPClient: &http.Client{Transport: &MockTransport{RoundTripper: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://gh.test/repos/john/test/issues/12", req.URL.String())
			assert.Equal(t, "Bearer tkn", req.Header.Get("Authorization"))
			return respond(http.StatusOK, `{"number":12,"title":"Fix it","state":"open",
"labels":[{"name":"bug","color":"f00"},{"name":"dev"}],"assignee":{"login":"mihai"}}`), nil
		}}},
	}
	issue, err := client.Issue(context.Background(), "john/test", "12")
	require.NoError(t, err)
	assert.Equal(t, "12", issue.ID)
	assert.Equal(t, "mihai", issue.Assignee)
	require.Len(t, issue.Labels, 2)
	assert.JSONEq(t, `{"name":"bug","color":"f00"}`, issue.Labels[0].JSON)
	role, ok := issue.Role()
	assert.True(t, ok)
	assert.Equal(t, domain.RoleDEV, role)
}

func TestStatusClassification(t *testing.T) {
	for status, kind := range map[int]errs.Kind{
		http.StatusNotFound:            errs.Permanent,
		http.StatusUnauthorized:        errs.Permanent,
		http.StatusTooManyRequests:     errs.Transient,
		http.StatusBadGateway:          errs.Transient,
		http.StatusInternalServerError: errs.Transient,
	} {
		client := &GitHub{BaseURL: "https://gh.test", HTTPClient: &http.Client{Transport: &MockTransport{RoundTripper: func(*http.Request) (*http.Response, error) {
			return respond(status, `{}`), nil
		}}}}
		err := client.Close(context.Background(), "john/test", "1")
		assert.Equal(t, kind, errs.KindOf(err), "status %d", status)
	}
}

func TestAssignSendsAssignees(t *testing.T) {
	client := &GitHub{BaseURL: "https://gh.test", HTTPClient: &http.Client{Transport: &MockTransport{RoundTripper: func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.JSONEq(t, `{"assignees":["vlad"]}`, string(body))
		return respond(http.StatusCreated, `{}`), nil
	}}}}
	require.NoError(t, client.Assign(context.Background(), "john/test", "3", "vlad"))
}

func TestRegistry(t *testing.T) {
	reg := Registry{domain.ProviderGitHub: NewGitHub("")}
	_, err := reg.For(domain.ProviderGitHub)
	require.NoError(t, err)
	_, err = reg.For(domain.ProviderGitLab)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestParseGitHubIssueEvent(t *testing.T) {
	ev, err := ParseGitHubIssueEvent([]byte(`{"action":"opened","sender":{"login":"john"},
"issue":{"number":3,"title":"Docs","state":"open","labels":[{"name":"QA"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "opened", ev.Action)
	assert.Equal(t, "john", ev.Sender)
	assert.Equal(t, "3", ev.Issue.ID)
	role, ok := ev.Issue.Role()
	require.True(t, ok)
	assert.Equal(t, domain.RoleQA, role)

	_, err = ParseGitHubIssueEvent([]byte(`{"action":"opened"}`))
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = ParseGitHubIssueEvent([]byte(`not json`))
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}
