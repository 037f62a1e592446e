package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/db"
	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/errs"
	"contribline/internal/migrate"
	"contribline/internal/payment"
)

const (
	testSecret    = "test-secret"
	paymentSecret = "payment-secret"
)

type testServer struct {
	*httptest.Server
	engine engine.Engine
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return clock }
	e.Payments = payment.FakeGateway{Now: e.Now}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Payments: payment.Verifier{Secret: paymentSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	token, err := SignToken(testSecret, "john", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return &testServer{Server: srv, engine: e, token: token}
}

func (s *testServer) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error %s: %v", string(data), err)
	}
	return env.Error.Code
}

// seedProject registers john/test with vlad as a DEV at 60.00/h and a fake
// wallet. It returns the project webhook token.
func seedProject(t *testing.T, srv *testServer) string {
	t.Helper()
	c := srv.Client()
	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/v0/users", map[string]any{"username": "john", "provider": "github"}, srv.auth())
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"repo":         "john/test",
		"owner":        "john",
		"billing_info": "John Inc.",
	}, srv.auth())
	expectStatus(t, res, data, http.StatusCreated)
	project := decode[ProjectResponse](t, data)
	require.NotEmpty(t, project.WebhookToken)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/v0/projects/github/john/test/contributors", map[string]any{"username": "vlad"}, srv.auth())
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, c, http.MethodPatch, srv.URL+"/v0/projects/github/john/test/contracts/vlad/DEV", map[string]any{"hourly_rate": 6000}, srv.auth())
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/v0/projects/github/john/test/wallets", map[string]any{"type": "FAKE"}, srv.auth())
	expectStatus(t, res, data, http.StatusCreated)
	assert.True(t, decode[domain.Wallet](t, data).Active)
	return project.WebhookToken
}

func issueEvent(action string, number int) map[string]any {
	return map[string]any{
		"action": action,
		"sender": map[string]any{"login": "john"},
		"issue": map[string]any{
			"number": number,
			"title":  "Issue " + strconv.Itoa(number),
			"state":  "open",
			"labels": []map[string]any{{"name": "DEV"}},
		},
	}
}

func providerHook(t *testing.T, srv *testServer, token string, payload any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/provider/github/john/test", payload, map[string]string{
		"X-Contribline-Token": token,
		"X-GitHub-Event":      "issues",
	})
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	bad, err := SignToken("other-secret", "john", time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer " + bad})
	expectStatus(t, res, data, http.StatusUnauthorized)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Empty(t, decode[[]ProjectResponse](t, data))

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	assert.Contains(t, string(data), "bearerAuth")
}

func TestIssueLifecycleOverWebhooks(t *testing.T) {
	srv := newTestServer(t)
	c := srv.Client()
	token := seedProject(t, srv)

	res, data := providerHook(t, srv, "wrong", issueEvent("opened", 1))
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = providerHook(t, srv, token, issueEvent("opened", 1))
	expectStatus(t, res, data, http.StatusOK)
	opened := decode[ProviderWebhookResponse](t, data)
	require.NotNil(t, opened.Task)
	require.NotNil(t, opened.Task.Assignee)
	assert.Equal(t, "vlad", *opened.Task.Assignee)

	res, data = providerHook(t, srv, token, issueEvent("closed", 1))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects/github/john/test/invoices?unpaid=true", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	invoices := decode[[]domain.Invoice](t, data)
	require.Len(t, invoices, 1)
	id := strconv.FormatInt(invoices[0].ID, 10)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/invoices/"+id, nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	inv := decode[InvoiceResponse](t, data)
	assert.Equal(t, int64(6000), inv.Amount)
	assert.Equal(t, int64(480), inv.Commission)
	assert.Equal(t, int64(6480), inv.TotalAmount)
	assert.Equal(t, "John Inc.", inv.BilledTo)
	require.Len(t, inv.Tasks, 1)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/invoices/"+id+"/render", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(data), "SLFX-"+id)
	assert.Contains(t, string(data), "64.80 EUR")

	// signed processor notification settles the invoice once
	verifier := payment.Verifier{Secret: paymentSecret}
	signed, err := verifier.Sign(payment.Notification{InvoiceID: invoices[0].ID, TransactionID: "ch_abc", PaidAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	for range 2 {
		res, data = doJSON(t, c, http.MethodPost, srv.URL+"/v0/webhooks/payments", signed, map[string]string{"Content-Type": "application/jwt"})
		expectStatus(t, res, data, http.StatusOK)
		paid := decode[InvoiceResponse](t, data)
		require.NotNil(t, paid.Invoice.TransactionID)
		assert.Equal(t, "ch_abc", *paid.Invoice.TransactionID)
	}

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/platform-invoices/ch_abc", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	platform := decode[domain.PlatformInvoice](t, data)
	assert.Equal(t, int64(480), platform.Commission)
	assert.Equal(t, int64(6480), platform.TotalAmount)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/v0/invoices/"+id+"/pay", map[string]any{"transaction_id": "ch_other"}, srv.auth())
	expectStatus(t, res, data, http.StatusConflict)
	assert.Equal(t, "already_paid", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects/github/john/test/contracts/vlad/DEV", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	summary := decode[domain.ContractSummary](t, data)
	assert.Equal(t, int64(6000), summary.Revenue)
	assert.Equal(t, int64(0), summary.Value)
	assert.Equal(t, int64(6480), summary.Invoiced)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t)
	forged, err := payment.Verifier{Secret: "nope"}.Sign(payment.Notification{InvoiceID: 1, TransactionID: "ch_x", PaidAt: time.Now()})
	require.NoError(t, err)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/payments", forged, nil)
	expectStatus(t, res, data, http.StatusBadRequest)
	assert.Equal(t, "invalid_argument", errorCode(t, data))
}

func TestTaskActionsAndPayActive(t *testing.T) {
	srv := newTestServer(t)
	c := srv.Client()
	seedProject(t, srv)
	base := srv.URL + "/v0/projects/github/john/test"

	res, data := doJSON(t, c, http.MethodPost, base+"/tasks", map[string]any{"issue_id": "7", "title": "Refactor"}, srv.auth())
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks", map[string]any{"issue_id": "7", "title": "Refactor", "labels": []string{"dev"}}, srv.auth())
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks/7/elect", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	elected := decode[ElectResponse](t, data)
	require.NotNil(t, elected.Winner)
	assert.Equal(t, "vlad", elected.Winner.Username)
	assert.Len(t, elected.Candidates, 1)

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks/7/assign", map[string]any{"username": "ghost"}, srv.auth())
	expectStatus(t, res, data, http.StatusNotFound)
	assert.Equal(t, "no_such_contract", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks/7/assign", map[string]any{}, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Equal(t, "vlad", *decode[domain.Task](t, data).Assignee)

	res, data = doJSON(t, c, http.MethodPut, base+"/tasks/7/estimation", map[string]any{"minutes": 90}, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Equal(t, 90, decode[domain.Task](t, data).Estimation)

	res, data = doJSON(t, c, http.MethodGet, base+"/tasks?state=assigned", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Len(t, decode[[]domain.Task](t, data), 1)

	res, data = doJSON(t, c, http.MethodDelete, base+"/contracts/vlad/DEV", nil, srv.auth())
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	assert.Equal(t, "invalid_state", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks/7/close", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	closed := decode[CloseResponse](t, data)
	require.NotNil(t, closed.Invoiced)
	assert.Equal(t, int64(9000), closed.Invoiced.Value)
	assert.Equal(t, int64(720), closed.Invoiced.Commission)

	res, data = doJSON(t, c, http.MethodPost, base+"/tasks/7/unassign", nil, srv.auth())
	expectStatus(t, res, data, http.StatusUnprocessableEntity)

	res, data = doJSON(t, c, http.MethodPost, base+"/contracts/vlad/DEV/pay", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	paid := decode[InvoiceResponse](t, data)
	require.NotNil(t, paid.Invoice.TransactionID)
	assert.True(t, domain.IsFakePayment(*paid.Invoice.TransactionID))
	assert.Nil(t, paid.Platform)
	assert.Equal(t, int64(9720), paid.TotalAmount)

	res, data = doJSON(t, c, http.MethodPost, base+"/contracts/vlad/DEV/pay", nil, srv.auth())
	expectStatus(t, res, data, http.StatusUnprocessableEntity)

	res, data = doJSON(t, c, http.MethodDelete, base+"/contracts/vlad/DEV", nil, srv.auth())
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, c, http.MethodGet, base+"/events?limit=3", nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "contract.removed", page.Items[0].Type)
	assert.NotEmpty(t, page.NextCursor)
}

func TestProjectConfigValidation(t *testing.T) {
	srv := newTestServer(t)
	c := srv.Client()
	seedProject(t, srv)
	url := srv.URL + "/v0/projects/github/john/test/config"

	res, data := doJSON(t, c, http.MethodPut, url, map[string]any{"yaml": "billing: {commission_bp: 20000}\n"}, srv.auth())
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, c, http.MethodPut, url, map[string]any{"yaml": "billing: {commission_bp: 1000, currency: usd}\n"}, srv.auth())
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, c, http.MethodGet, url, nil, srv.auth())
	expectStatus(t, res, data, http.StatusOK)
	assert.Contains(t, string(data), `"commission_bp":1000`)
	assert.Contains(t, string(data), `"repo":"john/test"`)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/v0/projects/github/john/missing", nil, srv.auth())
	expectStatus(t, res, data, http.StatusNotFound)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestEventDispatcherPostsSubscribedEvents(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)

	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/projects/github/john/test/config", map[string]any{
		"yaml": "webhooks:\n  - url: " + hook.URL + "\n    events: [task.registered]\n    secret: s3\n",
	}, srv.auth())
	expectStatus(t, res, data, http.StatusOK)

	ctx := context.Background()
	d := NewEventDispatcher(srv.engine, nil)
	d.DispatchAll(ctx)
	assert.Empty(t, got, "history is not replayed")

	project := domain.ProjectID{RepoFullName: "john/test", Provider: "github"}
	_, err := srv.engine.RegisterTask(ctx, project, domain.IssueSnapshot{ID: "5", Labels: []domain.Label{{Name: "DEV"}}}, "john")
	require.NoError(t, err)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "task.registered", got[0].Type)
	assert.Equal(t, "task.registered", headers[0].Get("X-Contribline-Event"))
	assert.Equal(t, "s3", headers[0].Get("X-Contribline-Secret"))
	assert.Equal(t, "github:john/test", headers[0].Get("X-Contribline-Project"))
	assert.NotEmpty(t, headers[0].Get("X-Contribline-Delivery"))
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.New(errs.InvalidArgument, "boom"), http.StatusBadRequest, "invalid_argument"},
		{errs.New(errs.NotFound, "boom"), http.StatusNotFound, "not_found"},
		{errs.New(errs.AlreadyExists, "boom"), http.StatusConflict, "already_exists"},
		{errs.New(errs.InvalidState, "boom"), http.StatusUnprocessableEntity, "invalid_state"},
		{errs.New(errs.ScopeMismatch, "boom"), http.StatusConflict, "scope_mismatch"},
		{errs.New(errs.Transient, "boom"), http.StatusServiceUnavailable, "transient"},
		{errs.New(errs.Permanent, "boom"), http.StatusBadGateway, "permanent"},
		{io.EOF, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		require.True(t, ok)
		assert.Equal(t, tc.status, ae.GetStatus(), tc.code)
		assert.Equal(t, tc.code, ae.Body.Code)
	}
}
