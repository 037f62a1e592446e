package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default(domain.ProjectID{RepoFullName: "john/test", Provider: domain.ProviderGitHub})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Estimation.MinMinutes)
	assert.Equal(t, 480, cfg.Estimation.MaxMinutes)
	assert.Equal(t, 10, cfg.Assignment.DeadlineDays)
	assert.Equal(t, int64(800), cfg.Billing.CommissionBP)
	assert.Equal(t, "EUR", cfg.Currency())
	assert.True(t, cfg.AllowsRole("dev"))
}

func TestFromYAMLMergesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`project:
  repo: john/test
  provider: github
estimation:
  min_minutes: 30
  max_minutes: 120
  default_minutes: 0
billing:
  commission_bp: 1000
  currency: usd
webhooks:
  - url: http://example.invalid/hook
    events: [task.assigned]
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Estimation.DefaultMinutes)
	assert.Equal(t, 10, cfg.Assignment.DeadlineDays)
	assert.Equal(t, "USD", cfg.Currency())
	assert.Equal(t, 30, cfg.ClampEstimation(5))
	assert.Equal(t, 120, cfg.ClampEstimation(500))
	assert.Equal(t, 90, cfg.ClampEstimation(90))
	require.Len(t, cfg.Webhooks, 1)
	assert.True(t, cfg.Webhooks[0].Wants("task.assigned"))
	assert.False(t, cfg.Webhooks[0].Wants("invoice.paid"))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing repo":   "project:\n  provider: github\n",
		"bad range":      "project: {repo: a/b, provider: github}\nestimation: {min_minutes: 100, max_minutes: 50}\n",
		"bad commission": "project: {repo: a/b, provider: github}\nbilling: {commission_bp: 20000}\n",
		"unknown role":   "project: {repo: a/b, provider: github}\nroles: [DEV, CEO]\n",
		"hook url":       "project: {repo: a/b, provider: github}\nwebhooks: [{events: [x]}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestForProjectPinsProject(t *testing.T) {
	id := domain.ProjectID{RepoFullName: "john/test", Provider: "github"}
	cfg, err := ForProject(id, []byte("project: {repo: someone/else}\nestimation: {min_minutes: 90}\n"))
	require.NoError(t, err)
	assert.Equal(t, "john/test", cfg.Project.Repo)
	assert.Equal(t, "github", cfg.Project.Provider)
	assert.Equal(t, 90, cfg.Estimation.DefaultMinutes)

	_, err = ForProject(id, []byte("assignment: {deadline_days: 0}\n"))
	assert.Error(t, err)
}
