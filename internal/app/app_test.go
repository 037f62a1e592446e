package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribline/internal/domain"
	"contribline/internal/engine"
	"contribline/internal/errs"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: dir, LogFile: filepath.Join(dir, "cl.log")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestParseProject(t *testing.T) {
	id, err := ParseProject("john/test")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectID{RepoFullName: "john/test", Provider: "github"}, id)

	id, err = ParseProject("GitHub:acme/api")
	require.NoError(t, err)
	assert.Equal(t, "github:acme/api", id.String())

	for _, bad := range []string{"", "john", "john/", "/test", "a/b/c"} {
		_, err := ParseProject(bad)
		assert.True(t, errors.Is(err, errs.ErrInvalidArgument), bad)
	}
}

func TestResolveProject(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	e := a.Engine

	_, err := ResolveProject(ctx, e.Repo, "")
	require.Error(t, err)

	_, err = e.RegisterUser(ctx, domain.User{Username: "john", Provider: "github"})
	require.NoError(t, err)
	_, err = e.RegisterProject(ctx, engine.ProjectOptions{Repo: "john/test", Provider: "github", Owner: "john"})
	require.NoError(t, err)

	id, err := ResolveProject(ctx, e.Repo, "")
	require.NoError(t, err)
	assert.Equal(t, "john/test", id.RepoFullName)

	_, err = e.RegisterProject(ctx, engine.ProjectOptions{Repo: "john/other", Provider: "github", Owner: "john"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, e.Repo, "")
	require.Error(t, err)

	id, err = ResolveProject(ctx, e.Repo, "john/other")
	require.NoError(t, err)
	assert.Equal(t, "john/other", id.RepoFullName)
}

func TestOptionsFromViper(t *testing.T) {
	v := viper.New()
	v.Set("workspace", "/tmp/ws")
	v.Set("log-level", "debug")
	v.Set("jwt-secret", "s")
	opts := OptionsFrom(v)
	assert.Equal(t, "/tmp/ws", opts.Workspace)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "s", opts.JWTSecret)
	assert.Empty(t, opts.GitHubToken)
}

func TestOpenWiresGitHub(t *testing.T) {
	a := openTestApp(t)
	_, err := a.Engine.Providers.For("github")
	require.NoError(t, err)
	require.NotNil(t, a.Engine.Payments)
}
