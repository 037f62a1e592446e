package app

import (
	"context"
	"fmt"
	"strings"

	"contribline/internal/domain"
	"contribline/internal/errs"
	"contribline/internal/repo"
)

// ParseProject reads "owner/repo" or "provider:owner/repo".
func ParseProject(s string) (domain.ProjectID, error) {
	s = strings.TrimSpace(s)
	provider := domain.ProviderGitHub
	if p, rest, ok := strings.Cut(s, ":"); ok {
		provider, s = strings.ToLower(p), rest
	}
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return domain.ProjectID{}, errs.Newf(errs.InvalidArgument, "project must look like owner/repo, got %q", s)
	}
	return domain.ProjectID{RepoFullName: owner + "/" + name, Provider: provider}, nil
}

// ResolveProject picks the project a command works on. It prefers the
// override, then the only project of the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (domain.ProjectID, error) {
	if strings.TrimSpace(override) != "" {
		return ParseProject(override)
	}
	items, err := r.ListProjects(ctx, nil)
	if err != nil {
		return domain.ProjectID{}, err
	}
	switch len(items) {
	case 0:
		return domain.ProjectID{}, errs.New(errs.InvalidArgument, "no project registered; create one with `cl project create`")
	case 1:
		return items[0].ID(), nil
	}
	return domain.ProjectID{}, errs.New(errs.InvalidArgument, fmt.Sprintf("%d projects registered; use --project", len(items)))
}
