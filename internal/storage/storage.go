// Package storage exposes stored entities as scoped collection views.
//
// A view holds its scope and a loader. Iterating a view runs the loader, so
// every pass reflects the latest committed rows and nothing is cached.
package storage

import (
	"context"
	"iter"

	"contribline/internal/errs"
	"contribline/internal/repo"
)

type Storage struct {
	repo repo.Repo
}

func New(r repo.Repo) Storage {
	return Storage{repo: r}
}

// Repo returns the row-level repository the views read through.
func (s Storage) Repo() repo.Repo { return s.repo }

// WithTransaction runs fn atomically: it commits on a nil return and rolls
// back otherwise. Views obtained from the Storage passed to fn read and
// write inside the transaction.
func (s Storage) WithTransaction(ctx context.Context, fn func(Storage) error) error {
	return s.repo.WithTx(ctx, func(r repo.Repo) error {
		return fn(Storage{repo: r})
	})
}

// View is a lazy, restartable sequence backed by a loader.
type View[T any] struct {
	load func(ctx context.Context) ([]T, error)
}

// All yields every element. A load failure is yielded once with a zero value.
func (v View[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		items, err := v.load(ctx)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// List collects the view into a slice.
func (v View[T]) List(ctx context.Context) ([]T, error) {
	return v.load(ctx)
}

func scopeMismatch(have, want string) error {
	return errs.Newf(errs.ScopeMismatch, "view of %s cannot be viewed as %s", have, want)
}
