package repositories

import "context"

// UnitOfWork executes a function within a storage transaction scope.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
