package persist

import (
	"context"

	"github.com/siohaza/catchd/internal/stats"
)

// Store is the shared record store. Values passed to and returned from a
// Tx are in schema column order.
type Store interface {
	EnsureTable(ctx context.Context, table string, schema stats.Schema) error
	Begin(ctx context.Context) (Tx, error)
}

type Tx interface {
	// Select returns an *IntegrityError when more than one row has the name.
	Select(ctx context.Context, table, name string, schema stats.Schema) (values []int64, found bool, err error)
	Insert(ctx context.Context, table, name string, schema stats.Schema, values []int64) error
	// Update returns the number of rows the statement affected.
	Update(ctx context.Context, table, name string, schema stats.Schema, values []int64) (int64, error)
	Commit() error
	Rollback() error
}
