// Package store provides the persistence contract for player mail.
// Implementations are in the store/memory, store/bolt, store/postgres and
// store/mongo subpackages.
//
// A store owns no business rules. It persists whole Mail records and answers
// filtered queries; every lifecycle transition (read, claim, soft delete,
// hard delete) is decided by the playermail service and written back with
// Update or Delete.
//
// A single process owns the store for its server instance. Implementations
// must be safe for concurrent use but need no cross-process coordination.
package store

import (
	"context"
)

// Store is the storage interface for mail records.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Insert persists a new record. Returns ErrDuplicateEntry if the ID exists.
	Insert(ctx context.Context, m *Mail) error
	// Update replaces a stored record. Returns ErrNotFound if it does not exist.
	Update(ctx context.Context, m *Mail) error
	// Delete removes a record permanently. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
	// Get returns a copy of the record with the given ID.
	Get(ctx context.Context, id string) (*Mail, error)
	// Find returns records matching all filters, ordered by opts.
	Find(ctx context.Context, filters []Filter, opts ListOptions) ([]*Mail, error)
	// Count returns the number of records matching all filters.
	Count(ctx context.Context, filters []Filter) (int64, error)
}
