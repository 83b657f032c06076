// Package store pins the persistence contract every Store implementation
// must satisfy: typed CRUD over six tables, synchronous, returning
// success/absence with no higher-level transaction API assumed by callers.
package store

import (
	"context"
	"time"

	"github.com/windowmeet/core/internal/model"
)

// Row is satisfied by every entity in internal/model.
type Row any

// Store is the single interface the core depends on for persistence.
// Implementations must guarantee: Get returns the first match or absence;
// Update on a non-existent row is a no-op reporting ErrNoRows (distinguishable
// from success); Insert of a duplicate primary key fails. Reads are
// at-least-once; mutating operations are at-most-once — callers are
// responsible for idempotence above this layer.
type Store interface {
	Get(ctx context.Context, table, field string, value any) (Row, bool, error)
	GetMany(ctx context.Context, table, field string, value any) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	InsertMany(ctx context.Context, table string, rows []Row) error
	Update(ctx context.Context, table, keyField string, keyValue any, patch map[string]any) error
	Delete(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValue any) error
	DeleteMany(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValues []any) error

	// ReplaceAvailability atomically deletes and re-inserts one user's
	// AvailabilityBlocks for one event, per §5's required transactional
	// approach — readers must never observe a half-deleted set.
	ReplaceAvailability(ctx context.Context, eventID, userID string, blocks []model.AvailabilityBlock) error

	// InsertConfirmationIfAbsent implements the insert-if-absent semantics
	// §5 requires so concurrent confirms result in exactly one success. It
	// reports ok=false, no error, if a Confirmation already existed.
	InsertConfirmationIfAbsent(ctx context.Context, c model.Confirmation) (ok bool, err error)

	// The three SQL-side helpers from §4.1/§6, requiring local-time math
	// across many rows that is impractical to do in application code once
	// the event count is large.
	GetUnconfirmedActiveEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error)
	GetConfirmedEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error)
	GetConfirmedEventsStartingSoon(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error)
}

// ErrNoRows is returned by Update when the target row does not exist —
// distinguishable from a successful patch, per the Store contract.
var ErrNoRows = &noRowsError{}

type noRowsError struct{}

func (*noRowsError) Error() string { return "store: no rows affected" }
