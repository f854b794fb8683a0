// Package store provides the persistent record store for user entitlement
// and usage state. Two interchangeable backends exist: a flat per-user JSON
// file store and a PostgreSQL store. Callers program against the RecordStore
// contract and treat the backends as one abstract store.
//
// Concurrency: the admission path is read-modify-write, so both backends
// enforce optimistic concurrency via the record's Revision counter. A save
// carrying a stale revision fails with ErrCodeConflictConcurrent rather than
// silently double-admitting.
package store

import (
	"context"

	"github.com/sowhat82/cravemap/internal/types"
)

// RecordStore is the persistence contract for user records.
type RecordStore interface {
	// Load retrieves the record for the given user ID. Absence is not an
	// error: a fresh zero-valued record (Revision 0) is returned so callers
	// never branch on existence. I/O failures return
	// ErrCodeInternalStoreUnavailable.
	Load(ctx context.Context, userID string) (*types.UserRecord, error)

	// Save persists the record. The write succeeds only if the stored
	// revision still matches rec.Revision; on success rec.Revision is
	// incremented in place. A stale revision fails with
	// ErrCodeConflictConcurrent; I/O failures with
	// ErrCodeInternalStoreUnavailable.
	//
	// Callers on the admission path treat Save failure as non-fatal to the
	// current request (serve best-effort) but must surface it loudly.
	Save(ctx context.Context, rec *types.UserRecord) error

	// FindByCustomer retrieves the record holding the given external billing
	// customer ID, for correlating webhook events that carry no email.
	// Returns ErrCodeNotFoundUser when no record matches.
	FindByCustomer(ctx context.Context, customerID string) (*types.UserRecord, error)
}

// DailyCounterStore tracks coarse per-day counters keyed by an opaque client
// fingerprint. It backs the anonymous rate limit, which deliberately has no
// durable identity to attach a monthly counter to.
type DailyCounterStore interface {
	// IncrementDaily bumps the counter for (key, day) and returns the new
	// value. Implementations prune counters for days before the given day's
	// previous day; only today and yesterday are ever consulted.
	IncrementDaily(ctx context.Context, key string, day string) (int, error)

	// GetDaily returns the counter for (key, day) without incrementing.
	GetDaily(ctx context.Context, key string, day string) (int, error)
}
