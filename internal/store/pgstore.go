package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sowhat82/cravemap/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// The store accepts this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the PostgreSQL-backed record store. The optimistic revision
// check is pushed into the WHERE clause so concurrent writers are resolved
// by the database, not by in-process locking.
type PGStore struct {
	db DBTX
}

// NewPGStore creates a PGStore backed by the given connection (pool or
// transaction).
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

// recordColumns is the standard column set for user_records queries, kept in
// one place to avoid column drift between Load and Save.
const recordColumns = `user_id, email, is_premium, payment_completed, premium_since,
	billing_reference, billing_customer_id, promo_activation,
	revocation_reason, premium_revoked_at,
	monthly_search_count, monthly_reset_at,
	trial_active, trial_used, trial_started_at, trial_daily_counts,
	created_at, updated_at, revision`

// Load retrieves a user record, returning a fresh zero-valued record when no
// row exists.
func (s *PGStore) Load(ctx context.Context, userID string) (*types.UserRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM user_records WHERE user_id = $1`, userID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewUserRecord(userID, "", time.Now().UTC()), nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to load user record", err)
	}
	return rec, nil
}

// FindByCustomer retrieves the record holding the given billing customer ID.
func (s *PGStore) FindByCustomer(ctx context.Context, customerID string) (*types.UserRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM user_records WHERE billing_customer_id = $1`, customerID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser,
				"no record for billing customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to look up record by billing customer", err)
	}
	return rec, nil
}

// scanRecord scans a single user_records row. Nullable columns use pointer
// scan targets.
func scanRecord(row pgx.Row) (*types.UserRecord, error) {
	var rec types.UserRecord
	var (
		email           *string
		billingRef      *string
		billingCustomer *string
		promo           *string
		revokeReason    *string
	)
	err := row.Scan(
		&rec.UserID,
		&email,
		&rec.IsPremium,
		&rec.PaymentCompleted,
		&rec.PremiumSince,
		&billingRef,
		&billingCustomer,
		&promo,
		&revokeReason,
		&rec.PremiumRevokedAt,
		&rec.MonthlySearchCount,
		&rec.MonthlyResetAt,
		&rec.TrialActive,
		&rec.TrialUsed,
		&rec.TrialStartedAt,
		&rec.TrialDailyCounts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Revision,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		rec.Email = *email
	}
	if billingRef != nil {
		rec.BillingReference = *billingRef
	}
	if billingCustomer != nil {
		rec.BillingCustomerID = *billingCustomer
	}
	if promo != nil {
		rec.PromoActivation = *promo
	}
	if revokeReason != nil {
		rec.RevocationReason = *revokeReason
	}
	return &rec, nil
}

// Save persists the record. Revision 0 inserts; anything else updates with
// the revision guard in the WHERE clause.
func (s *PGStore) Save(ctx context.Context, rec *types.UserRecord) error {
	now := time.Now().UTC()

	if rec.Revision == 0 {
		tag, err := s.db.Exec(ctx,
			`INSERT INTO user_records (`+recordColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1)
			 ON CONFLICT (user_id) DO NOTHING`,
			rec.UserID, nullable(rec.Email), rec.IsPremium, rec.PaymentCompleted, rec.PremiumSince,
			nullable(rec.BillingReference), nullable(rec.BillingCustomerID), nullable(rec.PromoActivation),
			nullable(rec.RevocationReason), rec.PremiumRevokedAt,
			rec.MonthlySearchCount, rec.MonthlyResetAt,
			rec.TrialActive, rec.TrialUsed, rec.TrialStartedAt, rec.TrialDailyCounts,
			rec.CreatedAt, now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
				"failed to insert user record", err)
		}
		if tag.RowsAffected() == 0 {
			return types.NewAppError(types.ErrCodeConflictConcurrent,
				"record was created concurrently", nil)
		}
		rec.Revision = 1
		rec.UpdatedAt = now
		return nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE user_records SET
			email = $2, is_premium = $3, payment_completed = $4, premium_since = $5,
			billing_reference = $6, billing_customer_id = $7, promo_activation = $8,
			revocation_reason = $9, premium_revoked_at = $10,
			monthly_search_count = $11, monthly_reset_at = $12,
			trial_active = $13, trial_used = $14, trial_started_at = $15, trial_daily_counts = $16,
			updated_at = $17, revision = revision + 1
		 WHERE user_id = $1 AND revision = $18`,
		rec.UserID, nullable(rec.Email), rec.IsPremium, rec.PaymentCompleted, rec.PremiumSince,
		nullable(rec.BillingReference), nullable(rec.BillingCustomerID), nullable(rec.PromoActivation),
		nullable(rec.RevocationReason), rec.PremiumRevokedAt,
		rec.MonthlySearchCount, rec.MonthlyResetAt,
		rec.TrialActive, rec.TrialUsed, rec.TrialStartedAt, rec.TrialDailyCounts,
		now, rec.Revision,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to update user record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			"record was modified concurrently", nil)
	}
	rec.Revision++
	rec.UpdatedAt = now
	return nil
}

// IncrementDaily bumps the (key, day) counter via upsert and prunes rows for
// that key older than the previous day.
func (s *PGStore) IncrementDaily(ctx context.Context, key string, day string) (int, error) {
	today, err := time.Parse(types.DayKey, day)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected,
			"invalid day key", err)
	}
	cutoff := today.AddDate(0, 0, -1).Format(types.DayKey)

	if _, err := s.db.Exec(ctx,
		`DELETE FROM daily_counters WHERE key = $1 AND day < $2`, key, cutoff); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to prune daily counters", err)
	}

	var count int
	err = s.db.QueryRow(ctx,
		`INSERT INTO daily_counters (key, day, count) VALUES ($1, $2, 1)
		 ON CONFLICT (key, day) DO UPDATE SET count = daily_counters.count + 1
		 RETURNING count`,
		key, day,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to increment daily counter", err)
	}
	return count, nil
}

// GetDaily returns the (key, day) counter without incrementing.
func (s *PGStore) GetDaily(ctx context.Context, key string, day string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count FROM daily_counters WHERE key = $1 AND day = $2`, key, day,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to read daily counter", err)
	}
	return count, nil
}

// nullable maps an empty string to NULL so the schema can keep its
// NULL-means-absent convention.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
