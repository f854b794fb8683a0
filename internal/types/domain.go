package types

import (
	"time"
)

// DayKey is the calendar-date format used to key per-day counters.
// Trial usage and anonymous rate limiting both count against wall-clock
// calendar days, not rolling 24-hour windows.
const DayKey = "2006-01-02"

// UserRecord is the core domain entity: one record per distinct identity,
// holding plan state and usage counters. Records are created lazily on first
// identity resolution with all counters zero and all flags false, and are
// never hard-deleted (revocation is a soft state transition).
type UserRecord struct {
	UserID string `json:"user_id" db:"user_id"`
	// Email is empty for anonymous (fingerprint-derived) identities.
	Email string `json:"email,omitempty" db:"email"`

	// Premium state
	IsPremium        bool       `json:"is_premium" db:"is_premium"`
	PaymentCompleted bool       `json:"payment_completed" db:"payment_completed"`
	PremiumSince     *time.Time `json:"premium_since,omitempty" db:"premium_since"`
	// BillingReference is the opaque external subscription identifier
	// (a Stripe subscription ID). Empty when premium was never paid for.
	BillingReference string `json:"billing_reference,omitempty" db:"billing_reference"`
	// BillingCustomerID is the external customer identifier, kept for
	// webhook correlation.
	BillingCustomerID string `json:"billing_customer_id,omitempty" db:"billing_customer_id"`
	// PromoActivation is a free-text provenance tag for admin-granted
	// premium (e.g. "admin-granted 2025-06-01T10:00:00Z"). A non-empty
	// value marks a non-expiring grant.
	PromoActivation string `json:"promo_activation,omitempty" db:"promo_activation"`

	// Revocation bookkeeping
	RevocationReason string     `json:"revocation_reason,omitempty" db:"revocation_reason"`
	PremiumRevokedAt *time.Time `json:"premium_revoked_at,omitempty" db:"premium_revoked_at"`

	// Monthly quota state
	MonthlySearchCount int       `json:"monthly_search_count" db:"monthly_search_count"`
	MonthlyResetAt     time.Time `json:"monthly_reset_at" db:"monthly_reset_at"`

	// Trial state. TrialUsed never resets; a trial can be activated at most
	// once per identity even after it expires.
	TrialActive      bool           `json:"trial_active" db:"trial_active"`
	TrialUsed        bool           `json:"trial_used" db:"trial_used"`
	TrialStartedAt   *time.Time     `json:"trial_started_at,omitempty" db:"trial_started_at"`
	TrialDailyCounts map[string]int `json:"trial_daily_counts,omitempty" db:"trial_daily_counts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Revision supports optimistic concurrency on save. A save with a stale
	// revision is rejected with ErrCodeConflictConcurrent rather than
	// silently overwriting a concurrent admission decision.
	Revision int64 `json:"revision" db:"revision"`
}

// NewUserRecord returns a fresh zero-valued record for the given identity.
// The monthly counting window starts at the creation instant.
func NewUserRecord(userID, email string, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:         userID,
		Email:          email,
		MonthlyResetAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// HasAdminGrant reports whether the record carries a non-expiring
// admin-granted premium activation.
func (r *UserRecord) HasAdminGrant() bool {
	return r.PromoActivation != ""
}

// TrialDailyCount returns the trial usage recorded for the calendar day of t.
func (r *UserRecord) TrialDailyCount(t time.Time) int {
	if r.TrialDailyCounts == nil {
		return 0
	}
	return r.TrialDailyCounts[t.Format(DayKey)]
}

// AdmissionDecision is the outcome of a quota admission check.
type AdmissionDecision struct {
	Allowed bool       `json:"allowed"`
	Tier    AccessTier `json:"tier"`
	// Remaining is the number of further admissions available in the
	// current window. -1 means unmetered (premium).
	Remaining int `json:"remaining"`
	// DenialCode is set when Allowed is false.
	DenialCode ErrorCode `json:"denial_code,omitempty"`
}

// Identity is the output of identity resolution: a stable user ID plus
// whether it was derived from a verified-looking email or an anonymous
// client fingerprint.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// WebhookEventLog records the processing outcome of one billing webhook
// event, mirroring the provider-side event for audit.
type WebhookEventLog struct {
	ID        string    `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	EventID   string    `json:"event_id" db:"event_id"`
	Status    string    `json:"status" db:"status"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// VenueSummary is the normalized shape returned by the places lookup
// collaborator. The entitlement core never inspects it; it exists so the
// search endpoint can pass results through with a stable contract.
type VenueSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
