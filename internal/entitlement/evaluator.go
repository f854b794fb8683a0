// Package entitlement decides whether an identity currently holds premium
// or trial access, and reconciles stale plan state against the billing
// provider. Expiry is lazy: nothing sweeps records in the background, so
// every access decision re-derives entitlement from the record and the
// clock at evaluation time.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/types"
)

// Oracle reports the provider-side status of an external subscription.
// Implementations return SubStatusUnknown (or an error) when the provider
// cannot be reached; callers fall back to the local date-based judgment.
type Oracle interface {
	SubscriptionStatus(ctx context.Context, subscriptionID string) (types.SubscriptionStatus, error)
}

// Policy holds the injected entitlement windows. Premium access survives at
// most GraceWindow past premium_since without provider reconfirmation; a
// trial is live for TrialWindow past activation.
type Policy struct {
	GraceWindow time.Duration
	TrialWindow time.Duration
}

// Evaluator implements entitlement evaluation and reconciliation over a
// UserRecord. It holds no per-record state; all mutation happens on the
// record passed in, and persistence is the caller's responsibility (save
// when Reconcile reports a change).
type Evaluator struct {
	policy        Policy
	oracle        Oracle
	oracleTimeout time.Duration
	group         singleflight.Group
	collector     metrics.Collector
	logger        *slog.Logger
}

// NewEvaluator creates an Evaluator. oracle may be nil, in which case all
// decisions are purely date-based.
func NewEvaluator(policy Policy, oracle Oracle, oracleTimeout time.Duration, collector metrics.Collector, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		policy:        policy,
		oracle:        oracle,
		oracleTimeout: oracleTimeout,
		collector:     collector,
		logger:        logger,
	}
}

// IsEntitled reports whether the record holds live premium or trial access
// at the given instant. Admin-granted premium never expires. Paid premium
// within the grace window is reconfirmed against the billing oracle when a
// billing reference exists; an unreachable oracle falls back to the local
// date-based judgment rather than denying access.
func (e *Evaluator) IsEntitled(ctx context.Context, rec *types.UserRecord, now time.Time) bool {
	if rec.HasAdminGrant() {
		return true
	}
	if e.premiumValid(ctx, rec, now) {
		return true
	}
	return e.trialValid(rec, now)
}

// Tier resolves the access level used for quota admission. It is purely
// local: callers run Reconcile first so that provider-terminal subscriptions
// have already been downgraded on the record.
func (e *Evaluator) Tier(rec *types.UserRecord, now time.Time) types.AccessTier {
	if rec.HasAdminGrant() {
		return types.TierPremium
	}
	if rec.IsPremium && rec.PremiumSince != nil && now.Sub(*rec.PremiumSince) <= e.policy.GraceWindow {
		return types.TierPremium
	}
	if e.trialValid(rec, now) {
		return types.TierTrial
	}
	return types.TierMetered
}

// Reconcile downgrades stale plan state in place and reports whether the
// record changed. It expires a trial whose window has passed and revokes
// premium that has outlived the grace window or that the billing oracle
// reports as terminal. Admin grants are never touched. Reconcile is
// idempotent: running it again on an already-downgraded record is a no-op.
func (e *Evaluator) Reconcile(ctx context.Context, rec *types.UserRecord, now time.Time) bool {
	changed := false

	if rec.TrialActive {
		if rec.TrialStartedAt == nil || now.Sub(*rec.TrialStartedAt) >= e.policy.TrialWindow {
			rec.TrialActive = false
			rec.UpdatedAt = now
			changed = true
			e.logger.Info("trial expired",
				"user_id", rec.UserID,
			)
		}
	}

	if rec.IsPremium && !rec.HasAdminGrant() {
		var reason types.RevocationReason
		switch {
		case rec.PremiumSince == nil:
			reason = types.RevokeReasonExpired
		case now.Sub(*rec.PremiumSince) > e.policy.GraceWindow:
			reason = types.RevokeReasonExpired
		case rec.BillingReference != "" && e.oracle != nil:
			if status := e.oracleStatus(ctx, rec.BillingReference); status != types.SubStatusUnknown && !status.Entitles() {
				reason = types.RevokeReasonOracleTerminal
			}
		}
		if reason != "" {
			e.revoke(rec, reason, now)
			changed = true
		}
	}

	return changed
}

// premiumValid checks paid premium: within the grace window and, when a
// billing reference exists, not reported terminal by the provider.
func (e *Evaluator) premiumValid(ctx context.Context, rec *types.UserRecord, now time.Time) bool {
	if !rec.IsPremium || rec.PremiumSince == nil {
		return false
	}
	if now.Sub(*rec.PremiumSince) > e.policy.GraceWindow {
		return false
	}
	if rec.BillingReference != "" && e.oracle != nil {
		if status := e.oracleStatus(ctx, rec.BillingReference); status != types.SubStatusUnknown && !status.Entitles() {
			return false
		}
	}
	return true
}

func (e *Evaluator) trialValid(rec *types.UserRecord, now time.Time) bool {
	return rec.TrialActive && rec.TrialStartedAt != nil && now.Sub(*rec.TrialStartedAt) < e.policy.TrialWindow
}

// oracleStatus consults the billing oracle with a bounded timeout,
// deduplicating concurrent lookups for the same subscription. Any failure
// collapses to SubStatusUnknown, which callers treat as "trust the local
// date-based judgment".
func (e *Evaluator) oracleStatus(ctx context.Context, subscriptionID string) types.SubscriptionStatus {
	v, err, _ := e.group.Do(subscriptionID, func() (any, error) {
		oracleCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		defer cancel()
		return e.oracle.SubscriptionStatus(oracleCtx, subscriptionID)
	})
	if err != nil {
		e.collector.OracleFallback(ctx)
		e.logger.Warn("billing oracle unreachable, falling back to date-based judgment",
			"subscription_id", subscriptionID,
			"error", err.Error(),
		)
		return types.SubStatusUnknown
	}
	status := v.(types.SubscriptionStatus)
	if status == types.SubStatusUnknown {
		e.collector.OracleFallback(ctx)
	}
	return status
}

func (e *Evaluator) revoke(rec *types.UserRecord, reason types.RevocationReason, now time.Time) {
	rec.IsPremium = false
	rec.PaymentCompleted = false
	rec.PremiumSince = nil
	rec.RevocationReason = string(reason)
	revokedAt := now
	rec.PremiumRevokedAt = &revokedAt
	rec.UpdatedAt = now
	e.logger.Info("premium revoked",
		"user_id", rec.UserID,
		"reason", string(reason),
	)
}
