// Package quota enforces usage limits per access tier: unmetered premium,
// per-day trial caps, per-month free-tier caps, and a coarse per-day cap for
// anonymous fingerprints. Window rollover is lazy, detected at admission
// time against the wall clock.
package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/store"
	"github.com/sowhat82/cravemap/internal/types"
)

// Limits holds the injected admission caps.
type Limits struct {
	// MonthlyFree is the free-tier cap per calendar month.
	MonthlyFree int
	// TrialDaily is the trial cap per calendar day.
	TrialDaily int
	// AnonymousDaily is the anonymous-fingerprint cap per calendar day.
	AnonymousDaily int
}

// Tracker decides admission and advances the usage counters. For identified
// users it mutates the passed record in place and leaves persistence to the
// caller; anonymous admissions go straight to the daily counter store.
type Tracker struct {
	limits    Limits
	counters  store.DailyCounterStore
	collector metrics.Collector
	logger    *slog.Logger
}

// NewTracker creates a Tracker. counters backs only the anonymous path and
// may be nil when anonymous access is disabled.
func NewTracker(limits Limits, counters store.DailyCounterStore, collector metrics.Collector, logger *slog.Logger) *Tracker {
	return &Tracker{
		limits:    limits,
		counters:  counters,
		collector: collector,
		logger:    logger,
	}
}

// Admit checks the record against the cap for the given tier and, when
// admitted, increments the relevant counter in place. A denial leaves all
// counters unchanged. The monthly window rolls over first, so a request in
// a new calendar month is never denied on last month's count.
func (t *Tracker) Admit(ctx context.Context, rec *types.UserRecord, now time.Time, tier types.AccessTier) types.AdmissionDecision {
	t.rolloverMonthly(rec, now)

	switch tier {
	case types.TierPremium:
		return types.AdmissionDecision{Allowed: true, Tier: tier, Remaining: -1}

	case types.TierTrial:
		day := now.Format(types.DayKey)
		count := rec.TrialDailyCount(now)
		if count >= t.limits.TrialDaily {
			t.collector.QuotaDenied(ctx, tier)
			return types.AdmissionDecision{
				Tier:       tier,
				DenialCode: types.ErrCodeLimitTrialDaily,
			}
		}
		if rec.TrialDailyCounts == nil {
			rec.TrialDailyCounts = make(map[string]int)
		}
		rec.TrialDailyCounts[day] = count + 1
		t.pruneTrialDays(rec, now)
		rec.UpdatedAt = now
		return types.AdmissionDecision{
			Allowed:   true,
			Tier:      tier,
			Remaining: t.limits.TrialDaily - (count + 1),
		}

	default:
		if rec.MonthlySearchCount >= t.limits.MonthlyFree {
			t.collector.QuotaDenied(ctx, types.TierMetered)
			return types.AdmissionDecision{
				Tier:       types.TierMetered,
				DenialCode: types.ErrCodeLimitMonthlySearches,
			}
		}
		rec.MonthlySearchCount++
		rec.UpdatedAt = now
		return types.AdmissionDecision{
			Allowed:   true,
			Tier:      types.TierMetered,
			Remaining: t.limits.MonthlyFree - rec.MonthlySearchCount,
		}
	}
}

// AdmitAnonymous checks the per-day cap for an anonymous client fingerprint.
// The counter lives in the daily counter store rather than a user record;
// there is no durable identity to attach anything finer-grained to.
func (t *Tracker) AdmitAnonymous(ctx context.Context, fingerprint string, now time.Time) (types.AdmissionDecision, error) {
	day := now.Format(types.DayKey)

	current, err := t.counters.GetDaily(ctx, fingerprint, day)
	if err != nil {
		return types.AdmissionDecision{}, err
	}
	if current >= t.limits.AnonymousDaily {
		t.collector.QuotaDenied(ctx, types.TierAnonymous)
		return types.AdmissionDecision{
			Tier:       types.TierAnonymous,
			DenialCode: types.ErrCodeLimitAnonymousDaily,
		}, nil
	}

	n, err := t.counters.IncrementDaily(ctx, fingerprint, day)
	if err != nil {
		return types.AdmissionDecision{}, err
	}
	return types.AdmissionDecision{
		Allowed:   true,
		Tier:      types.TierAnonymous,
		Remaining: t.limits.AnonymousDaily - n,
	}, nil
}

// Remaining reports the admissions left in the current window without
// consuming one. The monthly window rolls over first so a stale record from
// last month reports a full allowance. -1 means unmetered.
func (t *Tracker) Remaining(rec *types.UserRecord, now time.Time, tier types.AccessTier) int {
	t.rolloverMonthly(rec, now)

	switch tier {
	case types.TierPremium:
		return -1
	case types.TierTrial:
		return max(0, t.limits.TrialDaily-rec.TrialDailyCount(now))
	default:
		return max(0, t.limits.MonthlyFree-rec.MonthlySearchCount)
	}
}

// RemainingAnonymous reports today's admissions left for an anonymous
// fingerprint without consuming one.
func (t *Tracker) RemainingAnonymous(ctx context.Context, fingerprint string, now time.Time) (int, error) {
	current, err := t.counters.GetDaily(ctx, fingerprint, now.Format(types.DayKey))
	if err != nil {
		return 0, err
	}
	return max(0, t.limits.AnonymousDaily-current), nil
}

// rolloverMonthly resets the monthly counter when the calendar month or year
// of the reset marker differs from now. Strict inequality: a counter reset
// on Jan 31 survives until Feb 1, not a rolling 30 days.
func (t *Tracker) rolloverMonthly(rec *types.UserRecord, now time.Time) {
	if rec.MonthlyResetAt.Month() == now.Month() && rec.MonthlyResetAt.Year() == now.Year() {
		return
	}
	if rec.MonthlySearchCount != 0 {
		t.logger.Info("monthly counter rolled over",
			"user_id", rec.UserID,
			"previous_count", rec.MonthlySearchCount,
		)
	}
	rec.MonthlySearchCount = 0
	rec.MonthlyResetAt = now
	rec.UpdatedAt = now
}

// pruneTrialDays drops per-day trial counts older than the trial can span,
// bounding the map to the live window.
func (t *Tracker) pruneTrialDays(rec *types.UserRecord, now time.Time) {
	cutoff := now.AddDate(0, 0, -7).Format(types.DayKey)
	for day := range rec.TrialDailyCounts {
		if day < cutoff {
			delete(rec.TrialDailyCounts, day)
		}
	}
}
