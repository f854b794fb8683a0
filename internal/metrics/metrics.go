// Package metrics provides telemetry emission for the entitlement service.
// The service degrades gracefully (best-effort quota persistence, oracle
// fallbacks), but degradation must be loud: every fallback and store
// failure is counted here.
package metrics

import (
	"context"

	"github.com/sowhat82/cravemap/internal/types"
)

// Collector records the counters the service emits. Implementations must be
// non-blocking from the caller's perspective beyond a bounded API call and
// must never fail the request path.
type Collector interface {
	// QuotaDenied counts an admission denial for the given tier.
	QuotaDenied(ctx context.Context, tier types.AccessTier)

	// StoreSaveFailed counts a record-store write failure. The op dimension
	// names the operation whose state could not be persisted
	// (e.g. "admit", "reconcile", "webhook").
	StoreSaveFailed(ctx context.Context, op string)

	// OracleFallback counts an entitlement decision that fell back to the
	// local date-based judgment because the billing oracle was unreachable.
	OracleFallback(ctx context.Context)

	// WebhookEvent counts a processed billing webhook event by type and outcome.
	WebhookEvent(ctx context.Context, eventType string, status types.WebhookStatus)
}

// Noop is a Collector that discards all metrics. Used in tests and local
// development where CloudWatch is not configured.
type Noop struct{}

func (Noop) QuotaDenied(context.Context, types.AccessTier)             {}
func (Noop) StoreSaveFailed(context.Context, string)                   {}
func (Noop) OracleFallback(context.Context)                            {}
func (Noop) WebhookEvent(context.Context, string, types.WebhookStatus) {}
