package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/sowhat82/cravemap/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests
// via StripeOracleConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeOracleConfig holds the configuration for creating a StripeOracle.
type StripeOracleConfig struct {
	SecretKey types.SecretString
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Timeout   time.Duration
	Logger    *slog.Logger
}

// StripeOracle answers "what does the provider currently think of this
// subscription" by calling the Stripe REST API directly through BaseClient.
// It intentionally has only that one job: webhook push updates and checkout
// flows live elsewhere, this is the pull path used by entitlement
// reconciliation. Any failure collapses to SubStatusUnknown with an error,
// which the evaluator treats as "fall back to the date-based judgment".
type StripeOracle struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeOracle creates a StripeOracle. cfg.Timeout bounds each API call
// and defaults to 5 seconds.
func NewStripeOracle(cfg StripeOracleConfig, opts ...BaseClientOption) *StripeOracle {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &StripeOracle{
		base:      NewBaseClient(&http.Client{Timeout: timeout}, "stripe", DefaultRetryPolicy(), opts...),
		secretKey: cfg.SecretKey,
		baseURL:   baseURL,
		logger:    cfg.Logger,
	}
}

// stripeSubscription is the subset of the Stripe subscription object the
// oracle reads.
type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubscriptionStatus retrieves the current provider-side status for the
// given subscription ID. A missing subscription maps to canceled; transport
// failures and unexpected responses map to SubStatusUnknown plus an error.
func (o *StripeOracle) SubscriptionStatus(ctx context.Context, subscriptionID string) (types.SubscriptionStatus, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", o.baseURL, subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.SubStatusUnknown, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.secretKey.Unmask())

	resp, err := o.base.Do(req)
	if err != nil {
		return types.SubStatusUnknown, types.NewAppError(types.ErrCodeUpstreamBilling, "stripe subscription lookup failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.SubStatusUnknown, types.NewAppError(types.ErrCodeUpstreamBilling, "failed to read stripe response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var sub stripeSubscription
		if err := json.Unmarshal(body, &sub); err != nil {
			return types.SubStatusUnknown, types.NewAppError(types.ErrCodeUpstreamBilling, "malformed stripe subscription payload", err)
		}
		return types.SubscriptionStatusFromProvider(sub.Status), nil

	case resp.StatusCode == http.StatusNotFound:
		// The provider no longer knows the subscription. Treat as terminal
		// rather than unknown so reconciliation can downgrade.
		o.logger.Info("stripe subscription not found, treating as canceled",
			"subscription_id", subscriptionID,
		)
		return types.SubStatusCanceled, nil

	default:
		var env stripeErrorEnvelope
		_ = json.Unmarshal(body, &env)
		o.logger.Warn("stripe subscription lookup returned error status",
			"subscription_id", subscriptionID,
			"status_code", resp.StatusCode,
			"stripe_error_type", env.Error.Type,
		)
		return types.SubStatusUnknown, types.NewAppError(types.ErrCodeUpstreamBilling,
			fmt.Sprintf("stripe returned %d", resp.StatusCode), nil)
	}
}

// WebhookVerifier checks the authenticity of an inbound webhook payload.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier with stripe-go's signature
// validation (HMAC plus timestamp tolerance).
type StripeVerifier struct{}

func (StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
