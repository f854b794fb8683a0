package api

import (
	"io"
	"net/http"

	"github.com/sowhat82/cravemap/internal/billing"
	"github.com/sowhat82/cravemap/internal/types"
)

// maxWebhookBodySize caps webhook payloads (64 KB). Billing event payloads
// are small; the limit protects against abuse on an unauthenticated route.
const maxWebhookBodySize = 64 * 1024

type webhookResponse struct {
	Received bool                `json:"received"`
	Status   types.WebhookStatus `json:"status"`
}

// HandleStripeWebhook processes asynchronous billing events. The route is
// not behind auth; security comes from verifying the Stripe-Signature
// header against the webhook signing secret.
//
// After the signature verifies, processing failures still return 200. The
// provider retries non-2xx responses indefinitely, and a poison event
// should be investigated from the logs, not redelivered forever.
func (s *Server) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureMissing,
			"missing Stripe-Signature header", nil))
		return
	}
	if err := s.Verifier.Verify(payload, sigHeader, s.Config.Billing.StripeWebhookSecret.Unmask()); err != nil {
		s.Logger.Warn("webhook signature verification failed",
			"error", err.Error(),
		)
		Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed", err))
		return
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		Error(w, r, err)
		return
	}

	status, err := s.Processor.Process(ctx, event)
	if err != nil {
		s.Logger.Error("webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err.Error(),
		)
	}

	JSON(w, r, http.StatusOK, webhookResponse{Received: true, Status: status})
}
