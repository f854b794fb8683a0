// Package billing processes asynchronous billing provider events and keeps
// local premium state in sync. It is the push counterpart to the pull-based
// oracle lookup in entitlement reconciliation: webhooks update records as
// events arrive, reconciliation catches anything the webhooks missed.
package billing

import (
	"encoding/json"
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

// Provider event types the processor acts on. Everything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a minimal representation of a provider webhook event, carrying
// just the fields needed for routing and record updates. The full stripe-go
// event type is deliberately not used here; a tailored struct keeps the
// processor decoupled from the SDK and easy to test with literal JSON.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook payload into an Event.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"invalid webhook event JSON", err)
	}
	if ev.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"webhook event has no type", nil)
	}
	return &ev, nil
}

// Timestamp returns the provider-side event time, falling back to the
// current clock when the event carries none.
func (e *Event) Timestamp() time.Time {
	if e.Created > 0 {
		return time.Unix(e.Created, 0).UTC()
	}
	return time.Now().UTC()
}

// checkoutSession is the object payload of checkout.session.completed.
type checkoutSession struct {
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Subscription string `json:"subscription"`
}

// email returns the best available billing email on the session.
func (s *checkoutSession) email() string {
	if s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// subscriptionObject is the object payload of customer.subscription.* events.
type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// invoiceObject is the object payload of invoice.* events.
type invoiceObject struct {
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
}
