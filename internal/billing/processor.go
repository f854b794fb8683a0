package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/store"
	"github.com/sowhat82/cravemap/internal/types"
)

// maxSaveAttempts bounds the optimistic-save retry loop when a webhook
// update races a concurrent admission on the same record.
const maxSaveAttempts = 3

// Processor applies billing provider events to user records. Signature
// verification happens at the HTTP layer; the processor assumes the event
// is authentic.
type Processor struct {
	records   store.RecordStore
	resolver  *identity.Resolver
	collector metrics.Collector
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(records store.RecordStore, resolver *identity.Resolver, collector metrics.Collector, logger *slog.Logger) *Processor {
	return &Processor{
		records:   records,
		resolver:  resolver,
		collector: collector,
		logger:    logger,
	}
}

// Process routes the event to its handler and reports the outcome.
// Unhandled event types are ignored, not errors: the provider sends many
// event kinds this service has no interest in.
//
// Every event leaves an audit entry, keyed independently of the provider's
// event ID so redeliveries of the same event remain distinguishable.
func (p *Processor) Process(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	status, err := p.route(ctx, event)

	p.collector.WebhookEvent(ctx, event.Type, status)
	entry := types.WebhookEventLog{
		ID:        uuid.NewString(),
		EventType: event.Type,
		EventID:   event.ID,
		Status:    string(status),
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		entry.Details = err.Error()
	}
	p.audit(entry, err)
	return status, err
}

// audit emits the append-only processing record for one event. The audit
// trail lives in the structured log stream.
func (p *Processor) audit(entry types.WebhookEventLog, err error) {
	args := []any{
		"audit_id", entry.ID,
		"event_id", entry.EventID,
		"event_type", entry.EventType,
		"status", entry.Status,
	}
	if err != nil {
		args = append(args, "error", entry.Details)
		p.logger.Error("webhook event processing failed", args...)
		return
	}
	p.logger.Info("webhook event handled", args...)
}

func (p *Processor) route(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.handleSubscriptionChange(ctx, event)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, event)
	case EventPaymentFailed:
		return p.handlePaymentFailed(ctx, event)
	default:
		p.logger.Info("ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return types.WebhookStatusIgnored, nil
	}
}

// handleCheckoutCompleted grants premium after a completed checkout. This is
// the moment a user first becomes premium, so the record may not exist yet;
// the load-or-create semantics of the store cover that.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return types.WebhookStatusError, fmt.Errorf("checkout.session.completed %s: bad object: %w", event.ID, err)
	}

	id, ok := p.resolver.ForEmail(session.email())
	if !ok {
		return types.WebhookStatusError, fmt.Errorf("checkout.session.completed %s: no usable billing email", event.ID)
	}

	eventTime := event.Timestamp()
	err := p.updateUser(ctx, id.UserID, func(rec *types.UserRecord) bool {
		if rec.Email == "" {
			rec.Email = id.Email
		}
		grantPremium(rec, eventTime)
		if session.Subscription != "" {
			rec.BillingReference = session.Subscription
		}
		if session.Customer != "" {
			rec.BillingCustomerID = session.Customer
		}
		return true
	})
	if err != nil {
		return types.WebhookStatusError, err
	}

	p.logger.Info("premium granted via checkout",
		"event_id", event.ID,
		"user_id", id.UserID,
	)
	return types.WebhookStatusProcessed, nil
}

// handleSubscriptionChange syncs local premium state with the provider's
// view of the subscription, for both created and updated events; the
// provider sends the same object shape for both and the response is the
// same. Entitling statuses refresh the premium window; terminal statuses
// revoke immediately rather than waiting for the grace window to run out.
func (p *Processor) handleSubscriptionChange(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.WebhookStatusError, fmt.Errorf("%s %s: bad object: %w", event.Type, event.ID, err)
	}
	if sub.Customer == "" {
		return types.WebhookStatusError, fmt.Errorf("%s %s: missing customer", event.Type, event.ID)
	}

	status := types.SubscriptionStatusFromProvider(sub.Status)
	eventTime := event.Timestamp()

	err := p.updateCustomer(ctx, sub.Customer, func(rec *types.UserRecord) bool {
		rec.BillingReference = sub.ID
		switch {
		case status.Entitles():
			grantPremium(rec, eventTime)
		case status == types.SubStatusUnknown:
			// Provider sent a status we do not understand; leave the
			// record alone and let reconciliation sort it out.
			return false
		default:
			revokePremium(rec, revocationReasonFor(status), eventTime)
		}
		return true
	})
	if err != nil {
		return types.WebhookStatusError, err
	}
	return types.WebhookStatusProcessed, nil
}

// handleSubscriptionDeleted revokes premium when the provider cancels the
// subscription outright.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.WebhookStatusError, fmt.Errorf("customer.subscription.deleted %s: bad object: %w", event.ID, err)
	}
	if sub.Customer == "" {
		return types.WebhookStatusError, fmt.Errorf("customer.subscription.deleted %s: missing customer", event.ID)
	}

	eventTime := event.Timestamp()
	err := p.updateCustomer(ctx, sub.Customer, func(rec *types.UserRecord) bool {
		if !rec.IsPremium {
			return false
		}
		revokePremium(rec, types.RevokeReasonOracleTerminal, eventTime)
		return true
	})
	if err != nil {
		return types.WebhookStatusError, err
	}
	return types.WebhookStatusProcessed, nil
}

// handleInvoicePaid confirms a successful renewal payment, refreshing the
// premium window so the grace clock restarts from the payment.
func (p *Processor) handleInvoicePaid(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	var inv invoiceObject
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return types.WebhookStatusError, fmt.Errorf("invoice.payment_succeeded %s: bad object: %w", event.ID, err)
	}
	if inv.Customer == "" {
		return types.WebhookStatusError, fmt.Errorf("invoice.payment_succeeded %s: missing customer", event.ID)
	}

	eventTime := event.Timestamp()
	err := p.updateCustomer(ctx, inv.Customer, func(rec *types.UserRecord) bool {
		grantPremium(rec, eventTime)
		return true
	})
	if err != nil {
		return types.WebhookStatusError, err
	}
	return types.WebhookStatusProcessed, nil
}

// handlePaymentFailed records that the latest charge failed. Premium access
// is not revoked here; the grace window and provider-terminal statuses do
// that, so a transient card failure never flips access off mid-cycle.
func (p *Processor) handlePaymentFailed(ctx context.Context, event *Event) (types.WebhookStatus, error) {
	var inv invoiceObject
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return types.WebhookStatusError, fmt.Errorf("invoice.payment_failed %s: bad object: %w", event.ID, err)
	}
	if inv.Customer == "" {
		return types.WebhookStatusError, fmt.Errorf("invoice.payment_failed %s: missing customer", event.ID)
	}

	p.logger.Warn("billing payment failed",
		"event_id", event.ID,
		"customer_id", inv.Customer,
	)

	err := p.updateCustomer(ctx, inv.Customer, func(rec *types.UserRecord) bool {
		if !rec.PaymentCompleted {
			return false
		}
		rec.PaymentCompleted = false
		return true
	})
	if err != nil {
		return types.WebhookStatusError, err
	}
	return types.WebhookStatusProcessed, nil
}

// updateUser runs a load-mutate-save cycle for a known user ID, retrying on
// optimistic-concurrency conflicts. mutate returns false to skip the save.
func (p *Processor) updateUser(ctx context.Context, userID string, mutate func(*types.UserRecord) bool) error {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		rec, err := p.records.Load(ctx, userID)
		if err != nil {
			return err
		}
		if !mutate(rec) {
			return nil
		}
		if err := p.records.Save(ctx, rec); !isConflict(err) {
			if err != nil {
				p.collector.StoreSaveFailed(ctx, "webhook")
			}
			return err
		}
	}
	p.collector.StoreSaveFailed(ctx, "webhook")
	return types.NewAppError(types.ErrCodeConflictConcurrent,
		"gave up after repeated concurrent modifications", nil)
}

// updateCustomer is updateUser for records addressed by billing customer ID.
func (p *Processor) updateCustomer(ctx context.Context, customerID string, mutate func(*types.UserRecord) bool) error {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		rec, err := p.records.FindByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if !mutate(rec) {
			return nil
		}
		if err := p.records.Save(ctx, rec); !isConflict(err) {
			if err != nil {
				p.collector.StoreSaveFailed(ctx, "webhook")
			}
			return err
		}
	}
	p.collector.StoreSaveFailed(ctx, "webhook")
	return types.NewAppError(types.ErrCodeConflictConcurrent,
		"gave up after repeated concurrent modifications", nil)
}

func isConflict(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent
}

// grantPremium puts the record into paid premium state as of the given
// provider event time, clearing any previous revocation.
func grantPremium(rec *types.UserRecord, at time.Time) {
	rec.IsPremium = true
	rec.PaymentCompleted = true
	since := at
	rec.PremiumSince = &since
	rec.RevocationReason = ""
	rec.PremiumRevokedAt = nil
	rec.UpdatedAt = at
}

func revokePremium(rec *types.UserRecord, reason types.RevocationReason, at time.Time) {
	rec.IsPremium = false
	rec.PaymentCompleted = false
	rec.PremiumSince = nil
	rec.RevocationReason = string(reason)
	revokedAt := at
	rec.PremiumRevokedAt = &revokedAt
	rec.UpdatedAt = at
}

func revocationReasonFor(status types.SubscriptionStatus) types.RevocationReason {
	switch status {
	case types.SubStatusUnpaid, types.SubStatusPastDue:
		return types.RevokeReasonPaymentFailed
	default:
		return types.RevokeReasonOracleTerminal
	}
}
