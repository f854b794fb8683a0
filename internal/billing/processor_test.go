package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/store"
	"github.com/sowhat82/cravemap/internal/types"
)

func newTestProcessor(t *testing.T) (*Processor, store.RecordStore) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessor(fs, identity.NewResolver(), metrics.Noop{}, logger), fs
}

func mustEvent(t *testing.T, payload string) *Event {
	t.Helper()
	ev, err := ParseEvent([]byte(payload))
	require.NoError(t, err)
	return ev
}

func TestParseEvent(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"id":"evt_1"}`))
	assert.Error(t, err, "event without a type is rejected")

	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"invoice.payment_succeeded","created":1750000000}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), ev.Timestamp())
}

func TestProcess_CheckoutCompleted_GrantsPremium(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()

	ev := mustEvent(t, `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1750000000,
		"data": {"object": {
			"customer": "cus_123",
			"customer_details": {"email": "Buyer@Example.com"},
			"subscription": "sub_456"
		}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	id, ok := identity.NewResolver().ForEmail("buyer@example.com")
	require.True(t, ok)

	rec, err := records.Load(ctx, id.UserID)
	require.NoError(t, err)
	assert.True(t, rec.IsPremium)
	assert.True(t, rec.PaymentCompleted)
	assert.Equal(t, "buyer@example.com", rec.Email)
	assert.Equal(t, "sub_456", rec.BillingReference)
	assert.Equal(t, "cus_123", rec.BillingCustomerID)
	require.NotNil(t, rec.PremiumSince)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), *rec.PremiumSince)
}

func TestProcess_CheckoutCompleted_NoEmail(t *testing.T) {
	p, _ := newTestProcessor(t)

	ev := mustEvent(t, `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"customer": "cus_123"}}
	}`)

	status, err := p.Process(context.Background(), ev)
	assert.Error(t, err)
	assert.Equal(t, types.WebhookStatusError, status)
}

func seedPremiumCustomer(t *testing.T, records store.RecordStore, customerID string) *types.UserRecord {
	t.Helper()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := types.NewUserRecord("user1", "user@example.com", now)
	rec.IsPremium = true
	rec.PaymentCompleted = true
	rec.PremiumSince = &now
	rec.BillingReference = "sub_456"
	rec.BillingCustomerID = customerID
	require.NoError(t, records.Save(context.Background(), rec))
	return rec
}

func TestProcess_SubscriptionDeleted_Revokes(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()
	seedPremiumCustomer(t, records, "cus_123")

	ev := mustEvent(t, `{
		"id": "evt_2",
		"type": "customer.subscription.deleted",
		"created": 1750000000,
		"data": {"object": {"id": "sub_456", "customer": "cus_123", "status": "canceled"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	rec, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, rec.IsPremium)
	assert.Nil(t, rec.PremiumSince)
	assert.Equal(t, string(types.RevokeReasonOracleTerminal), rec.RevocationReason)
	require.NotNil(t, rec.PremiumRevokedAt)
}

func TestProcess_SubscriptionDeleted_UnknownCustomer(t *testing.T) {
	p, _ := newTestProcessor(t)

	ev := mustEvent(t, `{
		"id": "evt_2",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_456", "customer": "cus_nobody"}}
	}`)

	status, err := p.Process(context.Background(), ev)
	assert.Error(t, err)
	assert.Equal(t, types.WebhookStatusError, status)
}

func TestProcess_SubscriptionCreated_GrantsPremium(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := types.NewUserRecord("user1", "user@example.com", now)
	rec.BillingCustomerID = "cus_123"
	require.NoError(t, records.Save(ctx, rec))

	ev := mustEvent(t, `{
		"id": "evt_8",
		"type": "customer.subscription.created",
		"created": 1750000000,
		"data": {"object": {"id": "sub_456", "customer": "cus_123", "status": "active"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	loaded, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, loaded.IsPremium)
	assert.Equal(t, "sub_456", loaded.BillingReference)
	require.NotNil(t, loaded.PremiumSince)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), *loaded.PremiumSince)
}

func TestProcess_SubscriptionUpdated_TerminalStatus(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()
	seedPremiumCustomer(t, records, "cus_123")

	ev := mustEvent(t, `{
		"id": "evt_3",
		"type": "customer.subscription.updated",
		"created": 1750000000,
		"data": {"object": {"id": "sub_456", "customer": "cus_123", "status": "unpaid"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	rec, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, rec.IsPremium)
	assert.Equal(t, string(types.RevokeReasonPaymentFailed), rec.RevocationReason)
}

func TestProcess_SubscriptionUpdated_ActiveRefreshesWindow(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()
	seedPremiumCustomer(t, records, "cus_123")

	ev := mustEvent(t, `{
		"id": "evt_4",
		"type": "customer.subscription.updated",
		"created": 1760000000,
		"data": {"object": {"id": "sub_456", "customer": "cus_123", "status": "active"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	rec, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, rec.IsPremium)
	require.NotNil(t, rec.PremiumSince)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), *rec.PremiumSince, "renewal restarts the grace clock")
}

func TestProcess_InvoicePaid_RestoresPayment(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()
	rec := seedPremiumCustomer(t, records, "cus_123")
	rec.PaymentCompleted = false
	require.NoError(t, records.Save(ctx, rec))

	ev := mustEvent(t, `{
		"id": "evt_5",
		"type": "invoice.payment_succeeded",
		"created": 1760000000,
		"data": {"object": {"customer": "cus_123"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	loaded, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, loaded.PaymentCompleted)
	assert.True(t, loaded.IsPremium)
}

func TestProcess_PaymentFailed_MarksPaymentIncomplete(t *testing.T) {
	p, records := newTestProcessor(t)
	ctx := context.Background()
	seedPremiumCustomer(t, records, "cus_123")

	ev := mustEvent(t, `{
		"id": "evt_6",
		"type": "invoice.payment_failed",
		"data": {"object": {"customer": "cus_123"}}
	}`)

	status, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusProcessed, status)

	rec, err := records.Load(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, rec.PaymentCompleted)
	assert.True(t, rec.IsPremium, "a failed charge alone does not revoke premium")
}

func TestProcess_UnhandledTypeIgnored(t *testing.T) {
	p, _ := newTestProcessor(t)

	ev := mustEvent(t, `{"id": "evt_7", "type": "customer.created", "data": {"object": {}}}`)

	status, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusIgnored, status)
}
