package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sowhat82/cravemap/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOracle(t *testing.T, handler http.HandlerFunc) *StripeOracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeOracle(StripeOracleConfig{
		SecretKey: types.SecretString("sk_test_123"),
		BaseURL:   srv.URL,
		Timeout:   time.Second,
		Logger:    discardLogger(),
	}, noSleep())
}

func TestStripeOracle_StatusMapping(t *testing.T) {
	tests := []struct {
		provider string
		want     types.SubscriptionStatus
	}{
		{"active", types.SubStatusActive},
		{"trialing", types.SubStatusTrialing},
		{"past_due", types.SubStatusPastDue},
		{"canceled", types.SubStatusCanceled},
		{"unpaid", types.SubStatusUnpaid},
		{"some_future_status", types.SubStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			oracle := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
				assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"id":"sub_123","status":"` + tt.provider + `"}`))
			})

			status, err := oracle.SubscriptionStatus(context.Background(), "sub_123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestStripeOracle_NotFoundIsCanceled(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error"}}`))
	})

	status, err := oracle.SubscriptionStatus(context.Background(), "sub_gone")
	require.NoError(t, err)
	assert.Equal(t, types.SubStatusCanceled, status)
}

func TestStripeOracle_ServerErrorIsUnknown(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	status, err := oracle.SubscriptionStatus(context.Background(), "sub_123")
	assert.Error(t, err)
	assert.Equal(t, types.SubStatusUnknown, status)
}

func TestStripeOracle_MalformedPayloadIsUnknown(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	})

	status, err := oracle.SubscriptionStatus(context.Background(), "sub_123")
	assert.Error(t, err)
	assert.Equal(t, types.SubStatusUnknown, status)
}

func TestStripeOracle_AuthErrorIsUnknown(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	})

	status, err := oracle.SubscriptionStatus(context.Background(), "sub_123")
	require.Error(t, err)
	assert.Equal(t, types.SubStatusUnknown, status)
}
