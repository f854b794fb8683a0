package types

import (
	"testing"
	"time"
)

func TestNewUserRecord_ZeroValued(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewUserRecord("abc123", "user@example.com", now)

	if rec.UserID != "abc123" {
		t.Errorf("UserID = %q", rec.UserID)
	}
	if rec.Email != "user@example.com" {
		t.Errorf("Email = %q", rec.Email)
	}
	if rec.IsPremium || rec.PaymentCompleted || rec.TrialActive || rec.TrialUsed {
		t.Error("flags must start false")
	}
	if rec.MonthlySearchCount != 0 {
		t.Errorf("MonthlySearchCount = %d, want 0", rec.MonthlySearchCount)
	}
	if !rec.MonthlyResetAt.Equal(now) {
		t.Errorf("MonthlyResetAt = %v, want %v", rec.MonthlyResetAt, now)
	}
	if rec.Revision != 0 {
		t.Errorf("Revision = %d, want 0", rec.Revision)
	}
}

func TestUserRecord_HasAdminGrant(t *testing.T) {
	rec := &UserRecord{}
	if rec.HasAdminGrant() {
		t.Error("empty promo activation should not be an admin grant")
	}
	rec.PromoActivation = "admin-granted 2025-06-01T10:00:00Z"
	if !rec.HasAdminGrant() {
		t.Error("non-empty promo activation should be an admin grant")
	}
}

func TestUserRecord_TrialDailyCount(t *testing.T) {
	day := time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

	rec := &UserRecord{}
	if got := rec.TrialDailyCount(day); got != 0 {
		t.Errorf("nil map count = %d, want 0", got)
	}

	rec.TrialDailyCounts = map[string]int{"2025-06-02": 7}
	if got := rec.TrialDailyCount(day); got != 7 {
		t.Errorf("count = %d, want 7", got)
	}
	if got := rec.TrialDailyCount(day.AddDate(0, 0, 1)); got != 0 {
		t.Errorf("next-day count = %d, want 0", got)
	}
}

func TestSubscriptionStatus_Entitles(t *testing.T) {
	entitling := []SubscriptionStatus{SubStatusActive, SubStatusTrialing}
	terminal := []SubscriptionStatus{
		SubStatusPastDue, SubStatusCanceled, SubStatusIncomplete,
		SubStatusIncompleteExpired, SubStatusUnpaid,
	}

	for _, s := range entitling {
		if !s.Entitles() {
			t.Errorf("%s should entitle", s)
		}
	}
	for _, s := range terminal {
		if s.Entitles() {
			t.Errorf("%s should not entitle", s)
		}
	}
}
