package types

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidBody, http.StatusBadRequest},
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeAuthAdminKeyInvalid, http.StatusUnauthorized},
		{ErrCodePermissionFlaggedClient, http.StatusForbidden},
		{ErrCodePromoCodeInvalid, http.StatusForbidden},
		{ErrCodeLimitMonthlySearches, http.StatusTooManyRequests},
		{ErrCodeLimitTrialDaily, http.StatusTooManyRequests},
		{ErrCodeLimitAnonymousDaily, http.StatusTooManyRequests},
		{ErrCodeNotFoundUser, http.StatusNotFound},
		{ErrCodeConflictConcurrent, http.StatusConflict},
		{ErrCodeUpstreamBilling, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeInternalStoreUnavailable, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeNotFoundUser, "user not found", nil)
	want := "not_found_user: user not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := NewAppError(ErrCodeInternalStoreUnavailable, "save failed", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var appErr *AppError
	if !errors.As(error(err), &appErr) {
		t.Error("errors.As should extract *AppError")
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	err := NewAppError(ErrCodeLimitMonthlySearches, "monthly limit reached", nil)
	if err.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusTooManyRequests)
	}
}

func TestNewAppErrorWithDetails(t *testing.T) {
	err := NewAppErrorWithDetails(ErrCodeLimitTrialDaily, "daily limit reached", nil,
		map[string]any{"limit": 20})
	if err.Details["limit"] != 20 {
		t.Errorf("Details[limit] = %v, want 20", err.Details["limit"])
	}
}
