package types

// SubscriptionStatus is the provider-reported state of an external
// subscription, as returned by the billing oracle.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	// SubStatusUnknown is reported when the oracle could not determine the
	// state (error responses, unreachable provider). Callers fall back to
	// the local date-based judgment.
	SubStatusUnknown SubscriptionStatus = "unknown"
)

// Entitles reports whether the provider-side status keeps premium access
// alive. Everything outside {active, trialing} is treated as terminal.
func (s SubscriptionStatus) Entitles() bool {
	return s == SubStatusActive || s == SubStatusTrialing
}

// SubscriptionStatusFromProvider parses a provider status string, collapsing
// unrecognized values to unknown so provider vocabulary never leaks into
// entitlement decisions.
func SubscriptionStatusFromProvider(s string) SubscriptionStatus {
	switch status := SubscriptionStatus(s); status {
	case SubStatusActive, SubStatusTrialing, SubStatusPastDue, SubStatusCanceled,
		SubStatusIncomplete, SubStatusIncompleteExpired, SubStatusUnpaid:
		return status
	default:
		return SubStatusUnknown
	}
}

// AccessTier is the resolved access level for a request.
type AccessTier string

const (
	// TierPremium covers paid subscriptions and admin grants: unmetered.
	TierPremium AccessTier = "premium"
	// TierTrial is an active trial window: metered per calendar day.
	TierTrial AccessTier = "trial"
	// TierMetered is the free tier: metered per calendar month.
	TierMetered AccessTier = "metered"
	// TierAnonymous is a fingerprint-only identity: coarse daily cap.
	TierAnonymous AccessTier = "anonymous"
)

// AdminCommand is the resolved meaning of a promo code. Codes are matched
// once against configuration and dispatched as a tagged variant; handler
// code never compares raw code strings.
type AdminCommand string

const (
	AdminCmdGrantPremium  AdminCommand = "grant_premium"
	AdminCmdRevokePremium AdminCommand = "revoke_premium"
	AdminCmdResetCounter  AdminCommand = "reset_counter"
	AdminCmdActivateTrial AdminCommand = "activate_trial"
	AdminCmdUnknown       AdminCommand = "unknown"
)

// RevocationReason explains why premium access was withdrawn.
type RevocationReason string

const (
	RevokeReasonExpired        RevocationReason = "subscription_expired"
	RevokeReasonOracleTerminal RevocationReason = "subscription_terminal_at_provider"
	RevokeReasonPaymentFailed  RevocationReason = "payment_failed"
	RevokeReasonAdmin          RevocationReason = "admin_downgrade"
)

// WebhookStatus is the processing outcome recorded for a billing event.
type WebhookStatus string

const (
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusIgnored   WebhookStatus = "ignored"
	WebhookStatusError     WebhookStatus = "error"
)
