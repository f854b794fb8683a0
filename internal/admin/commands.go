// Package admin resolves promo codes into typed commands and applies them
// to user records. A code is matched exactly once against configuration and
// dispatched as a tagged variant; nothing downstream ever compares raw code
// strings.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sowhat82/cravemap/internal/types"
)

// promoProvenanceFormat timestamps admin grants so support can see when and
// how premium was handed out.
const promoProvenanceFormat = "admin-granted 2006-01-02T15:04:05Z"

// Codes holds the configured promo codes. Empty codes never match.
type Codes struct {
	Grant  types.SecretString
	Revoke types.SecretString
	Reset  types.SecretString
	Trial  types.SecretString
}

// Dispatcher resolves and applies admin commands.
type Dispatcher struct {
	codes  Codes
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(codes Codes, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{codes: codes, logger: logger}
}

// Resolve maps a submitted promo code to its command. Comparison is
// constant-time per candidate so response timing does not narrow down a
// partially guessed code.
func (d *Dispatcher) Resolve(code string) types.AdminCommand {
	for _, candidate := range []struct {
		secret types.SecretString
		cmd    types.AdminCommand
	}{
		{d.codes.Grant, types.AdminCmdGrantPremium},
		{d.codes.Revoke, types.AdminCmdRevokePremium},
		{d.codes.Reset, types.AdminCmdResetCounter},
		{d.codes.Trial, types.AdminCmdActivateTrial},
	} {
		if secretEqual(code, candidate.secret.Unmask()) {
			return candidate.cmd
		}
	}
	return types.AdminCmdUnknown
}

// Apply executes the command against the record in place. The caller
// persists the record afterwards. An unknown command is a client error, not
// a panic path: users type promo codes by hand.
func (d *Dispatcher) Apply(cmd types.AdminCommand, rec *types.UserRecord, now time.Time) error {
	switch cmd {
	case types.AdminCmdGrantPremium:
		d.applyGrant(rec, now)
	case types.AdminCmdRevokePremium:
		d.applyRevoke(rec, now)
	case types.AdminCmdResetCounter:
		d.applyReset(rec, now)
	case types.AdminCmdActivateTrial:
		return d.applyTrial(rec, now)
	default:
		return types.NewAppError(types.ErrCodePromoCodeInvalid, "unrecognized promo code", nil)
	}
	return nil
}

// applyGrant hands out non-expiring premium. The provenance tag is what
// marks the grant as admin-issued; entitlement checks key off it.
func (d *Dispatcher) applyGrant(rec *types.UserRecord, now time.Time) {
	rec.PromoActivation = now.UTC().Format(promoProvenanceFormat)
	rec.IsPremium = true
	rec.PaymentCompleted = true
	since := now
	rec.PremiumSince = &since
	rec.RevocationReason = ""
	rec.PremiumRevokedAt = nil
	rec.UpdatedAt = now
	d.logger.Info("admin premium grant applied", "user_id", rec.UserID)
}

// applyRevoke withdraws premium of any provenance, paid or granted.
func (d *Dispatcher) applyRevoke(rec *types.UserRecord, now time.Time) {
	rec.IsPremium = false
	rec.PaymentCompleted = false
	rec.PremiumSince = nil
	rec.PromoActivation = ""
	rec.RevocationReason = string(types.RevokeReasonAdmin)
	revokedAt := now
	rec.PremiumRevokedAt = &revokedAt
	rec.UpdatedAt = now
	d.logger.Info("admin premium revocation applied", "user_id", rec.UserID)
}

// applyReset zeroes the monthly counter and restarts the window.
func (d *Dispatcher) applyReset(rec *types.UserRecord, now time.Time) {
	rec.MonthlySearchCount = 0
	rec.MonthlyResetAt = now
	rec.UpdatedAt = now
	d.logger.Info("admin counter reset applied", "user_id", rec.UserID)
}

// applyTrial starts the one-time trial. A trial can be activated at most
// once per identity, even after it expires, and premium holders have
// nothing to trial.
func (d *Dispatcher) applyTrial(rec *types.UserRecord, now time.Time) error {
	if rec.TrialUsed {
		return types.NewAppError(types.ErrCodeTrialAlreadyUsed,
			"trial was already used on this account", nil)
	}
	if rec.IsPremium || rec.HasAdminGrant() {
		return types.NewAppError(types.ErrCodePromoCodeInvalid,
			"premium accounts cannot activate a trial", nil)
	}
	rec.TrialActive = true
	rec.TrialUsed = true
	startedAt := now
	rec.TrialStartedAt = &startedAt
	rec.UpdatedAt = now
	d.logger.Info("trial activated", "user_id", rec.UserID)
	return nil
}

// VerifyAPIKey checks a presented admin API key against the configured
// bcrypt hash.
func VerifyAPIKey(hash types.SecretString, presented string) error {
	if presented == "" {
		return types.NewAppError(types.ErrCodeAuthAdminKeyMissing, "admin API key required", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash.Unmask()), []byte(presented)); err != nil {
		return types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin API key rejected", err)
	}
	return nil
}

func secretEqual(a, b string) bool {
	if b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
