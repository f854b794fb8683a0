package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/types"
)

// maxPromoSaveAttempts bounds the reload-and-reapply loop when a promo
// application loses a revision race.
const maxPromoSaveAttempts = 3

type entitlementResponse struct {
	UserID       string           `json:"user_id"`
	Tier         types.AccessTier `json:"tier"`
	Entitled     bool             `json:"entitled"`
	IsPremium    bool             `json:"is_premium"`
	TrialActive  bool             `json:"trial_active"`
	TrialUsed    bool             `json:"trial_used"`
	MonthlyUsed  int              `json:"monthly_used"`
	Remaining    int              `json:"remaining"`
	PremiumSince *time.Time       `json:"premium_since,omitempty"`
}

// HandleEntitlement reports the caller's current tier and allowance without
// consuming quota. It still reconciles: a status probe must never report an
// expired grant as live, and the downgrade it detects is persisted so the
// next admission starts from clean state.
func (s *Server) HandleEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	id := s.Resolver.Resolve(r.URL.Query().Get("email"), r.RemoteAddr, r.UserAgent())
	if id.Anonymous {
		fingerprint := identity.Fingerprint(r.RemoteAddr, r.UserAgent())
		remaining, err := s.Tracker.RemainingAnonymous(ctx, fingerprint, now)
		if err != nil {
			Error(w, r, err)
			return
		}
		JSON(w, r, http.StatusOK, entitlementResponse{
			UserID:    id.UserID,
			Tier:      types.TierAnonymous,
			Remaining: remaining,
		})
		return
	}

	rec, err := s.Records.Load(ctx, id.UserID)
	if err != nil {
		Error(w, r, err)
		return
	}

	if s.Evaluator.Reconcile(ctx, rec, now) {
		s.saveBestEffort(ctx, rec, "entitlement")
	}

	tier := s.Evaluator.Tier(rec, now)
	JSON(w, r, http.StatusOK, entitlementResponse{
		UserID:       rec.UserID,
		Tier:         tier,
		Entitled:     s.Evaluator.IsEntitled(ctx, rec, now),
		IsPremium:    rec.IsPremium,
		TrialActive:  rec.TrialActive,
		TrialUsed:    rec.TrialUsed,
		MonthlyUsed:  rec.MonthlySearchCount,
		Remaining:    s.Tracker.Remaining(rec, now, tier),
		PremiumSince: rec.PremiumSince,
	})
}

type promoRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type promoResponse struct {
	Command types.AdminCommand `json:"command"`
	Tier    types.AccessTier   `json:"tier"`
}

// HandlePromo resolves a submitted code to an admin command and applies it
// to the caller's record. Unknown codes are rejected without revealing
// which codes exist.
func (s *Server) HandlePromo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req promoRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.Code == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"code is required", nil))
		return
	}

	id, ok := s.Resolver.ForEmail(req.Email)
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"a valid email is required", nil))
		return
	}

	now := time.Now().UTC()
	cmd := s.Dispatcher.Resolve(req.Code)

	for attempt := 0; ; attempt++ {
		rec, err := s.Records.Load(ctx, id.UserID)
		if err != nil {
			Error(w, r, err)
			return
		}
		if rec.Email == "" {
			rec.Email = id.Email
		}

		if err := s.Dispatcher.Apply(cmd, rec, now); err != nil {
			Error(w, r, err)
			return
		}

		err = s.Records.Save(ctx, rec)
		if err == nil {
			JSON(w, r, http.StatusOK, promoResponse{
				Command: cmd,
				Tier:    s.Evaluator.Tier(rec, now),
			})
			return
		}
		if !isConflict(err) || attempt+1 >= maxPromoSaveAttempts {
			s.Metrics.StoreSaveFailed(ctx, "promo")
			Error(w, r, err)
			return
		}
	}
}

func isConflict(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent
}
