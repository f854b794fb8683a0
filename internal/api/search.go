package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/types"
)

type searchRequest struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Email    string `json:"email,omitempty"`
}

type searchResponse struct {
	Allowed   bool                 `json:"allowed"`
	Tier      types.AccessTier     `json:"tier"`
	Remaining int                  `json:"remaining"`
	Venues    []types.VenueSummary `json:"venues,omitempty"`
	Summary   string               `json:"summary,omitempty"`
	Model     string               `json:"model,omitempty"`
}

// HandleSearch admits one search against the caller's quota and, when
// admitted, returns venue results with a generated summary.
//
// The order is deliberate: abuse screening happens before any store I/O,
// reconciliation happens before the tier is read so an expired grant can
// never ride a stale flag, and the record is persisted after admission so
// the consumed unit survives. A save failure does not fail the request;
// the admission already happened and the client should not be punished for
// a store hiccup. It is surfaced through the failure metric and a warning.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"query is required", nil))
		return
	}

	if err := s.Guard.CheckQuery(req.Query); err != nil {
		Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	fingerprint := identity.Fingerprint(r.RemoteAddr, r.UserAgent())
	if err := s.Guard.Observe(fingerprint, now); err != nil {
		Error(w, r, err)
		return
	}

	id := s.Resolver.Resolve(req.Email, r.RemoteAddr, r.UserAgent())
	ctx = types.WithIdentity(ctx, id)

	var decision types.AdmissionDecision
	if id.Anonymous {
		var err error
		decision, err = s.Tracker.AdmitAnonymous(ctx, fingerprint, now)
		if err != nil {
			Error(w, r, err)
			return
		}
	} else {
		var err error
		decision, err = s.admitUser(ctx, id, now)
		if err != nil {
			Error(w, r, err)
			return
		}
	}

	if !decision.Allowed {
		Error(w, r, denialError(decision))
		return
	}

	resp := searchResponse{
		Allowed:   true,
		Tier:      decision.Tier,
		Remaining: decision.Remaining,
	}
	s.fillResults(ctx, &resp, req.Query, req.Location)
	JSON(w, r, http.StatusOK, resp)
}

// admitUser runs the identified admission path: load, reconcile, resolve
// the tier, admit, persist.
func (s *Server) admitUser(ctx context.Context, id types.Identity, now time.Time) (types.AdmissionDecision, error) {
	rec, err := s.Records.Load(ctx, id.UserID)
	if err != nil {
		return types.AdmissionDecision{}, err
	}
	if rec.Email == "" {
		rec.Email = id.Email
	}

	changed := s.Evaluator.Reconcile(ctx, rec, now)
	tier := s.Evaluator.Tier(rec, now)
	decision := s.Tracker.Admit(ctx, rec, now, tier)

	if decision.Allowed || changed {
		s.saveBestEffort(ctx, rec, "search")
	}
	return decision, nil
}

// saveBestEffort persists the record without failing the request. The
// admission was already granted; losing the write costs at most one quota
// unit, which the failure metric makes visible.
func (s *Server) saveBestEffort(ctx context.Context, rec *types.UserRecord, op string) {
	if err := s.Records.Save(ctx, rec); err != nil {
		s.Metrics.StoreSaveFailed(ctx, op)
		s.Logger.Warn("record save failed after admission",
			"user_id", rec.UserID,
			"operation", op,
			"error", err.Error(),
		)
	}
}

// fillResults populates venue results and the summary on a best-effort
// basis. Collaborator failures degrade the response instead of failing it;
// the quota unit was already spent and the client gets what is available.
func (s *Server) fillResults(ctx context.Context, resp *searchResponse, query, location string) {
	if s.Places != nil {
		venues, err := s.Places.Search(ctx, query, location)
		if err != nil {
			s.Logger.Warn("venue lookup failed",
				"error", err.Error(),
			)
		} else {
			resp.Venues = venues
		}
	}

	if s.Completion != nil {
		text, model, err := s.Completion.Complete(ctx, summaryPrompt(query, location, resp.Venues))
		if err != nil {
			s.Logger.Warn("summary generation failed",
				"error", err.Error(),
			)
			return
		}
		resp.Summary = text
		resp.Model = model
	}
}

func summaryPrompt(query, location string, venues []types.VenueSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend where to eat for %q", query)
	if location != "" {
		fmt.Fprintf(&b, " in %s", location)
	}
	b.WriteString(".")
	for i, v := range venues {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "\n- %s (rating %.1f) %s", v.Name, v.Rating, v.Address)
	}
	return b.String()
}

// denialError converts a quota denial into the structured error the client
// sees, keeping the tier and allowance in the details.
func denialError(decision types.AdmissionDecision) *types.AppError {
	var message string
	switch decision.DenialCode {
	case types.ErrCodeLimitMonthlySearches:
		message = "monthly search limit reached"
	case types.ErrCodeLimitTrialDaily:
		message = "daily trial limit reached"
	case types.ErrCodeLimitAnonymousDaily:
		message = "daily limit reached; sign in with an email to continue"
	default:
		message = "request not admitted"
	}
	return types.NewAppErrorWithDetails(decision.DenialCode, message, nil,
		map[string]any{"tier": decision.Tier})
}
