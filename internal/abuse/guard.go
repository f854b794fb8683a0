// Package abuse screens search traffic for spam queries and bot-like
// request patterns. State is in-memory and per-process: flags protect the
// service from sustained abuse within a deployment's lifetime, they are not
// a durable ban list.
package abuse

import (
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

const (
	// maxQueryLen rejects queries long enough to be payload smuggling
	// rather than a food search.
	maxQueryLen = 200

	// timingSampleSize is how many recent requests feed the bot-timing
	// heuristic.
	timingSampleSize = 5

	// timingTolerance flags a client whose request intervals are all
	// within this much of each other. Humans do not click on a metronome.
	timingTolerance = 2 * time.Second

	// sampleWindow bounds how long request timestamps are retained.
	sampleWindow = time.Hour
)

// queryPattern pairs a compiled pattern with the label recorded when it
// matches.
type queryPattern struct {
	re     *regexp.Regexp
	reason string
}

var queryPatterns = []queryPattern{
	{regexp.MustCompile(`(?i)\b(buy|sell|cheap|discount|offer|deal)\b`), "commercial_spam"},
	{regexp.MustCompile(`(.)\1{10,}`), "repetitive_chars"},
	{regexp.MustCompile(`(?i)(http|www\.|\.com|@.*\.)`), "contains_url_email"},
	{regexp.MustCompile(`(?i)\b(union|select|drop|insert|delete|script)\b`), "injection_attempt"},
}

// Guard holds the per-fingerprint abuse state.
type Guard struct {
	logger *slog.Logger

	mu      sync.Mutex
	recent  map[string][]time.Time
	flagged map[string]string
}

// NewGuard creates a Guard.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{
		logger:  logger,
		recent:  make(map[string][]time.Time),
		flagged: make(map[string]string),
	}
}

// CheckQuery screens the query text. It is stateless; a rejected query does
// not by itself flag the client.
func (g *Guard) CheckQuery(query string) error {
	if len(query) > maxQueryLen {
		return types.NewAppError(types.ErrCodeValidationQueryTooLong,
			"search query is too long", nil)
	}
	for _, p := range queryPatterns {
		if p.re.MatchString(query) {
			g.logger.Warn("search query rejected",
				"reason", p.reason,
			)
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
				"search query contains invalid content", nil,
				map[string]any{"reason": p.reason})
		}
	}
	return nil
}

// Observe records a request from the fingerprint and reports whether the
// client is (now) flagged. Flagging is sticky for the process lifetime.
func (g *Guard) Observe(fingerprint string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reason, ok := g.flagged[fingerprint]; ok {
		return types.NewAppErrorWithDetails(types.ErrCodePermissionFlaggedClient,
			"automated behavior detected", nil,
			map[string]any{"reason": reason})
	}

	samples := append(g.prune(g.recent[fingerprint], now), now)
	if len(samples) > timingSampleSize {
		samples = samples[len(samples)-timingSampleSize:]
	}
	g.recent[fingerprint] = samples

	if len(samples) == timingSampleSize && metronomic(samples) {
		g.flagged[fingerprint] = "regular_timing_pattern"
		g.logger.Warn("client flagged for bot-like timing",
			"fingerprint", fingerprint,
		)
		return types.NewAppError(types.ErrCodePermissionFlaggedClient,
			"automated behavior detected", nil)
	}
	return nil
}

// IsFlagged reports whether the fingerprint has been flagged.
func (g *Guard) IsFlagged(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flagged[fingerprint]
	return ok
}

func (g *Guard) prune(samples []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-sampleWindow)
	kept := samples[:0]
	for _, s := range samples {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

// metronomic reports whether consecutive request intervals are all within
// timingTolerance of the first interval.
func metronomic(samples []time.Time) bool {
	first := samples[1].Sub(samples[0])
	for i := 2; i < len(samples); i++ {
		interval := samples[i].Sub(samples[i-1])
		diff := interval - first
		if diff < 0 {
			diff = -diff
		}
		if diff >= timingTolerance {
			return false
		}
	}
	return true
}
