// Package identity maps an optional user-supplied email, or an anonymous
// client fingerprint, to a stable user identifier.
//
// Email-derived and fingerprint-derived identifiers live in separate
// namespaces so an anonymous visitor can never collide with a real account.
// Fingerprints are best-effort: clients behind the same proxy with the same
// agent string legitimately share one, which is an accepted property of the
// anonymous tier, not a bug.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sowhat82/cravemap/internal/types"
)

const (
	// emailIDLen is the hex-prefix width of email-derived identifiers.
	// Collision probability is negligible at expected scale.
	emailIDLen = 16
	// fingerprintIDLen is the hex-prefix width of anonymous fingerprints.
	fingerprintIDLen = 12
	// anonPrefix namespaces anonymous identifiers away from email-derived ones.
	anonPrefix = "anon_"
)

// Resolver derives stable user identifiers from request attributes.
// The zero value is ready to use.
type Resolver struct{}

// NewResolver returns a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve produces a stable identity for the caller. If email is present and
// syntactically plausible it is normalized (trimmed, lowercased) and hashed;
// otherwise the client network address and agent string are combined into an
// anonymous fingerprint. A malformed email is not an error; it simply routes
// to the anonymous path.
func (r *Resolver) Resolve(email, remoteAddr, userAgent string) types.Identity {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if validEmail(normalized) {
		return types.Identity{
			UserID: hashPrefix(normalized, emailIDLen),
			Email:  normalized,
		}
	}
	return types.Identity{
		UserID:    anonPrefix + Fingerprint(remoteAddr, userAgent),
		Anonymous: true,
	}
}

// ForEmail resolves the identifier for a known email address, such as the
// billing email on a webhook event. The second return is false when the
// address is not plausible enough to derive an identifier from.
func (r *Resolver) ForEmail(email string) (types.Identity, bool) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !validEmail(normalized) {
		return types.Identity{}, false
	}
	return types.Identity{
		UserID: hashPrefix(normalized, emailIDLen),
		Email:  normalized,
	}, true
}

// Fingerprint derives the anonymous client fingerprint used both for
// identity resolution and for the coarse anonymous daily cap.
func Fingerprint(remoteAddr, userAgent string) string {
	return hashPrefix(hostOnly(remoteAddr)+"\x00"+userAgent, fingerprintIDLen)
}

// validEmail applies the same permissive syntactic check the product has
// always used: an address is plausible if it carries both '@' and '.'.
func validEmail(email string) bool {
	return strings.Contains(email, "@") && strings.Contains(email, ".")
}

// hostOnly strips a trailing :port from a remote address so the fingerprint
// is stable across ephemeral client ports. IPv6 literals keep their brackets.
func hostOnly(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i > 0 && !strings.Contains(remoteAddr[i:], "]") {
		return remoteAddr[:i]
	}
	return remoteAddr
}

func hashPrefix(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
