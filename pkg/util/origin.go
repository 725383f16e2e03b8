// Package util provides small, single-purpose helpers shared by the outer
// and inner transports: origin allowlist matching, session id minting, and a
// timeout helper for handshake waits.
package util

////////////////////////////////////////////////////////////////////////////
// TYPES

// AllowedOrigins is an endpoint's configured allowlist. "*" accepts any
// origin; otherwise membership is an exact string match against the peer's
// reported origin (spec.md §3 AllowedOriginList, §9 Open Question #2 — no
// scheme/port normalization is performed). An empty list rejects all.
type AllowedOrigins []string

// Accepts reports whether origin is permitted by the allowlist.
func (a AllowedOrigins) Accepts(origin string) bool {
	for _, o := range a {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// MatchOrigin reports whether the pinned origin equals candidate, by exact
// string match only. This is the single place that encodes the
// pinned-origin comparison rule so it cannot drift between outer and inner.
func MatchOrigin(pinned, candidate string) bool {
	return pinned == candidate
}
