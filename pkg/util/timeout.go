package util

import (
	"context"
	"time"
)

// DefaultTimeout is the per-phase handshake timeout (spec.md §4.3, §6).
const DefaultTimeout = 30 * time.Second

// WithTimeout derives a child context bounded by d from parent. d <= 0 means
// the handshake should fail immediately (spec.md §8 boundary: timeoutMs: 0).
// Grounded on the teacher's stdlib-context-only cancellation idiom
// (pkg/mcp/client/client.go's listen(ctx), context.WithCancel usage).
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(parent, d)
}
