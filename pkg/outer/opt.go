package outer

import (
	"time"

	// Packages
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
)

/////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt configures a Transport at construction time, mirroring the teacher's
// functional-options idiom (pkg/mcp/opt.go: type Opt func(*Server) error).
type Opt func(*Transport) error

/////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func (t *Transport) apply(opts ...Opt) error {
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return err
		}
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithAllowedOrigins sets the allowlist checked on the first inbound message
// of each phase (spec.md AllowedOriginList). Mandatory — New returns an
// error if it is never set (an empty allowlist rejects everything, which is
// a valid but unusual choice, so it must be explicit).
func WithAllowedOrigins(origins ...string) Opt {
	return func(t *Transport) error {
		t.allowed = util.AllowedOrigins(origins)
		t.allowedSet = true
		return nil
	}
}

// WithProtocolRange sets the inclusive [min,max] supported protocol version
// window. Defaults to ["1.0","1.0"] if never called.
func WithProtocolRange(min, max string) Opt {
	return func(t *Transport) error {
		t.minVersion = min
		t.maxVersion = max
		return nil
	}
}

// WithTimeout sets the per-phase handshake timeout. Defaults to
// util.DefaultTimeout (30s). A timeout <= 0 causes handshakes to fail
// immediately (spec.md §8 boundary).
func WithTimeout(d time.Duration) Opt {
	return func(t *Transport) error {
		t.timeout = d
		t.timeoutSet = true
		return nil
	}
}
