package inner

import (
	"time"

	// Packages
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt configures a Transport at construction time.
type Opt func(*Transport) error

////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func (t *Transport) apply(opts ...Opt) error {
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return err
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithAllowedOrigins restricts which Outer origins this Inner will pin to.
// Defaults to {"*"} (accept any) if never called.
func WithAllowedOrigins(origins ...string) Opt {
	return func(t *Transport) error {
		t.allowed = util.AllowedOrigins(origins)
		t.allowedSet = true
		return nil
	}
}

// WithProtocolVersion sets the single protocol version this Inner speaks.
// Defaults to "1.0".
func WithProtocolVersion(version string) Opt {
	return func(t *Transport) error {
		t.version = version
		return nil
	}
}

// WithTimeout sets the per-phase handshake timeout. Defaults to
// util.DefaultTimeout (30s).
func WithTimeout(d time.Duration) Opt {
	return func(t *Transport) error {
		t.timeout = d
		return nil
	}
}
