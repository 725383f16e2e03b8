// Package winctl implements spec.md §4.2's window-control abstraction: a
// polymorphic handle over {postMessage, onMessage, setVisible, navigate,
// close} plus an observable, write-once pinnedOrigin slot, and the three
// concrete variants (Outer/Iframe, Outer/Popup, Inner/PostMessage), plus two Go-native host-channel pairs used to actually
// exercise them without a browser runtime.
package winctl

import (
	"sync"

	// Packages
	bridge "github.com/mutablelogic/go-mcp-bridge"
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// Handler receives a raw inbound message and the origin the host reported
// for it. Handlers only ever see messages that have already passed the
// pinning filter (spec.md §4.2): before pinning, every message is delivered;
// after pinning, only messages from the pinned origin are.
type Handler func(origin string, data []byte)

// WindowControl is the capability set spec.md §4.2 defines. Not every
// concrete variant implements every capability meaningfully — Navigate and
// SetVisible are no-ops for PostMessageInnerControl (whose Close only
// releases its channel), and SetVisible is a no-op for PopupWindowControl.
type WindowControl interface {
	// PostMessage sends data. Before pinning, targetOrigin may be "*"
	// (wildcard, at most once per container) or a named origin; after
	// pinning it must be the pinned origin, and wildcard is refused
	// (invariant 4).
	PostMessage(data []byte, targetOrigin string) error

	// OnMessage registers a handler for inbound messages and returns an
	// unsubscribe function. Registrations are scoped to a handshake;
	// callers MUST unsubscribe on handshake completion or failure.
	OnMessage(h Handler) (unsubscribe func())

	// SetVisible shows or hides the container, where meaningful.
	SetVisible(visible bool) error

	// Navigate points the container at url, where meaningful. The phase is
	// carried by url itself: outer.RunSetup passes a url ending in "#setup",
	// outer.Connect passes one without it.
	Navigate(url string) error

	// Close tears down the container and unsubscribes all listeners. Must
	// be idempotent.
	Close() error

	// PinnedOrigin returns the pinned origin and whether pinning has
	// happened yet.
	PinnedOrigin() (string, bool)

	// Pin records origin as the sole acceptable sender/target origin for
	// the remainder of the container's lifetime. Called by the handshake
	// engine once its own allowlist/version validation on the first
	// inbound message has passed (spec.md §4.3 step 2). Returns false if
	// already pinned.
	Pin(origin string) bool
}

// HostChannel is the one real binding point between this library and an
// actual message-passing host: in a browser build this would wrap
// window.postMessage/addEventListener on a js.Value; here it is satisfied by
// the in-memory pair (pkg/winctl/memory.go) and the WebSocket-bridged pair
// (pkg/winctl/websocket.go). All three WindowControl variants are thin
// wrappers around a HostChannel plus the shared pinning/navigation state.
type HostChannel interface {
	// Send transmits data to the peer. The host is responsible for tagging
	// the delivered message with this side's own origin when the peer
	// receives it — HostChannel implementations do not see targetOrigin
	// themselves; filtering against it is pinning's job, one layer up.
	Send(data []byte) error

	// Subscribe registers a raw receiver; origin is the sender's reported
	// origin as the host observed it (e.g., a MessageEvent.origin).
	Subscribe(h Handler) (unsubscribe func())

	// Close releases the channel and unsubscribes all listeners.
	Close() error
}

////////////////////////////////////////////////////////////////////////////
// PINNING

// pinning implements spec.md §4.2's interception behavior shared by every
// WindowControl variant: filter inbound messages once pinned, police
// wildcard-target usage, and expose the write-once pinned-origin slot.
type pinning struct {
	mu           sync.Mutex
	pinned       util.PinnedOrigin
	wildcardUsed bool
}

// acceptInbound reports whether a message from origin should reach the
// registered handler: always true before pinning (the handshake engine
// decides whether to Pin based on its own allowlist check), origin-matched
// after (invariant 2/3, OriginDrift dropped silently).
func (p *pinning) acceptInbound(origin string) bool {
	pinnedOrigin, isPinned := p.pinned.Get()
	if !isPinned {
		return true
	}
	return util.MatchOrigin(pinnedOrigin, origin)
}

// resolveTarget validates a requested targetOrigin against the wildcard and
// pinning rules, returning an error if the send must be refused.
func (p *pinning) resolveTarget(targetOrigin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pinnedOrigin, isPinned := p.pinned.Get()
	if targetOrigin == "*" {
		if isPinned {
			return bridge.ErrBadParameter.With("wildcard target forbidden after pinning")
		}
		if p.wildcardUsed {
			return bridge.ErrBadParameter.With("wildcard target already used this phase")
		}
		p.wildcardUsed = true
		return nil
	}
	if !isPinned {
		// Not yet pinned and not sending wildcard: still permitted (e.g. a
		// reply naming the origin it just learned from the first inbound
		// message) as long as it matches what Pin will be called with.
		return nil
	}
	if !util.MatchOrigin(pinnedOrigin, targetOrigin) {
		return bridge.ErrBadParameter.With("target origin does not match pinned origin")
	}
	return nil
}

func (p *pinning) pin(origin string) bool {
	return p.pinned.Pin(origin)
}

func (p *pinning) get() (string, bool) {
	return p.pinned.Get()
}
