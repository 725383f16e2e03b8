package outer

import (
	"context"
	"encoding/json"

	// Packages
	bridge "github.com/mutablelogic/go-mcp-bridge"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
)

////////////////////////////////////////////////////////////////////////////
// SETUP PHASE (spec.md §4.3 "Setup (Outer perspective)")

// RunSetup drives the Outer side of the setup handshake: navigate the
// container to url with a "#setup" fragment, wait for MCP_SETUP_HANDSHAKE,
// validate protocol version and origin, pin the origin, reply, then wait for
// MCP_SETUP_COMPLETE. It must be called on a freshly constructed Transport
// (or one that has not yet run a phase).
func (t *Transport) RunSetup(ctx context.Context, url string) (result *SetupResult, err error) {
	spanCtx, span := t.tracer.Start(ctx, "outer.RunSetup")
	defer func() { endSpan(span, err) }()

	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return nil, bridge.ErrBadParameter.With("RunSetup called out of sequence")
	}
	t.state = StateAwaitingHandshake
	t.mu.Unlock()

	t.subscribe()

	if err := t.wc.Navigate(url + "#setup"); err != nil {
		t.failSetup()
		return nil, err
	}

	tctx, cancel := util.WithTimeout(spanCtx, t.timeout)
	defer cancel()

	raw, err := t.waitFor(tctx, schema.TypeSetupHandshake)
	if err != nil {
		t.failSetup()
		return nil, err
	}

	var hs schema.SetupHandshake
	if err := json.Unmarshal(raw.data, &hs); err != nil {
		t.failSetup()
		return nil, bridge.ErrUnexpectedMessage.With("malformed setup handshake")
	}
	if !t.versionInRange(hs.ProtocolVersion) {
		t.failSetup()
		return nil, bridge.ErrProtocolVersionMismatch.With(hs.ProtocolVersion)
	}
	if !t.allowed.Accepts(raw.origin) {
		t.failSetup()
		return nil, bridge.ErrOriginRejected.With(raw.origin)
	}
	if !t.wc.Pin(raw.origin) {
		t.failSetup()
		return nil, bridge.ErrOriginRejected.With("already pinned")
	}

	if hs.RequiresVisibleSetup {
		if err := t.wc.SetVisible(true); err != nil {
			t.failSetup()
			return nil, err
		}
	}

	sessionID := util.SessionID()
	t.mu.Lock()
	t.sessionID = sessionID
	t.state = StateAwaitingComplete
	t.mu.Unlock()

	reply, err := json.Marshal(schema.NewSetupHandshakeReply(t.maxVersion, sessionID))
	if err != nil {
		t.failSetup()
		return nil, err
	}
	if err := t.wc.PostMessage(reply, raw.origin); err != nil {
		t.failSetup()
		return nil, err
	}

	raw, err = t.waitFor(tctx, schema.TypeSetupComplete)
	if err != nil {
		t.failSetup()
		return nil, err
	}

	var complete schema.SetupComplete
	if err := json.Unmarshal(raw.data, &complete); err != nil {
		t.failSetup()
		return nil, bridge.ErrUnexpectedMessage.With("malformed setup complete")
	}

	_ = t.wc.SetVisible(false)
	t.endPhase()

	result = &SetupResult{
		ServerTitle:         complete.ServerTitle,
		TransportVisibility: complete.TransportVisibility,
		EphemeralMessage:    complete.EphemeralMessage,
		Error:               complete.Error,
	}
	if complete.Status == schema.SetupStatusError {
		return result, bridge.ErrSetupFailure.With(complete.Error.Error())
	}
	return result, nil
}

// versionInRange reports whether v falls within [minVersion,maxVersion]
// using ordinary string comparison — protocol versions in this transport
// are single-segment ("1.0", "1.1", ...) so lexicographic order matches
// numeric order within the supported range.
func (t *Transport) versionInRange(v string) bool {
	return v >= t.minVersion && v <= t.maxVersion
}

// failSetup unwinds a setup attempt that did not reach MCP_SETUP_COMPLETE.
func (t *Transport) failSetup() {
	t.endPhase()
}

// endPhase closes out the setup phase: unsubscribe and close the container
// (spec.md §4.3 Setup step 6, §3's container-bound-to-one-phase lifecycle
// invariant), whether the phase succeeded or failed. The container — and
// with it this Transport, since they're bound together — is done after one
// phase; Connect must be driven by a freshly constructed Transport over a
// freshly constructed WindowControl, not this one.
func (t *Transport) endPhase() {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.state = StateClosed
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	t.wc.Close()
}
