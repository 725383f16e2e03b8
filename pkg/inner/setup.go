package inner

import (
	"context"
	"encoding/json"

	// Packages
	bridge "github.com/mutablelogic/go-mcp-bridge"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
)

////////////////////////////////////////////////////////////////////////////
// SETUP PHASE (spec.md §4.3 "Setup (Inner perspective)")

// PrepareSetup drives the Inner side of the setup handshake up through
// receiving the Outer's reply: send MCP_SETUP_HANDSHAKE (wildcard target,
// since the Outer's origin is not yet known), wait for
// MCP_SETUP_HANDSHAKE_REPLY, validate it, and pin the Outer's origin. The
// caller (the embedded application performing real setup work — auth,
// configuration, etc.) then calls CompleteSetup once it is done, which sends
// MCP_SETUP_COMPLETE and ends the phase. Ending the phase closes the
// container (spec.md §3); Connect must be driven by a separate Transport
// over a separate, freshly constructed WindowControl.
func (t *Transport) PrepareSetup(ctx context.Context, requiresVisibleSetup bool) (sessionID string, err error) {
	spanCtx, span := t.tracer.Start(ctx, "inner.PrepareSetup")
	defer func() { endSpan(span, err) }()

	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return "", bridge.ErrBadParameter.With("PrepareSetup called out of sequence")
	}
	t.state = StateAwaitingReply
	t.mu.Unlock()

	t.subscribe()

	tctx, cancel := util.WithTimeout(spanCtx, t.timeout)
	defer cancel()

	hs, err := json.Marshal(schema.NewSetupHandshake(t.version, requiresVisibleSetup))
	if err != nil {
		t.endPhase()
		return "", err
	}
	if err := t.wc.PostMessage(hs, "*"); err != nil {
		t.endPhase()
		return "", err
	}

	raw, err := t.waitFor(tctx, schema.TypeSetupHandshakeReply)
	if err != nil {
		t.endPhase()
		return "", err
	}

	var reply schema.SetupHandshakeReply
	if jerr := json.Unmarshal(raw.data, &reply); jerr != nil {
		t.endPhase()
		return "", bridge.ErrUnexpectedMessage.With("malformed setup handshake reply")
	}
	if reply.ProtocolVersion != t.version {
		t.endPhase()
		return "", bridge.ErrProtocolVersionMismatch.With(reply.ProtocolVersion)
	}
	if !t.allowed.Accepts(raw.origin) {
		t.endPhase()
		return "", bridge.ErrOriginRejected.With(raw.origin)
	}
	if !t.wc.Pin(raw.origin) {
		t.endPhase()
		return "", bridge.ErrOriginRejected.With("already pinned")
	}

	t.mu.Lock()
	t.sessionID = reply.SessionID
	t.state = StateAwaitingCompleteAck
	t.mu.Unlock()

	return reply.SessionID, nil
}

// CompleteSetup sends MCP_SETUP_COMPLETE to the pinned Outer origin and ends
// the setup phase. status should be SetupStatusError with setupErr populated
// to report a failed setup (spec.md's SetupError), or SetupStatusSuccess
// with serverTitle/transportVisibility/ephemeralMessage populated.
func (t *Transport) CompleteSetup(status schema.SetupStatus, serverTitle, ephemeralMessage string, visibility schema.TransportVisibility, setupErr *schema.SetupError) error {
	t.mu.Lock()
	if t.state != StateAwaitingCompleteAck {
		t.mu.Unlock()
		return bridge.ErrBadParameter.With("CompleteSetup called out of sequence")
	}
	t.mu.Unlock()

	origin, ok := t.wc.PinnedOrigin()
	if !ok {
		return bridge.ErrClosed.With("no pinned origin")
	}

	data, err := json.Marshal(schema.SetupComplete{
		Type:                schema.TypeSetupComplete,
		Status:              status,
		ServerTitle:         serverTitle,
		EphemeralMessage:    ephemeralMessage,
		TransportVisibility: visibility,
		Error:               setupErr,
	})
	if err != nil {
		return err
	}
	if err := t.wc.PostMessage(data, origin); err != nil {
		return err
	}
	t.endPhase()
	return nil
}
