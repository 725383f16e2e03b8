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
// TRANSPORT PHASE (spec.md §4.3 "Transport (Inner perspective)")

// Connect drives the Inner side of the transport handshake: send
// MCP_TRANSPORT_HANDSHAKE (wildcard target), wait for
// MCP_TRANSPORT_HANDSHAKE_REPLY, validate it, pin the Outer's origin, then
// send MCP_TRANSPORT_ACCEPTED to finish. wantSessionID may be non-empty to
// resume a specific session (the value returned by an earlier PrepareSetup);
// if the Outer's reply names a different session id, Connect fails rather
// than silently adopting the Outer's choice. Connect must run over a
// freshly constructed Transport/WindowControl pair — PrepareSetup's
// container is closed once CompleteSetup returns (spec.md §3), so it can
// never be reused for Connect.
func (t *Transport) Connect(ctx context.Context, wantSessionID string) (err error) {
	spanCtx, span := t.tracer.Start(ctx, "inner.Connect")
	defer func() { endSpan(span, err) }()

	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return bridge.ErrBadParameter.With("Connect called out of sequence")
	}
	t.state = StateAwaitingReply
	t.mu.Unlock()

	t.subscribe()

	tctx, cancel := util.WithTimeout(spanCtx, t.timeout)
	defer cancel()

	th, err := json.Marshal(schema.NewTransportHandshake(t.version))
	if err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}
	if err := t.wc.PostMessage(th, "*"); err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}

	raw, err := t.waitFor(tctx, schema.TypeTransportHandshakeRep)
	if err != nil {
		t.closeForErr(err)
		return err
	}

	var reply schema.TransportHandshakeReply
	if jerr := json.Unmarshal(raw.data, &reply); jerr != nil {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrUnexpectedMessage.With("malformed transport handshake reply")
	}
	if reply.ProtocolVersion != t.version {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrProtocolVersionMismatch.With(reply.ProtocolVersion)
	}
	if !t.allowed.Accepts(raw.origin) {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrOriginRejected.With(raw.origin)
	}
	if wantSessionID != "" && reply.SessionID != wantSessionID {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrUnexpectedMessage.With("session id mismatch on transport handshake reply")
	}
	if !t.wc.Pin(raw.origin) {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrOriginRejected.With("already pinned")
	}

	accepted, err := json.Marshal(schema.NewTransportAccepted(reply.SessionID))
	if err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}
	if err := t.wc.PostMessage(accepted, raw.origin); err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}

	t.mu.Lock()
	t.sessionID = reply.SessionID
	t.state = StateConnected
	t.mu.Unlock()
	return nil
}
