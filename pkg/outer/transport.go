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
// TRANSPORT PHASE (spec.md §4.3 "Transport (Outer perspective)")

// Connect drives the Outer side of the transport handshake and, on success,
// leaves the Transport in StateConnected so Send/OnMessage take over.
// sessionID may be empty, in which case a new one is minted (the fresh-
// session path); passing the id that SessionID reports after an earlier
// RunSetup resumes that session. Connect must run over a freshly constructed
// Transport/WindowControl pair — RunSetup's container is closed once it
// returns (spec.md §3), so it can never be reused for Connect.
func (t *Transport) Connect(ctx context.Context, url string, sessionID string) (err error) {
	spanCtx, span := t.tracer.Start(ctx, "outer.Connect")
	defer func() { endSpan(span, err) }()

	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return bridge.ErrBadParameter.With("Connect called out of sequence")
	}
	t.state = StateAwaitingHandshake
	t.mu.Unlock()

	t.subscribe()

	if err := t.wc.Navigate(url); err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}

	tctx, cancel := util.WithTimeout(spanCtx, t.timeout)
	defer cancel()

	raw, err := t.waitFor(tctx, schema.TypeTransportHandshake)
	if err != nil {
		t.closeForErr(err)
		return err
	}

	var hs schema.TransportHandshake
	if jerr := json.Unmarshal(raw.data, &hs); jerr != nil {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrUnexpectedMessage.With("malformed transport handshake")
	}
	if !t.versionInRange(hs.ProtocolVersion) {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrProtocolVersionMismatch.With(hs.ProtocolVersion)
	}
	if !t.allowed.Accepts(raw.origin) {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrOriginRejected.With(raw.origin)
	}
	if !t.wc.Pin(raw.origin) {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrOriginRejected.With("already pinned")
	}

	if sessionID == "" {
		sessionID = util.SessionID()
	}

	reply, err := json.Marshal(schema.NewTransportHandshakeReply(t.maxVersion, sessionID))
	if err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}
	if err := t.wc.PostMessage(reply, raw.origin); err != nil {
		t.closeWithReason(closeReasonProtocolError)
		return err
	}

	raw, err = t.waitFor(tctx, schema.TypeTransportAccepted)
	if err != nil {
		t.closeForErr(err)
		return err
	}

	var accepted schema.TransportAccepted
	if jerr := json.Unmarshal(raw.data, &accepted); jerr != nil {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrUnexpectedMessage.With("malformed transport accepted")
	}
	if accepted.SessionID != sessionID {
		t.closeWithReason(closeReasonProtocolError)
		return bridge.ErrUnexpectedMessage.With("session id mismatch on transport accept")
	}

	t.mu.Lock()
	t.sessionID = sessionID
	t.state = StateConnected
	t.mu.Unlock()
	return nil
}

// SessionID returns the session id negotiated by the most recent RunSetup or
// Connect call, or "" if neither has completed.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}
