// Package inner implements the Inner side of the cross-window MCP bridge
// transport (spec.md §4.3, §4.4): the embedded MCP server speaks first in
// both the setup and transport handshakes, since only it knows when its
// container has finished loading. The session id is always named by the
// Outer's reply.
package inner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	// Packages
	bridge "github.com/mutablelogic/go-mcp-bridge"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
	winctl "github.com/mutablelogic/go-mcp-bridge/pkg/winctl"
	otel "go.opentelemetry.io/otel"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// closeReason records why Close ran (SPEC_FULL.md §12 "Structured close
// reasons"), mirroring pkg/outer's closeReason.
type closeReason int

const (
	closeReasonNone closeReason = iota
	closeReasonUser
	closeReasonTimeout
	closeReasonProtocolError
	closeReasonPeer
)

// State is the Inner's lifecycle state for whichever single phase this
// Transport drives. A Transport and its WindowControl are bound to exactly
// one phase (spec.md §3): PrepareSetup/CompleteSetup always end the
// container closed, so Connect must be driven by a separate Transport over
// a separate, freshly constructed WindowControl, never the one setup used.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
	StateAwaitingCompleteAck
	StateConnected
	StateClosed
)

// MessageHandler receives JSON-RPC payloads carried by MCP_MESSAGE once
// Connected.
type MessageHandler func(payload json.RawMessage)

type rawMsg struct {
	origin string
	tag    string
	data   []byte
}

type rawMsgOrErr struct {
	msg rawMsg
	err error
}

// Transport is the embedding API surface spec.md §6 names:
// InnerPostMessageTransport.
type Transport struct {
	wc     winctl.WindowControl
	tracer trace.Tracer

	allowed    util.AllowedOrigins
	allowedSet bool
	version    string
	timeout    time.Duration

	mu          sync.Mutex
	state       State
	sessionID   string
	pendingTag  string
	pendingCh   chan rawMsgOrErr
	unsubscribe func()
	onMessage   MessageHandler
	closeReason closeReason
}

////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates an Inner transport over wc. If WithAllowedOrigins is never
// called, the Inner accepts the Outer's reported origin unconditionally
// (an embedded server with no opinion about which host page it runs in) —
// unlike Outer, for which an allowlist is mandatory, since Outer is always
// the one deciding whether to trust the thing it embedded.
func New(wc winctl.WindowControl, opts ...Opt) (*Transport, error) {
	if wc == nil {
		return nil, bridge.ErrBadParameter.With("nil window control")
	}
	t := &Transport{
		wc:      wc,
		version: "1.0",
		timeout: util.DefaultTimeout,
		tracer:  otel.Tracer("github.com/mutablelogic/go-mcp-bridge/pkg/inner"),
		allowed: util.AllowedOrigins{"*"},
	}
	if err := t.apply(opts...); err != nil {
		return nil, err
	}
	return t, nil
}

// Close is idempotent.
func (t *Transport) Close() error {
	return t.closeWithReason(closeReasonUser)
}

// CloseReason reports why the transport closed, or closeReasonNone if it is
// still open. Ending the setup phase (PrepareSetup failing, or
// CompleteSetup) closes through endPhase, which records no reason, so
// CloseReason stays closeReasonNone after a setup phase in either outcome.
func (t *Transport) CloseReason() closeReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeReason
}

func (t *Transport) closeWithReason(reason closeReason) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosed
	t.closeReason = reason
	unsub := t.unsubscribe
	t.unsubscribe = nil
	if t.pendingCh != nil {
		t.pendingCh <- rawMsgOrErr{err: bridge.ErrPeerClosed.With("transport closed")}
		t.pendingCh = nil
	}
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	return t.wc.Close()
}

// closeForErr closes the transport with a reason inferred from err.
func (t *Transport) closeForErr(err error) error {
	if errors.Is(err, bridge.ErrHandshakeTimeout) {
		return t.closeWithReason(closeReasonTimeout)
	}
	return t.closeWithReason(closeReasonProtocolError)
}

////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Send wraps payload in MCP_MESSAGE and posts it to the pinned origin. Valid
// only when Connected.
func (t *Transport) Send(payload json.RawMessage) error {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return bridge.ErrClosed.With("not connected")
	}
	t.mu.Unlock()

	origin, ok := t.wc.PinnedOrigin()
	if !ok {
		return bridge.ErrClosed.With("no pinned origin")
	}
	data, err := json.Marshal(schema.NewMessage(payload))
	if err != nil {
		return err
	}
	return t.wc.PostMessage(data, origin)
}

// RequestReSetup sends MCP_SETUP_REQUIRED mid-session, asking the Outer to
// re-run the setup phase. If canContinue is false, the Inner closes its own
// side of the transport immediately after sending (spec.md §4.4).
func (t *Transport) RequestReSetup(reason schema.ReSetupReason, message string, canContinue bool) error {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return bridge.ErrClosed.With("not connected")
	}
	t.mu.Unlock()

	origin, ok := t.wc.PinnedOrigin()
	if !ok {
		return bridge.ErrClosed.With("no pinned origin")
	}
	data, err := json.Marshal(schema.NewSetupRequired(reason, message, canContinue))
	if err != nil {
		return err
	}
	if err := t.wc.PostMessage(data, origin); err != nil {
		return err
	}
	if !canContinue {
		return t.closeWithReason(closeReasonUser)
	}
	return nil
}

// OnMessage registers the callback invoked for every inbound MCP_MESSAGE
// payload once Connected.
func (t *Transport) OnMessage(fn MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// State returns the transport's current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID returns the session id negotiated by the most recent
// PrepareSetup or Connect call, or "" if neither has completed.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS — DISPATCH

func (t *Transport) subscribe() {
	t.mu.Lock()
	prev := t.unsubscribe
	t.mu.Unlock()
	if prev != nil {
		prev()
	}

	unsub := t.wc.OnMessage(func(origin string, data []byte) {
		t.dispatch(origin, data)
	})

	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()
}

// dispatch is the sole point that inspects a message tag (spec.md §9),
// mirroring pkg/outer's dispatch.
func (t *Transport) dispatch(origin string, data []byte) {
	var env schema.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	tag := env.Tag()
	if !schema.IsProtocolMessage(tag) {
		return
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	if t.pendingCh != nil && tag == t.pendingTag {
		ch := t.pendingCh
		t.pendingCh = nil
		t.mu.Unlock()
		ch <- rawMsgOrErr{msg: rawMsg{origin: origin, tag: tag, data: data}}
		return
	}

	switch t.state {
	case StateConnected:
		switch tag {
		case schema.TypeMessage:
			fn := t.onMessage
			t.mu.Unlock()
			var m schema.Message
			if json.Unmarshal(data, &m) == nil && fn != nil {
				fn(m.Payload)
			}
			return
		case schema.TypeSetupHandshake, schema.TypeSetupHandshakeReply,
			schema.TypeTransportHandshake, schema.TypeTransportHandshakeRep,
			schema.TypeTransportAccepted:
			t.mu.Unlock()
			return
		default:
			t.mu.Unlock()
			t.closeWithReason(closeReasonProtocolError)
			return
		}
	default:
		// A valid MCP_* tag arrived that isn't the step currently being
		// awaited, before pinning: an out-of-order handshake step, which
		// spec.md treats as a protocol error, not noise to ignore (the
		// OriginDrift leniency only applies after pinning).
		t.mu.Unlock()
		t.closeWithReason(closeReasonProtocolError)
		return
	}
}

func (t *Transport) waitFor(ctx context.Context, tag string) (rawMsg, error) {
	ch := make(chan rawMsgOrErr, 1)
	t.mu.Lock()
	t.pendingTag = tag
	t.pendingCh = ch
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		t.mu.Lock()
		if t.pendingCh == ch {
			t.pendingCh = nil
		}
		t.mu.Unlock()
		return rawMsg{}, bridge.ErrHandshakeTimeout.With(tag)
	case r := <-ch:
		return r.msg, r.err
	}
}

// endPhase closes out the setup phase: unsubscribe and close the container,
// whether PrepareSetup/CompleteSetup succeeded or failed, mirroring
// pkg/outer's endPhase. Connect must be driven by a freshly constructed
// Transport over a freshly constructed WindowControl, not this one.
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

////////////////////////////////////////////////////////////////////////////
// TRACING

// endSpan records err on span (if any) and ends it. See pkg/outer's endSpan
// for why this wraps go.opentelemetry.io/otel/trace directly rather than
// through go-client's internal helper.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
