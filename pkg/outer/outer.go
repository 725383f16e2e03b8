// Package outer implements the Outer side of the cross-window MCP bridge
// transport (spec.md §4.3, §4.4): it owns the container, drives the setup
// and transport handshake state machines, and pumps MCP_MESSAGE frames to
// and from the embedding MCP runtime once Connected.
package outer

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

///////////////////////////////////////////////////////////////////////////////
// TYPES

// closeReason records why Close ran, surfaced via Transport.CloseReason for
// callers (and tests) that want to distinguish a deliberate shutdown from a
// protocol failure (SPEC_FULL.md §12 "Structured close reasons").
type closeReason int

const (
	closeReasonNone closeReason = iota
	closeReasonUser
	closeReasonTimeout
	closeReasonProtocolError
	closeReasonPeer
)

// State is the Outer's lifecycle state for whichever single phase this
// Transport drives (spec.md §4.3: RunSetup runs AwaitingHandshake ->
// AwaitingComplete -> Closed; Connect runs AwaitingHandshake -> Connected ->
// Closed). A Transport and its WindowControl are bound to exactly one phase
// (spec.md §3): RunSetup always ends the container closed, so Connect must
// be driven by a separate Transport over a separate, freshly constructed
// WindowControl, never the one RunSetup used.
type State int

const (
	StateIdle State = iota
	StateAwaitingHandshake
	StateAwaitingComplete
	StateConnected
	StateClosed
)

// SetupResult is delivered to the caller of RunSetup (spec.md §3).
type SetupResult struct {
	ServerTitle         string
	TransportVisibility schema.TransportVisibility
	EphemeralMessage    string
	Error               *schema.SetupError
}

// MessageHandler receives JSON-RPC payloads carried by MCP_MESSAGE once
// Connected.
type MessageHandler func(payload json.RawMessage)

// SetupRequiredHandler is notified of mid-session MCP_SETUP_REQUIRED
// messages.
type SetupRequiredHandler func(reason schema.ReSetupReason, message string, canContinue bool)

// rawMsg is a decoded-enough inbound message handed to whichever part of
// the state machine is waiting for it.
type rawMsg struct {
	origin string
	tag    string
	data   []byte
}

type rawMsgOrErr struct {
	msg rawMsg
	err error
}

// Transport is the embedding API surface spec.md §6 names: OuterFrameTransport.
type Transport struct {
	wc     winctl.WindowControl
	tracer trace.Tracer

	allowed    util.AllowedOrigins
	allowedSet bool
	minVersion string
	maxVersion string
	timeout    time.Duration
	timeoutSet bool

	mu          sync.Mutex
	state       State
	sessionID   string
	pendingTag  string
	pendingCh   chan rawMsgOrErr
	unsubscribe func()
	onMessage   MessageHandler
	onSetupReq  SetupRequiredHandler
	closeReason closeReason
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates an Outer transport over wc. WithAllowedOrigins is mandatory.
func New(wc winctl.WindowControl, opts ...Opt) (*Transport, error) {
	if wc == nil {
		return nil, bridge.ErrBadParameter.With("nil window control")
	}
	t := &Transport{
		wc:         wc,
		minVersion: "1.0",
		maxVersion: "1.0",
		timeout:    util.DefaultTimeout,
		tracer:     otel.Tracer("github.com/mutablelogic/go-mcp-bridge/pkg/outer"),
	}
	if err := t.apply(opts...); err != nil {
		return nil, err
	}
	if !t.allowedSet {
		return nil, bridge.ErrBadParameter.With("allowed origins must be configured")
	}
	return t, nil
}

// Close is idempotent: it transitions to Closed, unsubscribes listeners, and
// closes the container.
func (t *Transport) Close() error {
	return t.closeWithReason(closeReasonUser)
}

// CloseReason reports why the transport closed, or closeReasonNone if it is
// still open. RunSetup closes through endPhase, which records no reason, so
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

///////////////////////////////////////////////////////////////////////////////
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

// OnMessage registers the callback invoked for every inbound MCP_MESSAGE
// payload once Connected.
func (t *Transport) OnMessage(fn MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnSetupRequired registers the callback invoked for mid-session
// MCP_SETUP_REQUIRED messages.
func (t *Transport) OnSetupRequired(fn SetupRequiredHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSetupReq = fn
}

// State returns the transport's current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS — DISPATCH

// subscribe installs the single dispatch point required by spec.md §9
// ("never string-sniff the tag outside one dispatch point"). Call once per
// phase; the previous subscription (if any) is torn down first.
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

// dispatch is the sole point that inspects a message tag (spec.md §9). It
// either hands the message to whoever is waiting for it, or — once
// Connected — routes MCP_MESSAGE/MCP_SETUP_REQUIRED to the registered
// callbacks. Invoking callbacks outside the lock preserves the
// "handler runs to completion before the next dispatch" guarantee without
// risking deadlock against Send/Close.
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
		case schema.TypeSetupRequired:
			fn := t.onSetupReq
			t.mu.Unlock()
			var m schema.SetupRequired
			if json.Unmarshal(data, &m) != nil {
				return
			}
			if fn != nil {
				fn(m.Reason, m.Message, m.CanContinue)
			}
			if !m.CanContinue {
				t.closeWithReason(closeReasonPeer)
			}
			return
		case schema.TypeSetupHandshake, schema.TypeSetupHandshakeReply,
			schema.TypeTransportHandshake, schema.TypeTransportHandshakeRep,
			schema.TypeTransportAccepted:
			// Duplicate handshake message after pinning: dropped.
			t.mu.Unlock()
			return
		default:
			t.mu.Unlock()
			t.failAsync(bridge.ErrUnexpectedMessage.Withf("tag %q while connected", tag))
			return
		}
	default:
		// A valid MCP_* tag arrived that isn't the step currently being
		// awaited, before pinning: an out-of-order handshake step, which
		// spec.md treats as a protocol error, not noise to ignore (the
		// OriginDrift leniency only applies after pinning).
		t.mu.Unlock()
		t.failAsync(bridge.ErrUnexpectedMessage.Withf("tag %q unexpected before pinning", tag))
		return
	}
}

// waitFor blocks until a message tagged tag arrives, ctx is done, or Close
// is called. It must not be called while holding t.mu.
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

// closeForErr closes the transport with a reason inferred from err, used by
// the setup/transport handshake engines when unwinding on failure.
func (t *Transport) closeForErr(err error) error {
	if errors.Is(err, bridge.ErrHandshakeTimeout) {
		return t.closeWithReason(closeReasonTimeout)
	}
	return t.closeWithReason(closeReasonProtocolError)
}

// failAsync closes the transport in response to a protocol error observed
// from within dispatch (which must not call Close while still holding t.mu).
// A handshake step blocked in waitFor receives err.
func (t *Transport) failAsync(err error) {
	t.mu.Lock()
	if t.pendingCh != nil {
		t.pendingCh <- rawMsgOrErr{err: err}
		t.pendingCh = nil
	}
	t.mu.Unlock()
	t.closeWithReason(closeReasonProtocolError)
}

///////////////////////////////////////////////////////////////////////////////
// TRACING

// endSpan records err on span (if any) and ends it, mirroring go-llm's
// pkg/manager span-wrapping idiom (otel.StartSpan/defer endSpan(err)), with
// the wrapping done directly against go.opentelemetry.io/otel/trace rather
// than through go-client's internal helper (see DESIGN.md "Dropped teacher
// dependencies" for why go-client itself isn't wired in). With no SDK
// TracerProvider registered, otel.Tracer returns a no-op tracer, so spans
// cost nothing when tracing isn't configured.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
