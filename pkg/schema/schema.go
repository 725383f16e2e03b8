// Package schema defines the wire protocol for the cross-window MCP bridge:
// the eight MCP_* message tags, the setup/transport phase split, and the
// type guards that classify an inbound envelope before any handshake state
// machine is allowed to touch it.
package schema

import (
	"encoding/json"
	"fmt"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// Phase is the wire phase a container instance is bound to for its lifetime.
type Phase int

const (
	PhaseTransport Phase = iota
	PhaseSetup
)

func (p Phase) String() string {
	if p == PhaseSetup {
		return "setup"
	}
	return "transport"
}

// Envelope is the outer shape every message on the channel is decoded into
// first, so that the Type field can be switched on before any phase-specific
// struct is unmarshalled. Any Type not beginning "MCP_" MUST be ignored by
// callers (invariant 1 in spec.md §3).
type Envelope struct {
	Type json.RawMessage `json:"type"`
}

// Tag returns the message's tag, or "" if the envelope cannot be decoded.
func (e Envelope) Tag() string {
	var tag string
	if err := json.Unmarshal(e.Type, &tag); err != nil {
		return ""
	}
	return tag
}

// IsProtocolMessage reports whether tag begins "MCP_", the minimum bar a
// message must clear before any endpoint accepts it (invariant 1).
func IsProtocolMessage(tag string) bool {
	return len(tag) >= 4 && tag[:4] == "MCP_"
}

////////////////////////////////////////////////////////////////////////////
// MESSAGE TAGS

const (
	TypeSetupHandshake        = "MCP_SETUP_HANDSHAKE"
	TypeSetupHandshakeReply   = "MCP_SETUP_HANDSHAKE_REPLY"
	TypeSetupComplete         = "MCP_SETUP_COMPLETE"
	TypeTransportHandshake    = "MCP_TRANSPORT_HANDSHAKE"
	TypeTransportHandshakeRep = "MCP_TRANSPORT_HANDSHAKE_REPLY"
	TypeTransportAccepted     = "MCP_TRANSPORT_ACCEPTED"
	TypeMessage               = "MCP_MESSAGE"
	TypeSetupRequired         = "MCP_SETUP_REQUIRED"
)

// PhaseOf reports which phase a given message tag belongs to. TypeMessage
// and TypeSetupRequired are transport-phase only (Open Question #1 in
// spec.md §9 is resolved that way); all setup-phase tags return PhaseSetup.
func PhaseOf(tag string) (Phase, bool) {
	switch tag {
	case TypeSetupHandshake, TypeSetupHandshakeReply, TypeSetupComplete:
		return PhaseSetup, true
	case TypeTransportHandshake, TypeTransportHandshakeRep, TypeTransportAccepted, TypeMessage, TypeSetupRequired:
		return PhaseTransport, true
	default:
		return 0, false
	}
}

////////////////////////////////////////////////////////////////////////////
// WIRE MESSAGES

type VisibilityRequirement string

const (
	VisibilityRequired VisibilityRequirement = "required"
	VisibilityOptional VisibilityRequirement = "optional"
	VisibilityHidden   VisibilityRequirement = "hidden"
)

type TransportVisibility struct {
	Requirement      VisibilityRequirement `json:"requirement"`
	OptionalMessage  string                `json:"optionalMessage,omitempty"`
}

type SetupStatus string

const (
	SetupStatusSuccess SetupStatus = "success"
	SetupStatusError   SetupStatus = "error"
)

type SetupErrorCode string

const (
	ErrUserCancelled SetupErrorCode = "USER_CANCELLED"
	ErrAuthFailed    SetupErrorCode = "AUTH_FAILED"
	ErrTimeout       SetupErrorCode = "TIMEOUT"
	ErrConfigError   SetupErrorCode = "CONFIG_ERROR"
)

type SetupError struct {
	Code    SetupErrorCode `json:"code"`
	Message string         `json:"message"`
}

func (e *SetupError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type ReSetupReason string

const (
	ReasonAuthExpired         ReSetupReason = "AUTH_EXPIRED"
	ReasonConfigChanged       ReSetupReason = "CONFIG_CHANGED"
	ReasonPermissionsChanged  ReSetupReason = "PERMISSIONS_CHANGED"
	ReasonOther               ReSetupReason = "OTHER"
)

// SetupHandshake is sent Inner -> Outer, first message of the setup phase.
type SetupHandshake struct {
	Type                 string `json:"type"`
	ProtocolVersion      string `json:"protocolVersion"`
	RequiresVisibleSetup bool   `json:"requiresVisibleSetup"`
}

func NewSetupHandshake(version string, requiresVisible bool) SetupHandshake {
	return SetupHandshake{Type: TypeSetupHandshake, ProtocolVersion: version, RequiresVisibleSetup: requiresVisible}
}

// SetupHandshakeReply is sent Outer -> Inner in reply to SetupHandshake.
type SetupHandshakeReply struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	SessionID       string `json:"sessionId"`
}

func NewSetupHandshakeReply(version, sessionID string) SetupHandshakeReply {
	return SetupHandshakeReply{Type: TypeSetupHandshakeReply, ProtocolVersion: version, SessionID: sessionID}
}

// SetupComplete is sent Inner -> Outer to end the setup phase.
type SetupComplete struct {
	Type                string               `json:"type"`
	Status              SetupStatus          `json:"status"`
	ServerTitle         string               `json:"serverTitle,omitempty"`
	EphemeralMessage    string               `json:"ephemeralMessage,omitempty"`
	TransportVisibility TransportVisibility  `json:"transportVisibility"`
	Error               *SetupError          `json:"error,omitempty"`
}

// TransportHandshake is sent Inner -> Outer, first message of transport phase.
type TransportHandshake struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
}

func NewTransportHandshake(version string) TransportHandshake {
	return TransportHandshake{Type: TypeTransportHandshake, ProtocolVersion: version}
}

// TransportHandshakeReply is sent Outer -> Inner in reply.
type TransportHandshakeReply struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	SessionID       string `json:"sessionId"`
}

func NewTransportHandshakeReply(version, sessionID string) TransportHandshakeReply {
	return TransportHandshakeReply{Type: TypeTransportHandshakeRep, ProtocolVersion: version, SessionID: sessionID}
}

// TransportAccepted is sent Inner -> Outer to complete the transport handshake.
type TransportAccepted struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func NewTransportAccepted(sessionID string) TransportAccepted {
	return TransportAccepted{Type: TypeTransportAccepted, SessionID: sessionID}
}

// Message carries an opaque JSON-RPC 2.0 envelope, bidirectionally, once
// Connected.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewMessage(payload json.RawMessage) Message {
	return Message{Type: TypeMessage, Payload: payload}
}

// SetupRequired is sent Inner -> Outer mid-session (transport-phase only).
type SetupRequired struct {
	Type        string        `json:"type"`
	Reason      ReSetupReason `json:"reason"`
	Message     string        `json:"message"`
	CanContinue bool          `json:"canContinue"`
}

func NewSetupRequired(reason ReSetupReason, message string, canContinue bool) SetupRequired {
	return SetupRequired{Type: TypeSetupRequired, Reason: reason, Message: message, CanContinue: canContinue}
}

////////////////////////////////////////////////////////////////////////////
// JSON-RPC ENVELOPE (opaque payload carried by MCP_MESSAGE)

const RPCVersion = "2.0"

// JSONRPCMessage is the shape MCP_MESSAGE.payload must conform to. This
// transport never interprets Method/Params/Result/Error — it exists only so
// callers can marshal/unmarshal a payload without reaching for the MCP
// runtime's own types (spec.md §1 treats the runtime as an external
// collaborator).
type JSONRPCMessage struct {
	Version string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}
