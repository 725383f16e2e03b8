package inner_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	// Packages
	inner "github.com/mutablelogic/go-mcp-bridge/pkg/inner"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	winctl "github.com/mutablelogic/go-mcp-bridge/pkg/winctl"
	assert "github.com/stretchr/testify/assert"
)

// scriptedOuter drives the Outer side of a handshake by hand, using raw
// schema messages over a winctl pair's Outer control — standing in for
// pkg/outer so inner's tests don't depend on it.
type scriptedOuter struct {
	ctl winctl.WindowControl
	in  chan struct {
		origin string
		data   []byte
	}
}

func newScriptedOuter(ctl winctl.WindowControl) *scriptedOuter {
	s := &scriptedOuter{ctl: ctl}
	s.in = make(chan struct {
		origin string
		data   []byte
	}, 16)
	ctl.OnMessage(func(origin string, data []byte) {
		s.in <- struct {
			origin string
			data   []byte
		}{origin, data}
	})
	return s
}

func (s *scriptedOuter) recv(t *testing.T) (string, []byte) {
	t.Helper()
	select {
	case m := <-s.in:
		return m.origin, m.data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outer message")
		return "", nil
	}
}

func Test_inner_setup_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	outer := newScriptedOuter(pair.Outer)

	in, err := inner.New(pair.Inner)
	assert.NoError(err)

	sessionCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		sid, err := in.PrepareSetup(context.Background(), false)
		sessionCh <- sid
		errCh <- err
	}()

	_, data := outer.recv(t)
	var hs schema.SetupHandshake
	assert.NoError(json.Unmarshal(data, &hs))
	assert.Equal(schema.TypeSetupHandshake, hs.Type)
	assert.Equal("1.0", hs.ProtocolVersion)

	reply, _ := json.Marshal(schema.NewSetupHandshakeReply("1.0", "sess-123"))
	assert.NoError(pair.Outer.PostMessage(reply, "https://inner.example"))

	select {
	case sid := <-sessionCh:
		assert.Equal("sess-123", sid)
		assert.NoError(<-errCh)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PrepareSetup")
	}

	assert.NoError(in.CompleteSetup(schema.SetupStatusSuccess, "My Server", "", schema.TransportVisibility{Requirement: schema.VisibilityOptional}, nil))

	_, data = outer.recv(t)
	var complete schema.SetupComplete
	assert.NoError(json.Unmarshal(data, &complete))
	assert.Equal(schema.SetupStatusSuccess, complete.Status)
	assert.Equal("My Server", complete.ServerTitle)
}

func Test_inner_connect_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	outer := newScriptedOuter(pair.Outer)

	in, err := inner.New(pair.Inner)
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- in.Connect(context.Background(), "")
	}()

	_, data := outer.recv(t)
	var th schema.TransportHandshake
	assert.NoError(json.Unmarshal(data, &th))
	assert.Equal(schema.TypeTransportHandshake, th.Type)

	reply, _ := json.Marshal(schema.NewTransportHandshakeReply("1.0", "sess-abc"))
	assert.NoError(pair.Outer.PostMessage(reply, "https://inner.example"))

	_, data = outer.recv(t)
	var accepted schema.TransportAccepted
	assert.NoError(json.Unmarshal(data, &accepted))
	assert.Equal("sess-abc", accepted.SessionID)

	select {
	case err := <-errCh:
		assert.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Connect")
	}
	assert.Equal(inner.StateConnected, in.State())
	assert.Equal("sess-abc", in.SessionID())

	received := make(chan string, 1)
	in.OnMessage(func(payload json.RawMessage) { received <- string(payload) })

	msg, _ := json.Marshal(schema.NewMessage(json.RawMessage(`{"jsonrpc":"2.0","method":"ping"}`)))
	assert.NoError(pair.Outer.PostMessage(msg, "https://inner.example"))

	select {
	case s := <-received:
		assert.Contains(s, "ping")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MCP_MESSAGE")
	}

	assert.NoError(in.RequestReSetup(schema.ReasonAuthExpired, "token expired", true))
	_, data = outer.recv(t)
	var reSetup schema.SetupRequired
	assert.NoError(json.Unmarshal(data, &reSetup))
	assert.Equal(schema.ReasonAuthExpired, reSetup.Reason)
	assert.True(reSetup.CanContinue)
	assert.Equal(inner.StateConnected, in.State())

	assert.NoError(in.Close())
}

func Test_inner_connect_sessionMismatch_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)

	in, err := inner.New(pair.Inner)
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- in.Connect(context.Background(), "sess-expected")
	}()

	time.Sleep(50 * time.Millisecond)
	reply, _ := json.Marshal(schema.NewTransportHandshakeReply("1.0", "sess-different"))
	assert.NoError(pair.Outer.PostMessage(reply, "https://inner.example"))

	select {
	case err := <-errCh:
		assert.Error(err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func Test_inner_reSetup_cannotContinue_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	outer := newScriptedOuter(pair.Outer)

	in, err := inner.New(pair.Inner)
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() { errCh <- in.Connect(context.Background(), "") }()

	_, _ = outer.recv(t)
	reply, _ := json.Marshal(schema.NewTransportHandshakeReply("1.0", "sess-xyz"))
	assert.NoError(pair.Outer.PostMessage(reply, "https://inner.example"))
	_, _ = outer.recv(t)
	assert.NoError(<-errCh)

	assert.NoError(in.RequestReSetup(schema.ReasonPermissionsChanged, "revoked", false))
	assert.Equal(inner.StateClosed, in.State())
}
