package outer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	// Packages
	outer "github.com/mutablelogic/go-mcp-bridge/pkg/outer"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	winctl "github.com/mutablelogic/go-mcp-bridge/pkg/winctl"
	assert "github.com/stretchr/testify/assert"
)

// scriptedInner drives the Inner side of a handshake by hand, using raw
// schema messages over a winctl pair's Inner control — standing in for
// pkg/inner so outer's tests don't depend on it.
type scriptedInner struct {
	ctl winctl.WindowControl
	in  chan struct {
		origin string
		data   []byte
	}
}

func newScriptedInner(ctl winctl.WindowControl) *scriptedInner {
	s := &scriptedInner{ctl: ctl}
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

func (s *scriptedInner) recv(t *testing.T) (string, []byte) {
	t.Helper()
	select {
	case m := <-s.in:
		return m.origin, m.data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inner message")
		return "", nil
	}
}

func Test_outer_setup_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	inner := newScriptedInner(pair.Inner)

	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"))
	assert.NoError(err)

	resultCh := make(chan *outer.SetupResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := o.RunSetup(context.Background(), "https://inner.example/app")
		resultCh <- r
		errCh <- err
	}()

	// Inner speaks first in the setup phase.
	hs, _ := json.Marshal(schema.NewSetupHandshake("1.0", false))
	assert.NoError(pair.Inner.PostMessage(hs, "*"))

	_, data := inner.recv(t)
	var reply schema.SetupHandshakeReply
	assert.NoError(json.Unmarshal(data, &reply))
	assert.Equal(schema.TypeSetupHandshakeReply, reply.Type)
	assert.NotEmpty(reply.SessionID)

	complete, _ := json.Marshal(schema.SetupComplete{
		Type:        schema.TypeSetupComplete,
		Status:      schema.SetupStatusSuccess,
		ServerTitle: "Demo Server",
	})
	assert.NoError(pair.Inner.PostMessage(complete, "https://outer.example"))

	select {
	case r := <-resultCh:
		assert.Equal("Demo Server", r.ServerTitle)
		assert.NoError(<-errCh)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunSetup to return")
	}
}

func Test_outer_setup_versionMismatch_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)

	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"), outer.WithProtocolRange("2.0", "2.0"))
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.RunSetup(context.Background(), "https://inner.example/app")
		errCh <- err
	}()

	hs, _ := json.Marshal(schema.NewSetupHandshake("1.0", false))
	assert.NoError(pair.Inner.PostMessage(hs, "*"))

	select {
	case err := <-errCh:
		assert.Error(err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func Test_outer_setup_originRejected_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://untrusted.example", 8)

	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"))
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.RunSetup(context.Background(), "https://inner.example/app")
		errCh <- err
	}()

	hs, _ := json.Marshal(schema.NewSetupHandshake("1.0", false))
	assert.NoError(pair.Inner.PostMessage(hs, "*"))

	select {
	case err := <-errCh:
		assert.Error(err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func Test_outer_connect_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	inner := newScriptedInner(pair.Inner)

	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"))
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Connect(context.Background(), "https://inner.example/app", "")
	}()

	th, _ := json.Marshal(schema.NewTransportHandshake("1.0"))
	assert.NoError(pair.Inner.PostMessage(th, "*"))

	_, data := inner.recv(t)
	var reply schema.TransportHandshakeReply
	assert.NoError(json.Unmarshal(data, &reply))
	assert.NotEmpty(reply.SessionID)

	accepted, _ := json.Marshal(schema.NewTransportAccepted(reply.SessionID))
	assert.NoError(pair.Inner.PostMessage(accepted, "https://outer.example"))

	select {
	case err := <-errCh:
		assert.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Connect")
	}
	assert.Equal(outer.StateConnected, o.State())
	assert.NotEmpty(o.SessionID())

	// Once connected, Send/OnMessage pump MCP_MESSAGE frames.
	received := make(chan string, 1)
	o.OnMessage(func(payload json.RawMessage) { received <- string(payload) })

	msg, _ := json.Marshal(schema.NewMessage(json.RawMessage(`{"jsonrpc":"2.0","method":"ping"}`)))
	assert.NoError(pair.Inner.PostMessage(msg, "https://outer.example"))

	select {
	case s := <-received:
		assert.Contains(s, "ping")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MCP_MESSAGE")
	}

	assert.NoError(o.Send(json.RawMessage(`{"jsonrpc":"2.0","method":"pong"}`)))
	_, data = inner.recv(t)
	var sent schema.Message
	assert.NoError(json.Unmarshal(data, &sent))
	assert.Contains(string(sent.Payload), "pong")

	assert.NoError(o.Close())
}

func Test_outer_connect_sessionMismatch_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)

	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"))
	assert.NoError(err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Connect(context.Background(), "https://inner.example/app", "")
	}()

	th, _ := json.Marshal(schema.NewTransportHandshake("1.0"))
	assert.NoError(pair.Inner.PostMessage(th, "*"))

	time.Sleep(50 * time.Millisecond)
	accepted, _ := json.Marshal(schema.NewTransportAccepted("wrong-session-id"))
	assert.NoError(pair.Inner.PostMessage(accepted, "https://outer.example"))

	select {
	case err := <-errCh:
		assert.Error(err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func Test_outer_setup_timeout_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 8)
	o, err := outer.New(pair.Outer, outer.WithAllowedOrigins("https://inner.example"), outer.WithTimeout(10*time.Millisecond))
	assert.NoError(err)

	_, err = o.RunSetup(context.Background(), "https://inner.example/app")
	assert.Error(err)
}
