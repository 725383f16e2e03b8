package winctl_test

import (
	"testing"
	"time"

	// Packages
	winctl "github.com/mutablelogic/go-mcp-bridge/pkg/winctl"
	assert "github.com/stretchr/testify/assert"
)

func Test_memoryPair_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 4)
	assert.NotNil(pair.Outer)
	assert.NotNil(pair.Inner)

	received := make(chan string, 1)
	unsub := pair.Outer.OnMessage(func(origin string, data []byte) {
		received <- origin + ":" + string(data)
	})
	defer unsub()

	assert.NoError(pair.Inner.PostMessage([]byte("hello"), "*"))

	select {
	case msg := <-received:
		assert.Equal("https://inner.example:hello", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func Test_memoryPair_pinning_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 4)

	// The handshake engine pins the peer origin once its own checks pass;
	// here it is pinned directly, with no message exchanged.
	assert.True(pair.Outer.Pin("https://inner.example"))
	origin, ok := pair.Outer.PinnedOrigin()
	assert.True(ok)
	assert.Equal("https://inner.example", origin)

	// After pinning, wildcard targeting is forbidden (invariant 4).
	err := pair.Outer.PostMessage([]byte("x"), "*")
	assert.Error(err)

	// Targeting a non-pinned origin is also rejected.
	err = pair.Outer.PostMessage([]byte("x"), "https://elsewhere.example")
	assert.Error(err)

	// Targeting the pinned origin succeeds.
	assert.NoError(pair.Outer.PostMessage([]byte("x"), "https://inner.example"))
}

func Test_memoryPair_originDrift_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://evil.example", 4)

	pair.Outer.Pin("https://inner.example") // pin a *different* origin than inner actually uses

	var calls int
	unsub := pair.Outer.OnMessage(func(string, []byte) { calls++ })
	defer unsub()

	assert.NoError(pair.Inner.PostMessage([]byte("hi"), "*"))
	time.Sleep(50 * time.Millisecond)

	// Message from https://evil.example should be silently dropped since
	// the outer pinned https://inner.example.
	assert.Equal(0, calls)
}

func Test_memoryPair_navigateAndVisibility_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 4)

	assert.NoError(pair.Outer.Navigate("https://inner.example/app#setup"))
	assert.Equal("https://inner.example/app#setup", pair.Frame.Src())

	assert.NoError(pair.Outer.SetVisible(true))
	assert.True(pair.Frame.Visible())
}

func Test_memoryPair_close_001(t *testing.T) {
	assert := assert.New(t)

	pair := winctl.NewMemoryPair("https://outer.example", "https://inner.example", 4)
	assert.NoError(pair.Outer.Close())
	// Idempotent
	assert.NoError(pair.Outer.Close())
}
