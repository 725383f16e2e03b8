package winctl

import (
	"sync"

	// Packages
	pubsub "github.com/cskr/pubsub"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// memoryChannel is a HostChannel backed by a shared in-process pub/sub bus,
// grounded on ruaan-deysel-unraid-management-agent's EventBus wrapper
// (daemon/domain/eventbus.go) over github.com/cskr/pubsub: each side
// publishes onto the peer's topic and subscribes to its own.
type memoryChannel struct {
	bus        *pubsub.PubSub
	origin     string // this side's own reported origin
	sendTopic  string // topic this side publishes to (the peer's inbox)
	recvTopic  string // topic this side subscribes to (its own inbox)
	mu         sync.Mutex
	subs       []chan interface{}
	closed     bool
}

type memoryEnvelope struct {
	origin string
	data   []byte
}

func (c *memoryChannel) Send(data []byte) error {
	c.bus.Pub(memoryEnvelope{origin: c.origin, data: data}, c.sendTopic)
	return nil
}

func (c *memoryChannel) Subscribe(h Handler) (unsubscribe func()) {
	ch := c.bus.Sub(c.recvTopic)

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	go func() {
		for msg := range ch {
			env, ok := msg.(memoryEnvelope)
			if !ok {
				continue
			}
			h(env.origin, env.data)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.bus.Unsub(ch, c.recvTopic)
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s == ch {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.subs {
		c.bus.Unsub(ch, c.recvTopic)
	}
	c.subs = nil
	return nil
}

// simpleFrameHost and simplePopupHost are in-memory stand-ins for the
// browser-side navigation/visibility bindings, used by the in-memory pair so
// Outer/Iframe and Outer/Popup can be exercised end to end without a DOM.
type simpleFrameHost struct {
	mu      sync.Mutex
	src     string
	visible bool
}

func (f *simpleFrameHost) SetSrc(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = url
	return nil
}

func (f *simpleFrameHost) SetVisible(visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = visible
	return nil
}

// Src returns the last URL Navigate set, for tests/demos.
func (f *simpleFrameHost) Src() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

// Visible returns the last SetVisible value, for tests/demos.
func (f *simpleFrameHost) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

////////////////////////////////////////////////////////////////////////////
// PAIR CONSTRUCTOR

// MemoryPair wires an Outer/Iframe window-control and a matching
// Inner/PostMessage window-control over a shared in-memory bus, simulating a
// same-process iframe embed. outerOrigin/innerOrigin are the origins each
// side reports to the other (spec.md's PinnedOrigin source).
type MemoryPair struct {
	Outer *IframeWindowControl
	Inner *PostMessageInnerControl
	Frame *simpleFrameHost // exposed so tests/demos can observe Navigate/SetVisible
}

// NewMemoryPair builds a MemoryPair. bufferSize controls the per-subscriber
// channel capacity (cskr/pubsub semantics); 0 defaults to 1.
func NewMemoryPair(outerOrigin, innerOrigin string, bufferSize int) *MemoryPair {
	if bufferSize < 1 {
		bufferSize = 1
	}
	bus := pubsub.New(bufferSize)

	const (
		toInner = "to-inner"
		toOuter = "to-outer"
	)

	outerChannel := &memoryChannel{bus: bus, origin: outerOrigin, sendTopic: toInner, recvTopic: toOuter}
	innerChannel := &memoryChannel{bus: bus, origin: innerOrigin, sendTopic: toOuter, recvTopic: toInner}

	frame := &simpleFrameHost{}

	return &MemoryPair{
		Outer: NewIframeWindowControl(outerChannel, frame),
		Inner: NewPostMessageInnerControl(innerChannel),
		Frame: frame,
	}
}
