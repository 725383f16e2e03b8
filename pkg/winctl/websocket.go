package winctl

import (
	"encoding/json"
	"net/http"
	"sync"

	// Packages
	websocket "github.com/gorilla/websocket"
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// wsEnvelope is the framing a websocketChannel exchanges over the wire: the
// origin the sender reports plus the opaque MCP_* payload bytes. Grounded on
// ruaan-deysel-unraid-management-agent's dto.WSEvent/broadcastMessage
// framing in daemon/services/api/websocket.go.
type wsEnvelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// websocketChannel is a HostChannel backed by a single *websocket.Conn,
// modeling an Outer and an Inner that live in separate OS processes bridged
// by a relay rather than a same-process iframe (SPEC_FULL.md §11).
type websocketChannel struct {
	conn   *websocket.Conn
	origin string

	mu      sync.Mutex
	subs    []chan wsEnvelope
	closed  bool
	readErr error

	readOnce sync.Once
}

func newWebsocketChannel(conn *websocket.Conn, origin string) *websocketChannel {
	c := &websocketChannel{conn: conn, origin: origin}
	return c
}

func (c *websocketChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return http.ErrServerClosed
	}
	return c.conn.WriteJSON(wsEnvelope{Origin: c.origin, Data: data})
}

// startReading launches (once) the goroutine that reads frames off the
// connection and fans each one out to every current subscriber. Grounded on
// WSHub.Run's register/broadcast loop, simplified to a single connection.
func (c *websocketChannel) startReading() {
	c.readOnce.Do(func() {
		go func() {
			for {
				var env wsEnvelope
				if err := c.conn.ReadJSON(&env); err != nil {
					c.mu.Lock()
					c.readErr = err
					subs := c.subs
					c.subs = nil
					c.mu.Unlock()
					for _, ch := range subs {
						close(ch)
					}
					return
				}
				c.mu.Lock()
				subs := append([]chan wsEnvelope(nil), c.subs...)
				c.mu.Unlock()
				for _, ch := range subs {
					select {
					case ch <- env:
					default:
						// slow subscriber, drop rather than block the reader
					}
				}
			}
		}()
	})
}

func (c *websocketChannel) Subscribe(h Handler) (unsubscribe func()) {
	ch := make(chan wsEnvelope, 16)

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	c.startReading()

	go func() {
		for env := range ch {
			h(env.Origin, env.Data)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s == ch {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

func (c *websocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

////////////////////////////////////////////////////////////////////////////
// PAIR CONSTRUCTOR

// WebsocketPair wires an Outer/Iframe control and an Inner/PostMessage
// control over the two ends of one WebSocket connection (in the demo, the
// server and client ends of a gorilla/websocket handshake against an
// httptest.Server on loopback). It exercises the same code paths a real
// loopback-bridged pop-up window would.
type WebsocketPair struct {
	Outer *IframeWindowControl
	Inner *PostMessageInnerControl
	Frame *simpleFrameHost
}

// NewWebsocketPair wraps two already-connected *websocket.Conn values (one
// per side — e.g. the server and client ends returned by dialing a
// websocket.Upgrader-backed httptest.Server) into a WebsocketPair.
func NewWebsocketPair(outerConn, innerConn *websocket.Conn, outerOrigin, innerOrigin string) *WebsocketPair {
	outerChannel := newWebsocketChannel(outerConn, outerOrigin)
	innerChannel := newWebsocketChannel(innerConn, innerOrigin)
	frame := &simpleFrameHost{}

	return &WebsocketPair{
		Outer: NewIframeWindowControl(outerChannel, frame),
		Inner: NewPostMessageInnerControl(innerChannel),
		Frame: frame,
	}
}

// Upgrader is the shared websocket.Upgrader configuration used by the demo
// bridge server side (cmd/examples/bridge). CheckOrigin always allows, as in
// ruaan-deysel-unraid-management-agent's daemon/services/api/websocket.go —
// this bridge performs its own origin pinning at the protocol layer, so the
// transport-level upgrade does not need to duplicate that check.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}
