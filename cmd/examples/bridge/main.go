// Command bridge demonstrates a full setup-then-transport handshake between
// an Outer and an Inner transport, wired together over either the in-memory
// or the WebSocket-backed winctl pair, with no browser involved.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"time"

	// Packages
	kong "github.com/alecthomas/kong"
	websocket "github.com/gorilla/websocket"
	bridge "github.com/mutablelogic/go-mcp-bridge"
	inner "github.com/mutablelogic/go-mcp-bridge/pkg/inner"
	outer "github.com/mutablelogic/go-mcp-bridge/pkg/outer"
	schema "github.com/mutablelogic/go-mcp-bridge/pkg/schema"
	winctl "github.com/mutablelogic/go-mcp-bridge/pkg/winctl"
	errgroup "golang.org/x/sync/errgroup"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type CLI struct {
	Globals

	Memory    MemoryCommand    `cmd:"" default:"1" help:"Run the demo over an in-memory host channel pair"`
	Websocket WebsocketCommand `cmd:"" help:"Run the demo over a WebSocket-bridged host channel pair"`
}

type Globals struct {
	Timeout time.Duration `name:"timeout" help:"Per-phase handshake timeout" default:"5s"`

	ctx    context.Context
	cancel context.CancelFunc
}

type MemoryCommand struct {
	OuterOrigin string `name:"outer-origin" help:"Origin the Outer reports" default:"https://outer.example"`
	InnerOrigin string `name:"inner-origin" help:"Origin the Inner reports" default:"https://inner.example"`
}

type WebsocketCommand struct {
	OuterOrigin string `name:"outer-origin" help:"Origin the Outer reports" default:"https://outer.example"`
	InnerOrigin string `name:"inner-origin" help:"Origin the Inner reports" default:"https://inner.example"`
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := CLI{}
	cmd := kong.Parse(&cli,
		kong.Name("bridge"),
		kong.Description("Cross-window MCP bridge transport demo"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cli.ctx, cli.cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cli.cancel()

	cmd.FatalIfErrorf(cmd.Run(&cli.Globals))
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

// Memory and Websocket each build two independent host-channel pairs: the
// setup phase and the transport phase run over separate containers
// (spec.md §3 — a container is bound to exactly one phase and is closed
// once that phase ends), so the demo cannot reuse one pair for both.

func (c *MemoryCommand) Run(g *Globals) error {
	setupPair := winctl.NewMemoryPair(c.OuterOrigin, c.InnerOrigin, 8)
	transportPair := winctl.NewMemoryPair(c.OuterOrigin, c.InnerOrigin, 8)
	return runDemo(g, setupPair.Outer, setupPair.Inner, transportPair.Outer, transportPair.Inner, c.OuterOrigin, c.InnerOrigin)
}

func (c *WebsocketCommand) Run(g *Globals) error {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := winctl.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConnCh <- conn
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	dialPair := func() (*winctl.WebsocketPair, error) {
		clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return nil, err
		}
		serverConn := <-serverConnCh
		return winctl.NewWebsocketPair(serverConn, clientConn, c.OuterOrigin, c.InnerOrigin), nil
	}

	setupPair, err := dialPair()
	if err != nil {
		return err
	}
	transportPair, err := dialPair()
	if err != nil {
		return err
	}

	return runDemo(g, setupPair.Outer, setupPair.Inner, transportPair.Outer, transportPair.Inner, c.OuterOrigin, c.InnerOrigin)
}

// serverConnCh hands the server-side *websocket.Conn from inside the
// httptest handler back out to WebsocketCommand.Run.
var serverConnCh = make(chan *websocket.Conn, 1)

///////////////////////////////////////////////////////////////////////////////
// DEMO

// runDemo drives a complete setup phase, transport phase, and one
// request/response exchange between an Outer and an Inner transport,
// printing progress to stderr. The setup phase runs over
// setupOuterCtl/setupInnerCtl and the transport phase over
// transportOuterCtl/transportInnerCtl — two distinct WindowControl pairs,
// since a container is closed once the phase driving it ends (spec.md §3)
// and so cannot carry a session from setup into transport.
func runDemo(g *Globals, setupOuterCtl, setupInnerCtl, transportOuterCtl, transportInnerCtl winctl.WindowControl, outerOrigin, innerOrigin string) error {
	o, err := outer.New(setupOuterCtl, outer.WithAllowedOrigins(innerOrigin), outer.WithTimeout(g.Timeout))
	if err != nil {
		return err
	}
	in, err := inner.New(setupInnerCtl, inner.WithAllowedOrigins(outerOrigin), inner.WithTimeout(g.Timeout))
	if err != nil {
		return err
	}

	const appURL = "https://inner.example/app"

	fmt.Fprintln(os.Stderr, "--- setup phase ---")
	var setupResult *outer.SetupResult
	{
		eg, ctx := errgroup.WithContext(g.ctx)
		eg.Go(func() error {
			r, err := o.RunSetup(ctx, appURL)
			setupResult = r
			return err
		})
		eg.Go(func() error {
			sessionID, err := in.PrepareSetup(ctx, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "inner: setup handshake complete, session %s\n", sessionID)
			return in.CompleteSetup(schema.SetupStatusSuccess, "Demo MCP Server", "", schema.TransportVisibility{
				Requirement: schema.VisibilityOptional,
			}, nil)
		})
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("setup phase: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "outer: setup complete, server title %q\n", setupResult.ServerTitle)
	sessionID := o.SessionID()

	fmt.Fprintln(os.Stderr, "--- transport phase ---")
	// RunSetup/CompleteSetup closed the containers above; Connect requires a
	// freshly constructed Transport over a freshly constructed WindowControl
	// (spec.md §3), so o and in are rebuilt here rather than reused.
	o, err = outer.New(transportOuterCtl, outer.WithAllowedOrigins(innerOrigin), outer.WithTimeout(g.Timeout))
	if err != nil {
		return err
	}
	in, err = inner.New(transportInnerCtl, inner.WithAllowedOrigins(outerOrigin), inner.WithTimeout(g.Timeout))
	if err != nil {
		return err
	}
	{
		eg, ctx := errgroup.WithContext(g.ctx)
		eg.Go(func() error {
			return o.Connect(ctx, appURL, sessionID)
		})
		eg.Go(func() error {
			return in.Connect(ctx, sessionID)
		})
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("transport phase: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "connected, session %s\n", o.SessionID())

	fmt.Fprintln(os.Stderr, "--- message exchange ---")
	{
		pong := make(chan json.RawMessage, 1)
		o.OnMessage(func(payload json.RawMessage) { pong <- payload })

		ping := make(chan json.RawMessage, 1)
		in.OnMessage(func(payload json.RawMessage) {
			ping <- payload
			_ = in.Send(json.RawMessage(fmt.Sprintf(
				`{"jsonrpc":"2.0","id":1,"result":{"echo":%s}}`, payload)))
		})

		req, err := json.Marshal(schema.JSONRPCMessage{
			Version: schema.RPCVersion,
			ID:      1,
			Method:  "ping",
		})
		if err != nil {
			return err
		}
		if err := o.Send(req); err != nil {
			return err
		}

		select {
		case p := <-ping:
			fmt.Fprintf(os.Stderr, "inner received: %s\n", p)
		case <-time.After(g.Timeout):
			return bridge.ErrHandshakeTimeout.With("inner never received ping")
		}
		select {
		case p := <-pong:
			fmt.Fprintf(os.Stderr, "outer received: %s\n", p)
		case <-time.After(g.Timeout):
			return bridge.ErrHandshakeTimeout.With("outer never received response")
		}
	}

	fmt.Fprintln(os.Stderr, "--- closing ---")
	_ = in.Close()
	return o.Close()
}
