package winctl

// FrameHost is the container-control binding an IframeWindowControl needs
// beyond message passing: setting the iframe's src and toggling its
// display. A browser/WASM build supplies this over a real <iframe> element;
// it is kept separate from HostChannel because navigation/visibility are
// container-lifecycle concerns, not message-passing ones.
type FrameHost interface {
	SetSrc(url string) error
	SetVisible(visible bool) error
}

// IframeWindowControl is the Outer-side variant wrapping a child frame
// element: Navigate sets its source, SetVisible toggles display,
// PostMessage targets the child's window (spec.md §4.2).
type IframeWindowControl struct {
	pinning
	channel HostChannel
	frame   FrameHost
}

// NewIframeWindowControl builds an Outer window-control over channel (the
// message-passing binding) and frame (the navigation/visibility binding).
func NewIframeWindowControl(channel HostChannel, frame FrameHost) *IframeWindowControl {
	return &IframeWindowControl{channel: channel, frame: frame}
}

func (w *IframeWindowControl) PostMessage(data []byte, targetOrigin string) error {
	if err := w.resolveTarget(targetOrigin); err != nil {
		return err
	}
	return w.channel.Send(data)
}

func (w *IframeWindowControl) OnMessage(h Handler) (unsubscribe func()) {
	return w.channel.Subscribe(func(origin string, data []byte) {
		if !w.acceptInbound(origin) {
			return
		}
		h(origin, data)
	})
}

func (w *IframeWindowControl) SetVisible(visible bool) error {
	return w.frame.SetVisible(visible)
}

func (w *IframeWindowControl) Navigate(url string) error {
	return w.frame.SetSrc(url)
}

func (w *IframeWindowControl) Close() error {
	return w.channel.Close()
}

func (w *IframeWindowControl) PinnedOrigin() (string, bool) {
	return w.get()
}

// Pin records the peer origin from the first accepted inbound message.
// Exposed so the Outer handshake engine can pin after its own allowlist
// check passes (spec.md §4.3 step 2).
func (w *IframeWindowControl) Pin(origin string) bool {
	return w.pin(origin)
}
