package winctl

// PostMessageInnerControl is the Inner-side variant: attached inside the
// subordinate window, it targets the parent or opener and cannot control
// its own frame (spec.md §4.2) — Navigate, SetVisible, and Close's
// container teardown are no-ops; Close still unsubscribes listeners via the
// underlying channel.
type PostMessageInnerControl struct {
	pinning
	channel HostChannel
}

func NewPostMessageInnerControl(channel HostChannel) *PostMessageInnerControl {
	return &PostMessageInnerControl{channel: channel}
}

func (w *PostMessageInnerControl) PostMessage(data []byte, targetOrigin string) error {
	if err := w.resolveTarget(targetOrigin); err != nil {
		return err
	}
	return w.channel.Send(data)
}

func (w *PostMessageInnerControl) OnMessage(h Handler) (unsubscribe func()) {
	return w.channel.Subscribe(func(origin string, data []byte) {
		if !w.acceptInbound(origin) {
			return
		}
		h(origin, data)
	})
}

// SetVisible is a no-op: the Inner does not control its own container.
func (w *PostMessageInnerControl) SetVisible(bool) error { return nil }

// Navigate is a no-op: the Inner does not control its own container.
func (w *PostMessageInnerControl) Navigate(string) error { return nil }

func (w *PostMessageInnerControl) Close() error {
	return w.channel.Close()
}

func (w *PostMessageInnerControl) PinnedOrigin() (string, bool) {
	return w.get()
}

func (w *PostMessageInnerControl) Pin(origin string) bool {
	return w.pin(origin)
}
