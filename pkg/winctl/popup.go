package winctl

// PopupHost is the container-control binding a PopupWindowControl needs:
// opening the popup at a URL and closing the underlying window handle. A
// browser build supplies this over window.open()'s return value.
type PopupHost interface {
	Open(url string) error
	CloseWindow() error
}

// PopupWindowControl is the Outer-side variant wrapping a pop-up window
// handle: SetVisible is a no-op (a pop-up is user-visible by definition),
// Close terminates the window (spec.md §4.2).
type PopupWindowControl struct {
	pinning
	channel HostChannel
	popup   PopupHost
}

func NewPopupWindowControl(channel HostChannel, popup PopupHost) *PopupWindowControl {
	return &PopupWindowControl{channel: channel, popup: popup}
}

func (w *PopupWindowControl) PostMessage(data []byte, targetOrigin string) error {
	if err := w.resolveTarget(targetOrigin); err != nil {
		return err
	}
	return w.channel.Send(data)
}

func (w *PopupWindowControl) OnMessage(h Handler) (unsubscribe func()) {
	return w.channel.Subscribe(func(origin string, data []byte) {
		if !w.acceptInbound(origin) {
			return
		}
		h(origin, data)
	})
}

// SetVisible is a no-op: a pop-up is visible for its entire lifetime.
func (w *PopupWindowControl) SetVisible(bool) error {
	return nil
}

func (w *PopupWindowControl) Navigate(url string) error {
	return w.popup.Open(url)
}

func (w *PopupWindowControl) Close() error {
	if err := w.popup.CloseWindow(); err != nil {
		return err
	}
	return w.channel.Close()
}

func (w *PopupWindowControl) PinnedOrigin() (string, bool) {
	return w.get()
}

func (w *PopupWindowControl) Pin(origin string) bool {
	return w.pin(origin)
}
