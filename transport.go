package realtime

// Transport is an ordered reliable byte channel carrying the event
// protocol: a WebRTC data channel in the normal path, a websocket in the
// fallback path. Implementations deliver frames to the registered handler
// in arrival order, from a single goroutine.
type Transport interface {
	// Send transmits one frame. Implementations fail when the channel is
	// not open instead of queueing.
	Send(data []byte) error

	// Handle registers the frame handler and the open/close hooks. Frames
	// arriving before Handle is called are buffered and flushed on
	// registration. If the transport is already open, onOpen fires
	// immediately.
	Handle(onMessage func(data []byte), onOpen func(), onClose func())

	// Open reports whether the channel is currently able to send.
	Open() bool

	Close() error
}
