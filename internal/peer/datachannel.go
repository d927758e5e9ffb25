package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannel adapts a webrtc data channel to the engine's transport
// surface. Messages that arrive before a handler is attached are held
// and replayed in order on Handle.
type DataChannel struct {
	dc *webrtc.DataChannel

	mu       sync.Mutex
	open     bool
	closed   bool
	pending  [][]byte
	onMsg    func(data []byte)
	onOpen   func()
	onClosed func()
}

func newDataChannel(dc *webrtc.DataChannel) *DataChannel {
	d := &DataChannel{dc: dc}

	dc.OnOpen(func() {
		d.mu.Lock()
		d.open = true
		onOpen := d.onOpen
		d.mu.Unlock()
		if onOpen != nil {
			onOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.mu.Lock()
		onMsg := d.onMsg
		if onMsg == nil {
			buf := make([]byte, len(msg.Data))
			copy(buf, msg.Data)
			d.pending = append(d.pending, buf)
		}
		d.mu.Unlock()
		if onMsg != nil {
			onMsg(msg.Data)
		}
	})

	dc.OnClose(func() {
		d.notifyClose()
	})

	return d
}

// Handle attaches the message and lifecycle callbacks. Held messages are
// replayed first; if the channel already opened, onOpen fires at once.
func (d *DataChannel) Handle(onMessage func(data []byte), onOpen func(), onClose func()) {
	d.mu.Lock()
	d.onMsg = onMessage
	d.onOpen = onOpen
	d.onClosed = onClose
	pending := d.pending
	d.pending = nil
	open := d.open
	d.mu.Unlock()

	for _, msg := range pending {
		if onMessage != nil {
			onMessage(msg)
		}
	}
	if open && onOpen != nil {
		onOpen()
	}
}

func (d *DataChannel) Send(data []byte) error {
	d.mu.Lock()
	open := d.open && !d.closed
	d.mu.Unlock()
	if !open {
		return errors.New("data channel is not open")
	}
	return d.dc.Send(data)
}

func (d *DataChannel) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && !d.closed
}

func (d *DataChannel) Close() error {
	d.notifyClose()
	return d.dc.Close()
}

// notifyClose fires the close callback once, no matter how many paths
// report the channel gone.
func (d *DataChannel) notifyClose() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	onClosed := d.onClosed
	d.mu.Unlock()
	if onClosed != nil {
		onClosed()
	}
}
