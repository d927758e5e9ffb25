// Package websocket is the fallback event transport for environments
// where a WebRTC peer cannot be established. It speaks the same event
// protocol over a single websocket connection; there is no media path.
package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type Config struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	Logger      *slog.Logger
}

// Conn is an established websocket event channel. It satisfies the
// engine's transport surface: frames go out via Send, inbound text
// frames reach the registered handler in arrival order.
type Conn struct {
	logger *slog.Logger

	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	handler func(data []byte)
	onClose func()
	pending [][]byte
}

// Dial connects and starts the read/write pumps. The connection counts
// as open from the moment Dial returns.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("url", config.URL))

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, _, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		defer ws.PutReader(buf)
	}
	logger.Debug("websocket connected")

	c := &Conn{
		logger: logger,
		out:    make(chan wsutil.Message, 256),
		done:   make(chan struct{}),
	}

	// reader: control frames handled inline, text frames delivered in
	// arrival order from this single goroutine.
	go func() {
		defer c.setDone()
		for {
			messages, err := wsutil.ReadServerMessage(conn, nil)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Debug("websocket read ended", slog.Any("err", err))
				}
				return
			}
			for _, msg := range messages {
				if ws.OpCode.IsControl(msg.OpCode) {
					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Debug("control frame handling failed", slog.Any("err", err))
					}
					if msg.OpCode == ws.OpClose {
						return
					}
					continue
				}
				if msg.OpCode == ws.OpText {
					c.deliver(msg.Payload)
				}
			}
		}
	}()

	// writer
	go func() {
		for {
			select {
			case <-c.done:
				conn.Close()
				return
			case msg := <-c.out:
				if err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload); err != nil {
					logger.Debug("websocket write failed", slog.Any("err", err))
					c.setDone()
					return
				}
			}
		}
	}()

	return c, nil
}

func (c *Conn) setDone() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		onClose := c.onClose
		c.mu.Unlock()
		if onClose != nil {
			onClose()
		}
	})
}

func (c *Conn) deliver(payload []byte) {
	c.mu.Lock()
	handler := c.handler
	if handler == nil {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		c.pending = append(c.pending, buf)
	}
	c.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// Handle attaches the frame handler and lifecycle hooks. The websocket
// is open by construction, so onOpen fires immediately after any held
// frames are replayed.
func (c *Conn) Handle(onMessage func(data []byte), onOpen func(), onClose func()) {
	c.mu.Lock()
	c.handler = onMessage
	c.onClose = onClose
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range pending {
		if onMessage != nil {
			onMessage(msg)
		}
	}
	if c.Open() && onOpen != nil {
		onOpen()
	}
}

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("websocket is closed")
	default:
	}
	select {
	case c.out <- wsutil.Message{OpCode: ws.OpText, Payload: data}:
		return nil
	case <-c.done:
		return errors.New("websocket is closed")
	}
}

func (c *Conn) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Conn) Close() error {
	if c.Open() {
		select {
		case c.out <- wsutil.Message{
			OpCode:  ws.OpClose,
			Payload: ws.NewCloseFrameBody(ws.StatusNormalClosure, "closing"),
		}:
		default:
		}
	}
	c.setDone()
	return nil
}
