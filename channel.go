package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/phonevoice/realtime-go/events"
)

// Direction tells which party produced a logged event.
type Direction string

const (
	DirectionClient Direction = "client"
	DirectionServer Direction = "server"
)

// LoggedEvent is one entry of the session's event log.
type LoggedEvent struct {
	Direction Direction
	Type      string
	EventID   string
	Raw       json.RawMessage
	At        time.Time
}

// EventChannel wraps the established transport with the event protocol:
// outbound id assignment and logging, inbound decode, dedup of the
// notable families, and in-order fan-out to subscribers.
type EventChannel struct {
	tr     Transport
	logger *slog.Logger

	mu       sync.Mutex
	detached bool
	seen     map[string]struct{}
	log      []LoggedEvent
	reactors []func(events.ServerEvent)
	subs     []func(events.ServerEvent)
}

func NewEventChannel(tr Transport, logger *slog.Logger) *EventChannel {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventChannel{
		tr:     tr,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Attach wires the channel to its transport. onOpen/onClose surface the
// transport's lifecycle to the owning session.
func (c *EventChannel) Attach(onOpen func(), onClose func()) {
	c.tr.Handle(c.handleRaw, onOpen, onClose)
}

// Subscribe registers a generic observer. Subscribers run in arrival
// order, after the engine's semantic reactions.
func (c *EventChannel) Subscribe(fn func(events.ServerEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// react registers a semantic reaction. Reactions run before subscribers.
func (c *EventChannel) react(fn func(events.ServerEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactors = append(c.reactors, fn)
}

// Send serializes and transmits a client event, assigning a fresh
// event_id when the caller did not provide one, and appends it to the
// outbound log.
func (c *EventChannel) Send(evt any) error {
	if !c.tr.Open() {
		return ErrChannelNotReady
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return newError(ErrKindDecode, "marshal client event", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return newError(ErrKindDecode, "client event must be a JSON object", err)
	}

	id, _ := frame["event_id"].(string)
	if id == "" {
		id = events.NewEventID()
		frame["event_id"] = id
		if data, err = json.Marshal(frame); err != nil {
			return newError(ErrKindDecode, "marshal client event", err)
		}
	}
	eventType, _ := frame["type"].(string)

	if err := c.tr.Send(data); err != nil {
		return newError(ErrKindChannelNotReady, "transport send", err)
	}

	c.mu.Lock()
	c.log = append(c.log, LoggedEvent{
		Direction: DirectionClient,
		Type:      eventType,
		EventID:   id,
		Raw:       data,
		At:        time.Now(),
	})
	c.mu.Unlock()

	return nil
}

// handleRaw decodes one inbound frame, applies the dedup rule and fans
// out. A malformed frame is logged and dropped; it never kills the
// channel.
func (c *EventChannel) handleRaw(data []byte) {
	evt, err := events.Decode(data)
	if err != nil {
		c.logger.Warn("discarding malformed event", slog.Any("err", err))
		return
	}
	base := evt.Base()

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	if base.EventID != "" && events.Notable(base.Type) {
		if _, dup := c.seen[base.EventID]; dup {
			c.mu.Unlock()
			return
		}
		c.seen[base.EventID] = struct{}{}
	}
	c.log = append(c.log, LoggedEvent{
		Direction: DirectionServer,
		Type:      base.Type,
		EventID:   base.EventID,
		Raw:       append(json.RawMessage(nil), data...),
		At:        time.Now(),
	})
	reactors := c.reactors
	subs := c.subs
	c.mu.Unlock()

	for _, fn := range reactors {
		fn(evt)
	}
	for _, fn := range subs {
		fn(evt)
	}
}

// Events returns a snapshot of the session event log, newest last.
func (c *EventChannel) Events() []LoggedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LoggedEvent, len(c.log))
	copy(out, c.log)
	return out
}

// clearLog empties the event log. Called on entering Active.
func (c *EventChannel) clearLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = c.log[:0]
}

// detach stops all further delivery. Called from the session teardown;
// after it returns no subscriber sees another event.
func (c *EventChannel) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	c.reactors = nil
	c.subs = nil
}
