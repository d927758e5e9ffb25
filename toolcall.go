package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/phonevoice/realtime-go/events"
)

// followUpDelay is how long after a completed tool call the follow-up
// response is requested.
const followUpDelay = 500 * time.Millisecond

// ToolCallRecord captures one completed function invocation observed in a
// terminal response. Decoded is nil when the argument payload did not
// parse; ArgumentsRaw is always retained for inspection.
type ToolCallRecord struct {
	Name              string
	CallID            string
	ArgumentsRaw      string
	Decoded           map[string]any
	FollowUpScheduled bool
}

// toolCoordinator watches terminal response events for completed calls to
// registered tools and schedules exactly one delayed follow-up per record.
type toolCoordinator struct {
	logger *slog.Logger
	send   func(evt any) error
	delay  time.Duration
	// followUp is the instruction text of the scheduled response.create.
	followUp string

	mu     sync.Mutex
	known  map[string]struct{}
	record *ToolCallRecord
	timer  *time.Timer
}

func newToolCoordinator(send func(evt any) error, followUp string, logger *slog.Logger) *toolCoordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &toolCoordinator{
		logger:   logger,
		send:     send,
		delay:    followUpDelay,
		followUp: followUp,
		known:    make(map[string]struct{}),
	}
}

func (t *toolCoordinator) register(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		t.known[name] = struct{}{}
	}
}

// handleResponseDone scans the response output for the first completed
// call to a known tool. Repeated terminal events for the same record are
// swallowed by the FollowUpScheduled guard.
func (t *toolCoordinator) handleResponseDone(evt *events.ResponseDoneEvent) {
	for _, item := range evt.Response.Output {
		if item.Type != "function_call" || item.Status != "completed" {
			continue
		}

		t.mu.Lock()
		if _, ok := t.known[item.Name]; !ok {
			t.mu.Unlock()
			continue
		}
		if t.record != nil && t.record.CallID == item.CallID && t.record.FollowUpScheduled {
			t.mu.Unlock()
			return
		}

		record := &ToolCallRecord{
			Name:         item.Name,
			CallID:       item.CallID,
			ArgumentsRaw: item.Arguments,
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			t.logger.Warn("tool call arguments did not decode",
				slog.String("tool", item.Name),
				slog.Any("err", err),
			)
		} else {
			record.Decoded = args
		}

		record.FollowUpScheduled = true
		t.record = record
		t.timer = time.AfterFunc(t.delay, t.emitFollowUp)
		t.mu.Unlock()

		t.logger.Info("tool call observed",
			slog.String("tool", item.Name),
			slog.String("call_id", item.CallID),
		)
		return
	}
}

func (t *toolCoordinator) emitFollowUp() {
	if err := t.send(events.NewResponseCreate(t.followUp)); err != nil {
		t.logger.Warn("tool follow-up not sent", slog.Any("err", err))
	}
}

// Record returns a copy of the active record, or nil.
func (t *toolCoordinator) Record() *ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record == nil {
		return nil
	}
	copy := *t.record
	return &copy
}

// reset drops the active record and cancels a pending follow-up. Called
// when the session closes.
func (t *toolCoordinator) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.record = nil
}
