package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonevoice/realtime-go/events"
)

type sendRecorder struct {
	mu   sync.Mutex
	sent []any
}

func (r *sendRecorder) send(evt any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, evt)
	return nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *sendRecorder) first() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[0]
}

func responseDone(callID, name, arguments string) *events.ResponseDoneEvent {
	return &events.ResponseDoneEvent{
		BaseEvent: events.BaseEvent{EventID: "evt_done", Type: events.TypeResponseDone},
		Response: events.Response{
			ID:     "resp_1",
			Status: "completed",
			Output: []events.ResponseOutputItem{{
				Type:      "function_call",
				Status:    "completed",
				Name:      name,
				CallID:    callID,
				Arguments: arguments,
			}},
		},
	}
}

func TestToolCoordinatorSchedulesFollowUpOnce(t *testing.T) {
	rec := &sendRecorder{}
	tc := newToolCoordinator(rec.send, "ask for feedback", nil)
	tc.delay = 20 * time.Millisecond
	tc.register("book_appointment")

	evt := responseDone("call_1", "book_appointment", `{"name":"Ada","service":"haircut","date":"2026-08-28","time":"14:00","phone":"555-0100"}`)
	tc.handleResponseDone(evt)
	// A replayed terminal event for the same call must not rearm the timer.
	tc.handleResponseDone(evt)

	record := tc.Record()
	require.NotNil(t, record)
	assert.Equal(t, "book_appointment", record.Name)
	assert.Equal(t, "call_1", record.CallID)
	assert.True(t, record.FollowUpScheduled)
	assert.Equal(t, "Ada", record.Decoded["name"])

	assert.Zero(t, rec.count(), "follow-up fired before the delay")

	assert.Eventually(t, func() bool { return rec.count() == 1 },
		500*time.Millisecond, 5*time.Millisecond)

	time.Sleep(3 * tc.delay)
	assert.Equal(t, 1, rec.count())

	create, ok := rec.first().(events.ResponseCreateEvent)
	require.True(t, ok)
	assert.Equal(t, "ask for feedback", create.Response.Instructions)
}

func TestToolCoordinatorIgnoresUnknownTool(t *testing.T) {
	rec := &sendRecorder{}
	tc := newToolCoordinator(rec.send, "", nil)
	tc.delay = time.Millisecond
	tc.register("book_appointment")

	tc.handleResponseDone(responseDone("call_2", "get_weather", `{}`))

	assert.Nil(t, tc.Record())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestToolCoordinatorIgnoresIncompleteCall(t *testing.T) {
	rec := &sendRecorder{}
	tc := newToolCoordinator(rec.send, "", nil)
	tc.register("book_appointment")

	evt := responseDone("call_3", "book_appointment", `{}`)
	evt.Response.Output[0].Status = "in_progress"
	tc.handleResponseDone(evt)

	assert.Nil(t, tc.Record())
}

func TestToolCoordinatorKeepsRawOnBadArguments(t *testing.T) {
	rec := &sendRecorder{}
	tc := newToolCoordinator(rec.send, "", nil)
	tc.delay = time.Millisecond
	tc.register("book_appointment")

	tc.handleResponseDone(responseDone("call_4", "book_appointment", `{broken`))

	record := tc.Record()
	require.NotNil(t, record)
	assert.Nil(t, record.Decoded)
	assert.Equal(t, `{broken`, record.ArgumentsRaw)
	assert.False(t, json.Valid([]byte(record.ArgumentsRaw)))
	assert.True(t, record.FollowUpScheduled)
}

func TestToolCoordinatorResetCancelsFollowUp(t *testing.T) {
	rec := &sendRecorder{}
	tc := newToolCoordinator(rec.send, "", nil)
	tc.delay = 30 * time.Millisecond
	tc.register("book_appointment")

	tc.handleResponseDone(responseDone("call_5", "book_appointment", `{}`))
	tc.reset()

	assert.Nil(t, tc.Record())
	time.Sleep(3 * tc.delay)
	assert.Zero(t, rec.count())
}

func TestFollowUpDelayFloor(t *testing.T) {
	assert.GreaterOrEqual(t, followUpDelay, 500*time.Millisecond)
}
