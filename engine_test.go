package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonevoice/realtime-go/events"
)

// fakeNegotiator hands out in-memory links.
type fakeNegotiator struct {
	mu            sync.Mutex
	tr            *fakeTransport
	err           error
	mediaErr      error
	delay         time.Duration
	stayClosed    bool
	paramsPending bool
	calls         int
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, _ SessionParams) (*Link, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	tr := newFakeTransport()
	if f.stayClosed {
		tr.open = false
	}
	f.mu.Lock()
	f.tr = tr
	f.mu.Unlock()
	return &Link{Channel: tr, MediaErr: f.mediaErr, ParamsPending: f.paramsPending}, nil
}

func (f *fakeNegotiator) transport() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tr
}

func newTestEngine(t *testing.T, neg Negotiator, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithNegotiator(neg)}, opts...)
	e := New(all...)
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestEngineStartActivates(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)

	assert.Equal(t, StateIdle, e.State())
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, StateActive, e.State())
	assert.NotEmpty(t, e.SessionID())
	assert.Empty(t, e.Events(), "session log must start empty on activation")
	assert.NoError(t, e.LastError())
}

func TestEngineRejectsDuplicateStart(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)

	require.NoError(t, e.Start(context.Background()))
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateStart)
	assert.Equal(t, 1, neg.calls)
}

func TestEngineRejectsStartWhileNegotiating(t *testing.T) {
	neg := &fakeNegotiator{delay: 100 * time.Millisecond}
	e := newTestEngine(t, neg)

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return e.State() == StateNegotiating },
		time.Second, time.Millisecond)
	assert.ErrorIs(t, e.Start(context.Background()), ErrDuplicateStart)

	require.NoError(t, <-done)
}

func TestEngineStopIsIdempotent(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)

	assert.NoError(t, e.Stop()) // stop before any start

	require.NoError(t, e.Start(context.Background()))
	assert.NoError(t, e.Stop())
	assert.NoError(t, e.Stop())
	assert.Equal(t, StateClosed, e.State())
	assert.False(t, neg.transport().Open(), "transport must be released")

	// A closed engine can start a fresh session.
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateActive, e.State())
}

func TestEngineNegotiationFailure(t *testing.T) {
	neg := &fakeNegotiator{err: newError(ErrKindSignaling, "endpoint returned status 403", nil)}
	e := newTestEngine(t, neg)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindSignaling, KindOf(err))

	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.SessionID())
	assert.Equal(t, ErrKindSignaling, KindOf(e.LastError()))

	// And the engine is startable again once negotiation can succeed.
	neg.err = nil
	require.NoError(t, e.Start(context.Background()))
}

func TestEngineCredentialFailure(t *testing.T) {
	neg := &fakeNegotiator{err: newError(ErrKindCredential, "token fetch failed", nil)}
	e := newTestEngine(t, neg)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindCredential, KindOf(err))
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineRegistersBookingToolOnce(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)
	require.NoError(t, e.Start(context.Background()))

	tr := neg.transport()
	tr.inject(t, `{"type":"session.created","event_id":"evt_1","session":{"id":"sess_remote"}}`)
	tr.inject(t, `{"type":"session.created","event_id":"evt_2","session":{"id":"sess_remote"}}`)

	var updates []map[string]any
	for _, frame := range tr.sentFrames() {
		if frame["type"] == "session.update" {
			updates = append(updates, frame)
		}
	}
	require.Len(t, updates, 1)

	session, ok := updates[0]["session"].(map[string]any)
	require.True(t, ok)
	tools, ok := session["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	def, ok := tools[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "book_appointment", def["name"])
	assert.Equal(t, "auto", session["tool_choice"])
}

func TestEngineWithoutBookingTool(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg, WithoutBookingTool())
	require.NoError(t, e.Start(context.Background()))

	tr := neg.transport()
	tr.inject(t, `{"type":"session.created","event_id":"evt_1","session":{}}`)

	for _, frame := range tr.sentFrames() {
		assert.NotEqual(t, "session.update", frame["type"])
	}
}

func TestEngineToolFollowUp(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg, WithFollowUpInstructions("how was it?"))
	require.NoError(t, e.Start(context.Background()))

	tr := neg.transport()
	tr.inject(t, `{"type":"session.created","event_id":"evt_1","session":{}}`)

	tr.inject(t, `{"type":"response.done","event_id":"evt_d1","response":{"id":"resp_1","status":"completed","output":[{"type":"function_call","status":"completed","name":"book_appointment","call_id":"call_1","arguments":"{\"name\":\"Ada\"}"}]}}`)

	record := e.ToolCall()
	require.NotNil(t, record)
	assert.Equal(t, "call_1", record.CallID)
	assert.True(t, record.FollowUpScheduled)

	followUps := func() int {
		n := 0
		for _, frame := range tr.sentFrames() {
			if frame["type"] != "response.create" {
				continue
			}
			resp, _ := frame["response"].(map[string]any)
			if resp["instructions"] == "how was it?" {
				n++
			}
		}
		return n
	}

	// The follow-up is delayed; nothing goes out right away.
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, followUps())

	assert.Eventually(t, func() bool { return followUps() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A replayed terminal event must not schedule a second follow-up.
	tr.inject(t, `{"type":"response.done","event_id":"evt_d2","response":{"id":"resp_1","status":"completed","output":[{"type":"function_call","status":"completed","name":"book_appointment","call_id":"call_1","arguments":"{\"name\":\"Ada\"}"}]}}`)
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, 1, followUps())
}

func TestEngineSpeakingFromServerEvents(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)

	var mu sync.Mutex
	var fired []transition
	e.OnSpeakingChange(func(p Party, s SpeakerState) {
		mu.Lock()
		fired = append(fired, transition{p, s.Speaking})
		mu.Unlock()
	})

	require.NoError(t, e.Start(context.Background()))
	tr := neg.transport()

	tr.inject(t, `{"type":"input_audio_buffer.speech_started","event_id":"evt_1"}`)
	tr.inject(t, `{"type":"input_audio_buffer.speech_started","event_id":"evt_2"}`)
	assert.True(t, e.Speaker(PartyLocal).Speaking)

	tr.inject(t, `{"type":"input_audio_buffer.speech_stopped","event_id":"evt_3"}`)
	assert.False(t, e.Speaker(PartyLocal).Speaking)

	tr.inject(t, `{"type":"output_audio_buffer.started","event_id":"evt_4"}`)
	assert.True(t, e.Speaker(PartyRemote).Speaking)
	tr.inject(t, `{"type":"output_audio_buffer.stopped","event_id":"evt_5"}`)
	assert.False(t, e.Speaker(PartyRemote).Speaking)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transition{
		{PartyLocal, true},
		{PartyLocal, false},
		{PartyRemote, true},
		{PartyRemote, false},
	}, fired)
}

func TestEngineSendRequiresActiveSession(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)

	assert.ErrorIs(t, e.SendText("hello"), ErrChannelNotReady)

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.SendText("hello"))

	frames := neg.transport().sentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "conversation.item.create", frames[0]["type"])
	assert.Equal(t, "response.create", frames[1]["type"])
}

func TestEngineFirstMessage(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg, WithFirstMessage("Welcome to the salon"))
	require.NoError(t, e.Start(context.Background()))

	frames := neg.transport().sentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "conversation.item.create", frames[0]["type"])

	item, _ := frames[0]["item"].(map[string]any)
	content, _ := item["content"].([]any)
	require.Len(t, content, 1)
	part, _ := content[0].(map[string]any)
	assert.Equal(t, "Welcome to the salon", part["text"])
}

func TestEngineStopsWhenTransportCloses(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, neg.transport().Close())

	assert.Eventually(t, func() bool { return e.State() == StateClosed },
		time.Second, time.Millisecond)
}

func TestEngineToleratesMediaFailure(t *testing.T) {
	neg := &fakeNegotiator{
		mediaErr: newError(ErrKindMediaAccess, "capture device unavailable", nil),
	}
	e := newTestEngine(t, neg)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateActive, e.State())
	assert.Equal(t, ErrKindMediaAccess, KindOf(e.MediaError()))
}

func TestEngineNotifiesOnStart(t *testing.T) {
	neg := &fakeNegotiator{}
	notes := make(chan SessionNote, 1)
	e := newTestEngine(t, neg,
		WithLabel("salon"),
		WithNotifier(notifierFunc(func(n SessionNote) { notes <- n })),
	)

	require.NoError(t, e.Start(context.Background()))

	select {
	case note := <-notes:
		assert.Equal(t, e.SessionID(), note.SessionID)
		assert.Equal(t, "salon", note.Agent)
		assert.False(t, note.StartedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no session-start notification")
	}
}

type notifierFunc func(SessionNote)

func (f notifierFunc) SessionStarted(note SessionNote) { f(note) }

func TestEngineStopDuringNegotiationDetachesChannel(t *testing.T) {
	neg := &fakeNegotiator{stayClosed: true}
	e := newTestEngine(t, neg, WithOpenTimeout(100*time.Millisecond))

	var mu sync.Mutex
	var delivered int
	e.OnServerEvent(func(events.ServerEvent) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()

	// Wait for Start to attach the channel and block in its open-wait.
	require.Eventually(t, func() bool {
		tr := neg.transport()
		return tr != nil && tr.attached()
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Stop())

	// Nothing arriving after Stop returns may reach a subscriber.
	neg.transport().inject(t, `{"type":"response.created","event_id":"evt_1","response":{}}`)
	mu.Lock()
	assert.Zero(t, delivered)
	mu.Unlock()

	require.Error(t, <-done)
	assert.Equal(t, StateClosed, e.State())
}

func TestEngineAppliesPendingParams(t *testing.T) {
	neg := &fakeNegotiator{paramsPending: true}
	e := newTestEngine(t, neg,
		WithInstructions("be brief"),
		WithVoice("coral"),
	)
	require.NoError(t, e.Start(context.Background()))

	frames := neg.transport().sentFrames()
	require.NotEmpty(t, frames)
	require.Equal(t, "session.update", frames[0]["type"])

	session, ok := frames[0]["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, "coral", session["voice"])
}

func TestEngineSkipsSessionUpdateWhenParamsCarried(t *testing.T) {
	neg := &fakeNegotiator{}
	e := newTestEngine(t, neg, WithoutBookingTool())
	require.NoError(t, e.Start(context.Background()))

	assert.Empty(t, neg.transport().sentFrames())
}
