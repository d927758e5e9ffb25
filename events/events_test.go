package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTypedEvents(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"session.created","event_id":"evt_1","session":{"id":"sess_1","voice":"ash"}}`))
	require.NoError(t, err)
	created, ok := evt.(*SessionCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "sess_1", created.Session.ID)
	assert.Equal(t, "evt_1", created.Base().EventID)

	evt, err = Decode([]byte(`{"type":"response.done","event_id":"evt_2","response":{"id":"resp_1","status":"completed","output":[{"type":"function_call","status":"completed","name":"book_appointment","call_id":"call_1","arguments":"{}"}]}}`))
	require.NoError(t, err)
	done, ok := evt.(*ResponseDoneEvent)
	require.True(t, ok)
	require.Len(t, done.Response.Output, 1)
	assert.Equal(t, "book_appointment", done.Response.Output[0].Name)

	evt, err = Decode([]byte(`{"type":"input_audio_buffer.speech_started","event_id":"evt_3","audio_start_ms":120,"item_id":"item_1"}`))
	require.NoError(t, err)
	started, ok := evt.(*SpeechStartedEvent)
	require.True(t, ok)
	assert.Equal(t, 120, started.AudioStartMS)
}

func TestDecodeUnknownType(t *testing.T) {
	raw := `{"type":"response.audio.delta","event_id":"evt_9","delta":"AAAA"}`
	evt, err := Decode([]byte(raw))
	require.NoError(t, err)

	unknown, ok := evt.(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "response.audio.delta", unknown.Type)
	assert.JSONEq(t, raw, string(unknown.Raw))
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := Decode([]byte(`{broken`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event_id":"evt_1"}`))
	assert.Error(t, err)
}

func TestNotableFamilies(t *testing.T) {
	assert.True(t, Notable("session.created"))
	assert.True(t, Notable("response.done"))
	assert.True(t, Notable("conversation.item.created"))
	assert.True(t, Notable("rate_limits.updated"))

	assert.False(t, Notable("input_audio_buffer.speech_started"))
	assert.False(t, Notable("output_audio_buffer.stopped"))
	assert.False(t, Notable("error"))
}

func TestNewBaseEventIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		b := NewBaseEvent("response.create")
		require.NotEmpty(t, b.EventID)
		assert.False(t, seen[b.EventID])
		seen[b.EventID] = true
	}
}

func TestNewUserText(t *testing.T) {
	evt := NewUserText("hello")
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "conversation.item.create", frame["type"])

	item := frame["item"].(map[string]any)
	assert.Equal(t, "message", item["type"])
	assert.Equal(t, "user", item["role"])
	content := item["content"].([]any)
	part := content[0].(map[string]any)
	assert.Equal(t, "input_text", part["type"])
	assert.Equal(t, "hello", part["text"])
}
