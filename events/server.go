package events

import (
	"encoding/json"
	"fmt"
)

// Server event type discriminants the engine acts on. Anything else decodes
// into UnknownEvent and passes through to subscribers untouched.
const (
	TypeError                   = "error"
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeOutputAudioStarted      = "output_audio_buffer.started"
	TypeOutputAudioStopped      = "output_audio_buffer.stopped"
	TypeResponseCreated         = "response.created"
	TypeResponseDone            = "response.done"
	TypeConversationItemCreated = "conversation.item.created"
	TypeContentPartAdded        = "response.content_part.added"
	TypeContentPartDone         = "response.content_part.done"
	TypeRateLimitsUpdated       = "rate_limits.updated"
)

// ServerEvent is the decoded form of one inbound frame.
type ServerEvent interface {
	Base() BaseEvent
}

type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type SessionCreatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type SessionUpdatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type SpeechStartedEvent struct {
	BaseEvent
	AudioStartMS int    `json:"audio_start_ms,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

type SpeechStoppedEvent struct {
	BaseEvent
	AudioEndMS int    `json:"audio_end_ms,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

type OutputAudioStartedEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

type OutputAudioStoppedEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

type ResponseCreatedEvent struct {
	BaseEvent
	Response Response `json:"response"`
}

type ResponseDoneEvent struct {
	BaseEvent
	Response Response `json:"response"`
}

// Response is the provider's response object as carried by
// response.created / response.done.
type Response struct {
	ID     string               `json:"id,omitempty"`
	Status string               `json:"status,omitempty"`
	Output []ResponseOutputItem `json:"output,omitempty"`
}

// ResponseOutputItem is one entry of a response's output array. For
// function calls Name/CallID/Arguments are set; Arguments is the raw
// provider-defined JSON string.
type ResponseOutputItem struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ConversationItemCreatedEvent struct {
	BaseEvent
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type ContentPartAddedEvent struct {
	BaseEvent
	ResponseID  string      `json:"response_id,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	OutputIndex int         `json:"output_index,omitempty"`
	Part        ContentPart `json:"part"`
}

type ContentPartDoneEvent struct {
	BaseEvent
	ResponseID  string      `json:"response_id,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	OutputIndex int         `json:"output_index,omitempty"`
	Part        ContentPart `json:"part"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type RateLimitsUpdatedEvent struct {
	BaseEvent
	RateLimits []RateLimit `json:"rate_limits"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// UnknownEvent carries any frame whose type the engine has no shape for.
// Raw is the frame as received, for subscribers that want to dig in.
type UnknownEvent struct {
	BaseEvent
	Raw json.RawMessage `json:"-"`
}

// Decode parses one inbound frame into its typed form, keyed by the type
// discriminant. Unrecognized types are not an error.
func Decode(data []byte) (ServerEvent, error) {
	var head BaseEvent
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if head.Type == "" {
		return nil, fmt.Errorf("event without type")
	}

	switch head.Type {
	case TypeError:
		return Parse[ErrorEvent](data)
	case TypeSessionCreated:
		return Parse[SessionCreatedEvent](data)
	case TypeSessionUpdated:
		return Parse[SessionUpdatedEvent](data)
	case TypeSpeechStarted:
		return Parse[SpeechStartedEvent](data)
	case TypeSpeechStopped:
		return Parse[SpeechStoppedEvent](data)
	case TypeOutputAudioStarted:
		return Parse[OutputAudioStartedEvent](data)
	case TypeOutputAudioStopped:
		return Parse[OutputAudioStoppedEvent](data)
	case TypeResponseCreated:
		return Parse[ResponseCreatedEvent](data)
	case TypeResponseDone:
		return Parse[ResponseDoneEvent](data)
	case TypeConversationItemCreated:
		return Parse[ConversationItemCreatedEvent](data)
	case TypeContentPartAdded:
		return Parse[ContentPartAddedEvent](data)
	case TypeContentPartDone:
		return Parse[ContentPartDoneEvent](data)
	case TypeRateLimitsUpdated:
		return Parse[RateLimitsUpdatedEvent](data)
	default:
		return &UnknownEvent{BaseEvent: head, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
