package events

import "github.com/phonevoice/realtime-go/tool"

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionUpdate `json:"session"`
}

type ConversationItemCreateEvent struct {
	BaseEvent
	Item ConversationItem `json:"item"`
}

// ConversationItem is the inner "item" object.
type ConversationItem struct {
	ID      string                    `json:"id,omitempty"`
	Type    string                    `json:"type"`
	Role    string                    `json:"role,omitempty"`
	Status  string                    `json:"status,omitempty"`
	Content []ConversationItemContent `json:"content,omitempty"`
	CallID  string                    `json:"call_id,omitempty"`
	Output  string                    `json:"output,omitempty"`
}

type ConversationItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreateEvent struct {
	BaseEvent
	Response ResponseCreatePayload `json:"response"`
}

type ResponseCreatePayload struct {
	Modalities   []string    `json:"modalities,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	Voice        string      `json:"voice,omitempty"`
	Tools        []tool.Tool `json:"tools,omitempty"`
	ToolChoice   string      `json:"tool_choice,omitempty"`
	Temperature  float64     `json:"temperature,omitempty"`
}

// NewUserText builds the conversation.item.create event for a plain user
// text message.
func NewUserText(text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		BaseEvent: NewBaseEvent("conversation.item.create"),
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ConversationItemContent{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewResponseCreate builds a response.create event. Instructions may be
// empty, in which case the session defaults apply.
func NewResponseCreate(instructions string) ResponseCreateEvent {
	return ResponseCreateEvent{
		BaseEvent: NewBaseEvent("response.create"),
		Response:  ResponseCreatePayload{Instructions: instructions},
	}
}
