package events

import (
	"encoding/json"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

type BaseEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (b BaseEvent) Base() BaseEvent { return b }

func NewBaseEvent(eventType string) BaseEvent {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return BaseEvent{
		EventID: id,
		Type:    eventType,
	}
}

// NewEventID returns a fresh identifier for a client event.
func NewEventID() string {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return id
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// notableFamilies are the event-type families that are deduplicated by
// event id and retained durably in the session log. Everything else
// (audio deltas, transcripts, ...) passes through undeduplicated.
var notableFamilies = []string{
	"session.",
	"response.",
	"conversation.",
	"rate_limits.",
}

// Notable reports whether an event type belongs to the terminal/notable set.
func Notable(eventType string) bool {
	for _, family := range notableFamilies {
		if strings.HasPrefix(eventType, family) {
			return true
		}
	}
	return false
}
