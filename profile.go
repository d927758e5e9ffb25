package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Profile is the remote agent metadata fetched by id before a session.
type Profile struct {
	SystemMessage string
	DisplayName   string
	FirstMessage  string
	VoiceID       string
}

type profilePayload struct {
	SystemMessage string `json:"system_message"`
	Name          string `json:"name"`
	FirstMessage  string `json:"first_message"`
	Voice         string `json:"voice"`
}

// FetchProfile looks up agent metadata at {baseURL}/{id}.json. There is
// no retry; a failure is the caller's to surface.
func FetchProfile(ctx context.Context, client *http.Client, baseURL, id string) (*Profile, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := fmt.Sprintf("%s/%s.json", strings.TrimRight(baseURL, "/"), id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile lookup %s: status %d", id, resp.StatusCode)
	}

	var payload profilePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, newError(ErrKindDecode, "profile payload", err)
	}

	return &Profile{
		SystemMessage: payload.SystemMessage,
		DisplayName:   payload.Name,
		FirstMessage:  payload.FirstMessage,
		VoiceID:       payload.Voice,
	}, nil
}
