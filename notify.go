package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SessionNote is the payload of the outward session-start notification.
type SessionNote struct {
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	StartedAt time.Time `json:"started_at"`
}

// Notifier receives the fire-and-forget session-start signal an
// embedding host may want. No acknowledgment is expected.
type Notifier interface {
	SessionStarted(note SessionNote)
}

// webhookNotifier posts the note as JSON. Delivery failures are logged
// and otherwise ignored.
type webhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func newWebhookNotifier(url string, client *http.Client, logger *slog.Logger) *webhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &webhookNotifier{url: url, client: client, logger: logger}
}

func (n *webhookNotifier) SessionStarted(note SessionNote) {
	go func() {
		body, err := json.Marshal(note)
		if err != nil {
			n.logger.Warn("session note marshal failed", slog.Any("err", err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.logger.Warn("session note request failed", slog.Any("err", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Warn("session note not delivered", slog.Any("err", err))
			return
		}
		resp.Body.Close()
	}()
}
