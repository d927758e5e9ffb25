package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/phonevoice/realtime-go/internal/websocket"
)

const defaultWSSignalURL = "wss://api.openai.com/v1/realtime"

// websocketNegotiator is the fallback session path: the same event
// protocol over one websocket, no media tracks and no level sources.
// Only the model fits in the dial URL; the link is marked ParamsPending
// so the engine applies voice and instructions via session.update once
// the channel opens.
type websocketNegotiator struct {
	tokens TokenProvider
	url    string
	logger *slog.Logger
}

func newWebSocketNegotiator(cfg *engineConfig) *websocketNegotiator {
	tokens := cfg.tokens
	if tokens == nil && cfg.tokenURL != "" {
		tokens = &HTTPTokenProvider{URL: cfg.tokenURL, Client: cfg.httpClient}
	}
	endpoint := cfg.wsSignalURL
	if endpoint == "" {
		endpoint = defaultWSSignalURL
	}
	return &websocketNegotiator{
		tokens: tokens,
		url:    endpoint,
		logger: cfg.logger,
	}
}

func (n *websocketNegotiator) Negotiate(ctx context.Context, params SessionParams) (*Link, error) {
	if n.tokens == nil {
		return nil, newError(ErrKindCredential, "no token provider configured", nil)
	}
	token, err := n.tokens.Token(ctx)
	if err != nil {
		return nil, newError(ErrKindCredential, "ephemeral token fetch failed", err)
	}

	query := url.Values{}
	query.Set("model", params.Model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, err := websocket.Dial(ctx, websocket.Config{
		URL:     n.url + "?" + query.Encode(),
		Headers: headers,
		Logger:  n.logger,
	})
	if err != nil {
		return nil, newError(ErrKindSignaling, "websocket dial failed", err)
	}

	return &Link{Channel: conn, ParamsPending: true}, nil
}
