package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phonevoice/realtime-go/internal/peer"
)

const (
	// sessionSampleRate is the PCM rate of the remote session. Capture
	// running at any other rate is resampled on the way out.
	sessionSampleRate = 24_000

	// captureFrame is the duration of one outbound audio frame.
	captureFrame = 20 * time.Millisecond
)

// TokenProvider yields the ephemeral credential used to authenticate the
// signaling exchange.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential. Useful for
// direct API keys and for tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// HTTPTokenProvider fetches an ephemeral token from a minting endpoint
// that returns the session-create payload, i.e. {"client_secret":
// {"value": "..."}}. A bare {"value": "..."} body is accepted too.
type HTTPTokenProvider struct {
	URL    string
	Client *http.Client
}

func (p *HTTPTokenProvider) Token(ctx context.Context) (string, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token payload: %w", err)
	}

	token := payload.ClientSecret.Value
	if token == "" {
		token = payload.Value
	}
	if token == "" {
		return "", fmt.Errorf("token endpoint returned no credential")
	}
	return token, nil
}

// CaptureSource is an open microphone: a PCM byte stream plus its rate.
type CaptureSource interface {
	io.Reader
	SampleRate() int
	Close() error
}

// CaptureOpener opens the local capture device. Returning an error is
// non-fatal to negotiation; the session proceeds without a local track.
type CaptureOpener func(ctx context.Context) (CaptureSource, error)

// SessionParams is what the negotiator submits to the remote endpoint.
type SessionParams struct {
	Model        string
	Voice        string
	Instructions string
}

// Link is the bundle a successful negotiation hands back: the event
// transport plus the level sources for both audio directions. MediaErr is
// set when capture could not be opened; the link is still usable.
type Link struct {
	Channel      Transport
	LocalLevels  LevelSource
	RemoteLevels LevelSource
	MediaErr     error

	// ParamsPending marks a link whose transport could not carry the
	// session parameters during negotiation. The engine applies them
	// with a session.update once the channel opens.
	ParamsPending bool

	closeOnce sync.Once
	closers   []func()
}

func (l *Link) addCloser(fn func()) {
	l.closers = append(l.closers, fn)
}

// Close releases everything the negotiation allocated. Safe to call more
// than once; closers run in reverse registration order.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		if l.Channel != nil {
			_ = l.Channel.Close()
		}
		for i := len(l.closers) - 1; i >= 0; i-- {
			l.closers[i]()
		}
	})
}

// Negotiator establishes the media and event path for one session.
type Negotiator interface {
	Negotiate(ctx context.Context, params SessionParams) (*Link, error)
}

// webrtcNegotiator is the production path: credential fetch, peer setup,
// SDP offer over HTTP, answer applied locally.
type webrtcNegotiator struct {
	tokens    TokenProvider
	signalURL string
	client    *http.Client
	capture   CaptureOpener
	logger    *slog.Logger
}

func newWebRTCNegotiator(cfg *engineConfig) *webrtcNegotiator {
	tokens := cfg.tokens
	if tokens == nil && cfg.tokenURL != "" {
		tokens = &HTTPTokenProvider{URL: cfg.tokenURL, Client: cfg.httpClient}
	}
	return &webrtcNegotiator{
		tokens:    tokens,
		signalURL: cfg.signalURL,
		client:    cfg.httpClient,
		capture:   cfg.capture,
		logger:    cfg.logger,
	}
}

func (n *webrtcNegotiator) Negotiate(ctx context.Context, params SessionParams) (*Link, error) {
	if n.tokens == nil {
		return nil, newError(ErrKindCredential, "no token provider configured", nil)
	}
	token, err := n.tokens.Token(ctx)
	if err != nil {
		return nil, newError(ErrKindCredential, "ephemeral token fetch failed", err)
	}

	// Capture failure degrades the session instead of failing it: no
	// local track, no local levels, MediaErr set on the link.
	var (
		source   CaptureSource
		mediaErr error
	)
	if n.capture != nil {
		source, err = n.capture(ctx)
		if err != nil {
			mediaErr = newError(ErrKindMediaAccess, "capture device unavailable", err)
			n.logger.Warn("continuing without local audio", slog.Any("err", err))
			source = nil
		}
	}

	remote := NewMeter()
	pr, err := peer.New(peer.Config{
		Logger:     n.logger,
		RemoteSink: remote,
	})
	if err != nil {
		if source != nil {
			_ = source.Close()
		}
		remote.Close()
		return nil, newError(ErrKindSignaling, "peer setup failed", err)
	}

	fail := func(kind ErrorKind, msg string, cause error) (*Link, error) {
		_ = pr.Close()
		if source != nil {
			_ = source.Close()
		}
		remote.Close()
		return nil, newError(kind, msg, cause)
	}

	offer, err := pr.CreateOffer(ctx)
	if err != nil {
		return fail(ErrKindSignaling, "offer creation failed", err)
	}

	answer, err := n.exchange(ctx, token, offer, params)
	if err != nil {
		return fail(ErrKindSignaling, "offer exchange failed", err)
	}

	if err := pr.ApplyAnswer(answer); err != nil {
		return fail(ErrKindSignaling, "answer rejected", err)
	}

	link := &Link{
		Channel:      pr.DataChannel(),
		RemoteLevels: remote,
		MediaErr:     mediaErr,
	}
	link.addCloser(remote.Close)
	link.addCloser(func() { _ = pr.Close() })

	if source != nil {
		local := NewMeter()
		link.LocalLevels = local
		link.addCloser(local.Close)
		link.addCloser(func() { _ = source.Close() })

		pumpCtx, cancel := context.WithCancel(context.Background())
		link.addCloser(cancel)
		go pumpCapture(pumpCtx, source, pr, local, n.logger)
	}

	return link, nil
}

// exchange posts the SDP offer and returns the answer body.
func (n *webrtcNegotiator) exchange(ctx context.Context, token, offer string, params SessionParams) (string, error) {
	query := url.Values{}
	query.Set("model", params.Model)
	if params.Voice != "" {
		query.Set("voice", params.Voice)
	}
	if params.Instructions != "" {
		query.Set("instructions", params.Instructions)
	}
	endpoint := n.signalURL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	client := n.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("signaling endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// pumpCapture cuts the capture stream into frame-sized chunks, resamples
// to the session rate when needed, and feeds both the outbound track and
// the local meter. Exits quietly when the source or context ends.
func pumpCapture(ctx context.Context, source CaptureSource, pr *peer.Peer, meter *Meter, logger *slog.Logger) {
	rate := source.SampleRate()
	chunks := NewFixedAudioChunkReader(source, rate, captureFrame, 2, 1)
	buf := make([]byte, chunkSizeFor(rate, captureFrame, 2, 1))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := chunks.Read(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			logger.Debug("capture read ended", slog.Any("err", err))
			return
		}

		pcm := buf[:n]
		if rate != sessionSampleRate {
			pcm, err = ResamplePCM(pcm, rate, sessionSampleRate)
			if err != nil {
				logger.Warn("resample failed", slog.Any("err", err))
				continue
			}
		}

		_, _ = meter.Write(pcm)
		if err := pr.WriteAudio(pcm, captureFrame); err != nil {
			logger.Debug("track write ended", slog.Any("err", err))
			return
		}
	}
}
