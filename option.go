package realtime

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	TokenEnvVarName = "PHONEVOICE_TOKEN_URL"

	defaultSignalURL = "https://api.openai.com/v1/realtime"

	defaultFollowUpInstructions = "ask for feedback about the appointment - don't repeat " +
		"the details, just ask if they are happy with the booking."
)

// AgentConfig is the per-agent configuration record. The hosted variants
// of the console differ only in these fields; the engine branches on
// configuration, never on naming.
type AgentConfig struct {
	Label        string
	Model        string
	Voice        string
	Instructions string
	FirstMessage string
	MetadataURL  string
}

type engineConfig struct {
	label        string
	model        string
	voice        string
	instructions string
	firstMessage string
	metadataURL  string
	notifyURL    string

	signalURL   string
	wsSignalURL string
	wsFallback  bool
	tokenURL    string

	tokens     TokenProvider
	negotiator Negotiator
	capture    CaptureOpener
	notifier   Notifier

	bookingTool        bool
	bookingDescription string
	followUp           string

	openTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

type Option func(*engineConfig)

func WithAgent(a AgentConfig) Option {
	return func(c *engineConfig) {
		if a.Label != "" {
			c.label = a.Label
		}
		if a.Model != "" {
			c.model = a.Model
		}
		if a.Voice != "" {
			c.voice = a.Voice
		}
		if a.Instructions != "" {
			c.instructions = a.Instructions
		}
		if a.FirstMessage != "" {
			c.firstMessage = a.FirstMessage
		}
		if a.MetadataURL != "" {
			c.metadataURL = a.MetadataURL
		}
	}
}

func WithLabel(label string) Option {
	return func(c *engineConfig) {
		c.label = label
	}
}

func WithModel(model string) Option {
	return func(c *engineConfig) {
		c.model = model
	}
}

func WithVoice(voice string) Option {
	return func(c *engineConfig) {
		c.voice = voice
	}
}

func WithInstructions(instructions string) Option {
	return func(c *engineConfig) {
		c.instructions = instructions
	}
}

func WithFirstMessage(text string) Option {
	return func(c *engineConfig) {
		c.firstMessage = text
	}
}

func WithMetadataURL(url string) Option {
	return func(c *engineConfig) {
		c.metadataURL = url
	}
}

// WithNotifyURL enables the fire-and-forget session-start notification.
func WithNotifyURL(url string) Option {
	return func(c *engineConfig) {
		c.notifyURL = url
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *engineConfig) {
		c.notifier = n
	}
}

// WithSignalingURL overrides the remote signaling endpoint.
func WithSignalingURL(url string) Option {
	return func(c *engineConfig) {
		c.signalURL = url
	}
}

// WithWebSocketTransport routes the event protocol over a websocket
// instead of a WebRTC peer. No media flows in this mode; both speaking
// states come from server events alone. An empty url keeps the default
// endpoint.
func WithWebSocketTransport(url string) Option {
	return func(c *engineConfig) {
		c.wsFallback = true
		if url != "" {
			c.wsSignalURL = url
		}
	}
}

// WithTokenURL points the default credential provider at an ephemeral
// token endpoint.
func WithTokenURL(url string) Option {
	return func(c *engineConfig) {
		c.tokenURL = url
	}
}

func WithTokenProvider(p TokenProvider) Option {
	return func(c *engineConfig) {
		c.tokens = p
	}
}

// WithNegotiator replaces the WebRTC negotiator. Tests use this.
func WithNegotiator(n Negotiator) Option {
	return func(c *engineConfig) {
		c.negotiator = n
	}
}

// WithCapture sets the microphone opener. The demo wires a portaudio
// source here; nil means sessions run without a local audio track.
func WithCapture(open CaptureOpener) Option {
	return func(c *engineConfig) {
		c.capture = open
	}
}

// WithBookingTool registers the built-in booking tool after the remote
// session is created. An empty description keeps the default.
func WithBookingTool(description string) Option {
	return func(c *engineConfig) {
		c.bookingTool = true
		c.bookingDescription = description
	}
}

func WithoutBookingTool() Option {
	return func(c *engineConfig) {
		c.bookingTool = false
	}
}

// WithFollowUpInstructions overrides the instruction text of the delayed
// follow-up response after a completed tool call.
func WithFollowUpInstructions(text string) Option {
	return func(c *engineConfig) {
		c.followUp = text
	}
}

// WithOpenTimeout bounds how long Start waits for the event channel to
// report open after a successful answer.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.openTimeout = d
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *engineConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

func WithDefaultLogger() Option {
	return WithLogger(slog.Default())
}

func WithOptions(opts ...Option) Option {
	return func(c *engineConfig) {
		for _, opt := range opts {
			opt(c)
		}
	}
}

func withDefaults() Option {
	return WithOptions(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLabel("agent"),
		WithModel("gpt-4o-realtime-preview-2024-12-17"),
		WithVoice("ash"),
		WithInstructions("You are a friendly and helpful assistant. Talk quickly."),
		WithSignalingURL(defaultSignalURL),
		WithBookingTool(""),
		WithFollowUpInstructions(defaultFollowUpInstructions),
		WithOpenTimeout(10*time.Second),
		WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
		func(c *engineConfig) {
			if url := os.Getenv(TokenEnvVarName); url != "" {
				c.tokenURL = url
			}
		},
	)
}
