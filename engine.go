package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phonevoice/realtime-go/events"
	"github.com/phonevoice/realtime-go/tool"
)

// Engine owns the lifecycle of one voice session at a time: negotiate,
// run, tear down. All methods are safe for concurrent use.
type Engine struct {
	cfg        *engineConfig
	negotiator Negotiator
	notifier   Notifier
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	sess       *session
	lastErr    error
	profileErr error
	onSpeaking []func(Party, SpeakerState)
	onEvent    []func(events.ServerEvent)
}

func New(opts ...Option) *Engine {
	cfg := &engineConfig{}
	WithOptions(withDefaults(), WithOptions(opts...))(cfg)

	negotiator := cfg.negotiator
	if negotiator == nil {
		if cfg.wsFallback {
			negotiator = newWebSocketNegotiator(cfg)
		} else {
			negotiator = newWebRTCNegotiator(cfg)
		}
	}

	notifier := cfg.notifier
	if notifier == nil && cfg.notifyURL != "" {
		notifier = newWebhookNotifier(cfg.notifyURL, cfg.httpClient, cfg.logger)
	}

	return &Engine{
		cfg:        cfg,
		negotiator: negotiator,
		notifier:   notifier,
		logger:     cfg.logger,
		state:      StateIdle,
	}
}

// Start negotiates a new session and blocks until the event channel is
// open. A second Start while one session is negotiating or active fails
// with ErrDuplicateStart. On any failure the engine returns to Idle with
// nothing allocated.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateNegotiating || e.state == StateActive {
		e.mu.Unlock()
		return ErrDuplicateStart
	}
	e.state = StateNegotiating
	e.lastErr = nil
	// Snapshot the config under the lock; LoadProfile and
	// UpdateInstructions may mutate it concurrently.
	cfg := *e.cfg
	e.mu.Unlock()

	e.logger.Info("negotiating session",
		slog.String("agent", cfg.label),
		slog.String("model", cfg.model),
	)

	link, err := e.negotiator.Negotiate(ctx, SessionParams{
		Model:        cfg.model,
		Voice:        cfg.voice,
		Instructions: cfg.instructions,
	})
	if err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.lastErr = err
		e.mu.Unlock()
		e.logger.Error("negotiation failed", slog.Any("err", err))
		return err
	}

	channel := NewEventChannel(link.Channel, e.logger)
	detector := newActivityDetector(e.emitSpeaking, e.logger)
	tools := newToolCoordinator(channel.Send, cfg.followUp, e.logger)
	sess := newSession(link, channel, detector, tools)

	detector.attach(PartyLocal, link.LocalLevels)
	detector.attach(PartyRemote, link.RemoteLevels)

	e.mu.Lock()
	if e.state != StateNegotiating {
		// Stopped while the negotiation was in flight.
		e.mu.Unlock()
		sess.teardown()
		return newError(ErrKindSignaling, "session stopped during negotiation", nil)
	}
	e.sess = sess
	e.mu.Unlock()

	channel.react(func(evt events.ServerEvent) { e.react(sess, evt) })
	channel.Subscribe(e.fanOut)

	opened := make(chan struct{})
	var openOnce sync.Once
	channel.Attach(
		func() { openOnce.Do(func() { close(opened) }) },
		// The hop to a fresh goroutine matters: transports report close
		// from inside their own Close call, and teardown closes the
		// transport.
		func() { go e.sessionClosed(sess) },
	)

	select {
	case <-opened:
	case <-time.After(cfg.openTimeout):
		err := newError(ErrKindSignaling, "event channel did not open", nil)
		e.abort(sess, err)
		return err
	case <-ctx.Done():
		err := newError(ErrKindSignaling, "start cancelled", ctx.Err())
		e.abort(sess, err)
		return err
	}

	e.mu.Lock()
	if e.sess != sess || e.state != StateNegotiating {
		e.mu.Unlock()
		sess.teardown()
		return newError(ErrKindSignaling, "session stopped during negotiation", nil)
	}
	e.state = StateActive
	sess.startedAt = time.Now()
	e.mu.Unlock()

	// The session log starts empty on activation; negotiation noise does
	// not belong to it.
	channel.clearLog()
	detector.start(context.Background())

	if e.notifier != nil {
		e.notifier.SessionStarted(SessionNote{
			SessionID: sess.id,
			Agent:     cfg.label,
			StartedAt: sess.startedAt,
		})
	}

	if link.ParamsPending {
		update := events.SessionUpdateEvent{
			BaseEvent: events.NewBaseEvent("session.update"),
			Session: events.SessionUpdate{
				Instructions: cfg.instructions,
				Voice:        cfg.voice,
			},
		}
		if err := channel.Send(update); err != nil {
			e.logger.Warn("session parameters not applied", slog.Any("err", err))
		}
	}

	if cfg.firstMessage != "" {
		if err := channel.Send(events.NewUserText(cfg.firstMessage)); err != nil {
			e.logger.Warn("first message not sent", slog.Any("err", err))
		} else if err := channel.Send(events.NewResponseCreate("")); err != nil {
			e.logger.Warn("first response not requested", slog.Any("err", err))
		}
	}

	e.logger.Info("session active", slog.String("session_id", sess.id))
	return nil
}

// Stop closes the active session. Stopping an idle or already-closed
// engine is a no-op; a session still negotiating is abandoned and torn
// down by the Start call that owns it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	sess := e.sess
	switch e.state {
	case StateIdle, StateClosed:
		e.mu.Unlock()
		return nil
	case StateNegotiating:
		e.state = StateClosed
		e.mu.Unlock()
		// The channel may already be attached and receiving; release it
		// now rather than when the blocked Start notices. teardown is
		// idempotent against the owning Start's own rollback.
		if sess != nil {
			sess.teardown()
		}
		return nil
	}
	e.state = StateClosed
	e.mu.Unlock()

	sess.teardown()
	e.logger.Info("session closed", slog.String("session_id", sess.id))
	return nil
}

// abort rolls a failed Start back to Idle and releases the session.
func (e *Engine) abort(sess *session, err error) {
	e.mu.Lock()
	if e.sess == sess {
		e.sess = nil
	}
	if e.state == StateNegotiating {
		e.state = StateIdle
	}
	e.lastErr = err
	e.mu.Unlock()

	sess.teardown()
	e.logger.Error("session start failed", slog.Any("err", err))
}

// sessionClosed handles the transport reporting closure: remote hangup,
// connection failure, or our own Close racing the callback.
func (e *Engine) sessionClosed(sess *session) {
	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return
	}
	wasActive := e.state == StateActive
	if e.state == StateActive || e.state == StateNegotiating {
		e.state = StateClosed
	}
	e.mu.Unlock()

	sess.teardown()
	if wasActive {
		e.logger.Info("event channel closed", slog.String("session_id", sess.id))
	}
}

// react is the engine's semantic reaction to inbound events. It runs on
// the transport's delivery goroutine, before external subscribers.
func (e *Engine) react(sess *session, evt events.ServerEvent) {
	switch evt := evt.(type) {
	case *events.SessionCreatedEvent:
		e.sessionCreated(sess, evt)
	case *events.SpeechStartedEvent:
		sess.detector.force(PartyLocal, true)
	case *events.SpeechStoppedEvent:
		sess.detector.force(PartyLocal, false)
	case *events.OutputAudioStartedEvent:
		sess.detector.force(PartyRemote, true)
	case *events.OutputAudioStoppedEvent:
		sess.detector.force(PartyRemote, false)
	case *events.ResponseDoneEvent:
		sess.tools.handleResponseDone(evt)
	case *events.ErrorEvent:
		e.logger.Warn("server reported error",
			slog.String("code", evt.ErrorDetail.Code),
			slog.String("message", evt.ErrorDetail.Message),
		)
	}
}

// sessionCreated registers the booking tool once the remote session
// exists. Registration happens at most once per session.
func (e *Engine) sessionCreated(sess *session, evt *events.SessionCreatedEvent) {
	e.logger.Debug("session created", slog.String("remote_id", evt.Session.ID))

	if !e.cfg.bookingTool || sess.toolsRegistered {
		return
	}
	sess.toolsRegistered = true

	update := events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent("session.update"),
		Session: events.SessionUpdate{
			Tools:      []tool.Tool{tool.BookAppointment(e.cfg.bookingDescription)},
			ToolChoice: tool.ChoiceAuto,
		},
	}
	if err := sess.channel.Send(update); err != nil {
		e.logger.Warn("tool registration not sent", slog.Any("err", err))
		return
	}
	sess.tools.register(tool.BookAppointmentName)
}

func (e *Engine) fanOut(evt events.ServerEvent) {
	e.mu.Lock()
	handlers := append([]func(events.ServerEvent){}, e.onEvent...)
	e.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

func (e *Engine) emitSpeaking(party Party, speaking bool) {
	e.mu.Lock()
	sess := e.sess
	handlers := append([]func(Party, SpeakerState){}, e.onSpeaking...)
	e.mu.Unlock()

	state := SpeakerState{Speaking: speaking}
	if sess != nil {
		state = sess.detector.state(party)
	}
	for _, fn := range handlers {
		fn(party, state)
	}
}

// OnSpeakingChange registers a handler for edge-triggered speaking
// transitions of either party. Applies to the current and future sessions.
func (e *Engine) OnSpeakingChange(fn func(Party, SpeakerState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSpeaking = append(e.onSpeaking, fn)
}

// OnServerEvent registers a generic observer of decoded inbound events.
func (e *Engine) OnServerEvent(fn func(events.ServerEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = append(e.onEvent, fn)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the local id of the current session, or "".
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.id
}

// Events returns the event log of the current (or last) session.
func (e *Engine) Events() []LoggedEvent {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.channel.Events()
}

// Speaker returns the current activity state of one party.
func (e *Engine) Speaker(party Party) SpeakerState {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return SpeakerState{}
	}
	return sess.detector.state(party)
}

// ProfileError returns the retained failure of the most recent profile
// lookup, for the host to surface. Cleared by a successful lookup.
func (e *Engine) ProfileError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profileErr
}

// LastError returns the error of the most recent failed Start, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// MediaError reports a capture failure of the current session. A session
// runs without a local track when this is non-nil.
func (e *Engine) MediaError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.link.MediaErr
}

// ToolCall returns the active tool call record, or nil.
func (e *Engine) ToolCall() *ToolCallRecord {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.tools.Record()
}

// Send transmits one client event on the active session.
func (e *Engine) Send(evt any) error {
	e.mu.Lock()
	sess := e.sess
	active := e.state == StateActive
	e.mu.Unlock()
	if !active || sess == nil {
		return ErrChannelNotReady
	}
	return sess.channel.Send(evt)
}

// SendText posts a user text message and asks for a response.
func (e *Engine) SendText(text string) error {
	if err := e.Send(events.NewUserText(text)); err != nil {
		return err
	}
	return e.Send(events.NewResponseCreate(""))
}

// UpdateInstructions changes the session instructions mid-call and keeps
// them for any future session of this engine.
func (e *Engine) UpdateInstructions(text string) error {
	e.mu.Lock()
	e.cfg.instructions = text
	e.mu.Unlock()

	return e.Send(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent("session.update"),
		Session:   events.SessionUpdate{Instructions: text},
	})
}

// LoadProfile fetches agent metadata by id and folds it into the engine
// configuration for the next Start.
func (e *Engine) LoadProfile(ctx context.Context, id string) (*Profile, error) {
	e.mu.Lock()
	baseURL := e.cfg.metadataURL
	client := e.cfg.httpClient
	e.mu.Unlock()
	if baseURL == "" {
		return nil, errors.New("no metadata url configured")
	}

	profile, err := FetchProfile(ctx, client, baseURL, id)
	e.mu.Lock()
	e.profileErr = err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if profile.SystemMessage != "" {
		e.cfg.instructions = profile.SystemMessage
	}
	if profile.VoiceID != "" {
		e.cfg.voice = profile.VoiceID
	}
	if profile.FirstMessage != "" {
		e.cfg.firstMessage = profile.FirstMessage
	}
	if profile.DisplayName != "" {
		e.cfg.label = profile.DisplayName
	}
	e.mu.Unlock()

	return profile, nil
}
