package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Party identifies one monitored side of the conversation.
type Party int

const (
	PartyLocal Party = iota
	PartyRemote
)

func (p Party) String() string {
	switch p {
	case PartyLocal:
		return "local"
	case PartyRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// SpeakerState is the observable activity state of one party.
type SpeakerState struct {
	Speaking bool
	Level    uint8
}

const (
	// samplePeriod is how often each monitored track is sampled.
	samplePeriod = 100 * time.Millisecond
	// speakingThreshold is the 0-255 energy level above which a party
	// counts as speaking.
	speakingThreshold = 30
)

// activityDetector samples the level sources of the monitored parties at
// a fixed cadence and emits edge-triggered speaking transitions. A source
// that goes away is dropped silently; sampling stops when the owning
// session closes.
type activityDetector struct {
	interval  time.Duration
	threshold uint8
	logger    *slog.Logger
	onChange  func(Party, bool)

	mu      sync.Mutex
	sources map[Party]LevelSource
	states  map[Party]*SpeakerState
	cancel  context.CancelFunc
}

func newActivityDetector(onChange func(Party, bool), logger *slog.Logger) *activityDetector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &activityDetector{
		interval:  samplePeriod,
		threshold: speakingThreshold,
		logger:    logger,
		onChange:  onChange,
		sources:   make(map[Party]LevelSource),
		states: map[Party]*SpeakerState{
			PartyLocal:  {},
			PartyRemote: {},
		},
	}
}

func (d *activityDetector) attach(party Party, src LevelSource) {
	if src == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[party] = src
}

// start begins periodic sampling. The loop ends when ctx is cancelled or
// stop is called.
func (d *activityDetector) start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sample()
			}
		}
	}()
}

// sample reads every attached source once and applies the edge trigger.
func (d *activityDetector) sample() {
	type transition struct {
		party    Party
		speaking bool
	}
	var fired []transition

	d.mu.Lock()
	for party, src := range d.sources {
		level, ok := src.Level()
		if !ok {
			delete(d.sources, party)
			continue
		}
		state := d.states[party]
		state.Level = level
		speaking := level > d.threshold
		if speaking != state.Speaking {
			state.Speaking = speaking
			fired = append(fired, transition{party, speaking})
		}
	}
	d.mu.Unlock()

	for _, t := range fired {
		d.logger.Debug("speaking state changed",
			slog.String("party", t.party.String()),
			slog.Bool("speaking", t.speaking),
		)
		if d.onChange != nil {
			d.onChange(t.party, t.speaking)
		}
	}
}

// force applies a speaking transition reported by the remote service
// (speech / audio-buffer events). Edge-triggered like local sampling: a
// repeated report on the same side of the flag is swallowed.
func (d *activityDetector) force(party Party, speaking bool) {
	d.mu.Lock()
	state := d.states[party]
	changed := state.Speaking != speaking
	state.Speaking = speaking
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(party, speaking)
	}
}

func (d *activityDetector) state(party Party) SpeakerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.states[party]
}

// stop cancels sampling and resets both parties to silence. Safe to call
// more than once.
func (d *activityDetector) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.sources = make(map[Party]LevelSource)
	for _, state := range d.states {
		*state = SpeakerState{}
	}
}
