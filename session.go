package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the engine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session bundles the resources of one negotiated session. All of it is
// released in teardown, exactly once.
type session struct {
	id        string
	startedAt time.Time
	closedAt  time.Time

	link     *Link
	channel  *EventChannel
	detector *activityDetector
	tools    *toolCoordinator

	toolsRegistered bool

	teardownOnce sync.Once
}

func newSession(link *Link, channel *EventChannel, detector *activityDetector, tools *toolCoordinator) *session {
	return &session{
		id:       uuid.NewString(),
		link:     link,
		channel:  channel,
		detector: detector,
		tools:    tools,
	}
}

// teardown releases everything the session holds: sampling stops first so
// no callback fires mid-release, then delivery detaches, then the link
// and its media resources go away.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.closedAt = time.Now()
		s.detector.stop()
		s.tools.reset()
		s.channel.detach()
		s.link.Close()
	})
}
