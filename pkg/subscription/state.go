package subscription

import (
	"time"

	"github.com/cuemby/faultbridge/pkg/metrics"
)

// State is the lifecycle state of a subscription manager
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateRefreshing
	StateStopped
)

var allStates = []State{StateDisconnected, StateConnecting, StateSubscribed, StateRefreshing, StateStopped}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateRefreshing:
		return "refreshing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether the state carries a live subscription
func (s State) Active() bool {
	return s == StateSubscribed || s == StateRefreshing
}

// StateChange is published on every transition
type StateChange struct {
	Cluster string
	From    State
	To      State
	Err     error
	At      time.Time
}

// transition moves the manager to next. Caller holds m.mu.
func (m *Manager) transition(next State, err error) {
	prev := m.state
	if prev == next {
		return
	}
	if prev == StateStopped {
		// terminal
		return
	}
	m.state = next

	for _, s := range allStates {
		v := 0.0
		if s == next {
			v = 1
		}
		metrics.SubscriptionState.WithLabelValues(m.cluster, s.String()).Set(v)
	}

	ev := m.logger.Info()
	if err != nil {
		ev = m.logger.Warn().Err(err)
	}
	ev.Str("from", prev.String()).Str("to", next.String()).Msg("Subscription state changed")

	if m.notify != nil {
		change := StateChange{Cluster: m.cluster, From: prev, To: next, Err: err, At: m.cfg.Now()}
		select {
		case m.notify <- change:
		default:
		}
	}
}
