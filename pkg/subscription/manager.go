package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultClass is the object class subscribed to
const DefaultClass = "faultRecord"

var (
	ErrAlreadyStarted = errors.New("subscription manager already started")
	errStreamClosed   = errors.New("stream closed")
)

// Controller is the part of the controller session the manager drives
type Controller interface {
	Host() string
	Subscribe(ctx context.Context, class string, since time.Time) (string, error)
	RefreshSession(ctx context.Context) error
	RefreshSubscription(ctx context.Context, id string) error
	OpenStream(ctx context.Context) (apic.Stream, error)
}

// Connector establishes a fresh controller session
type Connector func(ctx context.Context) (Controller, error)

// Handler processes one inbound stream message
type Handler interface {
	HandleMessage(ctx context.Context, host string, payload []byte) error
}

// Config tunes a Manager
type Config struct {
	Class           string
	Lookback        time.Duration // subscribe to records created this far back
	Workers         int
	Backlog         int
	TickInterval    time.Duration
	RefreshInterval time.Duration
	CallTimeout     time.Duration
	Notify          chan<- StateChange
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Class == "" {
		c.Class = DefaultClass
	}
	if c.Lookback == 0 {
		c.Lookback = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 25
	}
	if c.Backlog <= 0 {
		c.Backlog = 1000
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager owns one streaming subscription for a cluster. It runs its own
// control loop and is driven only through Start, Stop, Terminate and the
// read-only accessors.
type Manager struct {
	cluster string
	connect Connector
	handler Handler
	cfg     Config
	notify  chan<- StateChange
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	ctrl        Controller
	stream      apic.Stream
	subID       string
	connectedAt time.Time
	lastRefresh time.Time
	looping     bool

	started       atomic.Bool
	streamOpen    atomic.Bool
	stopRequested atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	pool   *Pool
	done   chan struct{}
	once   sync.Once
}

// NewManager creates a manager in the Disconnected state
func NewManager(cluster string, connect Connector, handler Handler, cfg Config) *Manager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cluster: cluster,
		connect: connect,
		handler: handler,
		cfg:     cfg,
		notify:  cfg.Notify,
		logger:  log.WithCluster("subscription", cluster),
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start connects, opens the stream and subscribes. On failure the manager
// is left Disconnected and the error is returned; it does not retry.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if m.stopRequested.Load() {
		return fmt.Errorf("cluster %s: manager stopped before start", m.cluster)
	}

	m.mu.Lock()
	m.transition(StateConnecting, nil)
	m.mu.Unlock()

	ctrl, stream, subID, err := m.establish(ctx)
	if err != nil {
		m.mu.Lock()
		m.transition(StateDisconnected, err)
		m.mu.Unlock()
		return err
	}

	now := m.cfg.Now()
	m.mu.Lock()
	m.ctrl = ctrl
	m.stream = stream
	m.subID = subID
	m.connectedAt = now
	m.lastRefresh = now
	m.looping = true
	m.streamOpen.Store(true)
	m.logger = log.WithSubscription(m.logger, subID)
	m.transition(StateSubscribed, nil)
	m.mu.Unlock()

	m.pool = NewPool(m.ctx, m.cfg.Workers, m.cfg.Backlog, func(r interface{}) {
		metrics.WorkerPanics.WithLabelValues(m.cluster).Inc()
		m.logger.Error().Interface("panic", r).Msg("Message handler panicked")
	})

	go m.readLoop(stream, ctrl.Host())
	go m.controlLoop()
	return nil
}

func (m *Manager) establish(ctx context.Context) (Controller, apic.Stream, string, error) {
	ctrl, err := m.connect(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("connect: %w", err)
	}

	stream, err := ctrl.OpenStream(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("open stream: %w", err)
	}

	since := m.cfg.Now().Add(-m.cfg.Lookback)
	subID, err := ctrl.Subscribe(ctx, m.cfg.Class, since)
	if err != nil {
		stream.Close()
		return nil, nil, "", fmt.Errorf("subscribe: %w", err)
	}
	return ctrl, stream, subID, nil
}

// readLoop hands every inbound frame to the worker pool so a slow handler
// never holds up the next read
func (m *Manager) readLoop(stream apic.Stream, host string) {
	for {
		_, payload, err := stream.ReadMessage()
		if err != nil {
			m.streamOpen.Store(false)
			if !m.stopRequested.Load() && m.ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("Stream read failed")
			}
			return
		}

		metrics.MessagesReceived.WithLabelValues(m.cluster).Inc()
		ok := m.pool.Submit(func(ctx context.Context) {
			if err := m.handler.HandleMessage(ctx, host, payload); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to handle stream message")
			}
		})
		if !ok {
			metrics.MessagesDropped.WithLabelValues(m.cluster).Inc()
			m.logger.Warn().Int("backlog", m.cfg.Backlog).Msg("Worker backlog full, dropping message")
		}
	}
}

// controlLoop is a cooperative tick loop. It watches the stop flag, the
// stream and the refresh deadline.
func (m *Manager) controlLoop() {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-m.ctx.Done():
			m.finish()
			return
		}

		if m.stopRequested.Load() {
			m.finish()
			return
		}

		m.mu.Lock()
		state := m.state
		due := m.cfg.Now().Sub(m.lastRefresh) >= m.cfg.RefreshInterval
		m.mu.Unlock()

		if !state.Active() {
			continue
		}
		if !m.streamOpen.Load() {
			m.disconnect(errStreamClosed)
			continue
		}
		if due {
			m.refresh()
		}
	}
}

// refresh renews the token and the subscription lease. Either failure
// drops the manager to Disconnected.
func (m *Manager) refresh() {
	m.mu.Lock()
	ctrl, subID := m.ctrl, m.subID
	m.transition(StateRefreshing, nil)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CallTimeout)
	defer cancel()

	err := ctrl.RefreshSession(ctx)
	if err == nil {
		err = ctrl.RefreshSubscription(ctx, subID)
	}
	if err != nil {
		metrics.SubscriptionRefreshes.WithLabelValues(m.cluster, "failure").Inc()
		m.disconnect(fmt.Errorf("refresh: %w", err))
		return
	}

	metrics.SubscriptionRefreshes.WithLabelValues(m.cluster, "success").Inc()
	m.mu.Lock()
	m.lastRefresh = m.cfg.Now()
	if m.state == StateRefreshing {
		m.transition(StateSubscribed, nil)
	}
	m.mu.Unlock()
	m.logger.Debug().Msg("Subscription refreshed")
}

func (m *Manager) disconnect(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeStreamLocked()
	m.transition(StateDisconnected, cause)
}

func (m *Manager) closeStreamLocked() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	m.streamOpen.Store(false)
}

// finish runs once when the control loop exits
func (m *Manager) finish() {
	m.mu.Lock()
	m.closeStreamLocked()
	m.transition(StateDisconnected, nil)
	m.transition(StateStopped, nil)
	m.mu.Unlock()

	if m.pool != nil {
		m.pool.Close()
	}
	m.once.Do(func() { close(m.done) })
}

// Stop asks the manager to shut down. The control loop notices on its
// next tick; Done is closed once it has exited and the backlog drained.
func (m *Manager) Stop() {
	m.stopRequested.Store(true)

	m.mu.Lock()
	looping := m.looping
	if !looping {
		m.transition(StateStopped, nil)
	}
	m.mu.Unlock()

	if !looping {
		m.cancel()
		m.once.Do(func() { close(m.done) })
	}
}

// Terminate cancels everything immediately, including in-flight handlers
func (m *Manager) Terminate() {
	m.stopRequested.Store(true)
	m.cancel()

	m.mu.Lock()
	looping := m.looping
	if !looping {
		m.transition(StateStopped, nil)
	}
	m.mu.Unlock()

	if !looping {
		m.once.Do(func() { close(m.done) })
	}
}

// Done is closed when the manager has fully stopped
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// IsRunning is true only while subscribed (or refreshing) with an open
// stream and no shutdown requested
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return state.Active() && m.streamOpen.Load() && !m.stopRequested.Load()
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status is a snapshot of the subscription
type Status struct {
	State          State
	SubscriptionID string
	ConnectedAt    time.Time
	LastRefresh    time.Time
	StreamOpen     bool
}

// Status returns a snapshot of the subscription
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:          m.state,
		SubscriptionID: m.subID,
		ConnectedAt:    m.connectedAt,
		LastRefresh:    m.lastRefresh,
		StreamOpen:     m.streamOpen.Load(),
	}
}
