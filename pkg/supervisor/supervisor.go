package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/subscription"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Restart reasons recorded in metrics
const (
	reasonInitial  = "initial"
	reasonDown     = "down"
	reasonCeiling  = "ceiling"
	reasonOperator = "operator"
)

// Config tunes the supervisor
type Config struct {
	ReconcileInterval time.Duration
	RestartCeiling    time.Duration // streaming runners older than this are recycled
	RestartGrace      time.Duration
	ShutdownTimeout   time.Duration

	// MaxRestartFailures consecutive start failures open a cluster's
	// breaker for RestartBackoff
	MaxRestartFailures uint32
	RestartBackoff     time.Duration

	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 500 * time.Millisecond
	}
	if c.RestartCeiling <= 0 {
		c.RestartCeiling = 6 * time.Hour
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRestartFailures == 0 {
		c.MaxRestartFailures = 5
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type entry struct {
	cluster         types.ClusterConfig
	runner          Runner
	startedAt       time.Time
	starting        bool
	operatorStopped bool
	lastErr         error
	breaker         *gobreaker.CircuitBreaker
}

func (e *entry) mode() string {
	if e.cluster.Streaming() {
		return ModeStream
	}
	return ModePoll
}

// Supervisor owns the registry of cluster runners and keeps at most one
// live runner per cluster
type Supervisor struct {
	cfg     Config
	factory Factory
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	changes  chan subscription.StateChange
	launches sync.WaitGroup
	closing  atomic.Bool
	stopOnce sync.Once
}

// New creates a supervisor for clusters. Nothing runs until Start or
// Reconcile is called.
func New(clusters []types.ClusterConfig, factory Factory, cfg Config) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  log.WithComponent("supervisor"),
		entries: make(map[string]*entry, len(clusters)),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		changes: make(chan subscription.StateChange, 64),
	}
	for _, c := range clusters {
		s.entries[c.Name] = &entry{cluster: c, breaker: s.newBreaker(c.Name)}
	}
	return s
}

func (s *Supervisor) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.cfg.RestartBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.MaxRestartFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("cluster", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Restart breaker state changed")
		},
	})
}

// Start begins the reconciliation loop
func (s *Supervisor) Start() {
	metrics.RegisterComponent("supervisor", true, "reconciling")
	go s.run()
}

func (s *Supervisor) run() {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	s.Reconcile()
	for {
		select {
		case <-ticker.C:
			s.Reconcile()
		case change := <-s.changes:
			if change.To == subscription.StateDisconnected || change.To == subscription.StateStopped {
				s.logger.Debug().Str("cluster", change.Cluster).Str("state", change.To.String()).Msg("Runner went down, reconciling early")
				s.Reconcile()
			}
		case <-s.stopCh:
			return
		}
	}
}

// StateChanges is where subscription managers report transitions. A
// manager losing its stream triggers a reconcile without waiting for the
// next tick.
func (s *Supervisor) StateChanges() chan<- subscription.StateChange {
	return s.changes
}

// Reconcile performs one pass over the registry. Every cluster without a
// running runner, and not stopped by an operator, gets a fresh one;
// streaming runners past the restart ceiling are recycled. Starts happen
// in the background and a cluster with a start in flight is skipped, so
// back-to-back calls launch one runner per cluster.
func (s *Supervisor) Reconcile() {
	if s.closing.Load() {
		return
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	for _, e := range s.entries {
		if e.starting || e.operatorStopped {
			continue
		}

		reason := ""
		switch {
		case e.runner == nil:
			reason = reasonInitial
		case !e.runner.IsRunning():
			reason = reasonDown
		case e.cluster.Streaming() && now.Sub(e.startedAt) > s.cfg.RestartCeiling:
			reason = reasonCeiling
		}
		if reason == "" {
			continue
		}

		if e.breaker.State() == gobreaker.StateOpen {
			continue
		}

		s.launchLocked(e, reason)
	}
}

// launchLocked marks e as starting and replaces its runner in the
// background. Caller holds s.mu.
func (s *Supervisor) launchLocked(e *entry, reason string) {
	if s.closing.Load() {
		return
	}
	e.starting = true
	old := e.runner
	s.launches.Add(1)
	go func() {
		defer s.launches.Done()
		s.launch(e, old, reason)
	}()
}

func (s *Supervisor) launch(e *entry, old Runner, reason string) {
	name := e.cluster.Name
	logger := s.logger.With().Str("cluster", name).Str("reason", reason).Logger()

	if old != nil {
		s.stopRunner(old)
	}

	runner := s.factory.NewRunner(e.cluster)
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, runner.Start(s.ctx)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	e.starting = false
	e.runner = runner

	if err != nil {
		e.lastErr = err
		runner.Stop()
		logger.Warn().Err(err).Msg("Failed to start cluster")
		return
	}

	e.lastErr = nil
	e.startedAt = s.cfg.Now()
	metrics.RestartsTotal.WithLabelValues(name, reason).Inc()
	logger.Info().Str("mode", e.mode()).Msg("Cluster started")

	if e.operatorStopped || s.closing.Load() {
		runner.Stop()
	}
}

// stopRunner asks r to stop and waits up to the restart grace period for
// it, terminating it if it does not finish in time
func (s *Supervisor) stopRunner(r Runner) {
	r.Stop()
	select {
	case <-r.Done():
	case <-time.After(s.cfg.RestartGrace):
		s.logger.Warn().Dur("grace", s.cfg.RestartGrace).Msg("Runner did not stop in time, terminating")
		r.Terminate()
	}
}

func (s *Supervisor) lookup(name string) (*entry, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, &ClusterNotFoundError{Name: name}
	}
	return e, nil
}

// lookupManaged is lookup restricted to clusters that have a runner
func (s *Supervisor) lookupManaged(name string) (*entry, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if e.runner == nil && !e.starting {
		return nil, &ClusterNotFoundError{Name: name}
	}
	return e, nil
}

// StartCluster clears an operator stop and starts the cluster if it has no
// running runner
func (s *Supervisor) StartCluster(name string) error {
	if s.closing.Load() {
		return ErrShuttingDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.operatorStopped = false
	if e.starting || (e.runner != nil && e.runner.IsRunning()) {
		return nil
	}
	s.launchLocked(e, reasonOperator)
	return nil
}

// StopCluster stops the cluster's runner and keeps reconcile from
// restarting it until StartCluster
func (s *Supervisor) StopCluster(name string) error {
	s.mu.Lock()
	e, err := s.lookupManaged(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	e.operatorStopped = true
	runner := e.runner
	s.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
	s.logger.Info().Str("cluster", name).Msg("Cluster stopped by operator")
	return nil
}

// RestartCluster stops the cluster, waits the restart grace period for
// teardown and starts it again. It returns once the new runner is
// launched.
func (s *Supervisor) RestartCluster(name string) error {
	if s.closing.Load() {
		return ErrShuttingDown
	}
	s.mu.Lock()
	e, err := s.lookupManaged(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if e.starting {
		s.mu.Unlock()
		return fmt.Errorf("cluster %q is already starting", name)
	}
	e.operatorStopped = false
	e.starting = true
	old := e.runner
	s.mu.Unlock()

	if old != nil {
		s.stopRunner(old)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.starting = false
	e.runner = nil
	s.launchLocked(e, reasonOperator)
	return nil
}

// Shutdown stops every runner, waits up to the shutdown timeout for them
// to drain and terminates the rest
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	// let in-flight starts settle so their runners are visible below
	launched := make(chan struct{})
	go func() {
		s.launches.Wait()
		close(launched)
	}()
	select {
	case <-launched:
	case <-ctx.Done():
		s.cancel()
	}

	s.mu.RLock()
	runners := make(map[string]Runner, len(s.entries))
	for name, e := range s.entries {
		if e.runner != nil {
			runners[name] = e.runner
		}
	}
	s.mu.RUnlock()

	var g errgroup.Group
	var forced atomic.Int32
	for name, r := range runners {
		name, r := name, r
		g.Go(func() error {
			r.Stop()
			select {
			case <-r.Done():
			case <-ctx.Done():
				s.logger.Warn().Str("cluster", name).Msg("Runner did not drain, terminating")
				r.Terminate()
				forced.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.cancel()

	metrics.UpdateComponent("supervisor", false, "shut down")
	if n := forced.Load(); n > 0 {
		return fmt.Errorf("%d runners terminated after %s", n, s.cfg.ShutdownTimeout)
	}
	s.logger.Info().Int("runners", len(runners)).Msg("All runners stopped")
	return nil
}

// ClusterStatus describes one registry entry
type ClusterStatus struct {
	Name      string     `json:"name"`
	Mode      string     `json:"mode"`
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Stopped   bool       `json:"stopped"`
	Breaker   string     `json:"breaker"`
	LastError string     `json:"last_error,omitempty"`
}

// Status lists every configured cluster sorted by name
func (s *Supervisor) Status() []ClusterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ClusterStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := ClusterStatus{
			Name:    name,
			Mode:    e.mode(),
			Stopped: e.operatorStopped,
			Breaker: e.breaker.State().String(),
		}
		switch {
		case e.starting:
			st.State = "starting"
		case e.runner != nil && e.runner.IsRunning():
			st.State = "running"
			started := e.startedAt
			st.StartedAt = &started
		case e.operatorStopped:
			st.State = "stopped"
		default:
			st.State = "down"
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Samples implements metrics.SampleSource
func (s *Supervisor) Samples() []metrics.ClusterSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.ClusterSample, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, metrics.ClusterSample{
			Mode:    e.mode(),
			Running: e.runner != nil && e.runner.IsRunning(),
			Stopped: e.operatorStopped,
		})
	}
	return out
}

// Clusters returns the configured clusters sorted by name
func (s *Supervisor) Clusters() []types.ClusterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ClusterConfig, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
