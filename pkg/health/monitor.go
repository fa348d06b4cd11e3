package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ComponentPrefix prefixes the component name each cluster reports under
const ComponentPrefix = "cluster/"

// Monitor runs a set of named checkers on an interval and publishes the
// outcome as component health
type Monitor struct {
	config   Config
	checkers map[string]Checker
	logger   zerolog.Logger

	mu       sync.RWMutex
	statuses map[string]*Status

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for checkers keyed by cluster name
func NewMonitor(checkers map[string]Checker, config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	if config.Parallelism <= 0 {
		config.Parallelism = def.Parallelism
	}

	statuses := make(map[string]*Status, len(checkers))
	for name := range checkers {
		statuses[name] = NewStatus()
		metrics.RegisterComponent(ComponentPrefix+name, true, "not checked yet")
	}

	return &Monitor{
		config:   config,
		checkers: checkers,
		logger:   log.WithComponent("health"),
		statuses: statuses,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the monitor and waits for an in-flight sweep
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-m.stopCh:
			return
		}
	}
}

// Sweep checks every cluster once, concurrently
func (m *Monitor) Sweep(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(m.config.Parallelism)

	for name, checker := range m.checkers {
		name, checker := name, checker
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
			defer cancel()
			m.record(name, checker.Check(checkCtx))
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) record(name string, result Result) {
	m.mu.Lock()
	st := m.statuses[name]
	wasHealthy := st.Healthy
	st.Update(result, m.config)
	healthy := st.Healthy
	m.mu.Unlock()

	metrics.UpdateComponent(ComponentPrefix+name, healthy, result.Message)

	switch {
	case wasHealthy && !healthy:
		m.logger.Warn().Str("cluster", name).Str("reason", result.Message).Msg("Controller unhealthy")
	case !wasHealthy && healthy:
		m.logger.Info().Str("cluster", name).Msg("Controller healthy again")
	default:
		m.logger.Debug().
			Str("cluster", name).
			Bool("healthy", result.Healthy).
			Dur("duration", result.Duration).
			Msg("Controller checked")
	}
}

// ClusterHealth is a snapshot of one cluster's status
type ClusterHealth struct {
	Name                string    `json:"name"`
	Healthy             bool      `json:"healthy"`
	Message             string    `json:"message"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
}

// Snapshot returns the status of every cluster sorted by name
func (m *Monitor) Snapshot() []ClusterHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ClusterHealth, 0, len(m.statuses))
	for name, st := range m.statuses {
		out = append(out, ClusterHealth{
			Name:                name,
			Healthy:             st.Healthy,
			Message:             st.LastResult.Message,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastCheck:           st.LastCheck,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
