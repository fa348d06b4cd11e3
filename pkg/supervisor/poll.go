package supervisor

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
	"github.com/cuemby/faultbridge/pkg/storage"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// HistorySource walks historical records on one controller
type HistorySource interface {
	Host() string
	WalkHistorical(ctx context.Context, class string, since time.Time, fn func(apic.Interval, []apic.Record) error) error
}

// SourceDialer opens an authenticated HistorySource
type SourceDialer func(ctx context.Context) (HistorySource, error)

// RecordForwarder normalizes and submits a batch of records
type RecordForwarder interface {
	Forward(ctx context.Context, host string, records []apic.Record) int
}

// PollConfig tunes poll tasks
type PollConfig struct {
	Class    string
	Lookback time.Duration // first-run window when no checkpoint exists
	Now      func() time.Time
}

func (c *PollConfig) applyDefaults() {
	if c.Class == "" {
		c.Class = "faultRecord"
	}
	if c.Lookback <= 0 {
		c.Lookback = 60 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// PollTask periodically fetches the records created since the last
// checkpoint and forwards them. Runs never overlap.
type PollTask struct {
	cluster   types.ClusterConfig
	dial      SourceDialer
	forwarder RecordForwarder
	store     storage.Store
	cfg       PollConfig
	logger    zerolog.Logger

	mu     sync.Mutex
	source HistorySource

	cron      *cron.Cron
	runMu     sync.Mutex
	started   atomic.Bool
	scheduled atomic.Bool
	stopped   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

// NewPollTask creates a task for a poll-mode cluster
func NewPollTask(cluster types.ClusterConfig, dial SourceDialer, forwarder RecordForwarder, store storage.Store, cfg PollConfig) *PollTask {
	cfg.applyDefaults()
	logger := log.WithCluster("poll", cluster.Name)
	ctx, cancel := context.WithCancel(context.Background())
	return &PollTask{
		cluster:   cluster,
		dial:      dial,
		forwarder: forwarder,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
		)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start logs in once to fail fast on bad credentials, then schedules the
// task every poll interval and runs it immediately
func (t *PollTask) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("poll task already started")
	}

	src, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	t.mu.Lock()
	t.source = src
	t.mu.Unlock()

	spec := fmt.Sprintf("@every %s", t.cluster.PollInterval())
	if _, err := t.cron.AddFunc(spec, t.Run); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	t.cron.Start()
	t.scheduled.Store(true)
	go t.Run()

	t.logger.Info().Dur("interval", t.cluster.PollInterval()).Msg("Poll task scheduled")
	return nil
}

// Run performs one poll. It is a no-op while another run is in progress or
// after Stop.
func (t *PollTask) Run() {
	if t.stopped.Load() || !t.runMu.TryLock() {
		return
	}
	defer t.runMu.Unlock()
	if t.stopped.Load() {
		return
	}

	if err := t.poll(t.ctx); err != nil {
		metrics.PollRuns.WithLabelValues(t.cluster.Name, "failure").Inc()
		if apic.IsAuthentication(err) {
			// the supervisor replaces the task through its restart breaker
			t.logger.Error().Err(err).Msg("Poll authentication failed, stopping task")
			t.Stop()
			return
		}
		t.logger.Warn().Err(err).Msg("Poll failed")
		return
	}
	metrics.PollRuns.WithLabelValues(t.cluster.Name, "success").Inc()
}

func (t *PollTask) poll(ctx context.Context) error {
	src, err := t.sourceFor(ctx)
	if err != nil {
		return err
	}

	since, err := t.since()
	if err != nil {
		return err
	}

	forwarded := 0
	err = src.WalkHistorical(ctx, t.cfg.Class, since, func(iv apic.Interval, records []apic.Record) error {
		forwarded += t.forwarder.Forward(ctx, src.Host(), records)
		if err := t.store.SaveCheckpoint(t.cluster.Name, t.cfg.Class, iv.End); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Debug().Time("since", since).Int("forwarded", forwarded).Msg("Poll completed")
	return nil
}

// since is the stored checkpoint or now minus the lookback window
func (t *PollTask) since() (time.Time, error) {
	cp, ok, err := t.store.GetCheckpoint(t.cluster.Name, t.cfg.Class)
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		return cp.Timestamp, nil
	}
	return t.cfg.Now().Add(-t.cfg.Lookback), nil
}

func (t *PollTask) sourceFor(ctx context.Context) (HistorySource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.source != nil {
		return t.source, nil
	}
	src, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	t.source = src
	return src, nil
}

// Stop unschedules the task. Done closes once any in-flight run returns.
func (t *PollTask) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	go func() {
		<-t.cron.Stop().Done()
		t.runMu.Lock()
		t.runMu.Unlock()
		t.once.Do(func() { close(t.done) })
	}()
}

// Terminate cancels an in-flight run and stops the task
func (t *PollTask) Terminate() {
	t.cancel()
	t.Stop()
}

// Done is closed once the task has stopped
func (t *PollTask) Done() <-chan struct{} {
	return t.done
}

// IsRunning is true while the task is scheduled. An authentication
// failure stops the task, so it reads false afterwards.
func (t *PollTask) IsRunning() bool {
	return t.scheduled.Load() && !t.stopped.Load() && t.ctx.Err() == nil
}

// cronLogger routes cron's own messages through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
