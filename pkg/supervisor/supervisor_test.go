package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/subscription"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name     string
	startErr error
	release  chan struct{} // Start blocks until closed when set
	stuck    bool          // ignore Stop

	running    atomic.Bool
	stopped    atomic.Bool
	terminated atomic.Bool
	done       chan struct{}
	once       sync.Once
}

func (r *fakeRunner) Start(ctx context.Context) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.startErr != nil {
		return r.startErr
	}
	r.running.Store(true)
	return nil
}

func (r *fakeRunner) Stop() {
	r.stopped.Store(true)
	r.running.Store(false)
	if !r.stuck {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *fakeRunner) Terminate() {
	r.terminated.Store(true)
	r.running.Store(false)
	r.once.Do(func() { close(r.done) })
}

func (r *fakeRunner) Done() <-chan struct{} { return r.done }
func (r *fakeRunner) IsRunning() bool       { return r.running.Load() }

type fakeFactory struct {
	mu       sync.Mutex
	runners  []*fakeRunner
	startErr error
	release  chan struct{}
	stuck    bool
}

func (f *fakeFactory) NewRunner(cluster types.ClusterConfig) Runner {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRunner{
		name:     cluster.Name,
		startErr: f.startErr,
		release:  f.release,
		stuck:    f.stuck,
		done:     make(chan struct{}),
	}
	f.runners = append(f.runners, r)
	return r
}

func (f *fakeFactory) created(name string) []*fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeRunner
	for _, r := range f.runners {
		if r.name == name {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeFactory) last(name string) *fakeRunner {
	rs := f.created(name)
	if len(rs) == 0 {
		return nil
	}
	return rs[len(rs)-1]
}

func streaming(name string) types.ClusterConfig {
	return types.ClusterConfig{
		Name:      name,
		Type:      types.ClusterTypeACI,
		Endpoints: []types.Endpoint{{Host: name + ".example.net", Port: 443, User: "admin", Password: "secret"}},
	}
}

func testSupervisor(f Factory, clusters ...types.ClusterConfig) *Supervisor {
	return New(clusters, f, Config{
		RestartGrace:    50 * time.Millisecond,
		ShutdownTimeout: 200 * time.Millisecond,
	})
}

// settle waits until no cluster has a start in flight
func settle(t *testing.T, s *Supervisor) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, e := range s.entries {
			if e.starting {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconcileCreatesOneRunnerPerCluster(t *testing.T) {
	f := &fakeFactory{release: make(chan struct{})}
	s := testSupervisor(f, streaming("fabric1"))

	s.Reconcile()
	s.Reconcile()
	close(f.release)
	settle(t, s)

	assert.Len(t, f.created("fabric1"), 1)
	assert.True(t, f.last("fabric1").IsRunning())

	s.Reconcile()
	settle(t, s)
	assert.Len(t, f.created("fabric1"), 1, "healthy runner is left alone")
}

func TestReconcileReplacesDownRunner(t *testing.T) {
	f := &fakeFactory{}
	s := testSupervisor(f, streaming("down1"))

	s.Reconcile()
	settle(t, s)
	first := f.last("down1")
	require.NotNil(t, first)

	before := testutil.ToFloat64(metrics.RestartsTotal.WithLabelValues("down1", reasonDown))
	first.running.Store(false)

	s.Reconcile()
	settle(t, s)

	require.Len(t, f.created("down1"), 2)
	assert.True(t, first.stopped.Load())
	assert.True(t, f.last("down1").IsRunning())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RestartsTotal.WithLabelValues("down1", reasonDown)))
}

func TestStateChangeTriggersReconcile(t *testing.T) {
	f := &fakeFactory{}
	s := New([]types.ClusterConfig{streaming("wake1")}, f, Config{
		ReconcileInterval: time.Hour,
		RestartGrace:      50 * time.Millisecond,
		ShutdownTimeout:   200 * time.Millisecond,
	})
	s.Start()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.Eventually(t, func() bool {
		r := f.last("wake1")
		return r != nil && r.IsRunning()
	}, time.Second, 5*time.Millisecond)

	first := f.last("wake1")
	first.running.Store(false)
	s.StateChanges() <- subscription.StateChange{
		Cluster: "wake1",
		From:    subscription.StateSubscribed,
		To:      subscription.StateDisconnected,
	}

	require.Eventually(t, func() bool { return len(f.created("wake1")) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, first.stopped.Load())
}

func TestReconcileRecyclesAtCeiling(t *testing.T) {
	var now atomic.Int64
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now.Store(base.UnixNano())

	f := &fakeFactory{}
	s := New([]types.ClusterConfig{streaming("old1")}, f, Config{
		RestartGrace: 50 * time.Millisecond,
		Now:          func() time.Time { return time.Unix(0, now.Load()) },
	})

	s.Reconcile()
	settle(t, s)
	first := f.last("old1")

	now.Store(base.Add(5 * time.Hour).UnixNano())
	s.Reconcile()
	settle(t, s)
	assert.Len(t, f.created("old1"), 1)

	now.Store(base.Add(6*time.Hour + time.Second).UnixNano())
	s.Reconcile()
	settle(t, s)
	assert.Len(t, f.created("old1"), 2)
	assert.True(t, first.stopped.Load())
	assert.True(t, f.last("old1").IsRunning())
}

func TestCeilingSkipsPollClusters(t *testing.T) {
	var now atomic.Int64
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now.Store(base.UnixNano())

	poll := streaming("poll1")
	poll.PollIntervalMinutes = 5

	f := &fakeFactory{}
	s := New([]types.ClusterConfig{poll}, f, Config{
		Now: func() time.Time { return time.Unix(0, now.Load()) },
	})

	s.Reconcile()
	settle(t, s)
	now.Store(base.Add(7 * time.Hour).UnixNano())
	s.Reconcile()
	settle(t, s)

	assert.Len(t, f.created("poll1"), 1)
}

func TestStopClusterPreventsRestart(t *testing.T) {
	f := &fakeFactory{}
	s := testSupervisor(f, streaming("ops1"))

	s.Reconcile()
	settle(t, s)
	require.NoError(t, s.StopCluster("ops1"))
	assert.True(t, f.last("ops1").stopped.Load())

	s.Reconcile()
	settle(t, s)
	assert.Len(t, f.created("ops1"), 1)
	assert.Equal(t, "stopped", s.Status()[0].State)

	require.NoError(t, s.StartCluster("ops1"))
	settle(t, s)
	assert.Len(t, f.created("ops1"), 2)
	assert.True(t, f.last("ops1").IsRunning())
}

func TestUnknownCluster(t *testing.T) {
	s := testSupervisor(&fakeFactory{}, streaming("known"))

	for name, op := range map[string]func(string) error{
		"start":   s.StartCluster,
		"stop":    s.StopCluster,
		"restart": s.RestartCluster,
	} {
		t.Run(name, func(t *testing.T) {
			err := op("missing")
			require.Error(t, err)
			assert.True(t, IsClusterNotFound(err))
		})
	}
}

func TestStopWithoutManager(t *testing.T) {
	s := testSupervisor(&fakeFactory{}, streaming("idle"))

	assert.True(t, IsClusterNotFound(s.StopCluster("idle")))
	assert.True(t, IsClusterNotFound(s.RestartCluster("idle")))
}

func TestRestartCluster(t *testing.T) {
	f := &fakeFactory{}
	s := testSupervisor(f, streaming("r1"))

	s.Reconcile()
	settle(t, s)
	first := f.last("r1")

	require.NoError(t, s.RestartCluster("r1"))
	settle(t, s)

	require.Len(t, f.created("r1"), 2)
	assert.True(t, first.stopped.Load())
	assert.False(t, first.terminated.Load())
	assert.True(t, f.last("r1").IsRunning())
}

func TestRestartTerminatesStuckRunner(t *testing.T) {
	f := &fakeFactory{stuck: true}
	s := testSupervisor(f, streaming("stuck1"))

	s.Reconcile()
	settle(t, s)
	first := f.last("stuck1")

	require.NoError(t, s.RestartCluster("stuck1"))
	settle(t, s)

	assert.True(t, first.terminated.Load())
	assert.Len(t, f.created("stuck1"), 2)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := &fakeFactory{startErr: errors.New("authentication failed")}
	s := New([]types.ClusterConfig{streaming("bad1")}, f, Config{
		MaxRestartFailures: 2,
		RestartBackoff:     time.Hour,
	})

	for i := 0; i < 4; i++ {
		s.Reconcile()
		settle(t, s)
	}

	assert.Len(t, f.created("bad1"), 2)
	st := s.Status()[0]
	assert.Equal(t, "open", st.Breaker)
	assert.Equal(t, "down", st.State)
	assert.Contains(t, st.LastError, "authentication failed")
}

func TestShutdownStopsRunners(t *testing.T) {
	f := &fakeFactory{}
	s := testSupervisor(f, streaming("a"), streaming("b"))

	s.Reconcile()
	settle(t, s)

	require.NoError(t, s.Shutdown(context.Background()))
	for _, name := range []string{"a", "b"} {
		r := f.last(name)
		assert.True(t, r.stopped.Load())
		assert.False(t, r.terminated.Load())
	}

	s.Reconcile()
	assert.Len(t, f.created("a"), 1, "no reconcile after shutdown")
	assert.ErrorIs(t, s.StartCluster("a"), ErrShuttingDown)
}

func TestShutdownTerminatesStuckRunners(t *testing.T) {
	f := &fakeFactory{stuck: true}
	s := testSupervisor(f, streaming("a"))

	s.Reconcile()
	settle(t, s)

	err := s.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, f.last("a").terminated.Load())
}

func TestStatusAndSamples(t *testing.T) {
	poll := streaming("p1")
	poll.PollIntervalMinutes = 10

	f := &fakeFactory{}
	s := testSupervisor(f, streaming("s1"), poll)
	s.Reconcile()
	settle(t, s)

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "p1", st[0].Name)
	assert.Equal(t, ModePoll, st[0].Mode)
	assert.Equal(t, "running", st[0].State)
	assert.NotNil(t, st[0].StartedAt)
	assert.Equal(t, "closed", st[0].Breaker)
	assert.Equal(t, ModeStream, st[1].Mode)

	samples := s.Samples()
	require.Len(t, samples, 2)
	for _, sm := range samples {
		assert.True(t, sm.Running)
		assert.False(t, sm.Stopped)
	}

	clusters := s.Clusters()
	assert.Equal(t, "p1", clusters[0].Name)
	assert.Equal(t, "s1", clusters[1].Name)
}
