package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/apic/apictest"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHysteresis(t *testing.T) {
	cfg := Config{Retries: 3}
	st := NewStatus()
	fail := Result{Healthy: false, Message: "down"}

	st.Update(fail, cfg)
	st.Update(fail, cfg)
	assert.True(t, st.Healthy, "two failures are tolerated")
	assert.Equal(t, 2, st.ConsecutiveFailures)

	st.Update(fail, cfg)
	assert.False(t, st.Healthy)

	st.Update(Result{Healthy: true}, cfg)
	assert.True(t, st.Healthy)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.ConsecutiveSuccesses)
}

func clusterFor(srv *apictest.Server, name string) types.ClusterConfig {
	return types.ClusterConfig{
		Name:      name,
		Type:      types.ClusterTypeACI,
		Endpoints: []types.Endpoint{srv.Endpoint()},
	}
}

func TestControllerCheckerHealthy(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()
	srv.AddRecords(SystemClass,
		apic.Attributes{"name": "leaf-101", "role": "leaf"},
		apic.Attributes{"name": "spine-201", "role": "spine"},
	)

	checker := NewControllerChecker(clusterFor(srv, "fabric1"), APICDialer(apic.Config{TLSConfig: srv.TLSConfig()}))
	result := checker.Check(context.Background())

	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, "2 nodes reporting", result.Message)
	assert.Equal(t, CheckTypeController, checker.Type())
	assert.Positive(t, result.Duration)
}

func TestControllerCheckerBadCredentials(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()

	cluster := clusterFor(srv, "fabric1")
	cluster.Endpoints[0].Password = "nope"

	result := NewControllerChecker(cluster, APICDialer(apic.Config{TLSConfig: srv.TLSConfig()})).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "login failed")
}

type scriptedChecker struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (s *scriptedChecker) Check(ctx context.Context) Result {
	s.calls.Add(1)
	msg := "down"
	if s.healthy.Load() {
		msg = "up"
	}
	return Result{Healthy: s.healthy.Load(), Message: msg, CheckedAt: time.Now()}
}

func (s *scriptedChecker) Type() CheckType { return CheckTypeController }

func componentHealthy(t *testing.T, name string) bool {
	t.Helper()
	for _, c := range metrics.ComponentsWithPrefix(ComponentPrefix) {
		if c.Name == ComponentPrefix+name {
			return c.Healthy
		}
	}
	t.Fatalf("component %s not registered", name)
	return false
}

func TestMonitorPublishesComponentHealth(t *testing.T) {
	up := &scriptedChecker{}
	up.healthy.Store(true)
	down := &scriptedChecker{}

	m := NewMonitor(map[string]Checker{"mon-up": up, "mon-down": down}, Config{Retries: 2})
	defer func() {
		metrics.RemoveComponent(ComponentPrefix + "mon-up")
		metrics.RemoveComponent(ComponentPrefix + "mon-down")
	}()

	ctx := context.Background()
	m.Sweep(ctx)
	assert.True(t, componentHealthy(t, "mon-up"))
	assert.True(t, componentHealthy(t, "mon-down"), "one failure is below the retry threshold")

	m.Sweep(ctx)
	assert.False(t, componentHealthy(t, "mon-down"))

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "mon-down", snap[0].Name)
	assert.False(t, snap[0].Healthy)
	assert.Equal(t, 2, snap[0].ConsecutiveFailures)
	assert.Equal(t, "down", snap[0].Message)

	down.healthy.Store(true)
	m.Sweep(ctx)
	assert.True(t, componentHealthy(t, "mon-down"))
}

func TestMonitorStartStop(t *testing.T) {
	c := &scriptedChecker{}
	c.healthy.Store(true)
	m := NewMonitor(map[string]Checker{"mon-loop": c}, Config{Interval: 10 * time.Millisecond})
	defer metrics.RemoveComponent(ComponentPrefix + "mon-loop")

	m.Start()
	assert.Eventually(t, func() bool { return c.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	n := c.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, c.calls.Load())
}
