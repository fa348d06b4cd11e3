package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/storage"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type walkCall struct {
	class string
	since time.Time
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []walkCall
	now     time.Time
	records []apic.Record
	err     error
}

func (s *fakeSource) Host() string { return "apic-poll" }

func (s *fakeSource) WalkHistorical(ctx context.Context, class string, since time.Time, fn func(apic.Interval, []apic.Record) error) error {
	s.mu.Lock()
	s.calls = append(s.calls, walkCall{class: class, since: since})
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(apic.Interval{Start: since, End: s.now}, s.records)
}

func (s *fakeSource) walks() []walkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]walkCall(nil), s.calls...)
}

type countingForwarder struct {
	records atomic.Int32
	hosts   sync.Map
}

func (f *countingForwarder) Forward(ctx context.Context, host string, records []apic.Record) int {
	f.records.Add(int32(len(records)))
	f.hosts.Store(host, true)
	return len(records)
}

func pollCluster() types.ClusterConfig {
	c := streaming("poller")
	c.PollIntervalMinutes = 5
	return c
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollTaskFirstRunUsesLookback(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{now: now, records: []apic.Record{
		{Class: "faultRecord", Attributes: apic.Attributes{"code": "F0001"}},
		{Class: "faultRecord", Attributes: apic.Attributes{"code": "F0002"}},
	}}
	fwd := &countingForwarder{}
	store := newStore(t)

	task := NewPollTask(pollCluster(), func(ctx context.Context) (HistorySource, error) { return src, nil },
		fwd, store, PollConfig{Now: func() time.Time { return now }})

	require.NoError(t, task.Start(context.Background()))
	defer func() {
		task.Stop()
		<-task.Done()
	}()

	assert.Eventually(t, func() bool { return fwd.records.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, task.IsRunning())

	walks := src.walks()
	require.Len(t, walks, 1)
	assert.Equal(t, "faultRecord", walks[0].class)
	assert.True(t, now.Add(-60*time.Minute).Equal(walks[0].since))

	_, hostSeen := fwd.hosts.Load("apic-poll")
	assert.True(t, hostSeen)

	require.Eventually(t, func() bool {
		cp, ok, err := store.GetCheckpoint("poller", "faultRecord")
		return err == nil && ok && now.Equal(cp.Timestamp)
	}, time.Second, 5*time.Millisecond)
}

func TestPollTaskResumesFromCheckpoint(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	checkpoint := now.Add(-10 * time.Minute)
	store := newStore(t)
	require.NoError(t, store.SaveCheckpoint("poller", "faultRecord", checkpoint))

	src := &fakeSource{now: now}
	task := NewPollTask(pollCluster(), func(ctx context.Context) (HistorySource, error) { return src, nil },
		&countingForwarder{}, store, PollConfig{Now: func() time.Time { return now }})
	task.source = src

	task.Run()

	walks := src.walks()
	require.Len(t, walks, 1)
	assert.True(t, checkpoint.Equal(walks[0].since))
}

func TestPollTaskStopsOnAuthFailure(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{now: now}
	var dials atomic.Int32
	dial := func(ctx context.Context) (HistorySource, error) {
		dials.Add(1)
		return src, nil
	}
	task := NewPollTask(pollCluster(), dial, &countingForwarder{}, newStore(t), PollConfig{Now: func() time.Time { return now }})
	require.NoError(t, task.Start(context.Background()))
	require.Eventually(t, func() bool { return len(src.walks()) == 1 }, time.Second, time.Millisecond)

	src.mu.Lock()
	src.err = &apic.AuthenticationError{Cluster: "poller", Err: errors.New("token expired")}
	src.mu.Unlock()

	require.Eventually(t, func() bool {
		task.Run()
		return !task.IsRunning()
	}, time.Second, 5*time.Millisecond)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after auth failure")
	}
	assert.Equal(t, int32(1), dials.Load(), "no silent re-login")
}

func TestPollTaskKeepsRunningOnNetworkError(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{now: now}
	var dials atomic.Int32
	dial := func(ctx context.Context) (HistorySource, error) {
		dials.Add(1)
		return src, nil
	}
	task := NewPollTask(pollCluster(), dial, &countingForwarder{}, newStore(t), PollConfig{Now: func() time.Time { return now }})
	require.NoError(t, task.Start(context.Background()))
	t.Cleanup(task.Terminate)
	require.Eventually(t, func() bool { return len(src.walks()) == 1 }, time.Second, time.Millisecond)

	src.mu.Lock()
	src.err = &apic.NetworkError{Op: "query", Err: errors.New("reset")}
	src.mu.Unlock()

	require.Eventually(t, func() bool {
		task.Run()
		return len(src.walks()) >= 3
	}, time.Second, 5*time.Millisecond)
	assert.True(t, task.IsRunning())
	assert.Equal(t, int32(1), dials.Load(), "network errors keep the session")
}

func TestPollTaskStartFailure(t *testing.T) {
	authErr := &apic.AuthenticationError{Cluster: "poller", Err: errors.New("bad credentials")}
	task := NewPollTask(pollCluster(), func(ctx context.Context) (HistorySource, error) { return nil, authErr },
		&countingForwarder{}, newStore(t), PollConfig{})

	err := task.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apic.IsAuthentication(err))
	assert.False(t, task.IsRunning())

	task.Stop()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
}

func TestPollTaskStopAndTerminate(t *testing.T) {
	src := &fakeSource{now: time.Now()}
	task := NewPollTask(pollCluster(), func(ctx context.Context) (HistorySource, error) { return src, nil },
		&countingForwarder{}, newStore(t), PollConfig{})
	require.NoError(t, task.Start(context.Background()))
	assert.True(t, task.IsRunning())

	task.Terminate()
	assert.False(t, task.IsRunning())
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}

	task.Run()
	assert.LessOrEqual(t, len(src.walks()), 1, "no runs after stop")
}
