package subscription

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(context.Background(), 4, 16, nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		assert.True(t, p.Submit(func(ctx context.Context) { n.Add(1) }))
	}
	p.Close()
	assert.Equal(t, int32(10), n.Load())
}

func TestPoolBacklogFull(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	p := NewPool(context.Background(), 1, 1, nil)

	assert.True(t, p.Submit(func(ctx context.Context) {
		close(running)
		<-release
	}))
	<-running
	assert.True(t, p.Submit(func(ctx context.Context) {}))
	assert.False(t, p.Submit(func(ctx context.Context) {}), "backlog of one is already full")

	close(release)
	p.Close()
}

func TestPoolRecoversPanics(t *testing.T) {
	var recovered atomic.Value
	p := NewPool(context.Background(), 1, 4, func(r interface{}) { recovered.Store(r) })

	p.Submit(func(ctx context.Context) { panic("kaboom") })
	var after atomic.Bool
	p.Submit(func(ctx context.Context) { after.Store(true) })
	p.Close()

	assert.Equal(t, "kaboom", recovered.Load())
	assert.True(t, after.Load())
}

func TestPoolClosedRejects(t *testing.T) {
	p := NewPool(context.Background(), 1, 1, nil)
	p.Close()
	assert.False(t, p.Submit(func(ctx context.Context) {}))
	p.Close()
}

func TestPoolSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	running := make(chan struct{})
	p := NewPool(ctx, 1, 4, nil)

	p.Submit(func(ctx context.Context) {
		close(running)
		<-release
	})
	<-running
	var ran atomic.Bool
	p.Submit(func(ctx context.Context) { ran.Store(true) })

	cancel()
	close(release)

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not close")
	}
	assert.False(t, ran.Load())
}
