package supervisor

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/normalizer"
	"github.com/cuemby/faultbridge/pkg/storage"
	"github.com/cuemby/faultbridge/pkg/subscription"
	"github.com/cuemby/faultbridge/pkg/types"
	"golang.org/x/time/rate"
)

// Modes a cluster can be ingested in
const (
	ModeStream = "stream"
	ModePoll   = "poll"
)

// Runner is one cluster's ingestion unit: a streaming subscription
// manager or a poll task
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Terminate()
	Done() <-chan struct{}
	IsRunning() bool
}

// Factory builds a fresh Runner for a cluster
type Factory interface {
	NewRunner(cluster types.ClusterConfig) Runner
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(cluster types.ClusterConfig) Runner

func (f FactoryFunc) NewRunner(cluster types.ClusterConfig) Runner {
	return f(cluster)
}

// ControllerFactory builds runners that talk to real controllers. Each
// cluster gets its own rate limiter so one busy cluster cannot starve
// another.
type ControllerFactory struct {
	TLSConfig    *tls.Config
	Query        QueryLimits
	Subscription subscription.Config
	Normalizer   *normalizer.Normalizer
	Sink         normalizer.Sink
	Store        storage.Store
	Poll         PollConfig

	// Notify receives every manager's state changes, usually
	// Supervisor.StateChanges
	Notify chan<- subscription.StateChange
}

// QueryLimits are applied to every controller client
type QueryLimits struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

func (f *ControllerFactory) clientConfig() apic.Config {
	cfg := apic.Config{
		TLSConfig: f.TLSConfig,
		Timeout:   f.Query.Timeout,
	}
	if f.Query.RateLimit > 0 {
		burst := f.Query.Burst
		if burst <= 0 {
			burst = 1
		}
		cfg.Limiter = rate.NewLimiter(rate.Limit(f.Query.RateLimit), burst)
	}
	return cfg
}

// NewRunner returns a subscription manager for streaming clusters and a
// poll task otherwise
func (f *ControllerFactory) NewRunner(cluster types.ClusterConfig) Runner {
	clientCfg := f.clientConfig()
	forwarder := normalizer.NewForwarder(cluster, f.Normalizer, f.Sink)

	if cluster.Streaming() {
		connect := func(ctx context.Context) (subscription.Controller, error) {
			client, err := apic.Dial(ctx, cluster.Name, cluster.Endpoints, clientCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
		subCfg := f.Subscription
		if subCfg.Notify == nil {
			subCfg.Notify = f.Notify
		}
		return subscription.NewManager(cluster.Name, connect, forwarder, subCfg)
	}

	dial := func(ctx context.Context) (HistorySource, error) {
		client, err := apic.Dial(ctx, cluster.Name, cluster.Endpoints, clientCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return NewPollTask(cluster, dial, forwarder, f.Store, f.Poll)
}
