package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/types"
)

// SystemClass lists the fabric nodes known to a controller
const SystemClass = "topSystem"

// Querier runs an authenticated controller query
type Querier interface {
	Query(ctx context.Context, path string) (*apic.Response, error)
}

// Dialer logs in to a cluster
type Dialer func(ctx context.Context, cluster types.ClusterConfig) (Querier, error)

// APICDialer returns a Dialer that opens apic clients with cfg
func APICDialer(cfg apic.Config) Dialer {
	return func(ctx context.Context, cluster types.ClusterConfig) (Querier, error) {
		client, err := apic.Dial(ctx, cluster.Name, cluster.Endpoints, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// ControllerChecker logs in to a cluster and lists its fabric nodes. A
// fresh login on every check exercises the credentials as well as the
// endpoint.
type ControllerChecker struct {
	Cluster types.ClusterConfig
	Dial    Dialer
}

// NewControllerChecker creates a checker for cluster
func NewControllerChecker(cluster types.ClusterConfig, dial Dialer) *ControllerChecker {
	return &ControllerChecker{Cluster: cluster, Dial: dial}
}

// Check performs the controller health check
func (c *ControllerChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, msg string) Result {
		return Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
	}

	q, err := c.Dial(ctx, c.Cluster)
	if err != nil {
		return result(false, fmt.Sprintf("login failed: %v", err))
	}

	resp, err := q.Query(ctx, "node/class/"+SystemClass+".json")
	if err != nil {
		return result(false, fmt.Sprintf("%s query failed: %v", SystemClass, err))
	}
	return result(true, fmt.Sprintf("%d nodes reporting", len(resp.Records)))
}

// Type returns the check type
func (c *ControllerChecker) Type() CheckType {
	return CheckTypeController
}
