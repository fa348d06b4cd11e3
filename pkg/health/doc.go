/*
Package health checks that every configured controller cluster is reachable
and accepts the configured credentials.

A ControllerChecker logs in to a cluster and lists its fabric nodes
(class topSystem). A Monitor runs one checker per cluster on an interval,
fanning the checks out with a bounded errgroup, and publishes each outcome
as component health under "cluster/<name>" so it shows up on /health.

# Hysteresis

Status tolerates Retries-1 consecutive failures before reporting a cluster
unhealthy and recovers on the first success:

	healthy -> 1 failure  -> healthy
	healthy -> 2 failures -> unhealthy (Retries = 2)
	unhealthy -> 1 success -> healthy

Cluster health is informational. The metrics package's critical components
decide readiness, so an unreachable controller never fails /ready.
*/
package health
