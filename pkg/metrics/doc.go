/*
Package metrics provides Prometheus metrics and component health for faultbridge.

All collectors are package-level variables registered with the default
registry in init, so any package can record a sample without wiring:

	metrics.QueriesTotal.WithLabelValues(cluster, "ok").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Architecture

	┌──────────────────── METRICS ─────────────────────────────┐
	│                                                           │
	│  controller session   logins, queries, query duration,    │
	│                       pagination buckets                  │
	│  subscription         state gauge, refreshes, messages    │
	│                       received/dropped, worker panics     │
	│  normalizer           events by severity, failures by     │
	│                       reason, sink drops                  │
	│  identity cache       hits/misses, evictions, directory   │
	│                       lookups                             │
	│  supervisor           clusters by mode/status, restarts,  │
	│                       reconcile duration, poll runs       │
	│                                                           │
	│            promhttp.Handler() on /metrics                 │
	└───────────────────────────────────────────────────────────┘

The Collector refreshes the clusters gauge from a SampleSource (the
supervisor) on a fixed interval; everything else is updated inline.

# Component Health

health.go keeps a process-wide registry of component health. Components
register themselves (storage, supervisor, api) and the controller health
monitor registers one entry per cluster under "cluster/<name>".

	metrics.RegisterComponent("storage", true, "")
	metrics.UpdateComponent("cluster/fabric-east", false, "login failed")

GetHealth reports unhealthy when any component is unhealthy. GetReadiness
only considers the critical components set by SetCriticalComponents.
HealthHandler, ReadyHandler and LivenessHandler expose both as JSON.
*/
package metrics
