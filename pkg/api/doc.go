/*
Package api serves the ingester's HTTP surface with a gorilla/mux router.

	GET  /health            component health (503 when a critical component is down)
	GET  /health/clusters   per-cluster controller health
	GET  /ready             readiness
	GET  /live              liveness
	GET  /metrics           Prometheus metrics
	GET  /clusters          registry status of every cluster
	GET  /clusters/{name}   one cluster
	POST /clusters/{name}/{start|stop|restart}

Cluster operations answer 202 on success and 404 for a cluster that is not
configured or has no runner.
*/
package api
