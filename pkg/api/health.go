package api

import (
	"net/http"

	"github.com/cuemby/faultbridge/pkg/health"
)

// ClusterHealthSource reports per-cluster controller health
type ClusterHealthSource interface {
	Snapshot() []health.ClusterHealth
}

// clusterHealthHandler implements /health/clusters. It answers 503 when
// any controller is unhealthy so it can back an external alert.
func (s *Server) clusterHealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, []health.ClusterHealth{})
		return
	}

	snap := s.health.Snapshot()
	status := http.StatusOK
	for _, h := range snap {
		if !h.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, snap)
}
