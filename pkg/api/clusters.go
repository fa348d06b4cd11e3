package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/faultbridge/pkg/supervisor"
	"github.com/gorilla/mux"
)

// ClusterView is a cluster's registry status plus its controller health
type ClusterView struct {
	supervisor.ClusterStatus
	Healthy *bool  `json:"healthy,omitempty"`
	Health  string `json:"health_message,omitempty"`
}

// ActionResponse acknowledges a cluster operation
type ActionResponse struct {
	Cluster string `json:"cluster"`
	Action  string `json:"action"`
	Status  string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) views() []ClusterView {
	byName := map[string]ClusterView{}
	statuses := s.ops.Status()
	out := make([]ClusterView, 0, len(statuses))

	if s.health != nil {
		for _, h := range s.health.Snapshot() {
			healthy := h.Healthy
			byName[h.Name] = ClusterView{Healthy: &healthy, Health: h.Message}
		}
	}
	for _, st := range statuses {
		v := byName[st.Name]
		v.ClusterStatus = st
		out = append(out, v)
	}
	return out
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.views())
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, v := range s.views() {
		if v.Name == name {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, (&supervisor.ClusterNotFoundError{Name: name}).Error())
}

func (s *Server) clusterAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, action := vars["name"], vars["action"]

	var err error
	switch action {
	case "start":
		err = s.ops.StartCluster(name)
	case "stop":
		err = s.ops.StopCluster(name)
	case "restart":
		err = s.ops.RestartCluster(name)
	}

	switch {
	case err == nil:
		s.logger.Info().Str("cluster", name).Str("action", action).Msg("Cluster operation accepted")
		writeJSON(w, http.StatusAccepted, ActionResponse{Cluster: name, Action: action, Status: "accepted"})
	case supervisor.IsClusterNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, supervisor.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
