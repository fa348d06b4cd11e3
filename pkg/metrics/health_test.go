package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestRegisterComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("storage", true, "open")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components["storage"]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "open", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{"all healthy", map[string]bool{"storage": true, "cluster/a": true}, "healthy"},
		{"one unhealthy", map[string]bool{"storage": true, "cluster/a": false}, "unhealthy"},
		{"nothing registered", map[string]bool{}, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "login failed")
			}

			health := GetHealth()
			assert.Equal(t, tt.want, health.Status)
			assert.Len(t, health.Components, len(tt.components))
		})
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth()
	SetCriticalComponents("storage", "supervisor")

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not registered", readiness.Components["supervisor"])

	RegisterComponent("storage", true, "")
	RegisterComponent("supervisor", false, "starting")
	readiness = GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "waiting for supervisor", readiness.Message)

	UpdateComponent("supervisor", true, "")
	assert.Equal(t, "ready", GetReadiness().Status)
}

func TestComponentsWithPrefix(t *testing.T) {
	resetHealth()
	RegisterComponent("cluster/b", true, "")
	RegisterComponent("cluster/a", false, "timeout")
	RegisterComponent("storage", true, "")

	comps := ComponentsWithPrefix("cluster/")
	require.Len(t, comps, 2)
	assert.Equal(t, "cluster/a", comps[0].Name)
	assert.Equal(t, "cluster/b", comps[1].Name)

	RemoveComponent("cluster/a")
	assert.Len(t, ComponentsWithPrefix("cluster/"), 1)
}

func TestHealthHandlers(t *testing.T) {
	resetHealth()
	SetVersion("1.0.0")
	SetCriticalComponents("api")
	RegisterComponent("api", false, "not listening")

	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    int
		status  string
	}{
		{"health", HealthHandler(), http.StatusServiceUnavailable, "unhealthy"},
		{"ready", ReadyHandler(), http.StatusServiceUnavailable, "not_ready"},
		{"live", LivenessHandler(), http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/"+tt.name, nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}

	UpdateComponent("api", true, "")
	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
