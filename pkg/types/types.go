package types

import (
	"fmt"
	"strings"
	"time"
)

// ClusterTypeACI is the only cluster type the ingester manages
const ClusterTypeACI = "CISCO-ACI"

// DefaultPort is used for endpoints that do not set one
const DefaultPort = 443

// ClusterConfig describes one controller cluster
type ClusterConfig struct {
	Name                string     `yaml:"name" json:"name"`
	Type                string     `yaml:"type" json:"type"`
	Location            string     `yaml:"location" json:"location,omitempty"`
	PollIntervalMinutes int        `yaml:"poll_interval_minutes" json:"poll_interval_minutes"`
	Endpoints           []Endpoint `yaml:"endpoints" json:"endpoints"`
}

// Streaming reports whether the cluster uses a live subscription
// rather than a scheduled poll
func (c ClusterConfig) Streaming() bool {
	return c.PollIntervalMinutes <= 0
}

// PollInterval returns the poll interval as a duration
func (c ClusterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// ResolutionNamespace is the namespace used for topology keys. It falls
// back to the cluster name when no location is configured.
func (c ClusterConfig) ResolutionNamespace() string {
	if c.Location != "" {
		return c.Location
	}
	return c.Name
}

// Endpoint is a single controller address with its credentials
type Endpoint struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
}

// Address returns host:port, applying the default port
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", e.Host, port)
}

// DeviceID identifies a locally known device. Component is set when the
// directory resolved to a sub-component (for example an interface).
type DeviceID struct {
	ID        int64  `json:"id"`
	Component string `json:"component,omitempty"`
}

// IsZero reports whether the id is unset
func (d DeviceID) IsZero() bool {
	return d.ID == 0 && d.Component == ""
}

func (d DeviceID) String() string {
	if d.Component == "" {
		return fmt.Sprintf("%d", d.ID)
	}
	return fmt.Sprintf("%d~%s", d.ID, d.Component)
}

// Severity is the canonical fault severity
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityWarning  Severity = "WARNING"
	SeverityNormal   Severity = "NORMAL"
	SeverityCleared  Severity = "CLEARED"
)

var controllerSeverities = map[string]Severity{
	"critical": SeverityCritical,
	"major":    SeverityMajor,
	"minor":    SeverityMinor,
	"warning":  SeverityWarning,
	"info":     SeverityNormal,
	"cleared":  SeverityCleared,
}

// ParseSeverity maps a controller severity value to a Severity
func ParseSeverity(value string) (Severity, bool) {
	s, ok := controllerSeverities[strings.ToLower(strings.TrimSpace(value))]
	return s, ok
}

// FaultEvent is the normalized form of one controller fault record
type FaultEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	Severity   Severity          `json:"severity"`
	Device     *DeviceID         `json:"device,omitempty"`
	Host       string            `json:"host"`
	Location   string            `json:"location"`
	Parameters map[string]string `json:"parameters"`
}

// Param returns a parameter value or the empty string
func (e *FaultEvent) Param(name string) string {
	if e.Parameters == nil {
		return ""
	}
	return e.Parameters[name]
}
