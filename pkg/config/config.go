package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. It is loaded once and treated
// as immutable afterwards.
type Config struct {
	Log           LogConfig             `yaml:"log"`
	ListenAddr    string                `yaml:"listen_addr"`
	DataDir       string                `yaml:"data_dir"`
	DirectoryFile string                `yaml:"directory_file"`
	TLS           TLSConfig             `yaml:"tls"`
	Query         QueryConfig           `yaml:"query"`
	Subscription  SubscriptionConfig    `yaml:"subscription"`
	Supervisor    SupervisorConfig      `yaml:"supervisor"`
	Cache         CacheConfig           `yaml:"cache"`
	Sink          SinkConfig            `yaml:"sink"`
	ClusterList   []types.ClusterConfig `yaml:"clusters"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// QueryConfig bounds how hard the ingester hits a controller
type QueryConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int           `yaml:"burst"`
}

type SubscriptionConfig struct {
	Workers         int           `yaml:"workers"`
	Backlog         int           `yaml:"backlog"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type SupervisorConfig struct {
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	RestartCeiling     time.Duration `yaml:"restart_ceiling"`
	RestartGrace       time.Duration `yaml:"restart_grace"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	PollLookback       time.Duration `yaml:"poll_lookback"`
	MaxRestartFailures uint32        `yaml:"max_restart_failures"`
	RestartBackoff     time.Duration `yaml:"restart_backoff"`
	HealthInterval     time.Duration `yaml:"health_interval"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type SinkConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Default returns a configuration with every default applied and no clusters
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9480"
	}
	if c.DataDir == "" {
		c.DataDir = "./faultbridge-data"
	}
	if c.Query.Timeout == 0 {
		c.Query.Timeout = 30 * time.Second
	}
	if c.Query.RateLimit > 0 && c.Query.Burst == 0 {
		c.Query.Burst = 1
	}

	s := &c.Subscription
	if s.Workers == 0 {
		s.Workers = 25
	}
	if s.Backlog == 0 {
		s.Backlog = 1000
	}
	if s.TickInterval == 0 {
		s.TickInterval = time.Second
	}
	if s.RefreshInterval == 0 {
		s.RefreshInterval = 30 * time.Second
	}

	v := &c.Supervisor
	if v.ReconcileInterval == 0 {
		v.ReconcileInterval = 500 * time.Millisecond
	}
	if v.RestartCeiling == 0 {
		v.RestartCeiling = 6 * time.Hour
	}
	if v.RestartGrace == 0 {
		v.RestartGrace = 5 * time.Second
	}
	if v.ShutdownTimeout == 0 {
		v.ShutdownTimeout = 30 * time.Second
	}
	if v.PollLookback == 0 {
		v.PollLookback = 60 * time.Minute
	}
	if v.MaxRestartFailures == 0 {
		v.MaxRestartFailures = 5
	}
	if v.RestartBackoff == 0 {
		v.RestartBackoff = time.Minute
	}
	if v.HealthInterval == 0 {
		v.HealthInterval = time.Minute
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 3 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Sink.QueueSize == 0 {
		c.Sink.QueueSize = 1000
	}

	for i := range c.ClusterList {
		for j := range c.ClusterList[i].Endpoints {
			if c.ClusterList[i].Endpoints[j].Port == 0 {
				c.ClusterList[i].Endpoints[j].Port = types.DefaultPort
			}
		}
	}
}

// Validate checks structural constraints the rest of the process relies on
func (c *Config) Validate() error {
	var errs []error

	// The refresh must land inside the ~60s controller expiry window
	if c.Subscription.RefreshInterval >= 60*time.Second {
		errs = append(errs, fmt.Errorf("subscription.refresh_interval %s must be under 60s", c.Subscription.RefreshInterval))
	}
	if c.Subscription.TickInterval > c.Subscription.RefreshInterval {
		errs = append(errs, fmt.Errorf("subscription.tick_interval must not exceed refresh_interval"))
	}
	if c.Subscription.Workers < 0 || c.Subscription.Backlog < 0 {
		errs = append(errs, errors.New("subscription workers and backlog must be positive"))
	}

	seen := make(map[string]bool)
	for i, cl := range c.ClusterList {
		name := strings.TrimSpace(cl.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("clusters[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("clusters[%d]: duplicate cluster name %q", i, name))
		}
		seen[name] = true

		if cl.PollIntervalMinutes < 0 {
			errs = append(errs, fmt.Errorf("cluster %s: poll_interval_minutes must not be negative", name))
		}
		if len(cl.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("cluster %s: at least one endpoint is required", name))
		}
		for j, ep := range cl.Endpoints {
			if ep.Host == "" {
				errs = append(errs, fmt.Errorf("cluster %s: endpoints[%d]: host is required", name, j))
			}
		}
	}

	return errors.Join(errs...)
}

// Clusters returns the managed clusters. Clusters of any type other than
// CISCO-ACI are skipped with a warning.
func (c *Config) Clusters() []types.ClusterConfig {
	logger := log.WithComponent("config")

	out := make([]types.ClusterConfig, 0, len(c.ClusterList))
	for _, cl := range c.ClusterList {
		if !strings.EqualFold(cl.Type, types.ClusterTypeACI) {
			logger.Warn().
				Str("cluster", cl.Name).
				Str("type", cl.Type).
				Msg("Skipping cluster with unsupported type")
			continue
		}
		out = append(out, cl)
	}
	return out
}
