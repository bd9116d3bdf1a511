// Package config loads the shared configuration for the deception plane.
// Values come from a config file when present, with environment variables
// taking precedence under the exact names the deployment manifests use
// (REDIS_URL, DECOY_NAMESPACE, ...).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	RedisURL            string  `mapstructure:"redis_url"`
	DecoyNamespace      string  `mapstructure:"decoy_namespace"`
	DecoyTTLMinutes     int     `mapstructure:"decoy_ttl_minutes"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MonitoredNamespaces string  `mapstructure:"monitored_namespaces"` // comma-separated
	GraphIntervalSec    int     `mapstructure:"graph_interval_seconds"`
	KubeconfigPath      string  `mapstructure:"kubeconfig_path"`

	AnalyzerPort   int `mapstructure:"analyzer_port"`
	ControllerPort int `mapstructure:"controller_port"`
	WebSocketPort  int `mapstructure:"websocket_port"`
	RESTPort       int `mapstructure:"rest_port"`

	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"` // Graceful shutdown wait
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	K8sRateLimitPerSec float64  `mapstructure:"k8s_rate_limit_per_sec"` // Token bucket rate for outbound API calls; 0 = no limit
	K8sRateLimitBurst  int      `mapstructure:"k8s_rate_limit_burst"`
}

// Capacity and detection constants. These are contract values shared with
// the decoy-pool ResourceQuota and the traffic-router, not tunables.
const (
	MaxDecoyPods    = 15
	MaxDecoySets    = 5 // 15 pods / 3 pods per set
	PodReadyTimeout = 120
	TTLCheckSec     = 60

	BruteForceThreshold = 5
	BruteForceWindowSec = 30
	ScanThreshold       = 10
	ScanWindowSec       = 15
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/deception/")
	v.AddConfigPath(".")

	// Defaults
	v.SetDefault("redis_url", "redis://redis.monitoring.svc.cluster.local:6379")
	v.SetDefault("decoy_namespace", "decoy-pool")
	v.SetDefault("decoy_ttl_minutes", 10)
	v.SetDefault("confidence_threshold", 0.6)
	v.SetDefault("monitored_namespaces", "ecommerce-real,deception-gateway,decoy-pool,monitoring")
	v.SetDefault("graph_interval_seconds", 5)
	v.SetDefault("kubeconfig_path", "")
	v.SetDefault("analyzer_port", 8085)
	v.SetDefault("controller_port", 8086)
	v.SetDefault("websocket_port", 8090)
	v.SetDefault("rest_port", 8091)
	v.SetDefault("shutdown_timeout_sec", 15)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("k8s_rate_limit_per_sec", 0) // 0 = disabled
	v.SetDefault("k8s_rate_limit_burst", 0)

	// The deployment contract uses bare env names, not a prefixed scheme.
	bindings := map[string]string{
		"redis_url":              "REDIS_URL",
		"decoy_namespace":        "DECOY_NAMESPACE",
		"decoy_ttl_minutes":      "DECOY_TTL_MINUTES",
		"confidence_threshold":   "CONFIDENCE_THRESHOLD",
		"monitored_namespaces":   "MONITORED_NAMESPACES",
		"graph_interval_seconds": "GRAPH_INTERVAL_SECONDS",
		"kubeconfig_path":        "KUBECONFIG",
		"analyzer_port":          "ANALYZER_PORT",
		"controller_port":        "CONTROLLER_PORT",
		"websocket_port":         "WEBSOCKET_PORT",
		"rest_port":              "REST_PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Namespaces returns the monitored namespaces as a cleaned slice.
func (c *Config) Namespaces() []string {
	parts := strings.Split(c.MonitoredNamespaces, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if ns := strings.TrimSpace(p); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}
