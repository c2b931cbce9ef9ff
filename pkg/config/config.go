/*
Package config loads Council's runtime configuration: a YAML file,
overlaid with COUNCIL_* environment variables, overlaid with CLI
flags — the same three-tier precedence order cmd/council applies
before starting the coordinator. Grounded on the teacher's
cmd/warren/apply.go, which decodes resource manifests with
gopkg.in/yaml.v3.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is Council's full runtime configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Bus     BusConfig     `yaml:"bus"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig controls pkg/log.Init.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// BusConfig selects and configures the pkg/bus.MessageBus
// implementation the coordinator's transport runs on.
type BusConfig struct {
	// Kind is "memory" (single process, default) or "tcp".
	Kind string `yaml:"kind"`
	// Addr is the BrokerServer address to listen on (kind=tcp, server
	// side) or dial (kind=tcp, client side).
	Addr string `yaml:"addr"`
	// SubjectPrefix namespaces every subject this deployment uses.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig controls the Prometheus/health HTTP server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns Council's out-of-the-box configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", JSON: false},
		Bus: BusConfig{
			Kind:          "memory",
			Addr:          "127.0.0.1:7420",
			SubjectPrefix: "council",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9090"},
	}
}

// Load starts from Default(), overlays path's YAML contents (if path
// is non-empty), then overlays COUNCIL_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COUNCIL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COUNCIL_LOG_JSON"); v != "" {
		cfg.Log.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("COUNCIL_BUS"); v != "" {
		cfg.Bus.Kind = v
	}
	if v := os.Getenv("COUNCIL_TRANSPORT_ADDR"); v != "" {
		cfg.Bus.Addr = v
	}
	if v := os.Getenv("COUNCIL_SUBJECT_PREFIX"); v != "" {
		cfg.Bus.SubjectPrefix = v
	}
	if v := os.Getenv("COUNCIL_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
