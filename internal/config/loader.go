package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VOLLEY_WORKER_MAX_SIZE.
const EnvPrefix = "VOLLEY"

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays VOLLEY_* variables. Unset variables leave the value alone.
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   interface{}
	}{
		{EnvPrefix + "_WORKER", &cfg.Worker},
		{EnvPrefix + "_CLIENT", &cfg.Client},
		{EnvPrefix + "_METRICS", &cfg.Metrics},
		{EnvPrefix + "_LOG", &cfg.Logging},
	}

	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return err
		}
	}
	return nil
}

// validate checks the configuration for errors and fills per-exchange defaults.
func validate(cfg *Config) error {
	w := cfg.Worker
	if w.CoreSize < 0 {
		return fmt.Errorf("worker.core_size must not be negative")
	}
	if w.MaxSize <= 0 || w.MaxSize < w.CoreSize {
		return fmt.Errorf("worker.max_size must be positive and >= core_size")
	}
	if w.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if w.IdleTimeout <= 0 {
		return fmt.Errorf("worker.idle_timeout must be positive")
	}
	if w.DrainTimeout <= 0 {
		return fmt.Errorf("worker.drain_timeout must be positive")
	}
	if w.RateLimit < 0 {
		return fmt.Errorf("worker.rate_limit must not be negative")
	}
	if w.RampUp < 0 {
		return fmt.Errorf("worker.ramp_up must not be negative")
	}

	switch cfg.Client.Protocol {
	case "":
		cfg.Client.Protocol = ProtocolHTTP
	case ProtocolHTTP, ProtocolHTTP2, ProtocolGRPC:
	default:
		return fmt.Errorf("client.protocol %q is not supported", cfg.Client.Protocol)
	}
	if cfg.Client.MaxBodyBytes <= 0 {
		return fmt.Errorf("client.max_body_bytes must be positive")
	}

	for i, e := range cfg.Exchanges {
		if e.URL == "" {
			return fmt.Errorf("exchanges[%d]: url is required", i)
		}
		if e.Name == "" {
			cfg.Exchanges[i].Name = fmt.Sprintf("exchange-%d", i+1)
		}
		if e.Method == "" {
			cfg.Exchanges[i].Method = "GET"
		}
		if e.Repeat <= 0 {
			cfg.Exchanges[i].Repeat = 1
		}
	}

	return nil
}
