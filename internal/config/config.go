package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Worker    Worker     `yaml:"worker"`
	Client    Client     `yaml:"client"`
	Metrics   Metrics    `yaml:"metrics"`
	Logging   Logging    `yaml:"logging"`
	Exchanges []Exchange `yaml:"exchanges,omitempty"`
}

// Protocol represents the supported transfer protocols.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTP2 Protocol = "http2"
	ProtocolGRPC  Protocol = "grpc"
)

// Worker configures the worker pool.
type Worker struct {
	CoreSize     int           `yaml:"core_size" split_words:"true"`
	MaxSize      int           `yaml:"max_size" split_words:"true"`
	QueueSize    int           `yaml:"queue_size" split_words:"true"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" split_words:"true"`
	DrainTimeout time.Duration `yaml:"drain_timeout" split_words:"true"`
	RateLimit    float64       `yaml:"rate_limit" split_words:"true"` // transfers per second, 0 = unlimited
	RampUp       time.Duration `yaml:"ramp_up" split_words:"true"`    // time to reach RateLimit from 1/s
}

// Client configures the transfer primitive.
type Client struct {
	Protocol        Protocol      `yaml:"protocol" split_words:"true"`
	Timeout         time.Duration `yaml:"timeout" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" split_words:"true"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" split_words:"true"`
	TLSInsecure     bool          `yaml:"tls_insecure" split_words:"true"`
}

// Metrics configures Prometheus metrics.
type Metrics struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Address string `yaml:"address" split_words:"true"`
	Path    string `yaml:"path" split_words:"true"`
}

// Logging configures the zap logger.
type Logging struct {
	Level       string `yaml:"level" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

// Exchange describes one request in a batch run.
type Exchange struct {
	Name        string      `yaml:"name"`
	URL         string      `yaml:"url"`
	Method      string      `yaml:"method"`
	ContentType string      `yaml:"content_type,omitempty"`
	Encoding    string      `yaml:"encoding,omitempty"`
	Headers     []NameValue `yaml:"headers,omitempty"`
	Parameters  []NameValue `yaml:"parameters,omitempty"`
	Cookies     []Cookie    `yaml:"cookies,omitempty"`
	Repeat      int         `yaml:"repeat"`
}

// NameValue is an ordered header or parameter entry.
type NameValue struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Cookie is a configured request cookie. A zero Expires never expires.
type Cookie struct {
	Name    string    `yaml:"name"`
	Value   string    `yaml:"value"`
	Domain  string    `yaml:"domain,omitempty"`
	Path    string    `yaml:"path,omitempty"`
	Expires time.Time `yaml:"expires,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker: Worker{
			CoreSize:     15,
			MaxSize:      20,
			QueueSize:    15,
			IdleTimeout:  time.Minute,
			DrainTimeout: 30 * time.Second,
		},
		Client: Client{
			Protocol:        ProtocolHTTP,
			Timeout:         30 * time.Second,
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Metrics: Metrics{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
