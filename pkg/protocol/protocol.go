// Package protocol provides the blocking single-attempt transfer primitives the
// exchange engine delegates to.
package protocol

import (
	"context"
	"time"

	"github.com/volley/internal/config"
	"github.com/volley/pkg/message"
)

// Request represents a generic request to be sent.
type Request struct {
	URL     string
	Method  string
	Headers []message.Header
	Body    []byte
	Timeout time.Duration
}

// Response represents the result of a request. Error is set when the transfer
// failed before a status line was read; the other fields are then partial.
type Response struct {
	StatusCode   int
	Reason       string
	Headers      []message.Header
	Body         []byte
	Duration     time.Duration
	BytesRead    int64
	BytesWritten int64
	Error        error
}

// Client is the interface for protocol implementations.
type Client interface {
	// Do executes a request and returns the response. It never returns nil.
	Do(ctx context.Context, req *Request) *Response

	// Close releases any resources held by the client.
	Close() error
}

// ClientConfig contains common configuration for all clients.
type ClientConfig struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	MaxBodyBytes    int64
	TLSInsecure     bool
}

// ConfigFrom maps the client section of the configuration.
func ConfigFrom(cfg config.Client) ClientConfig {
	return ClientConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		TLSInsecure:     cfg.TLSInsecure,
	}
}

// NewClient returns the client for a given protocol, falling back to HTTP/1.1.
func NewClient(proto config.Protocol, cfg ClientConfig) Client {
	switch proto {
	case config.ProtocolHTTP2:
		return NewHTTP2Client(cfg)
	case config.ProtocolGRPC:
		return NewGRPCClient(cfg)
	default:
		return NewHTTPClient(cfg)
	}
}
