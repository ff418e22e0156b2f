package protocol

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// GRPCClient implements Client on top of the standard gRPC health protocol.
// A grpc://host:port/service url checks service (empty path means the whole
// server). SERVING maps to 200 OK and every other status to 503.
type GRPCClient struct {
	conns map[string]*grpc.ClientConn
	cfg   ClientConfig
	mu    sync.Mutex
}

// NewGRPCClient creates a new gRPC client.
func NewGRPCClient(cfg ClientConfig) *GRPCClient {
	return &GRPCClient{
		conns: make(map[string]*grpc.ClientConn),
		cfg:   cfg,
	}
}

// getConn returns a cached connection or creates a new one.
func (c *GRPCClient) getConn(target string, secure bool) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if secure {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: c.cfg.TLSInsecure,
		})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}

	c.conns[target] = conn
	return conn, nil
}

// Do executes a gRPC health check request. Request headers are sent as
// outgoing metadata.
func (c *GRPCClient) Do(ctx context.Context, req *Request) *Response {
	start := time.Now()
	resp := &Response{}

	u, err := url.Parse(req.URL)
	if err != nil {
		resp.Error = err
		resp.Duration = time.Since(start)
		return resp
	}

	conn, err := c.getConn(u.Host, u.Scheme == "grpcs")
	if err != nil {
		resp.Error = err
		resp.Duration = time.Since(start)
		return resp
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if len(req.Headers) > 0 {
		pairs := make([]string, 0, 2*len(req.Headers))
		for _, h := range req.Headers {
			pairs = append(pairs, strings.ToLower(h.Name), h.Value)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	client := grpc_health_v1.NewHealthClient(conn)
	healthResp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: strings.TrimPrefix(u.Path, "/"),
	})

	resp.Duration = time.Since(start)

	if err != nil {
		resp.Error = err
		return resp
	}

	if healthResp.Status == grpc_health_v1.HealthCheckResponse_SERVING {
		resp.StatusCode = http.StatusOK
	} else {
		resp.StatusCode = http.StatusServiceUnavailable
	}
	resp.Reason = http.StatusText(resp.StatusCode)
	resp.Body = []byte(healthResp.Status.String())
	resp.BytesRead = int64(len(resp.Body))

	return resp
}

// Close releases all connections.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return nil
}
