package protocol

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/volley/pkg/message"
)

const defaultMaxBodyBytes = 10 << 20

// HTTPClient implements Client for HTTP/1.1 and HTTP/2.
type HTTPClient struct {
	client       *http.Client
	bufPool      sync.Pool
	maxBodyBytes int64
}

func newHTTPClient(transport http.RoundTripper, cfg ClientConfig) *HTTPClient {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 32*1024)
				return &buf
			},
		},
		maxBodyBytes: maxBody,
	}
}

// NewHTTPClient creates a new HTTP/1.1 client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure,
		},
	}

	return newHTTPClient(transport, cfg)
}

// NewHTTP2Client creates a new HTTP/2 client. Plain http:// urls use h2c.
func NewHTTP2Client(cfg ClientConfig) *HTTPClient {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			d := &net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}
			return d.DialContext(ctx, network, addr)
		},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure,
		},
	}

	return newHTTPClient(transport, cfg)
}

// Do executes an HTTP request.
func (c *HTTPClient) Do(ctx context.Context, req *Request) *Response {
	start := time.Now()
	resp := &Response{}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
		resp.BytesWritten = int64(len(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		resp.Error = err
		resp.Duration = time.Since(start)
		return resp
	}

	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		resp.Error = err
		resp.Duration = time.Since(start)
		return resp
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	resp.Reason = reasonPhrase(httpResp)
	for name, values := range httpResp.Header {
		for _, v := range values {
			resp.Headers = append(resp.Headers, message.Header{Name: name, Value: v})
		}
	}

	bufPtr := c.bufPool.Get().(*[]byte)
	defer c.bufPool.Put(bufPtr)

	var body bytes.Buffer
	n, err := io.CopyBuffer(&body, io.LimitReader(httpResp.Body, c.maxBodyBytes+1), *bufPtr)
	resp.BytesRead = n
	resp.Duration = time.Since(start)
	if err != nil {
		resp.Error = fmt.Errorf("failed to read response body: %w", err)
		return resp
	}
	if n > c.maxBodyBytes {
		resp.Error = fmt.Errorf("response body exceeds %d bytes", c.maxBodyBytes)
		return resp
	}
	resp.Body = body.Bytes()

	return resp
}

// reasonPhrase extracts the reason from the status line, falling back to the
// standard text for the code.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// Close releases resources.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
