package message

import (
	"fmt"
	"strings"
	"time"
)

// ErrorPayload is attached to responses classified as client or server errors.
type ErrorPayload struct {
	Message string
}

// Response is the immutable result of one completed exchange.
type Response struct {
	statusCode int
	reason     string
	headers    []Header
	body       []byte
	duration   time.Duration
	err        *ErrorPayload
	request    *Request
}

// NewResponse builds a response for request. Headers and body are copied.
func NewResponse(request *Request, statusCode int, reason string, headers []Header, body []byte, duration time.Duration) *Response {
	h := make([]Header, len(headers))
	copy(h, headers)
	b := make([]byte, len(body))
	copy(b, body)

	return &Response{
		statusCode: statusCode,
		reason:     reason,
		headers:    h,
		body:       b,
		duration:   duration,
		request:    request,
	}
}

// WithError returns a copy of r carrying an error payload "{code} {reason}".
func (r *Response) WithError() *Response {
	c := *r
	c.err = &ErrorPayload{Message: fmt.Sprintf("%d %s", r.statusCode, r.reason)}
	return &c
}

func (r *Response) StatusCode() int         { return r.statusCode }
func (r *Response) Reason() string          { return r.reason }
func (r *Response) Duration() time.Duration { return r.duration }
func (r *Response) Error() *ErrorPayload    { return r.err }
func (r *Response) Request() *Request       { return r.request }

// Headers returns a copy of the response headers.
func (r *Response) Headers() []Header {
	h := make([]Header, len(r.headers))
	copy(h, r.headers)
	return h
}

// Header returns the first value of the named header.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ContentType returns the Content-Type response header.
func (r *Response) ContentType() string {
	v, _ := r.Header("Content-Type")
	return v
}

// Body returns a copy of the response body.
func (r *Response) Body() []byte {
	b := make([]byte, len(r.body))
	copy(b, r.body)
	return b
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.statusCode, r.reason)
}
