// Package message holds the request and response descriptors exchanged with
// the engine, and the ordered deduplicated collections they own.
package message

import (
	"strings"
	"time"
)

// Method is an HTTP method supported by the engine.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod maps a case-insensitive method name to a Method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Valid reports whether m is one of the four supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

// HasBody reports whether requests with this method carry an encoded body.
func (m Method) HasBody() bool {
	return m == MethodPost || m == MethodPut
}

// ContentType is the declared media type of a request body.
type ContentType string

const (
	ContentTypeForm ContentType = "application/x-www-form-urlencoded"
	ContentTypeJSON ContentType = "application/json"
	ContentTypeText ContentType = "text/plain"
	ContentTypeXML  ContentType = "application/xml"
)

// Request describes one HTTP exchange. The collections stay mutable until the
// request is submitted; the executor works on a Snapshot.
type Request struct {
	url         string
	method      Method
	contentType ContentType
	encoding    Encoding

	cookies *CookieJar
	headers *HeaderSet
	params  *ParameterSet
}

// NewRequest creates a request for GET and DELETE. The url is not validated
// until submission.
func NewRequest(url string, method Method) *Request {
	return &Request{
		url:     url,
		method:  method,
		cookies: NewCookieJar(),
		headers: NewHeaderSet(),
		params:  NewParameterSet(),
	}
}

// NewEntityRequest creates a request for POST and PUT with a body content type
// and character encoding.
func NewEntityRequest(url string, method Method, contentType ContentType, encoding Encoding) *Request {
	r := NewRequest(url, method)
	r.contentType = contentType
	r.encoding = encoding
	return r
}

// URL returns the raw url.
func (r *Request) URL() string { return r.url }

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// ContentType returns the declared body content type, empty for GET and DELETE.
func (r *Request) ContentType() ContentType { return r.contentType }

// Encoding returns the declared body encoding, empty for GET and DELETE.
func (r *Request) Encoding() Encoding { return r.encoding }

// Cookies returns the live cookie jar.
func (r *Request) Cookies() *CookieJar { return r.cookies }

// Headers returns the live header set.
func (r *Request) Headers() *HeaderSet { return r.headers }

// Parameters returns the live parameter set.
func (r *Request) Parameters() *ParameterSet { return r.params }

func (r *Request) ContainsCookies() bool    { return !r.cookies.IsEmpty() }
func (r *Request) ContainsHeaders() bool    { return !r.headers.IsEmpty() }
func (r *Request) ContainsParameters() bool { return !r.params.IsEmpty() }

// Snapshot copies the request and its collections, dropping cookies that have
// expired by now. Later changes to r do not affect the snapshot.
func (r *Request) Snapshot(now time.Time) *Request {
	s := &Request{
		url:         r.url,
		method:      r.method,
		contentType: r.contentType,
		encoding:    r.encoding,
	}

	if r.ContainsCookies() {
		s.cookies = r.cookies.Clone()
		s.cookies.PruneExpired(now)
	} else {
		s.cookies = NewCookieJarWithClock(r.cookies.now)
	}
	if r.ContainsHeaders() {
		s.headers = r.headers.Clone()
	} else {
		s.headers = NewHeaderSet()
	}
	if r.ContainsParameters() {
		s.params = r.params.Clone()
	} else {
		s.params = NewParameterSet()
	}
	return s
}
