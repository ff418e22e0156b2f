package exchange

import (
	"context"
	"strings"

	"github.com/volley/pkg/errs"
	"github.com/volley/pkg/message"
	"github.com/volley/pkg/protocol"
)

// outgoing is the wire form of a snapshot, built before submission so that
// encoding errors surface to the caller.
type outgoing struct {
	headers []message.Header
	body    *message.Body
}

func (e *Executor) prepare(snap *message.Request) (*outgoing, error) {
	out := &outgoing{headers: snap.Headers().Items()}

	if snap.ContainsCookies() {
		out.headers = append(out.headers, message.Header{Name: "Cookie", Value: snap.Cookies().Header()})
	}

	if snap.Method().HasBody() {
		body, err := message.EncodeBody(snap)
		if err != nil {
			return nil, err
		}
		out.body = &body
		if _, ok := snap.Headers().Get("Content-Type"); !ok {
			out.headers = append(out.headers, message.Header{Name: "Content-Type", Value: body.ContentType})
		}
	}
	return out, nil
}

// transfer dispatches to the strategy for the snapshot's method.
func (e *Executor) transfer(ctx context.Context, c protocol.Client, snap *message.Request, out *outgoing) *protocol.Response {
	switch snap.Method() {
	case message.MethodGet:
		return e.get(ctx, c, snap, out)
	case message.MethodDelete:
		return e.delete(ctx, c, snap, out)
	case message.MethodPost:
		return e.post(ctx, c, snap, out)
	case message.MethodPut:
		return e.put(ctx, c, snap, out)
	}
	panic(errs.Invariant("invalid request method %q", snap.Method()))
}

func (e *Executor) get(ctx context.Context, c protocol.Client, snap *message.Request, out *outgoing) *protocol.Response {
	return e.send(ctx, c, snap, out.headers, nil)
}

func (e *Executor) delete(ctx context.Context, c protocol.Client, snap *message.Request, out *outgoing) *protocol.Response {
	return e.send(ctx, c, snap, out.headers, nil)
}

func (e *Executor) post(ctx context.Context, c protocol.Client, snap *message.Request, out *outgoing) *protocol.Response {
	return e.send(ctx, c, snap, out.headers, out.body.Data)
}

func (e *Executor) put(ctx context.Context, c protocol.Client, snap *message.Request, out *outgoing) *protocol.Response {
	return e.send(ctx, c, snap, out.headers, out.body.Data)
}

func (e *Executor) send(ctx context.Context, c protocol.Client, snap *message.Request, headers []message.Header, body []byte) *protocol.Response {
	return c.Do(ctx, &protocol.Request{
		URL:     snap.URL(),
		Method:  strings.ToUpper(string(snap.Method())),
		Headers: headers,
		Body:    body,
		Timeout: e.timeout,
	})
}
