package exchange

import (
	"github.com/volley/pkg/errs"
	"github.com/volley/pkg/message"
	"github.com/volley/pkg/protocol"
)

// Kind classifies the terminal outcome of an exchange.
type Kind int

const (
	KindCompleted Kind = iota
	KindClientError
	KindServerError
	KindTransferFailed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindTransferFailed:
		return "transfer_failed"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is the single terminal result of an exchange. Response is set for
// Completed, ClientError and ServerError; Err is set for TransferFailed.
type Outcome struct {
	Kind     Kind
	Method   message.Method
	Request  *message.Request
	Response *message.Response
	Err      error
}

// classify builds the outcome for a finished transfer. Status codes of 500
// and above are server errors, 400 to 499 client errors, and everything below
// 400, informational codes included, counts as completed.
func classify(req *message.Request, raw *protocol.Response) Outcome {
	o := Outcome{Method: req.Method(), Request: req}

	if raw == nil || raw.Error != nil {
		o.Kind = KindTransferFailed
		if raw == nil {
			o.Err = errs.Transfer(nil)
		} else {
			o.Err = errs.Transfer(raw.Error)
		}
		return o
	}

	resp := message.NewResponse(req, raw.StatusCode, raw.Reason, raw.Headers, raw.Body, raw.Duration)

	switch {
	case raw.StatusCode >= 500:
		o.Kind = KindServerError
		o.Response = resp.WithError()
	case raw.StatusCode >= 400:
		o.Kind = KindClientError
		o.Response = resp.WithError()
	default:
		o.Kind = KindCompleted
		o.Response = resp
	}
	return o
}

// Route invokes exactly one listener method for o. A completed outcome with a
// method other than the four supported ones is an invariant violation and
// panics.
func Route(o Outcome, l Listener) {
	switch o.Kind {
	case KindCancelled:
		l.OnCancelled()
	case KindTransferFailed:
		l.OnTransferFailed(o.Request, o.Err)
	case KindServerError:
		l.OnServerError(o.Response)
	case KindClientError:
		l.OnClientError(o.Response)
	case KindCompleted:
		switch o.Method {
		case message.MethodGet:
			l.OnGetCompleted(o.Response)
		case message.MethodPost:
			l.OnPostCompleted(o.Response)
		case message.MethodPut:
			l.OnPutCompleted(o.Response)
		case message.MethodDelete:
			l.OnDeleteCompleted(o.Response)
		default:
			panic(errs.Invariant("invalid request method %q", o.Method))
		}
	default:
		panic(errs.Invariant("unknown outcome kind %d", o.Kind))
	}
}
