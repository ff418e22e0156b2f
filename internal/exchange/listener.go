package exchange

import "github.com/volley/pkg/message"

// Listener receives the outcome of an exchange. Exactly one method is called
// per exchange.
type Listener interface {
	OnGetCompleted(resp *message.Response)
	OnPostCompleted(resp *message.Response)
	OnPutCompleted(resp *message.Response)
	OnDeleteCompleted(resp *message.Response)
	OnClientError(resp *message.Response)
	OnServerError(resp *message.Response)
	OnTransferFailed(req *message.Request, err error)
	OnCancelled()
}

// BaseListener implements every Listener method as a no-op. Embed it and
// override what you need.
type BaseListener struct{}

func (BaseListener) OnGetCompleted(*message.Response)         {}
func (BaseListener) OnPostCompleted(*message.Response)        {}
func (BaseListener) OnPutCompleted(*message.Response)         {}
func (BaseListener) OnDeleteCompleted(*message.Response)      {}
func (BaseListener) OnClientError(*message.Response)          {}
func (BaseListener) OnServerError(*message.Response)          {}
func (BaseListener) OnTransferFailed(*message.Request, error) {}
func (BaseListener) OnCancelled()                             {}

// OutcomeFunc receives outcomes as a single value to switch on. The executor
// hands it the full Outcome; the Listener methods exist so it can be passed
// anywhere a Listener is expected.
type OutcomeFunc func(Outcome)

func (f OutcomeFunc) OnGetCompleted(resp *message.Response) {
	f(completed(message.MethodGet, resp))
}

func (f OutcomeFunc) OnPostCompleted(resp *message.Response) {
	f(completed(message.MethodPost, resp))
}

func (f OutcomeFunc) OnPutCompleted(resp *message.Response) {
	f(completed(message.MethodPut, resp))
}

func (f OutcomeFunc) OnDeleteCompleted(resp *message.Response) {
	f(completed(message.MethodDelete, resp))
}

func (f OutcomeFunc) OnClientError(resp *message.Response) {
	f(Outcome{Kind: KindClientError, Method: resp.Request().Method(), Request: resp.Request(), Response: resp})
}

func (f OutcomeFunc) OnServerError(resp *message.Response) {
	f(Outcome{Kind: KindServerError, Method: resp.Request().Method(), Request: resp.Request(), Response: resp})
}

func (f OutcomeFunc) OnTransferFailed(req *message.Request, err error) {
	f(Outcome{Kind: KindTransferFailed, Method: req.Method(), Request: req, Err: err})
}

func (f OutcomeFunc) OnCancelled() {
	f(Outcome{Kind: KindCancelled})
}

func completed(m message.Method, resp *message.Response) Outcome {
	return Outcome{Kind: KindCompleted, Method: m, Request: resp.Request(), Response: resp}
}

// isNil reports whether l is absent, including a nil OutcomeFunc.
func isNil(l Listener) bool {
	if l == nil {
		return true
	}
	f, ok := l.(OutcomeFunc)
	return ok && f == nil
}
