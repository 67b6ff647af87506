package pinws

import "sync/atomic"

// ErrorHandler receives every error the client recovers from: fatal closes,
// protocol errors and malformed frames. A Client runs it on its callback
// goroutine, one error at a time.
type ErrorHandler func(error)

// errorReporter funnels errors to the installed handler, or logs them when
// none is installed. Nothing recoverable is dropped or allowed to panic.
type errorReporter struct {
	logger  Logger
	handler atomic.Pointer[ErrorHandler]
}

func newErrorReporter(logger Logger) *errorReporter {
	return &errorReporter{logger: logger}
}

func (r *errorReporter) Set(h ErrorHandler) {
	if h == nil {
		r.handler.Store(nil)
		return
	}
	r.handler.Store(&h)
}

func (r *errorReporter) Report(err error) {
	if err == nil {
		return
	}

	if h := r.handler.Load(); h != nil {
		(*h)(err)
		return
	}

	r.logger.Errorf("unhandled client error: %s", err)
}
