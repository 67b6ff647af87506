package pinws

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrClientClosed     = errors.New("client has been closed")

	ErrMissingContext    = errors.New("model frame without context")
	ErrMalformedBody     = errors.New("frame body is not valid json")
	ErrEmptyBody         = errors.New("frame has no body")
	ErrUnexpectedMessage = errors.New("unexpected message type")
	ErrDuplicatePin      = errors.New("pin is already awaiting a reply")
	ErrReplyTimeout      = errors.New("timed out awaiting reply")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// CloseError is the close frame a peer ended the connection with. A close that
// carries a reason is fatal: the client reports it and stops reconnecting.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed with code %d: %q", e.Code, e.Reason)
}

// Fatal reports whether the close carried an explicit reason.
func (e *CloseError) Fatal() bool {
	return e.Reason != ""
}

// fatalClose extracts a fatal close frame from err, if any.
func fatalClose(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) && ce.Fatal() {
		return ce, true
	}
	return nil, false
}

// ProtocolError reports an inbound message which does not follow the framing
// protocol. The connection survives it.
type ProtocolError struct {
	Text string
	err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s in %q", e.err, e.Text)
}

func (e *ProtocolError) Unwrap() error { return e.err }

func newProtocolError(text string, err error) *ProtocolError {
	return &ProtocolError{Text: text, err: err}
}

type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}
