package pinws

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	// PrefixEvent marks client to server frames.
	PrefixEvent = "event"
	// PrefixModel marks server to client frames.
	PrefixModel = "model"
	// PrefixSync asks the server to re-send its last model.
	PrefixSync = "sync"
)

var nullBody = json.RawMessage("null")

// Frame is one unit of the wire protocol:
//
//	<prefix>(<context>) <json-body>
//
// An empty Context means the frame carries no context, and a nil Body means
// the frame carries no body. Body must not be modified once the frame has been
// handed to listeners, as they all share it.
type Frame struct {
	Prefix  string
	Context string
	Body    json.RawMessage
}

// NewFrame builds a frame whose body is the JSON encoding of body.
func NewFrame(prefix, context string, body any) (Frame, error) {
	bts, err := json.Marshal(body)
	if err != nil {
		return Frame{}, errors.Wrap(err, "cannot encode frame body")
	}

	return Frame{Prefix: prefix, Context: context, Body: bts}, nil
}

// ParseFrame parses text into a frame. It never balances parentheses: the
// context spans from the first '(' to the first ')' after it. When either
// delimiter is missing the whole text becomes the prefix. Prefix and context
// keep their whitespace; the body is trimmed and must be valid JSON.
//
// A malformed body yields a *ProtocolError wrapping ErrMalformedBody. The
// returned frame still carries the parsed prefix and context in that case.
func ParseFrame(text string) (Frame, error) {
	open := strings.IndexByte(text, '(')
	if open < 0 {
		return Frame{Prefix: text}, nil
	}

	closing := strings.IndexByte(text[open:], ')')
	if closing < 0 {
		return Frame{Prefix: text}, nil
	}
	closing += open

	f := Frame{
		Prefix:  text[:open],
		Context: text[open+1 : closing],
	}

	body := strings.TrimSpace(text[closing+1:])
	if body == "" {
		return f, nil
	}

	if !json.Valid([]byte(body)) {
		return f, newProtocolError(text, ErrMalformedBody)
	}

	f.Body = json.RawMessage(body)

	return f, nil
}

// HasContext reports whether the frame carries a correlation context.
func (f Frame) HasContext() bool {
	return f.Context != ""
}

// HasBody reports whether the frame carries a body.
func (f Frame) HasBody() bool {
	return len(f.Body) > 0
}

// Decode unmarshals the frame body into v.
func (f Frame) Decode(v any) error {
	if !f.HasBody() {
		return ErrEmptyBody
	}

	return errors.Wrap(json.Unmarshal(f.Body, v), "cannot decode frame body")
}

// MarshalText renders the frame in wire format. A frame without body is
// rendered with a `null` body.
func (f Frame) MarshalText() ([]byte, error) {
	body := f.Body
	if len(body) == 0 {
		body = nullBody
	} else if !json.Valid(body) {
		return nil, errors.Wrapf(ErrMalformedBody, "cannot render frame %q", f.Prefix)
	}

	buf := make([]byte, 0, len(f.Prefix)+len(f.Context)+len(body)+3)
	buf = append(buf, f.Prefix...)
	buf = append(buf, '(')
	buf = append(buf, f.Context...)
	buf = append(buf, ')', ' ')
	buf = append(buf, body...)

	return buf, nil
}

// UnmarshalText parses text into the frame, see ParseFrame.
func (f *Frame) UnmarshalText(text []byte) error {
	parsed, err := ParseFrame(string(text))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

func (f Frame) String() string {
	bts, err := f.MarshalText()
	if err != nil {
		return f.Prefix + "(" + f.Context + ") null"
	}

	return string(bts)
}
