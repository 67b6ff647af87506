package pinws

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		prefix  string
		context string
		body    string
	}{
		{
			name:    "basic",
			text:    "prefix(context) []",
			prefix:  "prefix",
			context: "context",
			body:    "[]",
		},
		{
			name:    "whitespace is kept outside the body",
			text:    "  prefix  (  con text     ) [ \"foo\"   ]     ",
			prefix:  "  prefix  ",
			context: "  con text     ",
			body:    `["foo"]`,
		},
		{
			name:   "no parens",
			text:   "prefix [ \"not\", \"body\"]",
			prefix: "prefix [ \"not\", \"body\"]",
		},
		{
			name:   "empty context",
			text:   "prefix() [\"foo\"]",
			prefix: "prefix",
			body:   `["foo"]`,
		},
		{
			name:   "no closing paren",
			text:   "prefix( context_ no closing",
			prefix: "prefix( context_ no closing",
		},
		{
			name:    "no body",
			text:    "prefix  (con text)   ",
			prefix:  "prefix  ",
			context: "con text",
		},
		{
			name:   "body glued to context",
			text:   "prefix()[]",
			prefix: "prefix",
			body:   "[]",
		},
		{
			name:    "object body",
			text:    "some_prefix(context_here) { \"body\": \"here\" }",
			prefix:  "some_prefix",
			context: "context_here",
			body:    `{"body":"here"}`,
		},
		{
			name: "empty text",
			text: "",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, err := ParseFrame(test.text)
			require.NoError(t, err)

			assert.Equal(t, test.prefix, f.Prefix)
			assert.Equal(t, test.context, f.Context)
			if test.body == "" {
				assert.Nil(t, f.Body)
				assert.False(t, f.HasBody())
			} else {
				assert.JSONEq(t, test.body, string(f.Body))
			}
		})
	}
}

// Parentheses are never balanced: the context ends at the first ')'.
func TestParseFrame_NestedParens(t *testing.T) {
	f, err := ParseFrame("model(a(b)c) 1")

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "model(a(b)c) 1", protoErr.Text)
	assert.Equal(t, "model", f.Prefix)
	assert.Equal(t, "a(b", f.Context)
}

func TestParseFrame_MalformedBody(t *testing.T) {
	f, err := ParseFrame("hello () not_valid_json")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedBody)
	assert.Equal(t, "hello ", f.Prefix)
	assert.Nil(t, f.Body)
}

func TestFrame_MarshalText(t *testing.T) {
	f, err := NewFrame(PrefixEvent, "pin-1", map[string]int{"a": 1})
	require.NoError(t, err)

	text, err := f.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, `event(pin-1) {"a":1}`, string(text))

	text, err = Frame{Prefix: PrefixSync}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sync() null", string(text))

	_, err = Frame{Prefix: "x", Body: json.RawMessage("{")}.MarshalText()
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestFrame_RoundTripKeepsContext(t *testing.T) {
	contexts := []string{"pin", "  spaced pin ", "0f8fad5b-d9cb-469f-a165-70867728950e", "ünïcode"}

	for _, context := range contexts {
		f, err := NewFrame(PrefixModel, context, []string{"foo"})
		require.NoError(t, err)

		var parsed Frame
		require.NoError(t, parsed.UnmarshalText([]byte(f.String())))

		assert.Equal(t, f.Context, parsed.Context)
		assert.Equal(t, f.Prefix, parsed.Prefix)
		assert.JSONEq(t, string(f.Body), string(parsed.Body))
	}
}

func TestFrame_RoundTripWithoutContext(t *testing.T) {
	parsed, err := ParseFrame(Frame{Prefix: PrefixModel, Body: json.RawMessage("1")}.String())
	require.NoError(t, err)

	assert.False(t, parsed.HasContext())
	assert.Equal(t, "1", string(parsed.Body))
}

func TestFrame_Decode(t *testing.T) {
	f, err := ParseFrame(`model(pin) {"count": 3}`)
	require.NoError(t, err)

	var v struct {
		Count int `json:"count"`
	}
	require.NoError(t, f.Decode(&v))
	assert.Equal(t, 3, v.Count)

	assert.ErrorIs(t, Frame{Prefix: PrefixModel}.Decode(&v), ErrEmptyBody)
}
