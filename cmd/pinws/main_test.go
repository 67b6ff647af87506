package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonirico/pinws"
)

// newEchoServer answers every event frame with a model frame carrying the same
// pin and body.
func newEchoServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			f, err := pinws.ParseFrame(string(data))
			if err != nil || f.Prefix != pinws.PrefixEvent {
				continue
			}

			reply := pinws.Frame{Prefix: pinws.PrefixModel, Context: f.Context, Body: f.Body}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply.String())); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_SendsArguments(t *testing.T) {
	endpoint := newEchoServer(t)

	out, err := runCommand(t, "", "--endpoint", endpoint, `{"a": 1}`, `[2]`)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n[2]\n", out)
}

func TestRun_SendsStdinLines(t *testing.T) {
	endpoint := newEchoServer(t)

	out, err := runCommand(t, "1\n\n\"two\"\n", "-e", endpoint, "--sync")
	require.NoError(t, err)
	assert.Equal(t, "1\n\"two\"\n", out)
}

func TestRun_ConfigFile(t *testing.T) {
	endpoint := newEchoServer(t)
	t.Setenv("PINWS_CLI_ENDPOINT", endpoint)

	path := filepath.Join(t.TempDir(), "pinws.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: ${PINWS_CLI_ENDPOINT}\nreply_timeout: 2s\n"), 0o600))

	out, err := runCommand(t, "", "--config", path, "-H", "X-Client: cli", "true")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestRun_EndpointFlagCompletesConfigFile(t *testing.T) {
	endpoint := newEchoServer(t)

	path := filepath.Join(t.TempDir(), "pinws.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reply_timeout: 2s\nheaders:\n  X-Client: cli\n"), 0o600))

	out, err := runCommand(t, "", "-c", path, "-e", endpoint, `{"ok":true}`)
	require.NoError(t, err)
	assert.Equal(t, "{\"ok\":true}\n", out)

	_, err = runCommand(t, "", "-c", path, "1")
	assert.ErrorIs(t, err, pinws.ErrInvalidConfig)
}

func TestRun_Errors(t *testing.T) {
	_, err := runCommand(t, "", "--unknown")
	assert.Error(t, err)

	_, err = runCommand(t, "", "--endpoint", "http://example.com", "1")
	assert.ErrorIs(t, err, pinws.ErrInvalidConfig)

	_, err = runCommand(t, "", "--endpoint", "ws://example.com", "--log-level", "loud", "1")
	assert.Error(t, err)

	_, err = runCommand(t, "", "--help")
	assert.NoError(t, err)
}

func TestParseHeader(t *testing.T) {
	key, value, err := parseHeader("Authorization:  Bearer abc ")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", key)
	assert.Equal(t, "Bearer abc", value)

	_, _, err = parseHeader("no colon")
	assert.Error(t, err)

	_, _, err = parseHeader(": empty key")
	assert.Error(t, err)
}
