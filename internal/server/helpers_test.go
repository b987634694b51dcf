package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/protocol"
)

const testOrigin = "http://chat.example"

type testServer struct {
	*Server
	url string
}

// newTestServer runs a Server on a fresh database behind httptest. customize
// may adjust the config before the server is built.
func newTestServer(t *testing.T, customize func(cfg *Config)) *testServer {
	t.Helper()

	cfg := NewConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "chat.db")
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit = RateLimitConfig{Burst: 1000, RefillInterval: time.Millisecond}
	if customize != nil {
		customize(&cfg)
	}

	srv, err := New(cfg, logging.Discard())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return &testServer{Server: srv, url: ts.URL}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, method, ts.url+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeResponse[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
}

var errNoFrame = errors.New("no frame before timeout")

// wsClient reads frames on its own goroutine so a timed out wait leaves the
// connection usable.
type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan []byte
	closed chan struct{}
	err    error
}

func (ts *testServer) dial(t *testing.T) *wsClient {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn, frames: make(chan []byte, 1024), closed: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			close(c.closed)
			return
		}
		c.frames <- data
	}
}

func (c *wsClient) send(msg protocol.Message) {
	c.t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(c.t, err)
	c.sendRaw(frame)
}

func (c *wsClient) sendRaw(frame []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// next returns the next decoded frame, the read error once the connection
// is gone, or errNoFrame after timeout.
func (c *wsClient) next(timeout time.Duration) (protocol.Message, error) {
	c.t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-c.frames:
		return c.decode(data), nil
	case <-c.closed:
		select {
		case data := <-c.frames:
			return c.decode(data), nil
		default:
			return nil, c.err
		}
	case <-timer.C:
		return nil, errNoFrame
	}
}

func (c *wsClient) decode(data []byte) protocol.Message {
	c.t.Helper()
	msg, err := protocol.Decode(data)
	require.NoError(c.t, err, "server sent an undecodable frame: %s", data)
	return msg
}

// waitFor skips frames until want arrives.
func (c *wsClient) waitFor(want protocol.Message) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		msg, err := c.next(time.Until(deadline))
		require.NoError(c.t, err, "waiting for %#v", want)
		if msg == want {
			return
		}
	}
}

// expectError skips frames until an ErrorMessage arrives and checks its code.
func (c *wsClient) expectError(code string) protocol.ErrorMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		msg, err := c.next(time.Until(deadline))
		require.NoError(c.t, err, "waiting for %s error", code)
		if em, ok := msg.(protocol.ErrorMessage); ok {
			require.Equal(c.t, code, em.Code, em.Error)
			return em
		}
	}
}

// expectNone fails if a frame of kind arrives within wait.
func (c *wsClient) expectNone(kind protocol.Kind, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		msg, err := c.next(time.Until(deadline))
		if err != nil {
			return
		}
		require.NotEqual(c.t, kind, msg.Kind(), "unexpected %#v", msg)
	}
}

// expectClosed skips frames until the server closes the connection.
func (c *wsClient) expectClosed() {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err := c.next(time.Until(deadline))
		if errors.Is(err, errNoFrame) {
			c.t.Fatal("connection was not closed")
		}
		if err != nil {
			return
		}
	}
}

// join binds the client to name and waits until its own joined notice has
// gone through the hub.
func (c *wsClient) join(name string) {
	c.t.Helper()
	c.send(protocol.Join{Username: name})
	c.waitFor(protocol.Notice("Welcome, " + name + "!"))
	c.waitFor(protocol.Notice(name + " joined the chat"))
}
