package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/anonychat/internal/chat"
	"github.com/Tyrowin/anonychat/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	cfg     server.Config
	hub     *server.Hub
	store   *chat.Store
	uploads *server.UploadHandler
	server  *httptest.Server
}

// newTestEnv starts a hub and an httptest server serving the chat routes.
// The server's own URL is an allowed websocket origin.
func newTestEnv(t *testing.T, customize func(cfg *server.Config)) *testEnv {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Uploads.Dir = t.TempDir()
	if customize != nil {
		customize(cfg)
	}
	applied := server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})

	logger := testLogger()
	store := chat.NewStore(applied.StoreConfig(), logger)
	hub := server.NewHub(store, applied.SessionConfig(), logger)
	uploads, err := server.NewUploadHandler(applied.Uploads, logger)
	require.NoError(t, err)
	codes, err := server.NewCodeGenerator(store)
	require.NoError(t, err)

	mux := server.SetupRoutes(server.Routes{
		Hub:           hub,
		Uploads:       uploads,
		Codes:         codes,
		UploadTimeout: applied.Uploads.Timeout,
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	server.StartHub(hub)
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})

	withOrigin := applied
	withOrigin.AllowedOrigins = append([]string{ts.URL}, applied.AllowedOrigins...)
	applied = server.SetConfig(&withOrigin)

	return &testEnv{cfg: applied, hub: hub, store: store, uploads: uploads, server: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

// serverEvent is one decoded server to client event.
type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (ev serverEvent) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Data, v), "decode %s: %s", ev.Event, ev.Data)
}

func (ev serverEvent) message(t *testing.T) chat.Message {
	t.Helper()
	var msg chat.Message
	ev.decode(t, &msg)
	return msg
}

func (ev serverEvent) errorText(t *testing.T) string {
	t.Helper()
	var payload server.ErrorPayload
	ev.decode(t, &payload)
	return payload.Error
}

// testClient is a websocket client that splits coalesced frames into events.
type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []serverEvent
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", e.server.URL)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(event string, data any) {
	c.t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

func (c *testClient) join(room, name string) {
	c.t.Helper()
	c.send(server.EventJoin, chat.JoinRequest{RoomCode: room, DisplayName: name})
	c.waitFor(string(chat.EventJoined))
}

func (c *testClient) next() serverEvent {
	c.t.Helper()

	for len(c.pending) == 0 {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		for _, line := range strings.Split(string(raw), "\n") {
			var ev serverEvent
			require.NoError(c.t, json.Unmarshal([]byte(line), &ev), "frame %q", line)
			c.pending = append(c.pending, ev)
		}
	}

	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev
}

// waitFor skips events until one named event arrives.
func (c *testClient) waitFor(event string) serverEvent {
	c.t.Helper()
	for {
		ev := c.next()
		if ev.Event == event {
			return ev
		}
	}
}

// waitForMessage skips events until a message event matching pred arrives.
func (c *testClient) waitForMessage(pred func(chat.Message) bool) chat.Message {
	c.t.Helper()
	for {
		ev := c.waitFor(string(chat.EventMessage))
		if msg := ev.message(c.t); pred(msg) {
			return msg
		}
	}
}

// expectSilence asserts that no event arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.Empty(c.t, c.pending)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame %s", raw)
	netErr, ok := err.(net.Error)
	require.True(c.t, ok && netErr.Timeout(), "unexpected error %v", err)
}

func (c *testClient) close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
