package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectReq struct {
	EndUserID domain.UserID `json:"endUserId" validate:"required"`
}

type echoReq struct {
	EndUserID domain.UserID `json:"endUserId,omitempty"`
	Text      string        `json:"text" validate:"required"`
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.NewLocal("chat")
	r := NewRouter()
	RegisterPublic(r, events.EndUserConnect, func(ctx context.Context, cc *ConnContext, req connectReq) (connectReq, error) {
		cc.Identify(ctx, req.EndUserID)
		return req, nil
	})
	Register(r, "echo", func(_ context.Context, _ *ConnContext, req echoReq) (echoReq, error) {
		return req, nil
	})

	engine := gin.New()
	engine.GET("/ws", NewWsServer(h, r, opts).Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, body any) {
	t.Helper()
	frame, err := events.Encode(event, body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := events.Decode(data)
	require.NoError(t, err)
	return env
}

func readError(t *testing.T, conn *websocket.Conn) events.ErrorBody {
	t.Helper()
	env := read(t, conn)
	require.Equal(t, events.Error, env.Event)
	var body events.ErrorBody
	require.NoError(t, json.Unmarshal(env.Body, &body))
	return body
}

func TestServer_RequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())
	conn := dial(t, srv, "")

	send(t, conn, "echo", echoReq{Text: "hi"})
	body := readError(t, conn)
	assert.Equal(t, "echo", body.Event)
	assert.Equal(t, "not_identified", body.Code)

	send(t, conn, events.EndUserConnect, connectReq{EndUserID: "alice"})
	assert.Equal(t, events.AckEvent(events.EndUserConnect), read(t, conn).Event)

	send(t, conn, "echo", echoReq{Text: "hi"})
	env := read(t, conn)
	assert.Equal(t, "echo-ack", env.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Body))
}

func TestServer_ErrorCodes(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())
	conn := dial(t, srv, "?user_id=alice")

	send(t, conn, "echo", echoReq{EndUserID: "mallory", Text: "hi"})
	assert.Equal(t, "unauthorized", readError(t, conn).Code)

	send(t, conn, "echo", echoReq{})
	assert.Equal(t, "invalid", readError(t, conn).Code)

	send(t, conn, "nope", nil)
	assert.Equal(t, "invalid", readError(t, conn).Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "invalid", readError(t, conn).Code)
}

func TestServer_RateLimited(t *testing.T) {
	opts := DefaultOptions()
	opts.EventsPerSecond = 0.001
	opts.EventBurst = 1
	srv, _ := newTestServer(t, opts)
	conn := dial(t, srv, "?user_id=alice")

	send(t, conn, "echo", echoReq{Text: "1"})
	assert.Equal(t, "echo-ack", read(t, conn).Event)
	send(t, conn, "echo", echoReq{Text: "2"})
	assert.Equal(t, "rate_limited", readError(t, conn).Code)
}

func TestServer_DuplicateIdentityReplacesSession(t *testing.T) {
	srv, h := newTestServer(t, DefaultOptions())
	first := dial(t, srv, "")
	send(t, first, events.EndUserConnect, connectReq{EndUserID: "alice"})
	read(t, first)

	second := dial(t, srv, "")
	send(t, second, events.EndUserConnect, connectReq{EndUserID: "alice"})
	read(t, second)

	env := read(t, first)
	assert.Equal(t, events.SessionReplaced, env.Event)
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "replaced session is closed")

	// the stale close must not unbind the new session
	send(t, second, "echo", echoReq{Text: "still here"})
	assert.Equal(t, "echo-ack", read(t, second).Event)
	assert.Eventually(t, func() bool {
		_, ok := h.Lookup(context.Background(), "alice")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestServer_DisconnectUnbinds(t *testing.T) {
	srv, h := newTestServer(t, DefaultOptions())
	conn := dial(t, srv, "?user_id=bob")
	send(t, conn, "echo", echoReq{Text: "x"})
	read(t, conn)

	_, ok := h.Lookup(context.Background(), "bob")
	require.True(t, ok)

	conn.Close()
	assert.Eventually(t, func() bool {
		_, ok := h.Lookup(context.Background(), "bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Backpressure(t *testing.T) {
	c := &Client{id: "c", send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.Send([]byte("a")))
	assert.Error(t, c.Send([]byte("b")))

	c.Close()
	c.Close()
	assert.Error(t, c.Send([]byte("c")))
}

func TestRouter_PanicsOnDuplicate(t *testing.T) {
	r := NewRouter()
	Register(r, "x", func(context.Context, *ConnContext, struct{}) (struct{}, error) { return struct{}{}, nil })
	assert.Panics(t, func() {
		Register(r, "x", func(context.Context, *ConnContext, struct{}) (struct{}, error) { return struct{}{}, nil })
	})
	assert.Equal(t, []string{"x"}, r.Events())
}
