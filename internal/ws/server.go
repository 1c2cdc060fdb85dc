package ws

import (
	"context"
	"net/http"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WsServer serves one namespace: it accepts websocket sessions and feeds
// their frames to the namespace router.
type WsServer struct {
	hub      *hub.Hub
	router   *Router
	opts     Options
	upgrader websocket.Upgrader
}

func NewWsServer(h *hub.Hub, router *Router, opts Options) *WsServer {
	return &WsServer{
		hub:    h,
		router: router,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true }, // no auth layer
		},
	}
}

func (s *WsServer) Hub() *hub.Hub { return s.hub }

// Handle is the gin entry point. An optional user_id query parameter
// identifies the connection right away.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.String("ns", s.hub.Namespace()), zap.Error(err))
		return
	}

	client := newClient(rawConn, s.opts)
	cc := &ConnContext{Conn: client, Hub: s.hub}
	zap.L().Debug("ws.accept", zap.String("ns", s.hub.Namespace()), zap.String("conn", client.ID()))

	go client.writer()

	if userID := ginCtx.Query("user_id"); userID != "" {
		cc.Identify(ginCtx.Request.Context(), domain.UserID(userID))
	}

	go s.reader(cc, client)
}

func (s *WsServer) reader(cc *ConnContext, client *Client) {
	defer func() {
		s.hub.Disconnect(context.Background(), client)
		client.Close()
		zap.L().Debug("ws.closed", zap.String("ns", s.hub.Namespace()), zap.String("conn", client.ID()), zap.String("user", string(cc.UserID())))
	}()

	raw := client.rawConn
	raw.SetReadLimit(s.opts.ReadLimit)
	_ = raw.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.EventsPerSecond), s.opts.EventBurst)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return // client closed or errored
		}
		_ = raw.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		env, err := events.Decode(data)
		if err != nil || env.Event == "" {
			s.replyError(client, env.Event, ErrUnknownEvent)
			continue
		}
		if !limiter.Allow() {
			s.replyError(client, env.Event, ErrRateLimited)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			s.replyError(client, env.Event, err)
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		frame, err := events.Encode(events.AckEvent(env.Event), res)
		if err != nil {
			s.replyError(client, env.Event, err)
			continue
		}
		_ = client.Send(frame)
	}
}

func (s *WsServer) replyError(client *Client, event string, err error) {
	code := errorCode(err)
	if code == "internal" {
		zap.L().Error("ws.handler", zap.String("ns", s.hub.Namespace()), zap.String("event", event), zap.Error(err))
	}
	frame, encErr := events.Encode(events.Error, events.ErrorBody{Event: event, Code: code, Error: err.Error()})
	if encErr != nil {
		return
	}
	_ = client.Send(frame)
}
