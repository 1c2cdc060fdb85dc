package ws

import (
	"socialrelay/internal/presence"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes every connection of a Server.
type Options struct {
	ReadLimit       int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration // must be < PongWait
	SendBuffer      int
	EventTimeout    time.Duration
	EventsPerSecond float64
	EventBurst      int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:       1 << 20,
		WriteWait:       10 * time.Second,
		PongWait:        12 * time.Second,
		PingPeriod:      3 * time.Second,
		SendBuffer:      64,
		EventTimeout:    1900 * time.Millisecond,
		EventsPerSecond: 20,
		EventBurst:      40,
	}
}

// Client is one websocket session. All writes go through a single writer
// goroutine fed by a bounded queue.
type Client struct {
	id      string
	rawConn *websocket.Conn
	opts    Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ presence.Conn = (*Client)(nil)

func newClient(raw *websocket.Conn, opts Options) *Client {
	return &Client{
		id:      uuid.NewString(),
		rawConn: raw,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues frame without blocking. A full queue means the peer is not
// keeping up and the frame is refused.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return presence.ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return presence.ErrConnClosed
	default:
		return presence.ErrBackpressure
	}
}

// Close stops the writer. Frames already queued are flushed first.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) write(mt int, data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *Client) writer() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteWait)
			if err := c.rawConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				zap.L().Debug("ws.ping", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
