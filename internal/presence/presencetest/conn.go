// Package presencetest provides an in-memory presence.Conn for tests.
package presencetest

import (
	"socialrelay/internal/events"
	"socialrelay/internal/presence"
	"sync"
	"time"
)

// Frame is one recorded push.
type Frame struct {
	At       time.Time
	Envelope events.Envelope
	Raw      []byte
}

// Conn records every frame it is sent.
type Conn struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool
	fail   error
}

var _ presence.Conn = (*Conn)(nil)

func NewConn(id string) *Conn { return &Conn{id: id} }

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return presence.ErrConnClosed
	}
	if c.fail != nil {
		return c.fail
	}
	env, _ := events.Decode(frame)
	c.frames = append(c.frames, Frame{At: time.Now(), Envelope: env, Raw: frame})
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// FailWith makes every later Send return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Events returns the event names received, in order.
func (c *Conn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Envelope.Event)
	}
	return out
}

// Last returns the most recent frame carrying event.
func (c *Conn) Last(event string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Envelope.Event == event {
			return c.frames[i], true
		}
	}
	return Frame{}, false
}

// Count returns how many frames carried event.
func (c *Conn) Count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Envelope.Event == event {
			n++
		}
	}
	return n
}
