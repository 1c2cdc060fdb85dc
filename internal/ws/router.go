package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"socialrelay/internal/presence"
	"sync"
)

var (
	ErrNotIdentified = errors.New("connection has not sent endUserConnect")
	ErrRateLimited   = errors.New("too many events")
	ErrUnknownEvent  = fmt.Errorf("unknown event: %w", apperr.ErrInvalid)
	ErrIdentityClaim = fmt.Errorf("endUserId does not match the connection: %w", apperr.ErrUnauthorized)
)

// errorCode maps err to the code sent in error replies.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotIdentified):
		return "not_identified"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return apperr.Code(err)
	}
}

// ConnContext is the per-connection state handed to every handler.
type ConnContext struct {
	Conn presence.Conn
	Hub  *hub.Hub

	mu   sync.RWMutex
	user domain.UserID
}

func (c *ConnContext) UserID() domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Identify binds the connection to id in the namespace.
func (c *ConnContext) Identify(ctx context.Context, id domain.UserID) {
	c.Hub.Identify(ctx, id, c.Conn)
	c.mu.Lock()
	c.user = id
	c.mu.Unlock()
}

type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error)

// Router keeps a map[event]handler, like gin.Engine keeps routes.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds an event to a typed handler that needs an identified
// connection. A body that names an endUserId must name the bound one.
func Register[Req any, Res any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	register(r, event, true, h)
}

// RegisterPublic binds an event that unidentified connections may send.
func RegisterPublic[Req any, Res any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	register(r, event, false, h)
}

func register[Req any, Res any](
	r *Router,
	event string,
	identified bool,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[event]; dup {
		panic("ws router: duplicate event " + event)
	}

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error) {
		if identified {
			user := c.UserID()
			if user == "" {
				return nil, ErrNotIdentified
			}
			if err := checkClaim(body, user); err != nil {
				return nil, err
			}
		}

		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, fmt.Errorf("%w: %s", apperr.ErrInvalid, err.Error())
			}
		}
		if err := events.Validate(req); err != nil {
			return nil, err
		}
		return h(ctx, c, req)
	}
}

func checkClaim(body json.RawMessage, user domain.UserID) error {
	if len(body) == 0 {
		return nil
	}
	var claim struct {
		EndUserID domain.UserID `json:"endUserId"`
	}
	if err := json.Unmarshal(body, &claim); err != nil {
		return nil // reported by the typed decode
	}
	if claim.EndUserID != "" && claim.EndUserID != user {
		return ErrIdentityClaim
	}
	return nil
}

// Events lists the registered event names.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		out = append(out, e)
	}
	return out
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env events.Envelope) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", env.Event, ErrUnknownEvent)
	}
	return h(ctx, c, env.Body)
}
