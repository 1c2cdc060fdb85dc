package presence

import (
	"context"
	"errors"
	"socialrelay/internal/domain"
	"sort"
	"sync"
)

var (
	// ErrConnClosed is returned by Send once the transport has gone away.
	ErrConnClosed = errors.New("connection closed")
	// ErrBackpressure is returned by Send when the outbound buffer is full.
	ErrBackpressure = errors.New("connection send buffer full")
)

// Conn is a live transport session. The transport owns it; presence only
// stores references.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close()
}

// Directory answers "is this user reachable right now".
type Directory interface {
	Bind(ctx context.Context, id domain.UserID, c Conn) (evicted Conn)
	Unbind(ctx context.Context, c Conn) (domain.UserID, bool)
	UnbindIdentity(ctx context.Context, id domain.UserID) bool
	Lookup(ctx context.Context, id domain.UserID) (Conn, bool)
	Online(ctx context.Context) []domain.UserID
}

// Registry is the in-process Directory.
type Registry struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]Conn
	byConn map[string]domain.UserID
}

var _ Directory = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[domain.UserID]Conn),
		byConn: make(map[string]domain.UserID),
	}
}

// Bind maps id to c, replacing any earlier connection. The replaced
// connection, if it is a different one, is returned.
func (r *Registry) Bind(_ context.Context, id domain.UserID, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	// c may have been identified as someone else before.
	if prevID, ok := r.byConn[c.ID()]; ok && prevID != id {
		if cur, ok := r.byUser[prevID]; ok && cur.ID() == c.ID() {
			delete(r.byUser, prevID)
		}
	}

	var evicted Conn
	if old, ok := r.byUser[id]; ok && old.ID() != c.ID() {
		evicted = old
		delete(r.byConn, old.ID())
	}
	r.byUser[id] = c
	r.byConn[c.ID()] = id
	return evicted
}

// Unbind removes the identity currently mapped to c. A later Bind of the
// same identity to another connection is left untouched.
func (r *Registry) Unbind(_ context.Context, c Conn) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[c.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, c.ID())
	if cur, ok := r.byUser[id]; ok && cur.ID() == c.ID() {
		delete(r.byUser, id)
	}
	return id, true
}

// UnbindIdentity drops id wherever it is bound. The connection stays open.
func (r *Registry) UnbindIdentity(_ context.Context, id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[id]
	if !ok {
		return false
	}
	delete(r.byUser, id)
	if cur, ok := r.byConn[c.ID()]; ok && cur == id {
		delete(r.byConn, c.ID())
	}
	return true
}

func (r *Registry) Lookup(_ context.Context, id domain.UserID) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.byUser[id]
	r.mu.RUnlock()
	return c, ok
}

// IdentityOf returns the identity bound to c, if any.
func (r *Registry) IdentityOf(c Conn) (domain.UserID, bool) {
	r.mu.RLock()
	id, ok := r.byConn[c.ID()]
	r.mu.RUnlock()
	return id, ok
}

// ConnByID finds a local connection by its transport id.
func (r *Registry) ConnByID(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	c, ok := r.byUser[id]
	if !ok || c.ID() != connID {
		return nil, false
	}
	return c, true
}

func (r *Registry) Online(_ context.Context) []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
