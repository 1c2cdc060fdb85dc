package hub

import (
	"context"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/presence"
	"socialrelay/internal/rooms"
	"sync"

	"go.uber.org/zap"
)

// DisconnectHook runs after a closed connection was unbound and removed
// from its rooms. id is empty when the connection never identified.
type DisconnectHook func(ctx context.Context, id domain.UserID, c presence.Conn, left []domain.RoomID)

// Hub is the per-namespace state: who is online, who is in which room,
// and how room traffic reaches other processes.
type Hub struct {
	ns       string
	presence presence.Directory
	rooms    *rooms.Manager
	fanout   rooms.Fanout

	mu    sync.RWMutex
	hooks []DisconnectHook
}

func New(namespace string, dir presence.Directory, m *rooms.Manager, f rooms.Fanout) *Hub {
	return &Hub{ns: namespace, presence: dir, rooms: m, fanout: f}
}

// NewLocal builds a single-process hub.
func NewLocal(namespace string) *Hub {
	m := rooms.NewManager()
	return New(namespace, presence.NewRegistry(), m, rooms.NewLocalFanout(m))
}

func (h *Hub) Namespace() string { return h.ns }

func (h *Hub) Presence() presence.Directory { return h.presence }

func (h *Hub) Rooms() *rooms.Manager { return h.rooms }

// OnDisconnect registers hook for every later disconnect.
func (h *Hub) OnDisconnect(hook DisconnectHook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

// Identify binds id to c. A connection it replaces is told and closed.
func (h *Hub) Identify(ctx context.Context, id domain.UserID, c presence.Conn) {
	if evicted := h.presence.Bind(ctx, id, c); evicted != nil {
		h.Evict(id, evicted)
	}
	zap.L().Debug("hub.identify", zap.String("ns", h.ns), zap.String("user", string(id)), zap.String("conn", c.ID()))
}

// Evict notifies a replaced connection and closes it.
func (h *Hub) Evict(id domain.UserID, c presence.Conn) {
	frame, err := events.Encode(events.SessionReplaced, events.SessionReplacedNotice{EndUserID: id, Reason: "connected elsewhere"})
	if err == nil {
		_ = c.Send(frame)
	}
	c.Close()
	zap.L().Info("hub.evicted", zap.String("ns", h.ns), zap.String("user", string(id)), zap.String("conn", c.ID()))
}

// Disconnect purges every reference to c. It runs on transport close.
func (h *Hub) Disconnect(ctx context.Context, c presence.Conn) {
	id, _ := h.presence.Unbind(ctx, c)
	left := h.rooms.LeaveAll(c)

	h.mu.RLock()
	hooks := append([]DisconnectHook(nil), h.hooks...)
	h.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, id, c, left)
	}
	zap.L().Debug("hub.disconnect", zap.String("ns", h.ns), zap.String("user", string(id)), zap.Int("rooms_left", len(left)))
}

// Lookup reports the live connection of id.
func (h *Hub) Lookup(ctx context.Context, id domain.UserID) (presence.Conn, bool) {
	return h.presence.Lookup(ctx, id)
}

// Unbind drops the presence of id on whichever node holds it.
func (h *Hub) Unbind(ctx context.Context, id domain.UserID) {
	h.presence.UnbindIdentity(ctx, id)
}

func (h *Hub) JoinExclusive(c presence.Conn, room domain.RoomID) { h.rooms.JoinExclusive(c, room) }

func (h *Hub) JoinShared(c presence.Conn, room domain.RoomID) { h.rooms.JoinShared(c, room) }

func (h *Hub) Leave(c presence.Conn, room domain.RoomID) { h.rooms.Leave(c, room) }

// DestroyRoom evicts every member of room on every node.
func (h *Hub) DestroyRoom(ctx context.Context, room domain.RoomID) {
	removed := h.fanout.Destroy(ctx, room)
	zap.L().Debug("hub.destroy_room", zap.String("ns", h.ns), zap.String("room", string(room)), zap.Int("local_members", len(removed)))
}

// Emit sends event to every member of room except the connection except.
func (h *Hub) Emit(ctx context.Context, room domain.RoomID, event string, body any, except presence.Conn) error {
	frame, err := events.Encode(event, body)
	if err != nil {
		return err
	}
	exceptID := ""
	if except != nil {
		exceptID = except.ID()
	}
	return h.fanout.Emit(ctx, room, frame, exceptID)
}
