package rooms

import (
	"context"
	"encoding/json"
	"socialrelay/internal/domain"
	"socialrelay/internal/presence"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomEmit    = "emit"
	roomDestroy = "destroy"
)

type roomMessage struct {
	Kind   string `json:"kind"`
	Except string `json:"except,omitempty"`
	Frame  []byte `json:"frame,omitempty"`
}

// RedisFanout publishes room traffic on "room:<ns>:<room>" and keeps
// exactly one subscription per room that has local members, no matter how
// many local connections joined it.
type RedisFanout struct {
	rdb *redis.Client
	m   *Manager
	ns  string

	parent context.Context
	mu     sync.Mutex
	subs   map[domain.RoomID]*subEntry
}

type subEntry struct {
	cancel context.CancelFunc
}

var _ Fanout = (*RedisFanout)(nil)

// NewRedisFanout registers itself as the manager's observer. Subscriptions
// live until ctx is done.
func NewRedisFanout(ctx context.Context, rdb *redis.Client, m *Manager, namespace string) *RedisFanout {
	f := &RedisFanout{
		rdb:    rdb,
		m:      m,
		ns:     namespace,
		parent: ctx,
		subs:   make(map[domain.RoomID]*subEntry),
	}
	m.SetObserver(f)
	return f
}

func (f *RedisFanout) channel(room domain.RoomID) string {
	return "room:" + f.ns + ":" + string(room)
}

func (f *RedisFanout) Emit(ctx context.Context, room domain.RoomID, frame []byte, except string) error {
	return f.publish(ctx, room, roomMessage{Kind: roomEmit, Except: except, Frame: frame})
}

// Destroy tears the room down locally before telling the other nodes.
func (f *RedisFanout) Destroy(ctx context.Context, room domain.RoomID) []presence.Conn {
	removed := f.m.Destroy(room)
	if err := f.publish(ctx, room, roomMessage{Kind: roomDestroy}); err != nil {
		zap.L().Warn("rooms.destroy_publish", zap.String("ns", f.ns), zap.String("room", string(room)), zap.Error(err))
	}
	return removed
}

func (f *RedisFanout) publish(ctx context.Context, room domain.RoomID, msg roomMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel(room), string(raw)).Err()
}

// RoomOpened subscribes to the room channel. Repeated calls are no-ops.
func (f *RedisFanout) RoomOpened(room domain.RoomID) {
	f.mu.Lock()
	if _, ok := f.subs[room]; ok {
		f.mu.Unlock()
		return
	}

	// First local member, so create the SUB and its fan-out loop.
	ctx, cancel := context.WithCancel(f.parent)
	ps := f.rdb.Subscribe(ctx, f.channel(room))
	f.subs[room] = &subEntry{cancel: cancel}
	f.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}
				f.deliver(room, m.Payload)
			}
		}
	}()
}

// RoomClosed tears the subscription down once the room has no local member.
func (f *RedisFanout) RoomClosed(room domain.RoomID) {
	f.mu.Lock()
	e, ok := f.subs[room]
	if !ok || f.m.Size(room) > 0 {
		f.mu.Unlock()
		return
	}
	delete(f.subs, room)
	f.mu.Unlock()

	// Outside the lock, stop the fan-out goroutine.
	e.cancel()
}

// Subscribed reports whether the node listens to room.
func (f *RedisFanout) Subscribed(room domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[room]
	return ok
}

func (f *RedisFanout) deliver(room domain.RoomID, payload string) {
	var msg roomMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		zap.L().Warn("rooms.decode", zap.String("ns", f.ns), zap.String("room", string(room)), zap.Error(err))
		return
	}
	switch msg.Kind {
	case roomEmit:
		f.m.Broadcast(room, msg.Frame, msg.Except)
	case roomDestroy:
		f.m.Destroy(room)
	}
}
