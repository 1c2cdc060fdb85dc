package rooms

import (
	"context"
	"socialrelay/internal/domain"
	"socialrelay/internal/presence"
)

// Fanout delivers room-wide frames and room teardown, locally or across
// every process that has members of the room.
type Fanout interface {
	Emit(ctx context.Context, room domain.RoomID, frame []byte, except string) error
	Destroy(ctx context.Context, room domain.RoomID) []presence.Conn
}

// LocalFanout serves a single process.
type LocalFanout struct {
	m *Manager
}

func NewLocalFanout(m *Manager) *LocalFanout { return &LocalFanout{m: m} }

func (f *LocalFanout) Emit(_ context.Context, room domain.RoomID, frame []byte, except string) error {
	f.m.Broadcast(room, frame, except)
	return nil
}

func (f *LocalFanout) Destroy(_ context.Context, room domain.RoomID) []presence.Conn {
	return f.m.Destroy(room)
}
