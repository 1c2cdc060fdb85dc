package rooms

import (
	"socialrelay/internal/domain"
	"socialrelay/internal/presence"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Observer is told when a room gains its first local member and when it
// loses its last one.
type Observer interface {
	RoomOpened(room domain.RoomID)
	RoomClosed(room domain.RoomID)
}

// Manager keeps room membership for the connections of one process.
// Rooms are created on first join and pruned when empty.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[string]presence.Conn
	byConn map[string]map[domain.RoomID]struct{}

	observer Observer
}

func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[domain.RoomID]map[string]presence.Conn),
		byConn: make(map[string]map[domain.RoomID]struct{}),
	}
}

// SetObserver must be called before the manager is shared.
func (m *Manager) SetObserver(o Observer) { m.observer = o }

type transitions struct {
	opened []domain.RoomID
	closed []domain.RoomID
}

func (m *Manager) notify(t transitions) {
	if m.observer == nil {
		return
	}
	for _, r := range t.closed {
		m.observer.RoomClosed(r)
	}
	for _, r := range t.opened {
		m.observer.RoomOpened(r)
	}
}

// JoinExclusive leaves every other room, then joins room.
func (m *Manager) JoinExclusive(c presence.Conn, room domain.RoomID) {
	var t transitions
	m.mu.Lock()
	for r := range m.byConn[c.ID()] {
		if r != room {
			m.removeLocked(c.ID(), r, &t)
		}
	}
	m.addLocked(c, room, &t)
	m.mu.Unlock()
	m.notify(t)
}

// JoinShared joins room and keeps every other membership.
func (m *Manager) JoinShared(c presence.Conn, room domain.RoomID) {
	var t transitions
	m.mu.Lock()
	m.addLocked(c, room, &t)
	m.mu.Unlock()
	m.notify(t)
}

// Leave is a no-op for unknown rooms or non-members.
func (m *Manager) Leave(c presence.Conn, room domain.RoomID) {
	var t transitions
	m.mu.Lock()
	m.removeLocked(c.ID(), room, &t)
	m.mu.Unlock()
	m.notify(t)
}

// LeaveAll removes c from every room and returns the rooms it was in.
func (m *Manager) LeaveAll(c presence.Conn) []domain.RoomID {
	var t transitions
	m.mu.Lock()
	left := make([]domain.RoomID, 0, len(m.byConn[c.ID()]))
	for r := range m.byConn[c.ID()] {
		left = append(left, r)
		m.removeLocked(c.ID(), r, &t)
	}
	m.mu.Unlock()
	m.notify(t)
	sortRooms(left)
	return left
}

// Destroy removes every member of room and returns them.
func (m *Manager) Destroy(room domain.RoomID) []presence.Conn {
	var t transitions
	m.mu.Lock()
	members := m.rooms[room]
	out := make([]presence.Conn, 0, len(members))
	for id, c := range members {
		out = append(out, c)
		m.removeLocked(id, room, &t)
	}
	m.mu.Unlock()
	m.notify(t)
	return out
}

func (m *Manager) Members(room domain.RoomID) []presence.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]presence.Conn, 0, len(m.rooms[room]))
	for _, c := range m.rooms[room] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (m *Manager) RoomsOf(c presence.Conn) []domain.RoomID {
	m.mu.RLock()
	out := make([]domain.RoomID, 0, len(m.byConn[c.ID()]))
	for r := range m.byConn[c.ID()] {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortRooms(out)
	return out
}

func (m *Manager) Size(room domain.RoomID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}

func (m *Manager) Has(c presence.Conn, room domain.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room][c.ID()]
	return ok
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Broadcast sends frame to every local member except the connection with
// id except. It returns the number of successful sends.
func (m *Manager) Broadcast(room domain.RoomID, frame []byte, except string) int {
	// Take a quick snapshot of the current connections
	m.mu.RLock()
	conns := make([]presence.Conn, 0, len(m.rooms[room]))
	for id, c := range m.rooms[room] {
		if id != except {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	// Do the I/O outside the lock
	sent := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			zap.L().Debug("rooms.broadcast_skip", zap.String("room", string(room)), zap.String("conn", c.ID()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (m *Manager) addLocked(c presence.Conn, room domain.RoomID, t *transitions) {
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]presence.Conn)
		m.rooms[room] = members
		t.opened = append(t.opened, room)
	}
	members[c.ID()] = c

	joined, ok := m.byConn[c.ID()]
	if !ok {
		joined = make(map[domain.RoomID]struct{})
		m.byConn[c.ID()] = joined
	}
	joined[room] = struct{}{}
}

func (m *Manager) removeLocked(connID string, room domain.RoomID, t *transitions) {
	if members, ok := m.rooms[room]; ok {
		if _, in := members[connID]; in {
			delete(members, connID)
			if len(members) == 0 {
				delete(m.rooms, room)
				t.closed = append(t.closed, room)
			}
		}
	}
	if joined, ok := m.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(m.byConn, connID)
		}
	}
}

func sortRooms(rs []domain.RoomID) {
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
}
