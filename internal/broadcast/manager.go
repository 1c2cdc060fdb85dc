package broadcast

import (
	"context"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"socialrelay/internal/presence"
	"socialrelay/internal/relay"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateUnknown State = iota
	StateCreated
	StateLive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLive:
		return "live"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	ErrEnded        = fmt.Errorf("broadcast ended: %w", apperr.ErrNotFound)
	ErrNotLive      = fmt.Errorf("broadcast has no host yet: %w", apperr.ErrInvalid)
	ErrHostConflict = fmt.Errorf("broadcast already has another host: %w", apperr.ErrUnauthorized)
	ErrHostAsViewer = fmt.Errorf("host cannot join as viewer: %w", apperr.ErrInvalid)
)

// endedRetention bounds how long ended broadcasts are remembered.
const endedRetention = time.Hour

type session struct {
	host    domain.UserID
	viewers []domain.UserID
	state   State
}

// Manager tracks the host and ordered viewer set of every broadcast served
// by this process.
type Manager struct {
	hub     *hub.Hub
	signals *relay.Signals

	mu       sync.Mutex
	sessions map[string]*session
	ended    map[string]time.Time
	now      func() time.Time
}

func NewManager(h *hub.Hub, signals *relay.Signals) *Manager {
	return &Manager{
		hub:      h,
		signals:  signals,
		sessions: make(map[string]*session),
		ended:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Create opens b in the created state. Calling it again is a no-op.
func (m *Manager) Create(b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.ensureLocked(b)
	return err
}

// RegisterHost binds the single host of b and makes it live.
func (m *Manager) RegisterHost(_ context.Context, b string, host domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ensureLocked(b)
	if err != nil {
		return err
	}
	if s.host != "" && s.host != host {
		return ErrHostConflict
	}
	s.host = host
	s.state = StateLive
	return nil
}

// AddViewer records viewer, joins its connection to the broadcast room and
// tells the host.
func (m *Manager) AddViewer(ctx context.Context, b string, viewer domain.UserID, c presence.Conn) error {
	m.mu.Lock()
	s, err := m.liveLocked(b)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if viewer == s.host {
		m.mu.Unlock()
		return ErrHostAsViewer
	}
	if !contains(s.viewers, viewer) {
		s.viewers = append(s.viewers, viewer)
	}
	host := s.host
	m.mu.Unlock()

	if c != nil {
		m.hub.JoinShared(c, domain.RoomID(b))
	}
	out := m.signals.Push(ctx, host, events.UserJoin, events.UserJoined{LiveStreamID: b, FromEndUserID: viewer})
	zap.L().Info("broadcast.viewer_joined", zap.String("broadcast", b), zap.String("viewer", string(viewer)), zap.Stringer("host_notice", out))
	return nil
}

// RemoveViewer is a no-op for unknown broadcasts or viewers.
func (m *Manager) RemoveViewer(ctx context.Context, b string, viewer domain.UserID, c presence.Conn) {
	m.mu.Lock()
	s, ok := m.sessions[b]
	removed := false
	var host domain.UserID
	if ok {
		s.viewers, removed = without(s.viewers, viewer)
		host = s.host
	}
	m.mu.Unlock()

	if c != nil {
		m.hub.Leave(c, domain.RoomID(b))
	}
	if !removed || host == "" {
		return
	}
	m.signals.Push(ctx, host, events.MemberLeft, events.MemberLeftNotice{LiveStreamID: b, FromEndUserID: viewer})
	zap.L().Info("broadcast.viewer_left", zap.String("broadcast", b), zap.String("viewer", string(viewer)))
}

// EndBroadcast tells every viewer, drops their presence, destroys the room
// and marks b ended. It returns the viewers that were watching.
func (m *Manager) EndBroadcast(ctx context.Context, b string) ([]domain.UserID, error) {
	m.mu.Lock()
	if _, done := m.ended[b]; done {
		m.mu.Unlock()
		return nil, ErrEnded
	}
	var viewers []domain.UserID
	if s, ok := m.sessions[b]; ok {
		viewers = s.viewers
		delete(m.sessions, b)
	}
	m.markEndedLocked(b)
	m.mu.Unlock()

	notice := events.LiveStreamStopped{LiveStreamID: b}
	for _, v := range viewers {
		m.signals.Push(ctx, v, events.StopLiveStream, notice)
	}
	for _, v := range viewers {
		m.hub.Unbind(ctx, v)
	}
	m.hub.DestroyRoom(ctx, domain.RoomID(b))

	zap.L().Info("broadcast.ended", zap.String("broadcast", b), zap.Int("viewers", len(viewers)))
	return viewers, nil
}

func (m *Manager) State(b string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.ended[b]; done {
		return StateEnded
	}
	if s, ok := m.sessions[b]; ok {
		return s.state
	}
	return StateUnknown
}

func (m *Manager) Host(b string) (domain.UserID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[b]
	if !ok || s.host == "" {
		return "", false
	}
	return s.host, true
}

// Viewers returns the viewers of b in join order.
func (m *Manager) Viewers(b string) []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[b]; ok {
		return append([]domain.UserID(nil), s.viewers...)
	}
	return nil
}

func (m *Manager) IsViewer(b string, id domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[b]
	return ok && contains(s.viewers, id)
}

// Snapshot copies the viewer sets of every live broadcast.
func (m *Manager) Snapshot() map[string][]domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]domain.UserID, len(m.sessions))
	for b, s := range m.sessions {
		if s.state == StateLive {
			out[b] = append([]domain.UserID(nil), s.viewers...)
		}
	}
	return out
}

// Live lists the ids of live broadcasts.
func (m *Manager) Live() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.sessions))
	for b, s := range m.sessions {
		if s.state == StateLive {
			out = append(out, b)
		}
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

func (m *Manager) ensureLocked(b string) (*session, error) {
	if _, done := m.ended[b]; done {
		return nil, ErrEnded
	}
	s, ok := m.sessions[b]
	if !ok {
		s = &session{state: StateCreated}
		m.sessions[b] = s
	}
	return s, nil
}

func (m *Manager) liveLocked(b string) (*session, error) {
	if _, done := m.ended[b]; done {
		return nil, ErrEnded
	}
	s, ok := m.sessions[b]
	if !ok || s.state != StateLive {
		return nil, ErrNotLive
	}
	return s, nil
}

func (m *Manager) markEndedLocked(b string) {
	now := m.now()
	for id, at := range m.ended {
		if now.Sub(at) > endedRetention {
			delete(m.ended, id)
		}
	}
	m.ended[b] = now
}

func contains(ids []domain.UserID, id domain.UserID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func without(ids []domain.UserID, id domain.UserID) ([]domain.UserID, bool) {
	for i, x := range ids {
		if x == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}
