package rooms

import (
	"context"
	"testing"

	"socialrelay/internal/domain"
	"socialrelay/internal/presence"
	"socialrelay/internal/presence/presencetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	opened, closed []domain.RoomID
}

func (o *recordingObserver) RoomOpened(r domain.RoomID) { o.opened = append(o.opened, r) }
func (o *recordingObserver) RoomClosed(r domain.RoomID) { o.closed = append(o.closed, r) }

func TestJoinExclusive_LeavesOtherRoomsAndIsIdempotent(t *testing.T) {
	m := NewManager()
	c := presencetest.NewConn("c1")

	m.JoinShared(c, "b1")
	m.JoinShared(c, "b2")
	m.JoinExclusive(c, "conv1")
	m.JoinExclusive(c, "conv1")

	assert.Equal(t, []domain.RoomID{"conv1"}, m.RoomsOf(c))
	assert.Equal(t, 1, m.Size("conv1"))
	assert.Equal(t, 0, m.Size("b1"))
	assert.Equal(t, 1, m.Count(), "empty rooms are pruned")
}

func TestJoinShared_KeepsMemberships(t *testing.T) {
	m := NewManager()
	c := presencetest.NewConn("c1")

	m.JoinExclusive(c, "conv1")
	m.JoinShared(c, "b1")

	assert.Equal(t, []domain.RoomID{"b1", "conv1"}, m.RoomsOf(c))
	assert.True(t, m.Has(c, "b1"))
}

func TestLeave_PrunesAndIgnoresUnknown(t *testing.T) {
	m := NewManager()
	c1, c2 := presencetest.NewConn("c1"), presencetest.NewConn("c2")

	m.Leave(c1, "nowhere")

	m.JoinShared(c1, "r")
	m.JoinShared(c2, "r")
	m.Leave(c1, "r")
	assert.Equal(t, 1, m.Size("r"))
	m.Leave(c2, "r")
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.RoomsOf(c2))
}

func TestDestroy_RemovesEveryMemberAndRoomIsReusable(t *testing.T) {
	m := NewManager()
	c1, c2 := presencetest.NewConn("c1"), presencetest.NewConn("c2")
	m.JoinShared(c1, "call:1")
	m.JoinShared(c2, "call:1")
	m.JoinShared(c2, "other")

	removed := m.Destroy("call:1")
	assert.Len(t, removed, 2)
	assert.Empty(t, m.Members("call:1"))
	assert.Empty(t, m.RoomsOf(c1))
	assert.Equal(t, []domain.RoomID{"other"}, m.RoomsOf(c2))

	assert.Empty(t, m.Destroy("call:1"), "destroying a missing room is a no-op")

	m.JoinExclusive(c1, "call:1")
	assert.Equal(t, 1, m.Size("call:1"))
}

func TestLeaveAll(t *testing.T) {
	m := NewManager()
	c := presencetest.NewConn("c1")
	m.JoinShared(c, "a")
	m.JoinShared(c, "b")

	assert.Equal(t, []domain.RoomID{"a", "b"}, m.LeaveAll(c))
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.LeaveAll(c))
}

func TestBroadcast_SkipsExceptAndFailedConns(t *testing.T) {
	m := NewManager()
	c1, c2, c3 := presencetest.NewConn("c1"), presencetest.NewConn("c2"), presencetest.NewConn("c3")
	c3.FailWith(presence.ErrBackpressure)
	for _, c := range []*presencetest.Conn{c1, c2, c3} {
		m.JoinShared(c, "r")
	}

	sent := m.Broadcast("r", []byte(`{"event":"ping"}`), "c1")

	assert.Equal(t, 1, sent)
	assert.Empty(t, c1.Frames())
	require.Len(t, c2.Frames(), 1)
	assert.Equal(t, "ping", c2.Frames()[0].Envelope.Event)
}

func TestObserver_EdgeTransitions(t *testing.T) {
	m := NewManager()
	o := &recordingObserver{}
	m.SetObserver(o)
	c1, c2 := presencetest.NewConn("c1"), presencetest.NewConn("c2")

	m.JoinShared(c1, "r")
	m.JoinShared(c2, "r")
	m.Leave(c1, "r")
	m.JoinExclusive(c2, "s")

	assert.Equal(t, []domain.RoomID{"r", "s"}, o.opened)
	assert.Equal(t, []domain.RoomID{"r"}, o.closed)
}

func TestLocalFanout(t *testing.T) {
	m := NewManager()
	f := NewLocalFanout(m)
	c1 := presencetest.NewConn("c1")
	m.JoinShared(c1, "r")

	require.NoError(t, f.Emit(context.Background(), "r", []byte(`{"event":"x"}`), ""))
	assert.Equal(t, []string{"x"}, c1.Events())

	assert.Len(t, f.Destroy(context.Background(), "r"), 1)
	assert.Equal(t, 0, m.Size("r"))
}
