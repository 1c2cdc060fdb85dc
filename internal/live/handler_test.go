package live

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"socialrelay/internal/apperr"
	"socialrelay/internal/broadcast"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"socialrelay/internal/presence/presencetest"
	"socialrelay/internal/relay"
	"socialrelay/internal/services/livestream"
	"socialrelay/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreams struct {
	streams map[string]*livestream.BroadcastDTO
	deleted []string
}

func (f *fakeStreams) GetBroadcast(_ context.Context, id string) (*livestream.BroadcastDTO, error) {
	b, ok := f.streams[id]
	if !ok {
		return nil, livestream.ErrBroadcastNotFound
	}
	return b, nil
}

func (f *fakeStreams) DeleteBroadcast(_ context.Context, id string, requester domain.UserID) error {
	b, ok := f.streams[id]
	if !ok {
		return livestream.ErrBroadcastNotFound
	}
	if b.HostID != requester {
		return livestream.ErrNotHost
	}
	delete(f.streams, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStreams) ReplaceViewers(context.Context, string, []domain.UserID) error { return nil }

type fixture struct {
	hub     *hub.Hub
	mgr     *broadcast.Manager
	h       *Handler
	streams *fakeStreams
}

func newFixture(prune bool) *fixture {
	hb := hub.NewLocal("live")
	mgr := broadcast.NewManager(hb, relay.NewSignals(hb.Presence(), "live"))
	streams := &fakeStreams{streams: map[string]*livestream.BroadcastDTO{
		"b1": {ID: "b1", HostID: "H"},
	}}
	return &fixture{hub: hb, mgr: mgr, h: New(hb, mgr, streams, prune), streams: streams}
}

func (f *fixture) join(t *testing.T, id domain.UserID) (*ws.ConnContext, *presencetest.Conn) {
	t.Helper()
	conn := presencetest.NewConn("conn-" + string(id))
	cc := &ws.ConnContext{Conn: conn, Hub: f.hub}
	_, err := f.h.connect(context.Background(), cc, ConnectRequest{EndUserID: id, LiveStreamID: "b1"})
	require.NoError(t, err)
	return cc, conn
}

func body[T any](t *testing.T, conn *presencetest.Conn, event string) T {
	t.Helper()
	frame, ok := conn.Last(event)
	require.True(t, ok, "no %s frame", event)
	var v T
	require.NoError(t, json.Unmarshal(frame.Envelope.Body, &v))
	return v
}

func TestRegister_AllEvents(t *testing.T) {
	r := ws.NewRouter()
	newFixture(false).h.Register(r)
	assert.Len(t, r.Events(), 11)
}

func TestConnect_HostThenViewer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)

	hostCC := &ws.ConnContext{Conn: presencetest.NewConn("ch"), Hub: f.hub}
	ack, err := f.h.connect(ctx, hostCC, ConnectRequest{EndUserID: "H", LiveStreamID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "host", ack.Role)
	assert.Equal(t, broadcast.StateLive, f.mgr.State("b1"))

	viewerCC := &ws.ConnContext{Conn: presencetest.NewConn("cv"), Hub: f.hub}
	ack, err = f.h.connect(ctx, viewerCC, ConnectRequest{EndUserID: "V", LiveStreamID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "viewer", ack.Role)
	assert.Equal(t, []domain.UserID{"V"}, ack.Viewers)

	hostConn := hostCC.Conn.(*presencetest.Conn)
	assert.Equal(t, events.UserJoined{LiveStreamID: "b1", FromEndUserID: "V"}, body[events.UserJoined](t, hostConn, events.UserJoin))
}

func TestConnect_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	cc := &ws.ConnContext{Conn: presencetest.NewConn("c"), Hub: f.hub}

	_, err := f.h.connect(ctx, cc, ConnectRequest{EndUserID: "V", LiveStreamID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.h.connect(ctx, cc, ConnectRequest{EndUserID: "V", LiveStreamID: "b1"})
	assert.ErrorIs(t, err, broadcast.ErrNotLive, "no host yet")
	assert.Empty(t, cc.UserID())
	assert.Empty(t, f.hub.Presence().Online(ctx))

	impostor := &ws.ConnContext{Conn: presencetest.NewConn("ci"), Hub: f.hub}
	f.streams.streams["b2"] = &livestream.BroadcastDTO{ID: "b2", HostID: "H2"}
	require.NoError(t, f.mgr.RegisterHost(ctx, "b2", "X"))
	_, err = f.h.connect(ctx, impostor, ConnectRequest{EndUserID: "H2", LiveStreamID: "b2"})
	assert.ErrorIs(t, err, broadcast.ErrHostConflict)
	_, bound := f.hub.Lookup(ctx, "H2")
	assert.False(t, bound, "rejected connect leaves no presence")
}

func TestSendMessage_ReachesRoomAndHost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	_, hostConn := f.join(t, "H")
	v1, v1Conn := f.join(t, "V1")
	_, v2Conn := f.join(t, "V2")
	f.h.now = func() time.Time { return time.Unix(100, 0) }

	notice, err := f.h.sendMessage(ctx, v1, SendMessageRequest{LiveStreamID: "b1", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(100, 0).UTC(), notice.CreatedAt)

	assert.Equal(t, "hello", body[MessageNotice](t, hostConn, events.SendMessage).Message)
	assert.Equal(t, domain.UserID("V1"), body[MessageNotice](t, v2Conn, events.SendMessage).FromEndUserID)
	_, ok := v1Conn.Last(events.SendMessage)
	assert.False(t, ok)

	outsider := &ws.ConnContext{Conn: presencetest.NewConn("x"), Hub: f.hub}
	outsider.Identify(ctx, "X")
	_, err = f.h.sendMessage(ctx, outsider, SendMessageRequest{LiveStreamID: "b1", Message: "spam"})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestMemberLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	_, hostConn := f.join(t, "H")
	v, vConn := f.join(t, "V")

	_, err := f.h.memberLeft(ctx, v, StreamRequest{LiveStreamID: "b1"})
	require.NoError(t, err)
	assert.Empty(t, f.mgr.Viewers("b1"))
	assert.False(t, f.hub.Rooms().Has(vConn, "b1"))
	_, ok := f.hub.Lookup(ctx, "V")
	assert.False(t, ok)
	assert.Equal(t, domain.UserID("V"), body[events.MemberLeftNotice](t, hostConn, events.MemberLeft).FromEndUserID)
}

func TestStopLiveStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	host, _ := f.join(t, "H")
	v, vConn := f.join(t, "V")

	_, err := f.h.stopLiveStream(ctx, v, StreamRequest{LiveStreamID: "b1"})
	assert.ErrorIs(t, err, livestream.ErrNotHost)

	ack, err := f.h.stopLiveStream(ctx, host, StreamRequest{LiveStreamID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"V"}, ack.Viewers)
	assert.Equal(t, []string{"b1"}, f.streams.deleted)
	assert.Equal(t, broadcast.StateEnded, f.mgr.State("b1"))
	_, ok := vConn.Last(events.StopLiveStream)
	assert.True(t, ok)

	_, err = f.h.stopLiveStream(ctx, host, StreamRequest{LiveStreamID: "b1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCallMessageFromPeer_HostViewerPairing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	host, hostConn := f.join(t, "H")
	v1, v1Conn := f.join(t, "V1")
	f.join(t, "V2")

	cand, _ := json.Marshal(map[string]any{"candidate": "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host", "sdpMid": "0"})
	msg := events.PeerMessage{Type: "candidate", FromEndUserID: "V1", ToEndUserID: "H", LiveStreamID: "b1", Data: cand}

	ack, err := f.h.callMessageFromPeer(ctx, v1, msg)
	require.NoError(t, err)
	assert.Equal(t, "delivered", ack.Status)
	assert.Equal(t, msg, body[events.PeerMessage](t, hostConn, events.CallMessageFromPeer))

	reply := events.PeerMessage{Type: "candidate", FromEndUserID: "H", ToEndUserID: "V1", LiveStreamID: "b1"}
	_, err = f.h.callMessageFromPeer(ctx, host, reply)
	require.NoError(t, err)
	_, ok := v1Conn.Last(events.CallMessageFromPeer)
	assert.True(t, ok)

	sideways := events.PeerMessage{Type: "candidate", FromEndUserID: "V1", ToEndUserID: "V2", LiveStreamID: "b1"}
	_, err = f.h.callMessageFromPeer(ctx, v1, sideways)
	assert.ErrorIs(t, err, ErrNotPaired)

	noStream := events.PeerMessage{Type: "candidate", FromEndUserID: "V1", ToEndUserID: "H"}
	_, err = f.h.callMessageFromPeer(ctx, v1, noStream)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestCallControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	host, _ := f.join(t, "H")
	v, vConn := f.join(t, "V")

	ack, err := f.h.callControl(events.RequestCall)(ctx, host, PeerRequest{LiveStreamID: "b1", ToEndUserID: "V"})
	require.NoError(t, err)
	assert.Equal(t, "delivered", ack.Status)
	assert.Equal(t, domain.UserID("H"), body[PeerNotice](t, vConn, events.RequestCall).FromEndUserID)

	_, err = f.h.callControl(events.RequestDeny)(ctx, v, PeerRequest{LiveStreamID: "b1", ToEndUserID: "V"})
	assert.ErrorIs(t, err, ErrNotPaired)
}

func TestQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	host, hostConn := f.join(t, "H")
	v, vConn := f.join(t, "V")

	_, err := f.h.addQuestion(ctx, host, AddQuestionRequest{LiveStreamID: "b1", Question: json.RawMessage(`{"id":"q1","text":"?"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"q1","text":"?"}`, string(body[QuestionNotice](t, vConn, events.AddQuestion).Question))
	_, ok := hostConn.Last(events.AddQuestion)
	assert.False(t, ok, "sender is not echoed")

	_, err = f.h.questionChoice(ctx, v, QuestionChoiceRequest{LiveStreamID: "b1", QuestionID: "q1", Choice: json.RawMessage(`2`)})
	require.NoError(t, err)
	got := body[QuestionChoiceNotice](t, hostConn, events.QuestionChoice)
	assert.Equal(t, "q1", got.QuestionID)
	assert.Equal(t, domain.UserID("V"), got.FromEndUserID)
}

func TestDisconnect_PruneOption(t *testing.T) {
	for _, prune := range []bool{false, true} {
		f := newFixture(prune)
		f.join(t, "H")
		_, vConn := f.join(t, "V")

		f.hub.Disconnect(context.Background(), vConn)

		assert.False(t, f.hub.Rooms().Has(vConn, "b1"))
		if prune {
			assert.Empty(t, f.mgr.Viewers("b1"))
		} else {
			assert.Equal(t, []domain.UserID{"V"}, f.mgr.Viewers("b1"))
		}
	}
}
