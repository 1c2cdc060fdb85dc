package live

import (
	"context"
	"errors"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/broadcast"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"socialrelay/internal/presence"
	"socialrelay/internal/relay"
	"socialrelay/internal/services/livestream"
	"socialrelay/internal/ws"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotParticipant = fmt.Errorf("not a participant of the live stream: %w", apperr.ErrUnauthorized)
	ErrNotPaired      = fmt.Errorf("peers are not a host/viewer pair: %w", apperr.ErrUnauthorized)
)

// Handler implements the live namespace events.
type Handler struct {
	hub     *hub.Hub
	mgr     *broadcast.Manager
	signals *relay.Signals
	streams livestream.ILiveStreamService
	now     func() time.Time
}

// New builds the handler. With pruneOnDisconnect a closed viewer
// connection is removed from the viewer set as if it sent memberLeft.
func New(h *hub.Hub, mgr *broadcast.Manager, streams livestream.ILiveStreamService, pruneOnDisconnect bool) *Handler {
	l := &Handler{
		hub:     h,
		mgr:     mgr,
		signals: relay.NewSignals(h.Presence(), h.Namespace()),
		streams: streams,
		now:     time.Now,
	}
	if pruneOnDisconnect {
		h.OnDisconnect(l.pruneViewer)
	}
	return l
}

func (l *Handler) Register(r *ws.Router) {
	ws.RegisterPublic(r, events.EndUserConnect, l.connect)
	ws.Register(r, events.SendMessage, l.sendMessage)
	ws.Register(r, events.MemberLeft, l.memberLeft)
	ws.Register(r, events.StopLiveStream, l.stopLiveStream)
	ws.Register(r, events.CallMessageFromPeer, l.callMessageFromPeer)
	for _, event := range []string{events.RequestCall, events.RequestCancel, events.RequestAccept, events.RequestDeny} {
		ws.Register(r, event, l.callControl(event))
	}
	ws.Register(r, events.AddQuestion, l.addQuestion)
	ws.Register(r, events.QuestionChoice, l.questionChoice)
}

func (l *Handler) connect(ctx context.Context, cc *ws.ConnContext, req ConnectRequest) (ConnectAck, error) {
	stream, err := l.streams.GetBroadcast(ctx, req.LiveStreamID)
	if err != nil {
		return ConnectAck{}, err
	}

	ack := ConnectAck{EndUserID: req.EndUserID, LiveStreamID: req.LiveStreamID}
	if stream.HostID == req.EndUserID {
		if err := l.mgr.RegisterHost(ctx, req.LiveStreamID, req.EndUserID); err != nil {
			return ConnectAck{}, err
		}
		ack.Role = "host"
	} else {
		if err := l.mgr.AddViewer(ctx, req.LiveStreamID, req.EndUserID, cc.Conn); err != nil {
			return ConnectAck{}, err
		}
		ack.Role = "viewer"
	}
	// bind only once the broadcast accepted the caller
	cc.Identify(ctx, req.EndUserID)
	ack.Viewers = l.mgr.Viewers(req.LiveStreamID)
	return ack, nil
}

// participant reports whether id is the host or a viewer of b.
func (l *Handler) participant(b string, id domain.UserID) (host domain.UserID, ok bool) {
	host, live := l.mgr.Host(b)
	if !live {
		return "", false
	}
	return host, id == host || l.mgr.IsViewer(b, id)
}

// paired reports whether one of a and b hosts stream and the other views it.
func (l *Handler) paired(stream string, a, b domain.UserID) bool {
	host, ok := l.mgr.Host(stream)
	if !ok {
		return false
	}
	return (a == host && l.mgr.IsViewer(stream, b)) || (b == host && l.mgr.IsViewer(stream, a))
}

// toAudience sends event to the broadcast room and to the host, who is not
// a room member.
func (l *Handler) toAudience(ctx context.Context, cc *ws.ConnContext, b string, host domain.UserID, event string, body any) error {
	if err := l.hub.Emit(ctx, domain.RoomID(b), event, body, cc.Conn); err != nil {
		return err
	}
	if host != cc.UserID() {
		l.signals.Push(ctx, host, event, body)
	}
	return nil
}

func (l *Handler) sendMessage(ctx context.Context, cc *ws.ConnContext, req SendMessageRequest) (MessageNotice, error) {
	host, ok := l.participant(req.LiveStreamID, cc.UserID())
	if !ok {
		return MessageNotice{}, ErrNotParticipant
	}
	notice := MessageNotice{LiveStreamID: req.LiveStreamID, FromEndUserID: cc.UserID(), Message: req.Message, CreatedAt: l.now().UTC()}
	if req.CreatedAt != nil {
		notice.CreatedAt = *req.CreatedAt
	}
	return notice, l.toAudience(ctx, cc, req.LiveStreamID, host, events.SendMessage, notice)
}

func (l *Handler) memberLeft(ctx context.Context, cc *ws.ConnContext, req StreamRequest) (StreamAck, error) {
	l.mgr.RemoveViewer(ctx, req.LiveStreamID, cc.UserID(), cc.Conn)
	l.hub.Unbind(ctx, cc.UserID())
	return StreamAck{LiveStreamID: req.LiveStreamID}, nil
}

func (l *Handler) stopLiveStream(ctx context.Context, cc *ws.ConnContext, req StreamRequest) (StopAck, error) {
	user := cc.UserID()
	host, ok := l.mgr.Host(req.LiveStreamID)
	if !ok {
		stream, err := l.streams.GetBroadcast(ctx, req.LiveStreamID)
		if err != nil {
			return StopAck{}, err
		}
		host = stream.HostID
	}
	if host != user {
		return StopAck{}, livestream.ErrNotHost
	}

	viewers, err := l.mgr.EndBroadcast(ctx, req.LiveStreamID)
	if err != nil {
		return StopAck{}, err
	}
	if err := l.streams.DeleteBroadcast(ctx, req.LiveStreamID, user); err != nil && !errors.Is(err, livestream.ErrBroadcastNotFound) {
		zap.L().Error("live.delete_broadcast", zap.String("broadcast", req.LiveStreamID), zap.Error(err))
		return StopAck{}, err
	}
	return StopAck{LiveStreamID: req.LiveStreamID, Viewers: viewers}, nil
}

func (l *Handler) callMessageFromPeer(ctx context.Context, cc *ws.ConnContext, req events.PeerMessage) (SignalAck, error) {
	sig, err := events.ParseSignal(req)
	if err != nil {
		return SignalAck{}, err
	}
	if sig.From != cc.UserID() {
		return SignalAck{}, ws.ErrIdentityClaim
	}
	if req.LiveStreamID == "" {
		return SignalAck{}, fmt.Errorf("%w: liveStreamId is required", events.ErrInvalidSignal)
	}
	if !l.paired(req.LiveStreamID, sig.From, sig.To) {
		return SignalAck{}, ErrNotPaired
	}
	return SignalAck{Status: l.signals.Relay(ctx, sig).String()}, nil
}

func (l *Handler) callControl(event string) func(context.Context, *ws.ConnContext, PeerRequest) (SignalAck, error) {
	return func(ctx context.Context, cc *ws.ConnContext, req PeerRequest) (SignalAck, error) {
		if !l.paired(req.LiveStreamID, cc.UserID(), req.ToEndUserID) {
			return SignalAck{}, ErrNotPaired
		}
		notice := PeerNotice{LiveStreamID: req.LiveStreamID, FromEndUserID: cc.UserID(), ToEndUserID: req.ToEndUserID}
		return SignalAck{Status: l.signals.Push(ctx, req.ToEndUserID, event, notice).String()}, nil
	}
}

func (l *Handler) addQuestion(ctx context.Context, cc *ws.ConnContext, req AddQuestionRequest) (StreamAck, error) {
	host, ok := l.participant(req.LiveStreamID, cc.UserID())
	if !ok {
		return StreamAck{}, ErrNotParticipant
	}
	notice := QuestionNotice{LiveStreamID: req.LiveStreamID, FromEndUserID: cc.UserID(), Question: req.Question}
	return StreamAck{LiveStreamID: req.LiveStreamID}, l.toAudience(ctx, cc, req.LiveStreamID, host, events.AddQuestion, notice)
}

func (l *Handler) questionChoice(ctx context.Context, cc *ws.ConnContext, req QuestionChoiceRequest) (SignalAck, error) {
	host, ok := l.participant(req.LiveStreamID, cc.UserID())
	if !ok {
		return SignalAck{}, ErrNotParticipant
	}
	notice := QuestionChoiceNotice{LiveStreamID: req.LiveStreamID, FromEndUserID: cc.UserID(), QuestionID: req.QuestionID, Choice: req.Choice}
	return SignalAck{Status: l.signals.Push(ctx, host, events.QuestionChoice, notice).String()}, nil
}

func (l *Handler) pruneViewer(ctx context.Context, id domain.UserID, c presence.Conn, left []domain.RoomID) {
	if id == "" {
		return
	}
	for _, room := range left {
		b := string(room)
		if l.mgr.IsViewer(b, id) {
			l.mgr.RemoveViewer(ctx, b, id, c)
			zap.L().Debug("live.viewer_pruned", zap.String("broadcast", b), zap.String("viewer", string(id)))
		}
	}
}
