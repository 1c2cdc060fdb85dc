package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/hub"
	"socialrelay/internal/relay"
	"socialrelay/internal/services/conversation"
	"socialrelay/internal/services/message"
	"socialrelay/internal/ws"

	"go.uber.org/zap"
)

// Attachments stores uploaded files and hands back a reference name.
type Attachments interface {
	Save(ctx context.Context, originalName string, data []byte) (string, error)
	Remove(name string) error
}

// Handler implements the chat namespace events.
type Handler struct {
	hub      *hub.Hub
	messages *relay.Messages
	signals  *relay.Signals
	convs    conversation.IConversationService
	msgs     message.IMessageService
	media    Attachments
}

func New(h *hub.Hub, convs conversation.IConversationService, msgs message.IMessageService, media Attachments) *Handler {
	return &Handler{
		hub:      h,
		messages: relay.NewMessages(h.Presence(), h.Namespace()),
		signals:  relay.NewSignals(h.Presence(), h.Namespace()),
		convs:    convs,
		msgs:     msgs,
		media:    media,
	}
}

// Register wires every chat event into r.
func (h *Handler) Register(r *ws.Router) {
	ws.RegisterPublic(r, events.EndUserConnect, h.connect)
	ws.Register(r, events.JoinConversation, h.joinConversation)
	ws.Register(r, events.LeaveConversation, h.leaveConversation)
	ws.Register(r, events.SendMessage, h.sendMessage)
	ws.Register(r, events.SendFile, h.sendFile)
	ws.Register(r, events.SeenMessage, h.seenMessage)
	ws.Register(r, events.ActiveList, h.activeList)
	ws.Register(r, events.DeleteMessage, h.deleteMessage)
	ws.Register(r, events.RequestCall, h.requestCall)
	ws.Register(r, events.RequestCancel, h.requestCancel)
	ws.Register(r, events.RequestAccept, h.requestAccept)
	ws.Register(r, events.RequestDeny, h.requestDeny)
	ws.Register(r, events.MemberLeft, h.memberLeft)
	ws.Register(r, events.CallMessageFromPeer, h.callMessageFromPeer)
}

func (h *Handler) connect(ctx context.Context, cc *ws.ConnContext, req ConnectRequest) (ConnectAck, error) {
	cc.Identify(ctx, req.EndUserID)
	return ConnectAck{EndUserID: req.EndUserID}, nil
}

// authorize loads the conversation if the caller is one of its members.
func (h *Handler) authorize(ctx context.Context, cc *ws.ConnContext, conversationID string) (*conversation.ConversationDTO, error) {
	return h.convs.GetConversation(ctx, cc.UserID(), conversationID)
}

func (h *Handler) joinConversation(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	if _, err := h.authorize(ctx, cc, req.ConversationID); err != nil {
		return ConversationAck{}, err
	}
	h.hub.JoinExclusive(cc.Conn, domain.RoomID(req.ConversationID))
	return ConversationAck{ConversationID: req.ConversationID}, nil
}

func (h *Handler) leaveConversation(_ context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	h.hub.Leave(cc.Conn, domain.RoomID(req.ConversationID))
	return ConversationAck{ConversationID: req.ConversationID}, nil
}

func (h *Handler) sendMessage(ctx context.Context, cc *ws.ConnContext, req SendMessageRequest) (*message.MessageDTO, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return nil, err
	}
	msg, err := h.msgs.CreateMessage(ctx, cc.UserID(), message.CreateMessageInput{
		ConversationID: req.ConversationID,
		Type:           req.Type,
		Content:        req.Content,
	})
	if err != nil {
		return nil, err
	}
	res := h.messages.Relay(ctx, events.SendMessage, msg, conv.MemberIDs, cc.UserID())
	zap.L().Debug("chat.message_relayed", zap.String("conversation", conv.ID), zap.Int("pushed", res.Pushed), zap.Int("skipped", res.Skipped))
	return msg, nil
}

func (h *Handler) sendFile(ctx context.Context, cc *ws.ConnContext, req SendFileRequest) (*message.MessageDTO, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(req.File)
	if err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	name, err := h.media.Save(ctx, req.FileName, data)
	if err != nil {
		return nil, err
	}
	msg, err := h.msgs.CreateMessage(ctx, cc.UserID(), message.CreateMessageInput{
		ConversationID: req.ConversationID,
		Type:           message.TypeFile,
		Content:        name,
	})
	if err != nil {
		if rmErr := h.media.Remove(name); rmErr != nil {
			zap.L().Warn("chat.orphan_attachment", zap.String("name", name), zap.Error(rmErr))
		}
		return nil, err
	}
	h.messages.Relay(ctx, events.SendMessage, msg, conv.MemberIDs, cc.UserID())
	return msg, nil
}

func (h *Handler) seenMessage(ctx context.Context, cc *ws.ConnContext, req SeenMessageRequest) (*message.MessageDTO, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return nil, err
	}
	msg, err := h.msgs.MarkSeen(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	h.messages.Relay(ctx, events.SeenMessage, msg, conv.MemberIDs, cc.UserID())
	return msg, nil
}

func (h *Handler) activeList(ctx context.Context, _ *ws.ConnContext, _ struct{}) (ActiveListAck, error) {
	return ActiveListAck{ActiveList: h.hub.Presence().Online(ctx)}, nil
}

func (h *Handler) deleteMessage(ctx context.Context, cc *ws.ConnContext, req DeleteMessageRequest) (*message.MessageDTO, error) {
	msg, err := h.msgs.DeleteMessage(ctx, cc.UserID(), req.MessageID)
	if err != nil {
		return nil, err
	}
	conv, err := h.authorize(ctx, cc, msg.ConversationID)
	if err != nil {
		// deleted, but the sender no longer belongs to the conversation
		zap.L().Info("chat.delete_not_relayed", zap.String("message", msg.ID), zap.Error(err))
		return msg, nil
	}
	h.messages.Relay(ctx, events.DeleteMessage, msg, conv.MemberIDs, cc.UserID())
	return msg, nil
}

func (h *Handler) requestCall(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return ConversationAck{}, err
	}
	h.hub.JoinShared(cc.Conn, domain.CallRoom(conv.ID))
	h.messages.Relay(ctx, events.RequestCall, RequestCallNotice{ConversationID: conv.ID, Sender: cc.UserID()}, conv.MemberIDs, cc.UserID())
	return ConversationAck{ConversationID: conv.ID}, nil
}

func (h *Handler) requestCancel(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return ConversationAck{}, err
	}
	// callees that are still ringing are not in the call room yet
	h.messages.Relay(ctx, events.RequestCancel, CallNotice{ConversationID: conv.ID, FromEndUserID: cc.UserID()}, conv.MemberIDs, cc.UserID())
	h.hub.Leave(cc.Conn, domain.CallRoom(conv.ID))
	return ConversationAck{ConversationID: conv.ID}, nil
}

func (h *Handler) requestAccept(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return ConversationAck{}, err
	}
	room := domain.CallRoom(conv.ID)
	h.hub.JoinShared(cc.Conn, room)
	if err := h.hub.Emit(ctx, room, events.RequestAccept, RequestAcceptNotice{ConversationID: conv.ID, EndUserID: cc.UserID()}, cc.Conn); err != nil {
		return ConversationAck{}, err
	}
	return ConversationAck{ConversationID: conv.ID}, nil
}

func (h *Handler) requestDeny(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return ConversationAck{}, err
	}
	room := domain.CallRoom(conv.ID)
	if err := h.hub.Emit(ctx, room, events.RequestDeny, CallNotice{ConversationID: conv.ID, FromEndUserID: cc.UserID()}, cc.Conn); err != nil {
		return ConversationAck{}, err
	}
	if conv.OneToOne() {
		h.hub.DestroyRoom(ctx, room)
	} else {
		h.hub.Leave(cc.Conn, room)
	}
	return ConversationAck{ConversationID: conv.ID}, nil
}

func (h *Handler) memberLeft(ctx context.Context, cc *ws.ConnContext, req ConversationRequest) (ConversationAck, error) {
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return ConversationAck{}, err
	}
	room := domain.CallRoom(conv.ID)
	notice := events.MemberLeftNotice{ConversationID: conv.ID, FromEndUserID: cc.UserID()}
	if err := h.hub.Emit(ctx, room, events.MemberLeft, notice, cc.Conn); err != nil {
		return ConversationAck{}, err
	}
	if conv.OneToOne() {
		h.hub.DestroyRoom(ctx, room)
	} else {
		h.hub.Leave(cc.Conn, room)
	}
	return ConversationAck{ConversationID: conv.ID}, nil
}

func (h *Handler) callMessageFromPeer(ctx context.Context, cc *ws.ConnContext, req events.PeerMessage) (SignalAck, error) {
	sig, err := events.ParseSignal(req)
	if err != nil {
		return SignalAck{}, err
	}
	if sig.From != cc.UserID() {
		return SignalAck{}, ws.ErrIdentityClaim
	}
	if req.ConversationID == "" {
		return SignalAck{}, fmt.Errorf("%w: conversationId is required", events.ErrInvalidSignal)
	}
	conv, err := h.authorize(ctx, cc, req.ConversationID)
	if err != nil {
		return SignalAck{}, err
	}
	if !conv.IsMember(sig.To) {
		return SignalAck{}, fmt.Errorf("target %s: %w", sig.To, conversation.ErrNotMember)
	}
	return SignalAck{Status: h.signals.Relay(ctx, sig).String()}, nil
}
