package realtimehandler

import (
	"errors"
	"net/http"
	"socialrelay/internal/apperr"
	"socialrelay/internal/broadcast"
	"socialrelay/internal/domain"
	"socialrelay/internal/hub"
	"socialrelay/internal/services/conversation"
	"socialrelay/internal/services/message"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHeader carries the caller identity on REST requests.
const UserHeader = "X-User-ID"

type Handler struct {
	node  string
	hubs  map[string]*hub.Hub
	mgr   *broadcast.Manager
	convs conversation.IConversationService
	msgs  message.IMessageService
}

func New(node string, chat, live *hub.Hub, mgr *broadcast.Manager, convs conversation.IConversationService, msgs message.IMessageService) *Handler {
	return &Handler{
		node:  node,
		hubs:  map[string]*hub.Hub{chat.Namespace(): chat, live.Namespace(): live},
		mgr:   mgr,
		convs: convs,
		msgs:  msgs,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.health)
	r.GET("/presence/:namespace", h.presence)
	r.GET("/broadcasts/:id/viewers", h.viewers)
	r.GET("/conversations", h.conversations)
	r.GET("/conversations/:id/messages", h.messages)
}

func status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		zap.L().Error("http.handler", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

func caller(c *gin.Context) (domain.UserID, bool) {
	id := c.GetHeader(UserHeader)
	if id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: UserHeader + " header is required"})
		return "", false
	}
	return domain.UserID(id), true
}

// @Summary		Health
// @Description	Node id plus connection and room counts of this process.
// @Tags			Realtime
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func (h *Handler) health(c *gin.Context) {
	res := HealthResponse{Status: "ok", Node: h.node, LiveBroadcasts: len(h.mgr.Live())}
	if chat, ok := h.hubs["chat"]; ok {
		res.ChatOnline = len(chat.Presence().Online(c))
		res.ChatRooms = chat.Rooms().Count()
	}
	if live, ok := h.hubs["live"]; ok {
		res.LiveOnline = len(live.Presence().Online(c))
	}
	c.JSON(http.StatusOK, res)
}

// @Summary		Online users
// @Description	Identities currently bound to a live connection in a namespace.
// @Tags			Realtime
// @Param			namespace	path		string	true	"Namespace"	Enums(chat,live)
// @Success		200			{object}	PresenceResponse
// @Failure		404			{object}	ErrorResponse
// @Router			/presence/{namespace} [get]
func (h *Handler) presence(c *gin.Context) {
	ns := c.Param("namespace")
	hb, ok := h.hubs[ns]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown namespace " + ns})
		return
	}
	online := hb.Presence().Online(c)
	if online == nil {
		online = []domain.UserID{}
	}
	c.JSON(http.StatusOK, PresenceResponse{Namespace: ns, Online: online})
}

// @Summary		Broadcast viewers
// @Description	Host, state and ordered viewer list of a live stream served by this node.
// @Tags			Realtime
// @Param			id	path		string	true	"Live stream ID"
// @Success		200	{object}	ViewersResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/broadcasts/{id}/viewers [get]
func (h *Handler) viewers(c *gin.Context) {
	id := c.Param("id")
	state := h.mgr.State(id)
	if state == broadcast.StateUnknown {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "live stream " + id + " is not served here"})
		return
	}
	host, _ := h.mgr.Host(id)
	viewers := h.mgr.Viewers(id)
	if viewers == nil {
		viewers = []domain.UserID{}
	}
	c.JSON(http.StatusOK, ViewersResponse{LiveStreamID: id, HostID: host, State: state.String(), Viewers: viewers})
}

// @Summary		List conversations
// @Description	Conversations the caller belongs to, newest first.
// @Tags			Conversations
// @Param			X-User-ID	header		string	true	"Caller identity"
// @Param			limit		query		int		false	"Max results (0-100)"	minimum(0)	maximum(100)	default(20)
// @Param			offset		query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200			{array}		conversation.ConversationDTO
// @Failure		400			{object}	ErrorResponse
// @Failure		401			{object}	ErrorResponse
// @Router			/conversations [get]
func (h *Handler) conversations(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.convs.ListConversations(c.Request.Context(), user, q.Limit, q.Offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Conversation history
// @Description	A page of messages in chronological order. The caller must be a member.
// @Tags			Conversations
// @Param			X-User-ID	header		string	true	"Caller identity"
// @Param			id			path		string	true	"Conversation ID"
// @Param			limit		query		int		false	"Max results (0-100)"	minimum(0)	maximum(100)	default(20)
// @Param			offset		query		int		false	"Messages to skip from the newest"	minimum(0)	default(0)
// @Success		200			{array}		message.MessageDTO
// @Failure		403			{object}	ErrorResponse
// @Failure		404			{object}	ErrorResponse
// @Router			/conversations/{id}/messages [get]
func (h *Handler) messages(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	conv, err := h.convs.GetConversation(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.msgs.ListMessages(c.Request.Context(), conv.ID, q.Limit, q.Offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
