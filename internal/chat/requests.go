package chat

import "socialrelay/internal/domain"

type ConnectRequest struct {
	EndUserID domain.UserID `json:"endUserId" validate:"required,max=128"`
}

type ConnectAck struct {
	EndUserID domain.UserID `json:"endUserId"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

type ConversationAck struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	Content        string `json:"content"        validate:"required"`
	Type           string `json:"type,omitempty" validate:"omitempty,max=32"`
}

type SendFileRequest struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	FileName       string `json:"fileName"       validate:"required,max=255"`
	File           string `json:"file"           validate:"required,base64"`
}

type SeenMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	MessageID      string `json:"messageId"      validate:"required"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

type ActiveListAck struct {
	ActiveList []domain.UserID `json:"activeList"`
}

type SignalAck struct {
	Status string `json:"status" example:"delivered"`
}

// Call-control notices pushed to the other side.

type RequestCallNotice struct {
	ConversationID string        `json:"conversationId"`
	Sender         domain.UserID `json:"sender"`
}

type RequestAcceptNotice struct {
	ConversationID string        `json:"conversationId"`
	EndUserID      domain.UserID `json:"endUserId"`
}

type CallNotice struct {
	ConversationID string        `json:"conversationId"`
	FromEndUserID  domain.UserID `json:"fromEndUserId"`
}
