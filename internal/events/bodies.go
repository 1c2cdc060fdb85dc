package events

import "socialrelay/internal/domain"

// Server-initiated bodies pushed by more than one namespace.

type UserJoined struct {
	LiveStreamID  string        `json:"liveStreamId"`
	FromEndUserID domain.UserID `json:"fromEndUserId"`
}

type MemberLeftNotice struct {
	ConversationID string        `json:"conversationId,omitempty"`
	LiveStreamID   string        `json:"liveStreamId,omitempty"`
	FromEndUserID  domain.UserID `json:"fromEndUserId"`
}

type LiveStreamStopped struct {
	LiveStreamID string `json:"liveStreamId"`
}

type SessionReplacedNotice struct {
	EndUserID domain.UserID `json:"endUserId"`
	Reason    string        `json:"reason"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Event string `json:"event,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
