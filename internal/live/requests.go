package live

import (
	"encoding/json"
	"socialrelay/internal/domain"
	"time"
)

type ConnectRequest struct {
	EndUserID    domain.UserID `json:"endUserId"    validate:"required,max=128"`
	LiveStreamID string        `json:"liveStreamId" validate:"required,max=128"`
}

type ConnectAck struct {
	EndUserID    domain.UserID   `json:"endUserId"`
	LiveStreamID string          `json:"liveStreamId"`
	Role         string          `json:"role"    example:"viewer"`
	Viewers      []domain.UserID `json:"viewers"`
}

type StreamRequest struct {
	LiveStreamID string `json:"liveStreamId" validate:"required,max=128"`
}

type StreamAck struct {
	LiveStreamID string `json:"liveStreamId"`
}

type StopAck struct {
	LiveStreamID string          `json:"liveStreamId"`
	Viewers      []domain.UserID `json:"viewers"`
}

type SendMessageRequest struct {
	LiveStreamID string     `json:"liveStreamId"        validate:"required,max=128"`
	Message      string     `json:"message"             validate:"required"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

type MessageNotice struct {
	LiveStreamID  string        `json:"liveStreamId"`
	FromEndUserID domain.UserID `json:"fromEndUserId"`
	Message       string        `json:"message"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// PeerRequest addresses a call-control event to the other side of a
// host/viewer pair.
type PeerRequest struct {
	LiveStreamID string        `json:"liveStreamId" validate:"required,max=128"`
	ToEndUserID  domain.UserID `json:"toEndUserId"  validate:"required"`
}

type PeerNotice struct {
	LiveStreamID  string        `json:"liveStreamId"`
	FromEndUserID domain.UserID `json:"fromEndUserId"`
	ToEndUserID   domain.UserID `json:"toEndUserId"`
}

type SignalAck struct {
	Status string `json:"status" example:"delivered"`
}

type AddQuestionRequest struct {
	LiveStreamID string          `json:"liveStreamId" validate:"required,max=128"`
	Question     json.RawMessage `json:"question"     validate:"required"`
}

type QuestionNotice struct {
	LiveStreamID  string          `json:"liveStreamId"`
	FromEndUserID domain.UserID   `json:"fromEndUserId"`
	Question      json.RawMessage `json:"question"`
}

type QuestionChoiceRequest struct {
	LiveStreamID string          `json:"liveStreamId" validate:"required,max=128"`
	QuestionID   string          `json:"questionId"   validate:"required"`
	Choice       json.RawMessage `json:"choice"       validate:"required"`
}

type QuestionChoiceNotice struct {
	LiveStreamID  string          `json:"liveStreamId"`
	FromEndUserID domain.UserID   `json:"fromEndUserId"`
	QuestionID    string          `json:"questionId"`
	Choice        json.RawMessage `json:"choice"`
}
