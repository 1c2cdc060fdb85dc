package realtimehandler

import "socialrelay/internal/domain"

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type HealthResponse struct {
	Status         string `json:"status"          example:"ok"`
	Node           string `json:"node"`
	ChatOnline     int    `json:"chat_online"`
	LiveOnline     int    `json:"live_online"`
	ChatRooms      int    `json:"chat_rooms"`
	LiveBroadcasts int    `json:"live_broadcasts"`
} // @name HealthResponse

type PresenceResponse struct {
	Namespace string          `json:"namespace" example:"chat"`
	Online    []domain.UserID `json:"online"`
} // @name PresenceResponse

type ViewersResponse struct {
	LiveStreamID string          `json:"live_stream_id"`
	HostID       domain.UserID   `json:"host_id,omitempty"`
	State        string          `json:"state" example:"live"`
	Viewers      []domain.UserID `json:"viewers"`
} // @name ViewersResponse

type PageQuery struct {
	Limit  int `form:"limit,default=20" binding:"gte=0,lte=100"`
	Offset int `form:"offset,default=0" binding:"gte=0"`
} // @name PageQuery
