package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeText = "text"
	TypeFile = "file"
)

type MessageDTO struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       domain.UserID `json:"endUserId"`
	Type           string        `json:"type"      example:"text"`
	Content        string        `json:"content"`
	Read           bool          `json:"read"`
	CreatedAt      time.Time     `json:"createdAt" example:"2025-07-27T16:05:05Z"`
}

type CreateMessageInput struct {
	ConversationID string
	Type           string
	Content        string
}

var (
	ErrMessageNotFound = fmt.Errorf("message not found: %w", apperr.ErrNotFound)
	ErrEmptyContent    = fmt.Errorf("message content is empty: %w", apperr.ErrInvalid)
)

type IMessageService interface {
	CreateMessage(ctx context.Context, sender domain.UserID, in CreateMessageInput) (*MessageDTO, error)
	// MarkSeen flags a message of conversationID as read.
	MarkSeen(ctx context.Context, conversationID, id string) (*MessageDTO, error)
	// DeleteMessage removes a message only if sender wrote it.
	DeleteMessage(ctx context.Context, sender domain.UserID, id string) (*MessageDTO, error)
	// ListMessages pages from the newest message backwards and returns the
	// page in chronological order.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]MessageDTO, error)
}

type messageService struct {
	db    *sql.DB
	newID func() string
}

var _ IMessageService = (*messageService)(nil)

func NewMessageService(db *sql.DB) IMessageService {
	return &messageService{
		db:    db,
		newID: func() string { return ulid.Make().String() },
	}
}

const returning = `RETURNING id, conversation_id, sender_id, type, content, read, created_at`

func (svc *messageService) CreateMessage(ctx context.Context, sender domain.UserID, in CreateMessageInput) (*MessageDTO, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}
	if in.Type == "" {
		in.Type = TypeText
	}

	const q = `INSERT INTO messages (id, conversation_id, sender_id, type, content)
	                VALUES ($1, $2, $3, $4, $5) ` + returning
	row := svc.db.QueryRowContext(ctx, q, svc.newID(), in.ConversationID, string(sender), in.Type, in.Content)
	return scan(row)
}

func (svc *messageService) MarkSeen(ctx context.Context, conversationID, id string) (*MessageDTO, error) {
	const q = `UPDATE messages SET read = true WHERE id = $1 AND conversation_id = $2 ` + returning
	dto, err := scan(svc.db.QueryRowContext(ctx, q, id, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}
	return dto, err
}

func (svc *messageService) DeleteMessage(ctx context.Context, sender domain.UserID, id string) (*MessageDTO, error) {
	const q = `DELETE FROM messages WHERE id = $1 AND sender_id = $2 ` + returning
	dto, err := scan(svc.db.QueryRowContext(ctx, q, id, string(sender)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}
	return dto, err
}

func (svc *messageService) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]MessageDTO, error) {
	limit, offset = page(limit, offset)
	const q = `SELECT id, conversation_id, sender_id, type, content, read, created_at
	             FROM messages
	            WHERE conversation_id = $1
	         ORDER BY created_at DESC, id DESC
	            LIMIT $2 OFFSET $3`
	rows, err := svc.db.QueryContext(ctx, q, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]MessageDTO, 0, limit)
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*MessageDTO, error) {
	var (
		m      MessageDTO
		sender string
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &sender, &m.Type, &m.Content, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.SenderID = domain.UserID(sender)
	return &m, nil
}

// page clamps caller-supplied paging to 1..100 rows, 20 by default.
func page(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
