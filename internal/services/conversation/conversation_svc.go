package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"time"
)

type ConversationDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MemberIDs []domain.UserID `json:"member_ids,omitempty"`
	CreatedAt time.Time       `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

// IsMember reports whether id belongs to the conversation.
func (c *ConversationDTO) IsMember(id domain.UserID) bool {
	for _, m := range c.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// OneToOne reports whether the conversation is a direct chat.
func (c *ConversationDTO) OneToOne() bool { return len(c.MemberIDs) <= 2 }

var (
	ErrConversationNotFound = fmt.Errorf("conversation not found: %w", apperr.ErrNotFound)
	ErrNotMember            = fmt.Errorf("not a member of the conversation: %w", apperr.ErrUnauthorized)
)

type IConversationService interface {
	// GetConversation returns the conversation with its members, provided
	// user is one of them.
	GetConversation(ctx context.Context, user domain.UserID, id string) (*ConversationDTO, error)
	ListConversations(ctx context.Context, user domain.UserID, limit, offset int) ([]ConversationDTO, error)
}

type conversationService struct {
	db *sql.DB
}

var _ IConversationService = (*conversationService)(nil)

func NewConversationService(db *sql.DB) IConversationService {
	return &conversationService{db: db}
}

func (svc *conversationService) GetConversation(ctx context.Context, user domain.UserID, id string) (*ConversationDTO, error) {
	const q = `SELECT c.id, c.name, c.created_at, m.user_id
	             FROM conversations c
	             JOIN conversation_members m ON m.conversation_id = c.id
	            WHERE c.id = $1
	         ORDER BY m.joined_at, m.user_id`
	rows, err := svc.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dto *ConversationDTO
	for rows.Next() {
		var (
			cid, name string
			created   time.Time
			member    string
		)
		if err := rows.Scan(&cid, &name, &created, &member); err != nil {
			return nil, err
		}
		if dto == nil {
			dto = &ConversationDTO{ID: cid, Name: name, CreatedAt: created}
		}
		dto.MemberIDs = append(dto.MemberIDs, domain.UserID(member))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if dto == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	if !dto.IsMember(user) {
		return nil, fmt.Errorf("user %s, conversation %s: %w", user, id, ErrNotMember)
	}
	return dto, nil
}

func (svc *conversationService) ListConversations(ctx context.Context, user domain.UserID, limit, offset int) ([]ConversationDTO, error) {
	limit, offset = page(limit, offset)
	const q = `SELECT c.id, c.name, c.created_at
	             FROM conversations c
	             JOIN conversation_members m ON m.conversation_id = c.id
	            WHERE m.user_id = $1
	         ORDER BY c.created_at DESC
	            LIMIT $2 OFFSET $3`
	rows, err := svc.db.QueryContext(ctx, q, string(user), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]ConversationDTO, 0, limit)
	for rows.Next() {
		var c ConversationDTO
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
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
