package livestream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"time"
)

type BroadcastDTO struct {
	ID        string          `json:"id"`
	HostID    domain.UserID   `json:"host_id"`
	Title     string          `json:"title"`
	ViewerIDs []domain.UserID `json:"viewer_ids,omitempty"`
	CreatedAt time.Time       `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

var (
	ErrBroadcastNotFound = fmt.Errorf("live stream not found: %w", apperr.ErrNotFound)
	ErrNotHost           = fmt.Errorf("only the host may do this: %w", apperr.ErrUnauthorized)
)

type ILiveStreamService interface {
	GetBroadcast(ctx context.Context, id string) (*BroadcastDTO, error)
	DeleteBroadcast(ctx context.Context, id string, requester domain.UserID) error
	// ReplaceViewers makes the stored viewer list of id equal to viewers.
	// Unknown live streams are ignored.
	ReplaceViewers(ctx context.Context, id string, viewers []domain.UserID) error
}

type liveStreamService struct {
	db *sql.DB
}

var _ ILiveStreamService = (*liveStreamService)(nil)

func NewLiveStreamService(db *sql.DB) ILiveStreamService {
	return &liveStreamService{db: db}
}

func (svc *liveStreamService) GetBroadcast(ctx context.Context, id string) (*BroadcastDTO, error) {
	var (
		b    BroadcastDTO
		host string
	)
	err := svc.db.QueryRowContext(ctx,
		`SELECT id, host_id, title, created_at FROM live_streams WHERE id = $1`, id,
	).Scan(&b.ID, &host, &b.Title, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("live stream %s: %w", id, ErrBroadcastNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.HostID = domain.UserID(host)

	rows, err := svc.db.QueryContext(ctx,
		`SELECT user_id FROM live_stream_viewers WHERE live_stream_id = $1 ORDER BY joined_at, user_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		b.ViewerIDs = append(b.ViewerIDs, domain.UserID(v))
	}
	return &b, rows.Err()
}

func (svc *liveStreamService) DeleteBroadcast(ctx context.Context, id string, requester domain.UserID) error {
	var host string
	err := svc.db.QueryRowContext(ctx, `SELECT host_id FROM live_streams WHERE id = $1`, id).Scan(&host)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("live stream %s: %w", id, ErrBroadcastNotFound)
	}
	if err != nil {
		return err
	}
	if domain.UserID(host) != requester {
		return fmt.Errorf("user %s, live stream %s: %w", requester, id, ErrNotHost)
	}
	_, err = svc.db.ExecContext(ctx, `DELETE FROM live_streams WHERE id = $1`, id)
	return err
}

func (svc *liveStreamService) ReplaceViewers(ctx context.Context, id string, viewers []domain.UserID) error {
	ids := make([]string, len(viewers))
	for i, v := range viewers {
		ids[i] = string(v)
	}

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM live_stream_viewers WHERE live_stream_id = $1 AND NOT (user_id = ANY($2))`,
		id, ids,
	); err != nil {
		return fmt.Errorf("prune viewers of %s: %w", id, err)
	}

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_stream_viewers (live_stream_id, user_id)
			      SELECT $1, v FROM unnest($2::text[]) AS v
			       WHERE EXISTS (SELECT 1 FROM live_streams WHERE id = $1)
			 ON CONFLICT DO NOTHING`,
			id, ids,
		); err != nil {
			return fmt.Errorf("insert viewers of %s: %w", id, err)
		}
	}
	return tx.Commit()
}
