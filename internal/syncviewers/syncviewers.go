package syncviewers

import (
	"context"
	"socialrelay/internal/domain"
	"time"

	"go.uber.org/zap"
)

const syncTimeout = 1500 * time.Millisecond

// Source yields the in-memory viewer set of every live broadcast.
type Source interface {
	Snapshot() map[string][]domain.UserID
}

// Sink stores the viewer set of one broadcast.
type Sink interface {
	ReplaceViewers(ctx context.Context, id string, viewers []domain.UserID) error
}

// Run mirrors the live viewer sets into Postgres every interval.
func Run(ctx context.Context, src Source, sink Sink, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, src, sink)
			}
		}
	}()
}

// syncOnce returns how many broadcasts were written.
func syncOnce(ctx context.Context, src Source, sink Sink) int {
	snap := src.Snapshot()
	if len(snap) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	written := 0
	for id, viewers := range snap {
		if err := sink.ReplaceViewers(ctx, id, viewers); err != nil {
			zap.L().Error("syncviewers.replace", zap.String("broadcast", id), zap.Error(err))
			continue
		}
		written++
	}
	zap.L().Debug("syncviewers.synced", zap.Int("broadcasts", written))
	return written
}
