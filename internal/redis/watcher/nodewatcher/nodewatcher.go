package nodewatcher

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leasePrefix = "node_t:"

// Purger drops every presence entry owned by a node.
type Purger interface {
	PurgeNode(ctx context.Context, node string) (int64, error)
}

func LeaseKey(node string) string { return leasePrefix + node }

// Heartbeat keeps the lease of node alive until ctx is done, then drops it.
func Heartbeat(ctx context.Context, rdb *redis.Client, node string, ttl time.Duration) {
	tk := time.NewTicker(ttl / 3)
	defer tk.Stop()

	renew(ctx, rdb, node, ttl)
	for {
		select {
		case <-ctx.Done():
			delCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = rdb.Del(delCtx, LeaseKey(node)).Err()
			cancel()
			return
		case <-tk.C:
			renew(ctx, rdb, node, ttl)
		}
	}
}

func renew(ctx context.Context, rdb *redis.Client, node string, ttl time.Duration) {
	if err := rdb.Set(ctx, LeaseKey(node), time.Now().Unix(), ttl).Err(); err != nil && ctx.Err() == nil {
		zap.L().Warn("nodewatcher.renew", zap.String("node", node), zap.Error(err))
	}
}

// Run listens to key-expiry events and purges the presence of nodes whose
// lease ran out. Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, self string, purgers ...Purger) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer ps.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			handleExpired(ctx, m.Payload, self, purgers)
		}
	}
}

// handleExpired returns the node purged for key, if any.
func handleExpired(ctx context.Context, key, self string, purgers []Purger) string {
	if !strings.HasPrefix(key, leasePrefix) {
		return ""
	}
	node := strings.TrimPrefix(key, leasePrefix)
	if node == "" || node == self {
		// our own lease lapsed while we were stalled; the next renew restores it
		return ""
	}
	for _, p := range purgers {
		n, err := p.PurgeNode(ctx, node)
		if err != nil {
			zap.L().Error("nodewatcher.purge", zap.String("node", node), zap.Error(err))
			continue
		}
		zap.L().Info("nodewatcher.purged", zap.String("node", node), zap.Int64("entries", n))
	}
	return node
}
