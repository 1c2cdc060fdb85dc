package presence

import (
	"context"
	"encoding/json"
	"errors"
	"socialrelay/internal/domain"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	msgDeliver = "deliver"
	msgEvict   = "evict"
	msgClose   = "close"
	msgUnbind  = "unbind"
)

// nodeMessage travels on a node's private channel.
type nodeMessage struct {
	Kind  string        `json:"kind"`
	User  domain.UserID `json:"user"`
	Conn  string        `json:"conn,omitempty"`
	Frame []byte        `json:"frame,omitempty"`
}

// Cluster is a Directory shared by every process through redis. Local
// connections stay in an in-process Registry; the redis hash records which
// node holds each identity so other nodes can reach it over pub/sub.
type Cluster struct {
	local *Registry
	rdb   *redis.Client
	ns    string
	node  string

	mu      sync.RWMutex
	onEvict func(domain.UserID, Conn)
}

var _ Directory = (*Cluster)(nil)

func NewCluster(rdb *redis.Client, namespace, node string, local *Registry) *Cluster {
	return &Cluster{local: local, rdb: rdb, ns: namespace, node: node}
}

// Key is the redis hash holding identity -> "<node>|<conn>".
func (c *Cluster) Key() string { return "presence:" + c.ns }

func (c *Cluster) channel(node string) string {
	return "presence:" + c.ns + ":node:" + node
}

func (c *Cluster) location(conn Conn) string { return c.node + "|" + conn.ID() }

// OnEvict sets the callback for local connections replaced by a bind on
// another node.
func (c *Cluster) OnEvict(fn func(domain.UserID, Conn)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

func (c *Cluster) Bind(ctx context.Context, id domain.UserID, conn Conn) Conn {
	// conn re-identifying drops its old identity from the shared hash too
	if prevID, ok := c.local.IdentityOf(conn); ok && prevID != id {
		c.unbindShared(ctx, prevID, c.location(conn))
	}
	evicted := c.local.Bind(ctx, id, conn)

	prev, err := c.rdb.FCall(ctx, "presence_bind", []string{c.Key()}, string(id), c.location(conn)).Text()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("presence.bind", zap.String("ns", c.ns), zap.String("user", string(id)), zap.Error(err))
		}
		return evicted
	}

	node, connID, ok := splitLocation(prev)
	if !ok || node == c.node {
		return evicted
	}
	c.publish(ctx, node, nodeMessage{Kind: msgEvict, User: id, Conn: connID})
	return evicted
}

func (c *Cluster) Unbind(ctx context.Context, conn Conn) (domain.UserID, bool) {
	id, ok := c.local.Unbind(ctx, conn)
	if !ok {
		return "", false
	}
	c.unbindShared(ctx, id, c.location(conn))
	return id, true
}

// UnbindIdentity drops id on whichever node holds it. A remote owner is
// told to forget the identity; its connection stays open.
func (c *Cluster) UnbindIdentity(ctx context.Context, id domain.UserID) bool {
	if conn, ok := c.local.Lookup(ctx, id); ok {
		c.local.UnbindIdentity(ctx, id)
		c.unbindShared(ctx, id, c.location(conn))
		return true
	}
	loc, err := c.rdb.HGet(ctx, c.Key(), string(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("presence.unbind", zap.String("ns", c.ns), zap.String("user", string(id)), zap.Error(err))
		}
		return false
	}
	c.unbindShared(ctx, id, loc)
	if node, connID, ok := splitLocation(loc); ok && node != c.node {
		c.publish(ctx, node, nodeMessage{Kind: msgUnbind, User: id, Conn: connID})
	}
	return true
}

// unbindShared deletes the hash entry of id while it still points at loc.
func (c *Cluster) unbindShared(ctx context.Context, id domain.UserID, loc string) {
	if err := c.rdb.FCall(ctx, "presence_unbind", []string{c.Key()}, string(id), loc).Err(); err != nil {
		zap.L().Warn("presence.unbind", zap.String("ns", c.ns), zap.String("user", string(id)), zap.Error(err))
	}
}

func (c *Cluster) Lookup(ctx context.Context, id domain.UserID) (Conn, bool) {
	if conn, ok := c.local.Lookup(ctx, id); ok {
		return conn, true
	}
	loc, err := c.rdb.HGet(ctx, c.Key(), string(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("presence.lookup", zap.String("ns", c.ns), zap.String("user", string(id)), zap.Error(err))
		}
		return nil, false
	}
	node, connID, ok := splitLocation(loc)
	if !ok || node == c.node {
		// ours but not local any more: a stale entry
		return nil, false
	}
	return &remoteConn{cluster: c, node: node, id: connID, user: id}, true
}

func (c *Cluster) Online(ctx context.Context) []domain.UserID {
	keys, err := c.rdb.HKeys(ctx, c.Key()).Result()
	if err != nil {
		zap.L().Warn("presence.online", zap.String("ns", c.ns), zap.Error(err))
		return c.local.Online(ctx)
	}
	out := make([]domain.UserID, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.UserID(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Local exposes the in-process part of the directory.
func (c *Cluster) Local() *Registry { return c.local }

// PurgeNode drops every entry held by node, typically after its lease expired.
func (c *Cluster) PurgeNode(ctx context.Context, node string) (int64, error) {
	return c.rdb.FCall(ctx, "presence_purge_node", []string{c.Key()}, node).Int64()
}

// Run consumes this node's channel until ctx is done.
func (c *Cluster) Run(ctx context.Context) {
	ps := c.rdb.Subscribe(ctx, c.channel(c.node))
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			c.handle(ctx, m.Payload)
		}
	}
}

func (c *Cluster) handle(ctx context.Context, payload string) {
	var msg nodeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		zap.L().Warn("presence.node_message", zap.String("ns", c.ns), zap.Error(err))
		return
	}

	switch msg.Kind {
	case msgDeliver:
		conn, ok := c.local.Lookup(ctx, msg.User)
		if !ok || (msg.Conn != "" && conn.ID() != msg.Conn) {
			zap.L().Debug("presence.deliver_missed", zap.String("ns", c.ns), zap.String("user", string(msg.User)))
			return
		}
		if err := conn.Send(msg.Frame); err != nil {
			zap.L().Debug("presence.deliver_failed", zap.String("ns", c.ns), zap.String("user", string(msg.User)), zap.Error(err))
		}
	case msgEvict:
		conn, ok := c.local.ConnByID(msg.Conn)
		if !ok {
			return
		}
		c.local.Unbind(ctx, conn)
		c.mu.RLock()
		fn := c.onEvict
		c.mu.RUnlock()
		if fn != nil {
			fn(msg.User, conn)
		} else {
			conn.Close()
		}
	case msgUnbind:
		if conn, ok := c.local.ConnByID(msg.Conn); ok {
			if cur, ok := c.local.IdentityOf(conn); ok && cur == msg.User {
				c.local.Unbind(ctx, conn)
			}
		}
	case msgClose:
		if conn, ok := c.local.ConnByID(msg.Conn); ok {
			conn.Close()
		}
	}
}

func (c *Cluster) publish(ctx context.Context, node string, msg nodeMessage) (int64, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	n, err := c.rdb.Publish(ctx, c.channel(node), string(raw)).Result()
	if err != nil {
		zap.L().Warn("presence.publish", zap.String("ns", c.ns), zap.String("node", node), zap.Error(err))
	}
	return n, err
}

func splitLocation(loc string) (node, conn string, ok bool) {
	node, conn, ok = strings.Cut(loc, "|")
	if !ok || node == "" || conn == "" {
		return "", "", false
	}
	return node, conn, true
}

// remoteConn is a connection held by another node.
type remoteConn struct {
	cluster *Cluster
	node    string
	id      string
	user    domain.UserID
}

func (r *remoteConn) ID() string { return r.id }

func (r *remoteConn) Send(frame []byte) error {
	n, err := r.cluster.publish(context.Background(), r.node, nodeMessage{Kind: msgDeliver, User: r.user, Conn: r.id, Frame: frame})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConnClosed
	}
	return nil
}

func (r *remoteConn) Close() {
	r.cluster.publish(context.Background(), r.node, nodeMessage{Kind: msgClose, User: r.user, Conn: r.id})
}
