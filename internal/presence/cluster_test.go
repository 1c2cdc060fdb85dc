package presence

import (
	"context"
	"encoding/json"
	"testing"

	"socialrelay/internal/domain"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCluster(t *testing.T) (*Cluster, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	return NewCluster(rdb, "chat", "n1", NewRegistry()), mock
}

func encode(t *testing.T, msg nodeMessage) string {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(raw)
}

func TestCluster_BindFresh(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c1")

	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").RedisNil()

	assert.Nil(t, c.Bind(ctx, "alice", conn))
	got, ok := c.Lookup(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, conn, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_BindEvictsOnOtherNode(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)

	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").SetVal("n2|c9")
	mock.ExpectPublish("presence:chat:node:n2", encode(t, nodeMessage{Kind: msgEvict, User: "alice", Conn: "c9"})).SetVal(1)

	c.Bind(ctx, "alice", newFakeConn("c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_LookupRemoteAndSend(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	frame := []byte(`{"event":"sendMessage"}`)

	mock.ExpectHGet("presence:chat", "bob").SetVal("n2|c7")
	mock.ExpectPublish("presence:chat:node:n2",
		encode(t, nodeMessage{Kind: msgDeliver, User: "bob", Conn: "c7", Frame: frame})).SetVal(1)

	conn, ok := c.Lookup(ctx, "bob")
	require.True(t, ok)
	assert.Equal(t, "c7", conn.ID())
	require.NoError(t, conn.Send(frame))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_RemoteSendWithoutSubscriberIsClosed(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)

	mock.ExpectHGet("presence:chat", "bob").SetVal("n2|c7")
	mock.ExpectPublish("presence:chat:node:n2",
		encode(t, nodeMessage{Kind: msgDeliver, User: "bob", Conn: "c7", Frame: []byte("x")})).SetVal(0)

	conn, ok := c.Lookup(ctx, "bob")
	require.True(t, ok)
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnClosed)
}

func TestCluster_LookupMissAndStaleOwnEntry(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)

	mock.ExpectHGet("presence:chat", "bob").RedisNil()
	mock.ExpectHGet("presence:chat", "carol").SetVal("n1|gone")

	_, ok := c.Lookup(ctx, "bob")
	assert.False(t, ok)
	_, ok = c.Lookup(ctx, "carol")
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_UnbindComparesLocation(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c1")

	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").RedisNil()
	mock.ExpectFCall("presence_unbind", []string{"presence:chat"}, "alice", "n1|c1").SetVal(int64(1))

	c.Bind(ctx, "alice", conn)
	id, ok := c.Unbind(ctx, conn)
	assert.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), id)

	// second unbind never reaches redis
	_, ok = c.Unbind(ctx, conn)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_Online(t *testing.T) {
	c, mock := newTestCluster(t)
	mock.ExpectHKeys("presence:chat").SetVal([]string{"bob", "alice"})

	assert.Equal(t, []domain.UserID{"alice", "bob"}, c.Online(context.Background()))
}

func TestCluster_PurgeNode(t *testing.T) {
	c, mock := newTestCluster(t)
	mock.ExpectFCall("presence_purge_node", []string{"presence:chat"}, "n9").SetVal(int64(3))

	n, err := c.PurgeNode(context.Background(), "n9")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCluster_HandleDeliverAndEvict(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c1")
	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").RedisNil()
	c.Bind(ctx, "alice", conn)

	c.handle(ctx, encode(t, nodeMessage{Kind: msgDeliver, User: "alice", Conn: "c1", Frame: []byte("hi")}))
	c.handle(ctx, encode(t, nodeMessage{Kind: msgDeliver, User: "alice", Conn: "other", Frame: []byte("no")}))
	assert.Equal(t, [][]byte{[]byte("hi")}, conn.sent())

	var evicted Conn
	c.OnEvict(func(_ domain.UserID, x Conn) { evicted = x })
	c.handle(ctx, encode(t, nodeMessage{Kind: msgEvict, User: "alice", Conn: "c1"}))

	assert.Equal(t, conn, evicted)
	_, ok := c.Local().Lookup(ctx, "alice")
	assert.False(t, ok)
}

func TestCluster_RebindSameConnDropsOldIdentity(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c1")

	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").RedisNil()
	mock.ExpectFCall("presence_unbind", []string{"presence:chat"}, "alice", "n1|c1").SetVal(int64(1))
	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "bob", "n1|c1").RedisNil()
	mock.ExpectFCall("presence_unbind", []string{"presence:chat"}, "bob", "n1|c1").SetVal(int64(1))

	c.Bind(ctx, "alice", conn)
	c.Bind(ctx, "bob", conn)
	id, ok := c.Unbind(ctx, conn)
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_UnbindIdentityLocal(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c1")

	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "alice", "n1|c1").RedisNil()
	mock.ExpectFCall("presence_unbind", []string{"presence:chat"}, "alice", "n1|c1").SetVal(int64(1))

	c.Bind(ctx, "alice", conn)
	assert.True(t, c.UnbindIdentity(ctx, "alice"))

	_, ok := c.Local().Lookup(ctx, "alice")
	assert.False(t, ok)
	assert.Empty(t, conn.sent())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_UnbindIdentityOnOtherNode(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)

	mock.ExpectHGet("presence:chat", "viewer").SetVal("n2|c7")
	mock.ExpectFCall("presence_unbind", []string{"presence:chat"}, "viewer", "n2|c7").SetVal(int64(1))
	mock.ExpectPublish("presence:chat:node:n2", encode(t, nodeMessage{Kind: msgUnbind, User: "viewer", Conn: "c7"})).SetVal(1)
	mock.ExpectHGet("presence:chat", "viewer").RedisNil()
	mock.ExpectHGet("presence:chat", "nobody").RedisNil()

	assert.True(t, c.UnbindIdentity(ctx, "viewer"))
	_, ok := c.Lookup(ctx, "viewer")
	assert.False(t, ok)
	assert.False(t, c.UnbindIdentity(ctx, "nobody"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCluster_HandleUnbindKeepsConnOpen(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestCluster(t)
	conn := newFakeConn("c7")
	mock.ExpectFCall("presence_bind", []string{"presence:chat"}, "viewer", "n1|c7").RedisNil()
	c.Bind(ctx, "viewer", conn)

	// a stale message for another identity is ignored
	c.handle(ctx, encode(t, nodeMessage{Kind: msgUnbind, User: "someone", Conn: "c7"}))
	_, ok := c.Local().Lookup(ctx, "viewer")
	require.True(t, ok)

	c.handle(ctx, encode(t, nodeMessage{Kind: msgUnbind, User: "viewer", Conn: "c7"}))
	_, ok = c.Local().Lookup(ctx, "viewer")
	assert.False(t, ok)
	assert.NoError(t, conn.Send([]byte("still open")))
}
