package main

import (
	"context"
	"os"
	"os/signal"
	"socialrelay/internal/broadcast"
	"socialrelay/internal/chat"
	"socialrelay/internal/config"
	"socialrelay/internal/database/db_client"
	"socialrelay/internal/http/http_server"
	"socialrelay/internal/http/realtimehandler"
	"socialrelay/internal/hub"
	"socialrelay/internal/live"
	"socialrelay/internal/media"
	"socialrelay/internal/presence"
	"socialrelay/internal/redis/redis_client"
	"socialrelay/internal/redis/redis_functions"
	"socialrelay/internal/redis/watcher/nodewatcher"
	"socialrelay/internal/relay"
	"socialrelay/internal/rooms"
	"socialrelay/internal/services/conversation"
	"socialrelay/internal/services/livestream"
	"socialrelay/internal/services/message"
	"socialrelay/internal/syncviewers"
	"socialrelay/internal/ws"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(appEnv, level string) *zap.Logger {
	var cfg zap.Config
	if appEnv == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// namespaceHub builds the hub of one namespace, shared through redis when
// rdb is set.
func namespaceHub(ctx context.Context, ns, node string, rdb *redis.Client) (*hub.Hub, *presence.Cluster) {
	if rdb == nil {
		return hub.NewLocal(ns), nil
	}
	m := rooms.NewManager()
	cluster := presence.NewCluster(rdb, ns, node, presence.NewRegistry())
	h := hub.New(ns, cluster, m, rooms.NewRedisFanout(ctx, rdb, m, ns))
	cluster.OnEvict(h.Evict)
	go cluster.Run(ctx)
	return h, cluster
}

func main() {
	envFile := pflag.String("env-file", ".env", "path of the .env file to load")
	pflag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger := newLogger(cfg.AppEnv, cfg.LogLevel)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	logger.Debug("Configuration loaded successfully", zap.String("node", cfg.NodeID), zap.Bool("redis", cfg.RedisEnabled))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb,
		db_client.Options{MaxOpenConns: cfg.PostgresMaxConns})
	if err != nil {
		logger.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := db_client.Migrate(ctx, pgDb); err != nil {
		logger.Fatal("pg-migrate", zap.Error(err))
	}

	// 4. Services
	convService := conversation.NewConversationService(pgDb)
	msgService := message.NewMessageService(pgDb)
	streamService := livestream.NewLiveStreamService(pgDb)
	store, err := media.NewStore(afero.NewOsFs(), cfg.MediaDir, cfg.MediaMaxBytes)
	if err != nil {
		logger.Fatal("media-store", zap.Error(err))
	}

	// 5. Redis (optional): shared presence, room fan-out, node leases
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis_client.NewRedisClient(ctx, cfg.RedisHost, int(cfg.RedisPort), "socialrelay-"+cfg.NodeID)
		if err != nil {
			logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		if _, err := redis_functions.LoadAll(ctx, redisClient); err != nil {
			logger.Fatal("load-redis-funcs", zap.Error(err))
		}
	}

	// 6. Namespace hubs
	chatHub, chatCluster := namespaceHub(ctx, "chat", cfg.NodeID, redisClient)
	liveHub, liveCluster := namespaceHub(ctx, "live", cfg.NodeID, redisClient)
	if redisClient != nil {
		go nodewatcher.Heartbeat(ctx, redisClient, cfg.NodeID, cfg.NodeLeaseTTL)
		go nodewatcher.Run(ctx, redisClient, cfg.NodeID, chatCluster, liveCluster)
	}

	// 7. Broadcast state + background viewer sync
	broadcasts := broadcast.NewManager(liveHub, relay.NewSignals(liveHub.Presence(), liveHub.Namespace()))
	syncviewers.Run(ctx, broadcasts, streamService, cfg.ViewerSyncInterval)

	// 8. Event routers and WS servers
	chatRouter := ws.NewRouter()
	chat.New(chatHub, convService, msgService, store).Register(chatRouter)
	liveRouter := ws.NewRouter()
	live.New(liveHub, broadcasts, streamService, cfg.LivePruneViewersOnDisconnect).Register(liveRouter)

	chatWs := ws.NewWsServer(chatHub, chatRouter, cfg.WsOptions())
	liveWs := ws.NewWsServer(liveHub, liveRouter, cfg.WsOptions())

	// 9. HTTP + WS server
	rest := realtimehandler.New(cfg.NodeID, chatHub, liveHub, broadcasts, convService, msgService)
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, chatWs, liveWs, rest)
	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()
	if err := httpServer.Start(); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
