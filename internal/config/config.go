package config

import (
	"socialrelay/internal/ws"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"development" validate:"oneof=development production test"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"       validate:"oneof=debug info warn error"`
	NodeID   string `env:"NODE_ID"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"relay_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"relay_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"relay_db"`
	PostgresMaxConns int    `env:"POSTGRES_MAX_CONNS" envDefault:"50" validate:"min=1"`

	RedisEnabled bool          `env:"REDIS_ENABLED"  envDefault:"false"`
	RedisHost    string        `env:"REDIS_HOST"     envDefault:"localhost"`
	RedisPort    uint16        `env:"REDIS_PORT"     envDefault:"6379" validate:"min=1000,max=65535"`
	NodeLeaseTTL time.Duration `env:"NODE_LEASE_TTL" envDefault:"15s"  validate:"min=3s"`

	MediaDir      string `env:"MEDIA_DIR"       envDefault:"media" validate:"required"`
	MediaMaxBytes int64  `env:"MEDIA_MAX_BYTES" envDefault:"10485760" validate:"min=1"`

	WsReadLimit       int64         `env:"WS_READ_LIMIT"        envDefault:"16777216" validate:"min=512"`
	WsWriteWait       time.Duration `env:"WS_WRITE_WAIT"        envDefault:"10s"`
	WsPongWait        time.Duration `env:"WS_PONG_WAIT"         envDefault:"12s"`
	WsPingPeriod      time.Duration `env:"WS_PING_PERIOD"       envDefault:"3s"  validate:"ltfield=WsPongWait"`
	WsSendBuffer      int           `env:"WS_SEND_BUFFER"       envDefault:"64"  validate:"min=1"`
	WsEventTimeout    time.Duration `env:"WS_EVENT_TIMEOUT"     envDefault:"1900ms"`
	WsEventsPerSecond float64       `env:"WS_EVENTS_PER_SECOND" envDefault:"20"  validate:"gt=0"`
	WsEventBurst      int           `env:"WS_EVENT_BURST"       envDefault:"40"  validate:"min=1"`

	LivePruneViewersOnDisconnect bool          `env:"LIVE_PRUNE_VIEWERS_ON_DISCONNECT" envDefault:"false"`
	ViewerSyncInterval           time.Duration `env:"VIEWER_SYNC_INTERVAL"             envDefault:"10s" validate:"min=1s"`
}

// WsOptions returns the websocket tuning carried by cfg.
func (cfg *Config) WsOptions() ws.Options {
	return ws.Options{
		ReadLimit:       cfg.WsReadLimit,
		WriteWait:       cfg.WsWriteWait,
		PongWait:        cfg.WsPongWait,
		PingPeriod:      cfg.WsPingPeriod,
		SendBuffer:      cfg.WsSendBuffer,
		EventTimeout:    cfg.WsEventTimeout,
		EventsPerSecond: cfg.WsEventsPerSecond,
		EventBurst:      cfg.WsEventBurst,
	}
}

// LoadConfig reads envFile (if present) into the environment and parses it.
// Variables already set in the environment win over the file.
func LoadConfig(envFile string) (*Config, error) {
	err := godotenv.Load(envFile)
	if err != nil {
		zap.L().Debug(".env file not found", zap.String("path", envFile), zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
