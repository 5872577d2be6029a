package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ENV string `env:"APP_ENV" envDefault:"development"`
}

type LogConfig struct {
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	Format    string `env:"LOG_FORMAT" envDefault:"text"`
	Component string `env:"LOG_COMPONENT" envDefault:"grpc_server"`
	Source    bool   `env:"LOG_SOURCE"`
}

type DBConfig struct {
	// Driver selects the gorm dialector: "mysql" or "sqlite".
	Driver   string `env:"DB_DRIVER" envDefault:"mysql"`
	DSN      string `env:"MYSQL_DSN"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	User     string `env:"DB_USER" envDefault:"root"`
	Password string `env:"DB_PASSWORD" envDefault:"root"`
	Name     string `env:"DB_NAME" envDefault:"studymatch"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type GRPCConfig struct {
	Host string `env:"GRPC_HOST" envDefault:"127.0.0.1"`
	Port string `env:"GRPC_PORT" envDefault:"50051"`
}

type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

type AuthConfig struct {
	Secret   string        `env:"AUTH_SECRET" envDefault:"dev-secret-change-me"`
	Issuer   string        `env:"AUTH_ISSUER" envDefault:"studymatch"`
	TokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
}

type RankingConfig struct {
	// Provider is "openai" or "heuristic". An empty APIKey forces heuristic.
	Provider      string        `env:"RANKING_PROVIDER" envDefault:"openai"`
	APIKey        string        `env:"OPENAI_API_KEY"`
	BaseURL       string        `env:"OPENAI_BASE_URL"`
	Model         string        `env:"RANKING_MODEL" envDefault:"gpt-4o-mini"`
	Timeout       time.Duration `env:"RANKING_TIMEOUT" envDefault:"20s"`
	RatePerMinute int           `env:"RANKING_RATE_PER_MINUTE" envDefault:"30"`
}

type MatchingConfig struct {
	BatchSize         int           `env:"MATCH_BATCH_SIZE" envDefault:"30"`
	CandidatePool     int           `env:"MATCH_CANDIDATE_POOL" envDefault:"90"`
	PrefetchThreshold int           `env:"MATCH_PREFETCH_THRESHOLD" envDefault:"5"`
	CacheTTL          time.Duration `env:"MATCH_CACHE_TTL" envDefault:"30m"`
	SweepInterval     time.Duration `env:"MATCH_SWEEP_INTERVAL" envDefault:"10m"`
	RefillTimeout     time.Duration `env:"MATCH_REFILL_TIMEOUT" envDefault:"45s"`
}

type PresenceConfig struct {
	OnlineWindow      time.Duration `env:"PRESENCE_ONLINE_WINDOW" envDefault:"5m"`
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" envDefault:"60s"`
	PollInterval      time.Duration `env:"PRESENCE_POLL_INTERVAL" envDefault:"30s"`
}

type TelemetryConfig struct {
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"studymatch"`
}

// ClientConfig is only read by cmd/swipe.
type ClientConfig struct {
	GRPCAddr  string        `env:"CLIENT_GRPC_ADDR" envDefault:"127.0.0.1:50051"`
	HTTPBase  string        `env:"CLIENT_HTTP_BASE" envDefault:"http://127.0.0.1:8080"`
	Token     string        `env:"CLIENT_TOKEN"`
	UserID    string        `env:"CLIENT_USER_ID" envDefault:"1"`
	Window    time.Duration `env:"CLIENT_BATCH_WINDOW" envDefault:"2s"`
	BatchSize int           `env:"CLIENT_BATCH_SIZE" envDefault:"3"`
}

type Config struct {
	App       AppConfig
	Log       LogConfig
	DB        DBConfig
	Redis     RedisConfig
	GRPC      GRPCConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Ranking   RankingConfig
	Matching  MatchingConfig
	Presence  PresenceConfig
	Telemetry TelemetryConfig
	Client    ClientConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	if cfg.DB.DSN == "" {
		switch cfg.DB.Driver {
		case "sqlite":
			cfg.DB.DSN = cfg.DB.Name + ".db"
		default:
			cfg.DB.DSN = fmt.Sprintf(
				"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
				cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
			)
		}
	}

	if cfg.Ranking.APIKey == "" {
		cfg.Ranking.Provider = "heuristic"
	}
	return cfg, nil
}

// New is Load for callers that cannot act on a bad environment (tests, tools).
// It panics on malformed values.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
