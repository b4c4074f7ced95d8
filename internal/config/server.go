package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	StoreDriver    string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	RunMigrations  bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`
	JWTSecret   string `env:"JWT_SECRET"`

	CardCount       int           `env:"CARD_COUNT" envDefault:"400"`
	HoldTTL         time.Duration `env:"HOLD_TTL" envDefault:"50s"`
	CountdownWindow time.Duration `env:"COUNTDOWN_WINDOW" envDefault:"50s"`
	MinPlayers      int           `env:"MIN_PLAYERS" envDefault:"2"`
	CallInterval    time.Duration `env:"CALL_INTERVAL" envDefault:"10s"`
	NumberPool      int           `env:"NUMBER_POOL" envDefault:"75"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL" envDefault:"5s"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"500ms"`
	LockWait        time.Duration `env:"LOCK_WAIT" envDefault:"10s"`
	Retries         int           `env:"TRANSIENT_RETRIES" envDefault:"2"`
	VerifyClaims    bool          `env:"VERIFY_CLAIMS" envDefault:"true"`
	HouseCutPct     int           `env:"HOUSE_CUT_PCT" envDefault:"20"`
	RoomRetention   time.Duration `env:"ROOM_RETENTION" envDefault:"2m"`
	RulesetPath     string        `env:"RULESET_PATH"`
	InitialBalance  int64         `env:"INITIAL_BALANCE" envDefault:"0"`

	KafkaBrokers   []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEnabled   bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	AuditQueueSize int      `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`
}

func (c ServerConfig) MemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(c.StoreDriver), "memory")
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StoreDriver)) {
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	if c.CardCount < 1 {
		return errors.New("CARD_COUNT must be positive")
	}
	if c.MinPlayers < 1 {
		return errors.New("MIN_PLAYERS must be positive")
	}
	if c.NumberPool < 1 || c.NumberPool > 75 {
		return errors.New("NUMBER_POOL must be between 1 and 75")
	}
	if c.HouseCutPct < 0 || c.HouseCutPct > 100 {
		return errors.New("HOUSE_CUT_PCT must be between 0 and 100")
	}
	if c.HoldTTL <= 0 || c.CountdownWindow <= 0 || c.CallInterval <= 0 {
		return errors.New("HOLD_TTL, COUNTDOWN_WINDOW and CALL_INTERVAL must be positive")
	}
	return nil
}
