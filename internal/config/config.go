package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/auth"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/fx"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Vault    VaultConfig
	Engine   EngineConfig
	FX       FXConfig
	Kafka    KafkaConfig
	Slack    SlackConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type StoreConfig struct {
	Backend string // memory or postgres
}

// DatabaseConfig holds PostgreSQL connection settings. URL, when set, takes
// precedence over the individual fields.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis;
// events and policy locks then stay in-process.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	LockTTL  time.Duration
}

// AuthConfig holds operator and agent credentials. With neither a JWT secret
// nor API keys configured, authentication is disabled.
type AuthConfig struct {
	JWTSecret string //nolint:gosec // G117: JWT signing secret config
	TokenTTL  time.Duration
	APIKeys   string // name:role:sha256hex, comma separated
}

// Enabled reports whether any credential is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || strings.TrimSpace(c.APIKeys) != ""
}

// VaultConfig holds the passphrase the private key vault is derived from.
// Without it generated keys are watch-only.
type VaultConfig struct {
	Passphrase string //nolint:gosec // G117: vault passphrase config
	Salt       string
}

type EngineConfig struct {
	LockTimeout time.Duration
	LockRetries int
	LockBackoff time.Duration
}

// FXConfig holds the USD value of one unit of each currency.
type FXConfig struct {
	Rates map[domain.Currency]decimal.Decimal
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SlackConfig holds revocation alert settings.
type SlackConfig struct {
	BotToken string
	Channel  string
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("TETHER_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TETHER_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TETHER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTTL, err := getEnvDuration("TETHER_REDIS_LOCK_TTL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tokenTTL, err := getEnvDuration("TETHER_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TETHER_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TETHER_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("TETHER_RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("TETHER_RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTimeout, err := getEnvDuration("TETHER_LOCK_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockRetries, err := getEnvInt("TETHER_LOCK_RETRIES", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockBackoff, err := getEnvDuration("TETHER_LOCK_BACKOFF", 25*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rates, err := loadRates(getEnv("TETHER_FX_RATES_FILE", ""), getEnv("TETHER_FX_RATES", ""))
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:           getEnv("TETHER_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    getEnvList("TETHER_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Store: StoreConfig{
			Backend: getEnv("TETHER_STORE", BackendMemory),
		},
		Database: DatabaseConfig{
			URL:      getEnv("TETHER_DATABASE_URL", ""),
			Host:     getEnv("TETHER_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("TETHER_DB_USER", "tether"),
			Password: getEnv("TETHER_DB_PASSWORD", ""),
			DBName:   getEnv("TETHER_DB_NAME", "tether_dev"),
			SSLMode:  getEnv("TETHER_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("TETHER_REDIS_ADDR", ""),
			Password: getEnv("TETHER_REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  lockTTL,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("TETHER_JWT_SECRET", ""),
			TokenTTL:  tokenTTL,
			APIKeys:   getEnv("TETHER_API_KEYS", ""),
		},
		Vault: VaultConfig{
			Passphrase: getEnv("TETHER_VAULT_PASSPHRASE", ""),
			Salt:       getEnv("TETHER_VAULT_SALT", "tether-vault"),
		},
		Engine: EngineConfig{
			LockTimeout: lockTimeout,
			LockRetries: lockRetries,
			LockBackoff: lockBackoff,
		},
		FX: FXConfig{Rates: rates},
		Kafka: KafkaConfig{
			Brokers: getEnvList("TETHER_KAFKA_BROKERS", nil),
			Topic:   getEnv("TETHER_KAFKA_TOPIC", "tether.executions"),
		},
		Slack: SlackConfig{
			BotToken: getEnv("TETHER_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("TETHER_SLACK_CHANNEL", ""),
		},
		Log: LogConfig{
			Level:  getEnv("TETHER_LOG_LEVEL", "info"),
			Format: getEnv("TETHER_LOG_FORMAT", "json"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// loadRates starts from the default table, then applies the YAML file and
// finally the inline list, so inline rates win.
func loadRates(file, inline string) (map[domain.Currency]decimal.Decimal, error) {
	rates := fx.DefaultRates()
	if file != "" {
		fromFile, err := fx.LoadFile(file)
		if err != nil {
			return nil, err
		}
		maps.Copy(rates, fromFile)
	}
	if inline != "" {
		parsed, err := fx.ParseRates(inline)
		if err != nil {
			return nil, err
		}
		maps.Copy(rates, parsed)
	}
	return rates, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory:
		log.Warn().Msg("TETHER_STORE=memory keeps all state in process; it is lost on restart")
	case BackendPostgres:
		if c.Database.URL == "" {
			if c.Database.Port < 1 || c.Database.Port > 65535 {
				return fmt.Errorf("TETHER_DB_PORT must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.SSLMode == "disable" {
				log.Warn().Msg("TETHER_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
			}
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("TETHER_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	default:
		return fmt.Errorf("TETHER_STORE must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Store.Backend)
	}

	// JWT secret is optional, but a short one is rejected.
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("TETHER_JWT_SECRET must be at least 32 characters")
	}
	if _, err := auth.ParseKeyring(c.Auth.APIKeys); err != nil {
		return fmt.Errorf("TETHER_API_KEYS: %w", err)
	}
	if !c.Auth.Enabled() {
		log.Warn().Msg("no TETHER_JWT_SECRET or TETHER_API_KEYS set; authentication is disabled")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TETHER_JWT_TTL must be positive, got %s", c.Auth.TokenTTL)
	}

	if c.Vault.Passphrase != "" && c.Vault.Salt == "" {
		return errors.New("TETHER_VAULT_SALT must not be empty when a vault passphrase is set")
	}

	// Bounds checks.
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TETHER_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TETHER_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("TETHER_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("TETHER_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}
	if c.Engine.LockTimeout <= 0 {
		return fmt.Errorf("TETHER_LOCK_TIMEOUT must be positive, got %s", c.Engine.LockTimeout)
	}
	if c.Engine.LockRetries < 0 {
		return fmt.Errorf("TETHER_LOCK_RETRIES must be >= 0, got %d", c.Engine.LockRetries)
	}
	if c.Engine.LockBackoff < 0 {
		return fmt.Errorf("TETHER_LOCK_BACKOFF must not be negative, got %s", c.Engine.LockBackoff)
	}
	if c.Redis.LockTTL <= c.Engine.LockTimeout && c.Redis.Addr != "" {
		return fmt.Errorf("TETHER_REDIS_LOCK_TTL (%s) must exceed TETHER_LOCK_TIMEOUT (%s)", c.Redis.LockTTL, c.Engine.LockTimeout)
	}

	if _, err := fx.NewTable(c.FX.Rates); err != nil {
		return fmt.Errorf("FX rates: %w", err)
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		return errors.New("TETHER_KAFKA_TOPIC is required when TETHER_KAFKA_BROKERS is set")
	}
	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		return errors.New("TETHER_SLACK_CHANNEL is required when TETHER_SLACK_BOT_TOKEN is set")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("TETHER_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("TETHER_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.MaxConns,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
