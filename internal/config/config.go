package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage kinds accepted by STORAGE_KIND.
const (
	StorageFile    = "file"
	StorageMongo   = "mongodb"
	StorageRedis   = "redis"
	StorageSQLite  = "sqlite"
	aliasJSON      = "json"
	aliasDocStore  = "document-store"
	aliasMongo     = "mongo"
	defaultAppName = "Analytics Engineer API"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `yaml:"debug"`
}

type HTTPConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Kind            string        `yaml:"kind"`
	FilePath        string        `yaml:"file_path"`
	MongoURL        string        `yaml:"mongodb_url"`
	MongoDatabase   string        `yaml:"mongodb_database"`
	MongoCollection string        `yaml:"mongodb_collection"`
	RedisURL        string        `yaml:"redis_url"`
	RedisKey        string        `yaml:"redis_key"`
	DBPath          string        `yaml:"db_path"`
	Timeout         time.Duration `yaml:"timeout"`
}

type GeneratorConfig struct {
	MinPerRequest     int     `yaml:"min_invoices_per_request"`
	MaxPerRequest     int     `yaml:"max_invoices_per_request"`
	MaxBatchSize      int     `yaml:"max_batch_size"`
	InconsistencyRate float64 `yaml:"inconsistency_rate"`
	DuplicateRate     float64 `yaml:"duplicate_rate"`
	Seed              uint64  `yaml:"seed"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Secret            string        `yaml:"secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	APIKeys           []string      `yaml:"api_keys"`
	AdminPassword     string        `yaml:"admin_password"`
	CandidatePassword string        `yaml:"candidate_password"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SMTPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	AuthEnabled bool   `yaml:"auth_enabled"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

type RelayConfig struct {
	Addr     string   `yaml:"addr"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		App: AppConfig{Name: defaultAppName, Version: "1.0.0"},
		HTTP: HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Kind:            StorageFile,
			FilePath:        "./data/invoices.json",
			MongoURL:        "mongodb://localhost:27017",
			MongoDatabase:   "analytics_engineer",
			MongoCollection: "invoices",
			RedisURL:        "redis://localhost:6379/0",
			RedisKey:        "mockinvoice:invoices",
			Timeout:         5 * time.Second,
		},
		Generator: GeneratorConfig{
			MinPerRequest:     2,
			MaxPerRequest:     5,
			MaxBatchSize:      100,
			InconsistencyRate: 0.3,
			DuplicateRate:     0.1,
		},
		Auth: AuthConfig{
			Enabled:           true,
			TokenTTL:          60 * time.Minute,
			AdminPassword:     "admin123",
			CandidatePassword: "test123",
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
		SMTP: SMTPConfig{
			Port:        2025,
			AuthEnabled: true,
			Username:    "mockinvoice",
			Password:    "mockinvoice",
		},
		Relay: RelayConfig{
			From: "invoices@mockinvoice.local",
			To:   []string{"ap@mockinvoice.local"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence. An empty path falls back to CONFIG_FILE.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getEnvString("CONFIG_FILE", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.Storage.Kind = NormalizeStorageKind(cfg.Storage.Kind)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Name = getEnvString("APP_NAME", cfg.App.Name)
	cfg.App.Version = getEnvString("APP_VERSION", cfg.App.Version)
	cfg.App.Debug = getEnvBool("DEBUG", cfg.App.Debug)

	cfg.HTTP.Host = getEnvString("HTTP_HOST", cfg.HTTP.Host)
	cfg.HTTP.Port = getEnvInt("HTTP_PORT", cfg.HTTP.Port)
	cfg.HTTP.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)

	cfg.Storage.Kind = getEnvString("STORAGE_KIND", cfg.Storage.Kind)
	cfg.Storage.FilePath = getEnvString("STORAGE_FILE_PATH", cfg.Storage.FilePath)
	cfg.Storage.MongoURL = getEnvString("MONGODB_URL", cfg.Storage.MongoURL)
	cfg.Storage.MongoDatabase = getEnvString("MONGODB_DATABASE", cfg.Storage.MongoDatabase)
	cfg.Storage.MongoCollection = getEnvString("MONGODB_COLLECTION", cfg.Storage.MongoCollection)
	cfg.Storage.RedisURL = getEnvString("REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.RedisKey = getEnvString("REDIS_KEY", cfg.Storage.RedisKey)
	cfg.Storage.DBPath = getEnvString("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.Timeout = getEnvDuration("STORAGE_TIMEOUT", cfg.Storage.Timeout)

	cfg.Generator.MinPerRequest = getEnvInt("MIN_INVOICES_PER_REQUEST", cfg.Generator.MinPerRequest)
	cfg.Generator.MaxPerRequest = getEnvInt("MAX_INVOICES_PER_REQUEST", cfg.Generator.MaxPerRequest)
	cfg.Generator.MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", cfg.Generator.MaxBatchSize)
	cfg.Generator.InconsistencyRate = getEnvFloat("INCONSISTENCY_RATE", cfg.Generator.InconsistencyRate)
	cfg.Generator.DuplicateRate = getEnvFloat("DUPLICATE_RATE", cfg.Generator.DuplicateRate)
	cfg.Generator.Seed = uint64(getEnvInt("GENERATOR_SEED", int(cfg.Generator.Seed)))

	cfg.Auth.Enabled = getEnvBool("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.Secret = getEnvString("AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TokenTTL = getEnvDuration("TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.APIKeys = getEnvList("API_KEYS", cfg.Auth.APIKeys)
	cfg.Auth.AdminPassword = getEnvString("ADMIN_PASSWORD", cfg.Auth.AdminPassword)
	cfg.Auth.CandidatePassword = getEnvString("CANDIDATE_PASSWORD", cfg.Auth.CandidatePassword)

	cfg.RateLimit.RPS = getEnvFloat("RATE_LIMIT_RPS", cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.SMTP.Enabled = getEnvBool("SMTP_ENABLED", cfg.SMTP.Enabled)
	cfg.SMTP.Port = getEnvInt("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.AuthEnabled = getEnvBool("SMTP_AUTH_ENABLED", cfg.SMTP.AuthEnabled)
	cfg.SMTP.Username = getEnvString("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getEnvString("SMTP_PASSWORD", cfg.SMTP.Password)

	cfg.Relay.Addr = getEnvString("RELAY_ADDR", cfg.Relay.Addr)
	cfg.Relay.Username = getEnvString("RELAY_USERNAME", cfg.Relay.Username)
	cfg.Relay.Password = getEnvString("RELAY_PASSWORD", cfg.Relay.Password)
	cfg.Relay.From = getEnvString("MAIL_FROM", cfg.Relay.From)
	cfg.Relay.To = getEnvList("MAIL_TO", cfg.Relay.To)

	cfg.Log.Level = getEnvString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvString("LOG_FORMAT", cfg.Log.Format)
}

// NormalizeStorageKind maps accepted aliases onto the canonical storage kinds.
func NormalizeStorageKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case StorageFile, aliasJSON, "":
		return StorageFile
	case StorageMongo, aliasMongo, aliasDocStore:
		return StorageMongo
	case StorageRedis:
		return StorageRedis
	case StorageSQLite:
		return StorageSQLite
	default:
		return kind
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	g := c.Generator
	if !validRate(g.InconsistencyRate) {
		errs = append(errs, fmt.Errorf("inconsistency_rate must be within [0,1], got %v", g.InconsistencyRate))
	}
	if !validRate(g.DuplicateRate) {
		errs = append(errs, fmt.Errorf("duplicate_rate must be within [0,1], got %v", g.DuplicateRate))
	}
	if g.MinPerRequest < 1 {
		errs = append(errs, fmt.Errorf("min_invoices_per_request must be positive, got %d", g.MinPerRequest))
	}
	if g.MaxPerRequest < g.MinPerRequest {
		errs = append(errs, fmt.Errorf("max_invoices_per_request %d is below min %d", g.MaxPerRequest, g.MinPerRequest))
	}
	if g.MaxBatchSize < g.MaxPerRequest {
		errs = append(errs, fmt.Errorf("max_batch_size %d is below max_invoices_per_request %d", g.MaxBatchSize, g.MaxPerRequest))
	}
	switch c.Storage.Kind {
	case StorageFile:
		if strings.TrimSpace(c.Storage.FilePath) == "" {
			errs = append(errs, errors.New("storage file_path is required for file storage"))
		}
	case StorageMongo, StorageRedis, StorageSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage kind %q", c.Storage.Kind))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage timeout must be positive"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port %d", c.HTTP.Port))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// validRate also rejects NaN, which compares false against both bounds.
func validRate(r float64) bool {
	return r >= 0 && r <= 1
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
