package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/phillip/case-funding-ledger/batch"
	"github.com/phillip/case-funding-ledger/ledger"
	"github.com/phillip/case-funding-ledger/store"
	"github.com/phillip/case-funding-ledger/utils"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds the settings read from the environment and, once app.Build
// has run, the services the handlers use.
type Config struct {
	Port              string
	StoreDriver       string
	MongoURI          string
	DBName            string
	MongoTransactions bool
	SQLitePath        string
	JWTSecret         string
	RedisURL          string
	Aggregation       string
	DefaultPayment    string
	BatchStaleAfter   time.Duration
	KafkaBrokers      []string
	KafkaTopic        string
	CORSOrigins       []string
	LogLevel          string
	LogFormat         string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	ZeptoAPIURL string
	ZeptoAPIKey string
	EmailFrom   string

	MongoClient *mongo.Client
	Store       store.Store
	Ledger      *ledger.Service
	Batches     *batch.Pipeline
	Uploader    utils.ProofUploader
	Logger      *slog.Logger
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
		MongoURI:            os.Getenv("MONGO_URI"),
		DBName:              getEnv("DB_NAME", "case_funding"),
		SQLitePath:          getEnv("SQLITE_PATH", "data/ledger.db"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisURL:            os.Getenv("REDIS_URL"),
		Aggregation:         getEnv("LEDGER_AGGREGATION", string(ledger.StrategyRecompute)),
		DefaultPayment:      getEnv("DEFAULT_PAYMENT_METHOD", batch.DefaultPaymentMethodCode),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "ledger-events"),
		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		ZeptoAPIURL:         os.Getenv("ZEPTO_API_URL"),
		ZeptoAPIKey:         os.Getenv("ZEPTO_API_KEY"),
		EmailFrom:           os.Getenv("EMAIL_FROM"),
	}

	tx, err := strconv.ParseBool(getEnv("MONGO_TRANSACTIONS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONGO_TRANSACTIONS: %w", err)
	}
	cfg.MongoTransactions = tx

	stale, err := time.ParseDuration(getEnv("BATCH_STALE_AFTER", batch.DefaultStaleAfter.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_STALE_AFTER: %w", err)
	}
	cfg.BatchStaleAfter = stale

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if _, err := ledger.ParseStrategy(c.Aggregation); err != nil {
		return err
	}
	if c.BatchStaleAfter < 0 {
		return fmt.Errorf("BATCH_STALE_AFTER must not be negative")
	}
	return nil
}

func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func (c *Config) EmailEnabled() bool {
	return c.ZeptoAPIURL != "" && c.ZeptoAPIKey != "" && c.EmailFrom != ""
}

// NewLogger builds the slog logger for level and format ("text" or "json").
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text", "console":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format: %s", format)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
