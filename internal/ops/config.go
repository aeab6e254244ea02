// Package ops loads runtime configuration from a JSON file. Secrets may
// live in the file for development, but environment variables always win
// so production credentials never have to touch disk.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"alphaledger/pkg/conn"
)

const (
	defaultHeartbeatSeconds = 30
	defaultQueueCapacity    = 1024
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Bot       BotConfig       `json:"bot"`
	Exchange  ExchangeConfig  `json:"exchange"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Queue     QueueConfig     `json:"queue"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Sync      SyncConfig      `json:"sync"`
	Profiling ProfilingConfig `json:"profiling"`
}

// BotConfig identifies the bot and the symbols it trades. InitialEquity is
// the account equity at deployment; the heartbeat adds realized P&L on top
// of it for the equity curve.
type BotConfig struct {
	ID               string   `json:"id"`
	Symbols          []string `json:"symbols"`
	HeartbeatSeconds int      `json:"heartbeatSeconds"`
	InitialEquity    string   `json:"initialEquity"`
}

// ExchangeConfig holds venue credentials.
type ExchangeConfig struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
	Testnet   bool   `json:"testnet"`
}

// DatabaseConfig describes the ledger database. A non-empty sqlitePath
// switches to an embedded SQLite file.
type DatabaseConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	SQLitePath string `json:"sqlitePath"`
}

// RedisConfig describes the projection cache backend. An empty host
// disables the cache entirely.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// QueueConfig tunes the in-process fill queue.
type QueueConfig struct {
	Capacity int `json:"capacity"`
}

// ReconcileConfig tunes the startup reconciliation run.
type ReconcileConfig struct {
	QuantityTolerance string `json:"quantityTolerance"`
	PriceTolerance    string `json:"priceTolerance"`
	SnapshotSeconds   int    `json:"snapshotSeconds"`
}

// SyncConfig tunes the closed-PnL trade sync. Zero values fall back to
// the sync service defaults.
type SyncConfig struct {
	BackfillDays    int `json:"backfillDays"`
	BatchHours      int `json:"batchHours"`
	OverlapHours    int `json:"overlapHours"`
	IntervalMinutes int `json:"intervalMinutes"`
}

// ProfilingConfig captures optional continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// ReconcileSpec is the resolved reconciliation tuning.
type ReconcileSpec struct {
	QuantityTolerance decimal.Decimal
	PriceTolerance    decimal.Decimal
	SnapshotTimeout   time.Duration
}

// SyncSpec is the resolved sync tuning; zero durations mean defaults.
type SyncSpec struct {
	BackfillWindow time.Duration
	BatchWindow    time.Duration
	Overlap        time.Duration
	Interval       time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	BotID             string
	Symbols           []string
	HeartbeatInterval time.Duration
	InitialEquity     decimal.Decimal
	Exchange          ExchangeConfig
	Database          conn.Option
	RedisEnabled      bool
	Redis             conn.RedisOption
	QueueCapacity     int
	Reconcile         ReconcileSpec
	Sync              SyncSpec
	Profiling         ProfilingConfig
}

// Load reads a JSON config file, applies environment overrides, and
// resolves the result.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	applyEnvOverrides(&cfg)

	return resolve(cfg)
}

func applyEnvOverrides(cfg *FileConfig) {
	envString("BOT_ID", &cfg.Bot.ID)
	envString("BYBIT_API_KEY", &cfg.Exchange.APIKey)
	envString("BYBIT_API_SECRET", &cfg.Exchange.APISecret)
	envBool("BYBIT_TESTNET", &cfg.Exchange.Testnet)
	envString("POSTGRES_HOST", &cfg.Database.Host)
	envInt("POSTGRES_PORT", &cfg.Database.Port)
	envString("POSTGRES_DB", &cfg.Database.Database)
	envString("POSTGRES_USER", &cfg.Database.User)
	envString("POSTGRES_PASSWORD", &cfg.Database.Password)
	envString("REDIS_HOST", &cfg.Redis.Host)
	envInt("REDIS_PORT", &cfg.Redis.Port)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Bot.ID == "" {
		return Loaded{}, fmt.Errorf("bot id is empty")
	}
	if strings.Contains(cfg.Bot.ID, ":") {
		return Loaded{}, fmt.Errorf("bot id must not contain ':': %s", cfg.Bot.ID)
	}

	reconcile, err := resolveReconcile(cfg.Reconcile)
	if err != nil {
		return Loaded{}, err
	}

	heartbeat := cfg.Bot.HeartbeatSeconds
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatSeconds
	}

	capacity := cfg.Queue.Capacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	equity := decimal.Zero
	if cfg.Bot.InitialEquity != "" {
		equity, err = decimal.NewFromString(cfg.Bot.InitialEquity)
		if err != nil {
			return Loaded{}, fmt.Errorf("invalid initial equity %q: %w", cfg.Bot.InitialEquity, err)
		}
	}

	return Loaded{
		BotID:             cfg.Bot.ID,
		Symbols:           cfg.Bot.Symbols,
		HeartbeatInterval: time.Duration(heartbeat) * time.Second,
		InitialEquity:     equity,
		Exchange:          cfg.Exchange,
		Database: conn.Option{
			Host:       cfg.Database.Host,
			Port:       cfg.Database.Port,
			User:       cfg.Database.User,
			Password:   cfg.Database.Password,
			Database:   cfg.Database.Database,
			SSLMode:    cfg.Database.SSLMode,
			SQLitePath: cfg.Database.SQLitePath,
		},
		RedisEnabled: cfg.Redis.Host != "",
		Redis: conn.RedisOption{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		QueueCapacity: capacity,
		Reconcile:     reconcile,
		Sync: SyncSpec{
			BackfillWindow: time.Duration(cfg.Sync.BackfillDays) * 24 * time.Hour,
			BatchWindow:    time.Duration(cfg.Sync.BatchHours) * time.Hour,
			Overlap:        time.Duration(cfg.Sync.OverlapHours) * time.Hour,
			Interval:       time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
		},
		Profiling: cfg.Profiling,
	}, nil
}

func resolveReconcile(cfg ReconcileConfig) (ReconcileSpec, error) {
	spec := ReconcileSpec{
		QuantityTolerance: decimal.Zero,
		PriceTolerance:    decimal.Zero,
		SnapshotTimeout:   time.Duration(cfg.SnapshotSeconds) * time.Second,
	}

	if cfg.QuantityTolerance != "" {
		tolerance, err := decimal.NewFromString(cfg.QuantityTolerance)
		if err != nil {
			return ReconcileSpec{}, fmt.Errorf("invalid quantity tolerance %q: %w", cfg.QuantityTolerance, err)
		}
		spec.QuantityTolerance = tolerance
	}

	if cfg.PriceTolerance != "" {
		tolerance, err := decimal.NewFromString(cfg.PriceTolerance)
		if err != nil {
			return ReconcileSpec{}, fmt.Errorf("invalid price tolerance %q: %w", cfg.PriceTolerance, err)
		}
		spec.PriceTolerance = tolerance
	}

	return spec, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = strings.EqualFold(v, "true")
}
