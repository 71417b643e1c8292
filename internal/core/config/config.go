package config

import (
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	redisclient "github.com/vietddude/impactwatcher/internal/infra/redis"
	"github.com/vietddude/impactwatcher/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Chain         ChainConfig         `yaml:"chain"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Redis         redisclient.Config  `yaml:"redis"`
	Database      postgres.Config     `yaml:"database"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds settings for the watched chain and its contracts.
type ChainConfig struct {
	ChainID domain.ChainID `yaml:"id"`
	// Providers are tried in order; the first is the primary endpoint
	Providers      []ProviderConfig `yaml:"providers"`
	WSURL          string           `yaml:"ws_url"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	// GenesisBlock is where recovery starts when no checkpoint exists
	GenesisBlock     uint64 `yaml:"genesis_block"`
	MaxLogRange      uint64 `yaml:"max_log_range"`
	AdminContract    string `yaml:"admin_contract"`
	ProtocolContract string `yaml:"protocol_contract"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// IngestConfig holds recovery and live ingestion policy.
type IngestConfig struct {
	FlushPolicy          string        `yaml:"flush_policy"` // events, block
	FlushEvery           int           `yaml:"flush_every"`
	CascadeOnRemoval     bool          `yaml:"cascade_on_removal"`
	RegistrySyncInterval time.Duration `yaml:"registry_sync_interval"` // 0 = disabled
	RecoveryRetries      int           `yaml:"recovery_retries"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend   string `yaml:"backend"` // redis, postgres, memory
	KeyPrefix string `yaml:"key_prefix"`
}

// NotificationsConfig holds the push notification transport settings.
type NotificationsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Channel   string `yaml:"channel"`
	QueueSize int    `yaml:"queue_size"`
	Workers   int    `yaml:"workers"`
}
