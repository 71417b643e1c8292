package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	FlushPolicyEvents = "events"
	FlushPolicyBlock  = "block"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it, fills defaults
// and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Chain.ChainID == "" {
		cfg.Chain.ChainID = domain.ChainIDCelo
	}
	// Accept chain names as well as numeric ids.
	if id, ok := domain.ChainNameToID[domain.ChainName(cfg.Chain.ChainID)]; ok {
		cfg.Chain.ChainID = id
	}
	if cfg.Chain.RequestTimeout == 0 {
		cfg.Chain.RequestTimeout = 30 * time.Second
	}
	if cfg.Chain.MaxLogRange == 0 {
		cfg.Chain.MaxLogRange = 5000
	}
	for i := range cfg.Chain.Providers {
		if cfg.Chain.Providers[i].Name == "" {
			cfg.Chain.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}
	// A websocket primary doubles as the subscription endpoint
	if cfg.Chain.WSURL == "" && len(cfg.Chain.Providers) > 0 {
		if u := cfg.Chain.Providers[0].URL; strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			cfg.Chain.WSURL = u
		}
	}

	if cfg.Ingest.FlushPolicy == "" {
		cfg.Ingest.FlushPolicy = FlushPolicyBlock
	}
	if cfg.Ingest.FlushEvery == 0 {
		cfg.Ingest.FlushEvery = 100
	}

	if cfg.Checkpoint.Backend == "" {
		switch {
		case cfg.Redis.URL != "":
			cfg.Checkpoint.Backend = BackendRedis
		case cfg.Database.URL != "":
			cfg.Checkpoint.Backend = BackendPostgres
		default:
			cfg.Checkpoint.Backend = BackendMemory
		}
	}
	if cfg.Checkpoint.KeyPrefix == "" {
		cfg.Checkpoint.KeyPrefix = "impactwatcher"
	}

	if cfg.Notifications.Channel == "" {
		cfg.Notifications.Channel = "impactwatcher:notifications"
	}
	if cfg.Notifications.QueueSize == 0 {
		cfg.Notifications.QueueSize = 1024
	}
	if cfg.Notifications.Workers == 0 {
		cfg.Notifications.Workers = 2
	}
}

// Validate checks that the configuration can start a watcher.
func (cfg *AppConfig) Validate() error {
	if len(cfg.Chain.Providers) == 0 || cfg.Chain.Providers[0].URL == "" {
		return fmt.Errorf("%w: chain.providers needs at least a primary url", ErrInvalid)
	}
	if cfg.Chain.WSURL == "" {
		return fmt.Errorf("%w: chain.ws_url is required for the live subscription", ErrInvalid)
	}
	if !common.IsHexAddress(cfg.Chain.AdminContract) {
		return fmt.Errorf("%w: chain.admin_contract %q is not an address", ErrInvalid, cfg.Chain.AdminContract)
	}
	if !common.IsHexAddress(cfg.Chain.ProtocolContract) {
		return fmt.Errorf("%w: chain.protocol_contract %q is not an address", ErrInvalid, cfg.Chain.ProtocolContract)
	}

	switch cfg.Ingest.FlushPolicy {
	case FlushPolicyEvents, FlushPolicyBlock:
	default:
		return fmt.Errorf("%w: ingest.flush_policy %q", ErrInvalid, cfg.Ingest.FlushPolicy)
	}
	if cfg.Ingest.FlushEvery < 0 || cfg.Ingest.RecoveryRetries < 0 {
		return fmt.Errorf("%w: ingest counts must not be negative", ErrInvalid)
	}

	switch cfg.Checkpoint.Backend {
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return fmt.Errorf("%w: checkpoint backend redis needs redis.url", ErrInvalid)
		}
	case BackendPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("%w: checkpoint backend postgres needs database.url", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: checkpoint.backend %q", ErrInvalid, cfg.Checkpoint.Backend)
	}

	if cfg.Notifications.Enabled && cfg.Redis.URL == "" {
		return fmt.Errorf("%w: notifications need redis.url", ErrInvalid)
	}
	return nil
}
