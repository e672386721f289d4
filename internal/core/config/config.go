package config

import (
	"time"

	redisclient "github.com/vietddude/txrecover/internal/infra/redis"
	"github.com/vietddude/txrecover/internal/infra/security"
	"github.com/vietddude/txrecover/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  postgres.Config `yaml:"database"`
	Staging   StagingConfig   `yaml:"staging"`
	Resend    ResendConfig    `yaml:"resend"`
	Transport TransportConfig `yaml:"transport"`
	Keys      []KeyConfig     `yaml:"keys"`
	Peers     []PeerConfig    `yaml:"peers"`
	Directory DirectoryConfig `yaml:"directory"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int             `yaml:"port"`
	TLS  security.Config `yaml:"tls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StagingConfig selects where inbound batches are staged.
type StagingConfig struct {
	Backend       string             `yaml:"backend"` // memory, postgres, redis, badger
	Redis         redisclient.Config `yaml:"redis"`
	BadgerPath    string             `yaml:"badger_path"`
	Retention     time.Duration      `yaml:"retention"` // 0 = keep forever
	PruneInterval time.Duration      `yaml:"prune_interval"`
}

// ResendConfig tunes outbound resend runs.
type ResendConfig struct {
	PageSize       int           `yaml:"page_size"`
	Concurrency    int           `yaml:"concurrency"`  // 1 = sequential
	PublishRate    float64       `yaml:"publish_rate"` // publishes per second, 0 = unlimited
	PublishBurst   int           `yaml:"publish_burst"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// TransportConfig holds peer-to-peer client settings.
type TransportConfig struct {
	Protocol string          `yaml:"protocol"` // rest, grpc
	GRPCPort int             `yaml:"grpc_port"`
	Timeout  time.Duration   `yaml:"timeout"`
	TLS      security.Config `yaml:"tls"`
}

// KeyConfig is a base64 encoded box key pair owned by this node.
type KeyConfig struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// PeerConfig maps a recipient key to the node that serves it.
type PeerConfig struct {
	Key string `yaml:"key"`
	URL string `yaml:"url"`
}

// DirectoryConfig points at a remote key directory.
type DirectoryConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}
