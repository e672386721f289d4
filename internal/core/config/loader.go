package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/security"
)

// DefaultPageSize is the number of records fetched per store page.
const DefaultPageSize = 10000

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Staging.Backend == "" {
		if c.Database.URL != "" {
			c.Staging.Backend = "postgres"
		} else {
			c.Staging.Backend = "memory"
		}
	}
	if c.Staging.PruneInterval == 0 {
		c.Staging.PruneInterval = time.Hour
	}
	if c.Resend.PageSize == 0 {
		c.Resend.PageSize = DefaultPageSize
	}
	if c.Resend.Concurrency == 0 {
		c.Resend.Concurrency = 1
	}
	if c.Resend.PublishBurst == 0 {
		c.Resend.PublishBurst = 1
	}
	if c.Resend.PublishTimeout == 0 {
		c.Resend.PublishTimeout = 30 * time.Second
	}
	if c.Transport.Protocol == "" {
		c.Transport.Protocol = "rest"
	}
	if c.Transport.GRPCPort == 0 {
		c.Transport.GRPCPort = 9090
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 10 * time.Second
	}
	if c.Directory.CacheTTL == 0 {
		c.Directory.CacheTTL = 5 * time.Minute
	}
}

// Validate reports every problem in the configuration at once.
func (c *AppConfig) Validate() error {
	var result error

	switch c.Staging.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			result = multierror.Append(result, fmt.Errorf("staging.backend postgres requires database.url"))
		}
	case "redis":
		if c.Staging.Redis.URL == "" {
			result = multierror.Append(result, fmt.Errorf("staging.backend redis requires staging.redis.url"))
		}
	case "badger":
		if c.Staging.BadgerPath == "" {
			result = multierror.Append(result, fmt.Errorf("staging.backend badger requires staging.badger_path"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown staging.backend %q", c.Staging.Backend))
	}

	if c.Resend.PageSize < 0 {
		result = multierror.Append(result, fmt.Errorf("resend.page_size must be positive"))
	}
	if c.Resend.Concurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("resend.concurrency must be positive"))
	}
	if c.Resend.PublishRate < 0 {
		result = multierror.Append(result, fmt.Errorf("resend.publish_rate must not be negative"))
	}

	switch c.Transport.Protocol {
	case "rest", "grpc":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown transport.protocol %q", c.Transport.Protocol))
	}

	for i, k := range c.Keys {
		if _, err := domain.ParsePublicKey(k.Public); err != nil {
			result = multierror.Append(result, fmt.Errorf("keys[%d].public: %w", i, err))
		}
		if k.Private == "" {
			result = multierror.Append(result, fmt.Errorf("keys[%d].private is required", i))
		}
	}
	for i, p := range c.Peers {
		if _, err := domain.ParsePublicKey(p.Key); err != nil {
			result = multierror.Append(result, fmt.Errorf("peers[%d].key: %w", i, err))
		}
		if p.URL == "" {
			result = multierror.Append(result, fmt.Errorf("peers[%d].url is required", i))
		}
	}

	for _, tlsCfg := range []security.Config{c.Server.TLS, c.Transport.TLS} {
		if !tlsCfg.Enabled {
			continue
		}
		if tlsCfg.KeyStore == "" && (tlsCfg.KeyFile == "" || tlsCfg.CertFile == "") {
			result = multierror.Append(result, fmt.Errorf("tls requires key_store or key_file and cert_file"))
		}
	}

	return result
}
