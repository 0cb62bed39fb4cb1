package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"sealedchat/internal/directory"
	"sealedchat/internal/domain"
	"sealedchat/internal/services/lifecycle"
)

// Directory backends.
const (
	BackendMemory   = "memory"
	BackendHTTP     = "http"
	BackendGRPC     = "grpc"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config holds runtime wiring options.
type Config struct {
	PeerID     string    `yaml:"peer_id"`
	DeviceID   uint32    `yaml:"device_id"`
	TrustMode  string    `yaml:"trust_mode"`
	LogLevel   string    `yaml:"log_level"`
	DevLogging bool      `yaml:"dev_logging"`
	Directory  Directory `yaml:"directory"`
	PreKeys    PreKeys   `yaml:"prekeys"`
}

// Directory selects and tunes the bundle directory.
type Directory struct {
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`   // http and grpc
	Token   string        `yaml:"token"` // bearer token for writes
	DSN     string        `yaml:"dsn"`   // postgres
	Path    string        `yaml:"path"`  // badger; empty means in-memory
	Timeout time.Duration `yaml:"timeout"`
	Retry   Retry         `yaml:"retry"`
}

type Retry struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

type PreKeys struct {
	PoolSize   int `yaml:"pool_size"`
	KeepSigned int `yaml:"keep_signed"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	var c Config
	c.fillDefaults()
	return c
}

// Load reads the YAML file at path and fills defaults. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.fillDefaults()
	return c, nil
}

func (c *Config) fillDefaults() {
	if c.DeviceID == 0 {
		c.DeviceID = domain.DefaultDeviceID
	}
	if c.TrustMode == "" {
		c.TrustMode = string(domain.TrustOnFirstUse)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Directory.Backend == "" {
		c.Directory.Backend = BackendMemory
	}
	if c.Directory.Timeout == 0 {
		c.Directory.Timeout = directory.DefaultTimeout
	}
	if c.Directory.Retry.Attempts == 0 {
		c.Directory.Retry.Attempts = directory.DefaultAttempts
	}
	if c.Directory.Retry.BaseDelay == 0 {
		c.Directory.Retry.BaseDelay = directory.DefaultBaseDelay
	}
	if c.PreKeys.PoolSize == 0 {
		c.PreKeys.PoolSize = lifecycle.DefaultOptions.PreKeyPoolSize
	}
	if c.PreKeys.KeepSigned == 0 {
		c.PreKeys.KeepSigned = lifecycle.DefaultOptions.KeepSignedPreKeys
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if !domain.TrustMode(c.TrustMode).Valid() {
		return fmt.Errorf("trust_mode %q: want tofu, always or verified", c.TrustMode)
	}
	switch c.Directory.Backend {
	case BackendMemory:
	case BackendHTTP, BackendGRPC:
		if c.Directory.URL == "" {
			return fmt.Errorf("directory.url is required for the %s backend", c.Directory.Backend)
		}
	case BackendPostgres:
		if c.Directory.DSN == "" {
			return errors.New("directory.dsn is required for the postgres backend")
		}
	case BackendBadger:
	default:
		return fmt.Errorf("unknown directory backend %q", c.Directory.Backend)
	}
	if c.Directory.Retry.Attempts < 1 {
		return errors.New("directory.retry.attempts must be at least 1")
	}
	if c.PreKeys.PoolSize < 1 || c.PreKeys.KeepSigned < 1 {
		return errors.New("prekeys.pool_size and prekeys.keep_signed must be positive")
	}
	return nil
}
