// Package config provides the configuration structure for the enunu-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied to any value left unset in the project configuration.
const (
	DefaultEndpoint   = "tcp://*:15555"
	DefaultFileMode   = "0777"
	DefaultOwnerUser  = "nobody"
	DefaultOwnerGroup = "nogroup"
	DefaultSubject    = "enunu.requests"
	DefaultBinary     = "python3"

	workRootDirName = "enunu-jobs"
)

var (
	// ErrEndpointEmpty indicates that the server endpoint is empty.
	ErrEndpointEmpty = errors.New("server endpoint cannot be empty")
	// ErrEngineBinaryEmpty indicates that no inference binary was configured.
	ErrEngineBinaryEmpty = errors.New("engine binary cannot be empty")
	// ErrInvalidFileMode indicates that jobs.file_mode is not an octal permission value.
	ErrInvalidFileMode = errors.New("file mode must be an octal value between 0 and 0777")
	// ErrNegativeTimeout indicates that engine.timeout_seconds is negative.
	ErrNegativeTimeout = errors.New("engine timeout must be non-negative")
)

// ServerConfig holds the reply socket settings.
type ServerConfig struct {
	Endpoint string `toml:"endpoint"`
}

// JobsConfig holds the working directory settings shared by every job.
type JobsConfig struct {
	WorkRoot   string `toml:"work_root"`
	FileMode   string `toml:"file_mode"`
	OwnerUser  string `toml:"owner_user"`
	OwnerGroup string `toml:"owner_group"`
}

// EngineConfig holds the settings of the external inference tooling.
type EngineConfig struct {
	Binary          string   `toml:"binary"`
	Args            []string `toml:"args"`
	VoiceRoot       string   `toml:"voice_root"`
	DefaultVoiceDir string   `toml:"default_voice_dir"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for the optional NATS front-end.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Jobs   JobsConfig   `toml:"jobs"`
	Engine EngineConfig `toml:"engine"`
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the enunu-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset value with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = DefaultEndpoint
	}

	if c.Jobs.WorkRoot == "" {
		c.Jobs.WorkRoot = filepath.Join(os.TempDir(), workRootDirName)
	}

	if c.Jobs.FileMode == "" {
		c.Jobs.FileMode = DefaultFileMode
	}

	if c.Jobs.OwnerUser == "" {
		c.Jobs.OwnerUser = DefaultOwnerUser
	}

	if c.Jobs.OwnerGroup == "" {
		c.Jobs.OwnerGroup = DefaultOwnerGroup
	}

	if c.Engine.Binary == "" {
		c.Engine.Binary = DefaultBinary
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultSubject
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Endpoint == "" {
		return ErrEndpointEmpty
	}

	if c.Engine.Binary == "" {
		return ErrEngineBinaryEmpty
	}

	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeTimeout, c.Engine.TimeoutSeconds)
	}

	_, modeErr := c.Jobs.Mode()
	if modeErr != nil {
		return modeErr
	}

	return nil
}

// Mode parses FileMode as an octal permission value.
func (j JobsConfig) Mode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(j.FileMode, 8, 32)
	if err != nil || mode > uint64(os.ModePerm) {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidFileMode, j.FileMode)
	}

	return os.FileMode(mode), nil
}

// Timeout returns the per-stage timeout, zero meaning none.
func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
