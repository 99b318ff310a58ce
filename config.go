// Package ftpkit uploads a local directory to an FTP or SFTP server, skipping
// files that are already up to date and uploading entry files such as
// index.html last.
package ftpkit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/ftpkit/ftpkit/homedir"
	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/upload"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration file can not be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the configuration of an upload run. It is usually read from a
// YAML file:
//
//	localDir: ./dist
//	remoteDir: /var/www/site
//	entries: [index.html, 200.html]
//	sftp:
//	  address: example.com
//	  user: deploy
type Config struct {
	LocalDir        string         `yaml:"localDir"`
	RemoteDir       string         `yaml:"remoteDir" default:"/"`
	Entries         []string       `yaml:"entries" default:"[\"index.html\"]"`
	MaxConcurrency  int            `yaml:"maxConcurrency" default:"3"`
	MaxAttempts     int            `yaml:"maxAttempts" default:"5"`
	RetryDelay      time.Duration  `yaml:"retryDelay,omitempty"`
	LogStyle        progress.Style `yaml:"logStyle" default:"text"`
	CompositeConfig `yaml:",inline"`
}

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := homedir.ExpandFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, file, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, file, err)
	}
	return cfg, nil
}

// SetDefaults sets the default values for the configuration and the
// configured protocol.
func (c *Config) SetDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("set defaults: %w", err)
	}
	if c.LocalDir != "" {
		dir, err := homedir.Expand(c.LocalDir)
		if err != nil {
			return fmt.Errorf("local dir: %w", err)
		}
		c.LocalDir = dir
	}
	if c.FTP == nil && c.SFTP == nil {
		return nil
	}
	return c.CompositeConfig.SetDefaults()
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.LocalDir == "" {
		return fmt.Errorf("%w: local dir is required", protocol.ErrValidationFailed)
	}
	if _, err := homedir.ExpandDir(c.LocalDir); err != nil {
		return fmt.Errorf("%w: local dir: %w", protocol.ErrValidationFailed, err)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max concurrency must be at least 1", protocol.ErrValidationFailed)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", protocol.ErrValidationFailed)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay can not be negative", protocol.ErrValidationFailed)
	}
	if err := c.LogStyle.Validate(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrValidationFailed, err)
	}
	return c.CompositeConfig.Validate()
}

// Job returns the upload job described by the configuration.
func (c *Config) Job() upload.Job {
	return upload.Job{
		LocalRoot:      c.LocalDir,
		RemoteRoot:     c.RemoteDir,
		Entries:        c.Entries,
		MaxConcurrency: c.MaxConcurrency,
		MaxAttempts:    c.MaxAttempts,
		RetryDelay:     c.RetryDelay,
	}
}
