package ftpkit

import (
	"fmt"

	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/protocol/ftp"
	"github.com/ftpkit/ftpkit/protocol/sftp"
)

var _ protocol.ConnectionConfigurer = (*CompositeConfig)(nil)

// CompositeConfig is a composite configuration of all the protocols supported out of the box by ftpkit.
// It is intended to be embedded into structs that are unmarshaled from configuration files.
type CompositeConfig struct {
	FTP  *ftp.Config  `yaml:"ftp,omitempty"`
	SFTP *sftp.Config `yaml:"sftp,omitempty"`
}

func (c *CompositeConfig) configuredConfig() (protocol.ConnectionConfigurer, error) {
	var configurer protocol.ConnectionConfigurer
	count := 0

	if c.FTP != nil {
		configurer = c.FTP
		count++
	}

	if c.SFTP != nil {
		configurer = c.SFTP
		count++
	}

	switch count {
	case 0:
		return nil, fmt.Errorf("%w: no protocol configuration", protocol.ErrValidationFailed)
	case 1:
		return configurer, nil
	default:
		return nil, fmt.Errorf("%w: multiple protocols configured for a single upload", protocol.ErrValidationFailed)
	}
}

// Protocol returns the name of the configured protocol.
func (c *CompositeConfig) Protocol() string {
	switch {
	case c.FTP != nil && c.SFTP == nil:
		return "ftp"
	case c.SFTP != nil && c.FTP == nil:
		return "sftp"
	default:
		return ""
	}
}

// SetDefaults sets the defaults of the configured protocol.
func (c *CompositeConfig) SetDefaults() error {
	configurer, err := c.configuredConfig()
	if err != nil {
		return err
	}
	if d, ok := configurer.(protocol.DefaultsSetter); ok {
		if err := d.SetDefaults(); err != nil {
			return fmt.Errorf("set defaults for %T: %w", configurer, err)
		}
	}
	return nil
}

type validatable interface {
	Validate() error
}

// Validate the configuration.
func (c *CompositeConfig) Validate() error {
	configurer, err := c.configuredConfig()
	if err != nil {
		return err
	}
	if v, ok := configurer.(validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate %T: %w", configurer, err)
		}
	}
	return nil
}

// SetLogger passes the logger on to the configured protocol so that the
// connections it creates log through it.
func (c *CompositeConfig) SetLogger(logger log.Logger) {
	if c.FTP != nil {
		log.InjectLogger(logger, c.FTP)
	}
	if c.SFTP != nil {
		log.InjectLogger(logger, c.SFTP)
	}
}

// Connection returns a connection for the configured protocol.
func (c *CompositeConfig) Connection() (protocol.Connection, error) {
	cfg, err := c.configuredConfig()
	if err != nil {
		return nil, err
	}
	conn, err := cfg.Connection()
	if err != nil {
		return nil, fmt.Errorf("create connection for %T: %w", cfg, err)
	}
	return conn, nil
}

// String returns the string representation of the configured protocol configuration.
func (c *CompositeConfig) String() string {
	cfg, err := c.configuredConfig()
	if err != nil {
		return "unknown{}"
	}
	return cfg.String()
}
