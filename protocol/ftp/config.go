// Package ftp provides an FTP and FTPS protocol implementation on top of github.com/jlaffaye/ftp.
package ftp

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
)

const (
	// DefaultPort is the default FTP control port.
	DefaultPort = 21
	// DefaultImplicitTLSPort is the default port for FTP over implicit TLS.
	DefaultImplicitTLSPort = 990

	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous@"
)

// TLSMode selects how the control connection is secured.
type TLSMode string

const (
	// TLSNone is plain FTP.
	TLSNone TLSMode = ""
	// TLSExplicit upgrades the connection with AUTH TLS.
	TLSExplicit TLSMode = "explicit"
	// TLSImplicit connects with TLS from the start.
	TLSImplicit TLSMode = "implicit"
)

// Config describes an FTP connection's configuration.
type Config struct {
	log.LoggerInjectable `yaml:"-"`
	protocol.Endpoint    `yaml:",inline"`
	User                 string        `yaml:"user" default:"anonymous"`
	Password             string        `yaml:"password,omitempty"`
	TLS                  TLSMode       `yaml:"tls,omitempty"`
	InsecureSkipVerify   bool          `yaml:"insecureSkipVerify,omitempty"`
	DisableEPSV          bool          `yaml:"disableEPSV,omitempty"`
	Timeout              time.Duration `yaml:"timeout" default:"30s"`
}

// Connection returns a new unconnected Connection based on the configuration.
func (c *Config) Connection() (protocol.Connection, error) {
	return NewConnection(*c)
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return "ftp.Config{" + c.HostPort() + "}"
}

// SetDefaults sets the default values for the configuration.
func (c *Config) SetDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("set defaults: %w", err)
	}
	if c.Port == 0 {
		if c.TLS == TLSImplicit {
			c.Port = DefaultImplicitTLSPort
		} else {
			c.Port = DefaultPort
		}
	}
	if c.User == anonymousUser && c.Password == "" {
		c.Password = anonymousPassword
	}
	return nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if c.User == "" {
		return fmt.Errorf("%w: user is required", protocol.ErrValidationFailed)
	}
	switch c.TLS {
	case TLSNone, TLSExplicit, TLSImplicit:
	default:
		return fmt.Errorf("%w: unknown tls mode %q", protocol.ErrValidationFailed, c.TLS)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout can not be negative", protocol.ErrValidationFailed)
	}
	return nil
}
