// Package sftp provides an SFTP protocol implementation on top of github.com/pkg/sftp.
package sftp

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/ftpkit/ftpkit/homedir"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// DefaultPort is the default SSH port.
const DefaultPort = 22

var (
	// SSHConfigGet by default points to ssh_config package's Get() function
	// you can override it with your own implementation for testing purposes
	SSHConfigGet = ssh_config.Get
	// SSHConfigGetAll by default points to ssh_config package's GetAll() function
	SSHConfigGetAll = ssh_config.GetAll

	defaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}
)

// PasswordCallback is a function that is called when a passphrase is needed to decrypt a private key.
type PasswordCallback func() (secret string, err error)

// Config describes an SFTP connection's configuration.
type Config struct {
	log.LoggerInjectable  `yaml:"-"`
	protocol.Endpoint     `yaml:",inline"`
	User                  string           `yaml:"user"`
	Password              string           `yaml:"password,omitempty"`
	KeyPath               *string          `yaml:"keyPath,omitempty"`
	PrivateKey            string           `yaml:"privateKey,omitempty"`
	HostKey               string           `yaml:"hostKey,omitempty"`
	KnownHostsFile        string           `yaml:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey bool             `yaml:"insecureIgnoreHostKey,omitempty"`
	Timeout               time.Duration    `yaml:"timeout" default:"30s"`
	PasswordCallback      PasswordCallback `yaml:"-"`

	// AuthMethods can be used to pass in a list of crypto/ssh.AuthMethod objects
	// that are tried before anything else.
	AuthMethods []ssh.AuthMethod `yaml:"-"`

	alias      string
	keyPaths   []string
	permissive bool
	hash       bool
}

// Connection returns a new unconnected Connection based on the configuration.
func (c *Config) Connection() (protocol.Connection, error) {
	return NewConnection(*c)
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return "sftp.Config{" + c.HostPort() + "}"
}

func sshConfigValue(hosts []string, key string) string {
	for _, h := range hosts {
		if v := SSHConfigGet(h, key); v != "" {
			return v
		}
	}
	return ""
}

func sshConfigValues(hosts []string, key string) []string {
	for _, h := range hosts {
		if v := SSHConfigGetAll(h, key); len(v) > 0 {
			return v
		}
	}
	return nil
}

// SetDefaults fills in missing values from the user's ssh configuration and
// built-in defaults.
func (c *Config) SetDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("set defaults: %w", err)
	}

	hosts := []string{c.Address}
	if c.Port != 0 {
		hosts = []string{c.HostPort(), c.Address}
	}

	if hostname := sshConfigValue(hosts, "HostName"); hostname != "" && hostname != c.Address {
		c.alias = c.Address
		c.Address = hostname
	}

	if c.Port == 0 {
		c.Port = DefaultPort
		if p := sshConfigValue(hosts, "Port"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("%w: ssh config port %q: %w", protocol.ErrValidationFailed, p, err)
			}
			c.Port = port
		}
	}

	if c.User == "" {
		c.User = sshConfigValue(hosts, "User")
	}
	if c.User == "" {
		if u, err := user.Current(); err == nil {
			c.User = u.Username
		}
	}

	if c.KeyPath != nil {
		path, err := homedir.Expand(*c.KeyPath)
		if err != nil {
			return fmt.Errorf("keypath: %w", err)
		}
		c.KeyPath = &path
		c.keyPaths = []string{path}
	} else {
		c.keyPaths = uniq(append(sshConfigValues(hosts, "IdentityFile"), defaultIdentityFiles...))
	}

	if c.KnownHostsFile == "" {
		if files := strings.Fields(strings.Join(sshConfigValues(hosts, "UserKnownHostsFile"), " ")); len(files) > 0 {
			c.KnownHostsFile = files[0]
		}
	}

	c.permissive = strings.EqualFold(sshConfigValue(hosts, "StrictHostKeyChecking"), "no")
	c.hash = strings.EqualFold(sshConfigValue(hosts, "HashKnownHosts"), "yes")

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

	if c.KeyPath != nil {
		if _, err := homedir.ExpandFile(*c.KeyPath); err != nil {
			return fmt.Errorf("%w: keyPath: %w", protocol.ErrValidationFailed, err)
		}
	}

	if c.HostKey != "" && c.InsecureIgnoreHostKey {
		return fmt.Errorf("%w: hostKey and insecureIgnoreHostKey are mutually exclusive", protocol.ErrValidationFailed)
	}

	return nil
}

func uniq(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

// DefaultPasswordCallback prompts for a passphrase on the terminal.
func DefaultPasswordCallback() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: passphrase required but stdin is not a terminal", protocol.ErrAbort)
	}
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pass), nil
}
