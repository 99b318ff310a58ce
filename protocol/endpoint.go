package protocol

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint represents a network endpoint.
type Endpoint struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HostPort returns the endpoint in host:port form.
func (e *Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Validate the endpoint.
func (e *Endpoint) Validate() error {
	if e.Address == "" {
		return fmt.Errorf("%w: address is required", ErrValidationFailed)
	}

	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrValidationFailed)
	}

	return nil
}
