package config

import (
	"net"
)

// BasicService is used for simple services like Prometheus that have
// a single endpoint.
type BasicService struct {
	Enabled bool   `yaml:"Enabled"`
	Address string `yaml:"Address"`
	Port    string `yaml:"Port"`
}

// FormatAddress returns the address used by the service in the form
// of "address:port".
func (s BasicService) FormatAddress() string {
	return net.JoinHostPort(s.Address, s.Port)
}
