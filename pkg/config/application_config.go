package config

import (
	"time"

	"github.com/emberchain/ember/pkg/core/storage"
)

// ApplicationConfiguration config specific to the node.
type ApplicationConfiguration struct {
	// DBConfiguration selects and configures the chain database.
	DBConfiguration storage.DBConfiguration `yaml:"DBConfiguration"`
	// LogLevel is a minimal logged messages level.
	LogLevel string `yaml:"LogLevel"`
	// Relay enables block/transaction forwarding to peers.
	Relay bool `yaml:"Relay"`
	// PingInterval is the interval between pings to an actively syncing
	// peer, in seconds.
	PingInterval int64 `yaml:"PingInterval"`
	// FetchTimeout bounds the wait for a single coordinator decision,
	// in seconds.
	FetchTimeout int64 `yaml:"FetchTimeout"`
	// SyncWorkers is the number of job queue workers.
	SyncWorkers int `yaml:"SyncWorkers"`
	// Prometheus configures the monitoring service.
	Prometheus BasicService `yaml:"Prometheus"`
}

// DefaultApplicationConfiguration returns the node config with all the
// tuning parameters at their defaults.
func DefaultApplicationConfiguration() ApplicationConfiguration {
	return ApplicationConfiguration{
		DBConfiguration: storage.DBConfiguration{
			Type: storage.InMemoryDB,
		},
		LogLevel:     "info",
		Relay:        true,
		PingInterval: 30,
		FetchTimeout: 30,
		SyncWorkers:  4,
	}
}

// PingIntervalDuration returns PingInterval as a time.Duration.
func (a *ApplicationConfiguration) PingIntervalDuration() time.Duration {
	return time.Duration(a.PingInterval) * time.Second
}

// FetchTimeoutDuration returns FetchTimeout as a time.Duration.
func (a *ApplicationConfiguration) FetchTimeoutDuration() time.Duration {
	return time.Duration(a.FetchTimeout) * time.Second
}
