package config

import (
	"errors"
)

// Sync session priority policies, see SyncPriority.
const (
	// SyncPriorityLowest prefers sessions with the lowest claimed
	// difficulty, i.e. the least divergent peers.
	SyncPriorityLowest = "lowest"
	// SyncPriorityHighest prefers sessions with the highest claimed
	// difficulty.
	SyncPriorityHighest = "highest"
)

// ProtocolConfiguration represents the protocol config shared by all the
// nodes on the network.
type ProtocolConfiguration struct {
	// Magic is the network identification number.
	Magic uint32 `yaml:"Magic"`
	// MemPoolSize is the maximum number of transactions kept unconfirmed.
	MemPoolSize int `yaml:"MemPoolSize"`
	// MaxBlockBatch is the maximum number of blocks committed to the
	// chain per synchronization cycle.
	MaxBlockBatch int `yaml:"MaxBlockBatch"`
	// HashChunkSize is the number of successor hashes requested from a
	// peer when the hash pool runs dry.
	HashChunkSize int `yaml:"HashChunkSize"`
	// MaxDiffForSync is the height difference above which blocks aren't
	// forwarded to a syncing peer, it's catching up anyway.
	MaxDiffForSync uint32 `yaml:"MaxDiffForSync"`
	// SyncPriority picks the session ordering policy, "lowest" (default)
	// or "highest" claimed difficulty first.
	SyncPriority string `yaml:"SyncPriority"`
}

// DefaultProtocolConfiguration returns the protocol config with all the
// tuning parameters at their defaults.
func DefaultProtocolConfiguration() ProtocolConfiguration {
	return ProtocolConfiguration{
		Magic:          0x454d4252, // EMBR
		MemPoolSize:    50000,
		MaxBlockBatch:  20,
		HashChunkSize:  100,
		MaxDiffForSync: 50,
		SyncPriority:   SyncPriorityLowest,
	}
}

// Validate checks ProtocolConfiguration for internal consistency.
func (p *ProtocolConfiguration) Validate() error {
	if p.MaxBlockBatch <= 0 {
		return errors.New("MaxBlockBatch must be positive")
	}
	if p.HashChunkSize <= 0 {
		return errors.New("HashChunkSize must be positive")
	}
	if p.SyncPriority != SyncPriorityLowest && p.SyncPriority != SyncPriorityHighest {
		return errors.New("SyncPriority must be either 'lowest' or 'highest'")
	}
	return nil
}
