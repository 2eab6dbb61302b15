// Package fakechain implements fakes for the ledger and the peer gateway
// to be used in tests.
package fakechain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emberchain/ember/pkg/core"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/util"
)

// FakeChain is an in-memory ledger for tests, it mimics the append rules
// of the real Blockchain (sequential heights, parent checks, idempotent
// duplicates).
type FakeChain struct {
	lock     sync.RWMutex
	blocks   map[util.Uint256]*block.Block
	byHeight []util.Uint256

	// FailAddAt makes AddBlock fail for this height, zero disables it.
	FailAddAt uint32
}

// NewFakeChain returns a new FakeChain holding only the genesis block.
func NewFakeChain() *FakeChain {
	genesis := core.CreateGenesisBlock()
	return &FakeChain{
		blocks:   map[util.Uint256]*block.Block{genesis.Hash(): genesis},
		byHeight: []util.Uint256{genesis.Hash()},
	}
}

// BlockHeight implements the Ledger interface.
func (c *FakeChain) BlockHeight() uint32 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return uint32(len(c.byHeight) - 1)
}

// CurrentBlockHash implements the Ledger interface.
func (c *FakeChain) CurrentBlockHash() util.Uint256 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.byHeight[len(c.byHeight)-1]
}

// GetBlock implements the Ledger interface.
func (c *FakeChain) GetBlock(hash util.Uint256) (*block.Block, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if b, ok := c.blocks[hash]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

// GetBlockByHeight implements the Ledger interface.
func (c *FakeChain) GetBlockByHeight(h uint32) (*block.Block, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if h >= uint32(len(c.byHeight)) {
		return nil, errors.New("not found")
	}
	return c.blocks[c.byHeight[h]], nil
}

// AddBlock implements the Ledger interface.
func (c *FakeChain) AddBlock(b *block.Block) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	height := uint32(len(c.byHeight) - 1)
	if c.FailAddAt != 0 && b.Height == c.FailAddAt {
		return fmt.Errorf("block at height %d is rejected", b.Height)
	}
	if b.Height <= height {
		if c.byHeight[b.Height].Equals(b.Hash()) {
			return nil
		}
		return errors.New("conflicting block")
	}
	if b.Height != height+1 {
		return errors.New("invalid height")
	}
	if !b.PrevHash.Equals(c.byHeight[height]) {
		return errors.New("parent mismatch")
	}
	c.blocks[b.Hash()] = b
	c.byHeight = append(c.byHeight, b.Hash())
	return nil
}
