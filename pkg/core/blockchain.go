package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/core/storage"
	"github.com/emberchain/ember/pkg/io"
	"github.com/emberchain/ember/pkg/util"
	"go.uber.org/zap"
)

// Genesis block parameters, all nodes must share these.
const (
	genesisTimestamp = 1609459200000 // 2021-01-01T00:00:00Z in ms
	genesisNonce     = 2083236893
)

var (
	// ErrAlreadyExists is returned when a different block is already
	// committed at the given height.
	ErrAlreadyExists = errors.New("block already exists")
	// ErrInvalidBlockHeight is returned when the block is not the direct
	// successor of the current tip.
	ErrInvalidBlockHeight = errors.New("invalid block height")
	// ErrParentHashMismatch is returned when the block doesn't refer to
	// the current tip as its parent.
	ErrParentHashMismatch = errors.New("previous header hash doesn't match")
)

// Blockchain represents the committed chain, the single source of truth
// all synchronization converges to. It's backed by a persistent Store and
// allows only strictly sequential appends.
type Blockchain struct {
	log   *zap.Logger
	store storage.Store

	lock        sync.RWMutex
	blockHeight uint32
	currentHash util.Uint256
}

// CreateGenesisBlock creates the genesis block of the chain. It's
// deterministic, all nodes derive the same block.
func CreateGenesisBlock() *block.Block {
	return &block.Block{
		Header: block.Header{
			Version:    0,
			Timestamp:  genesisTimestamp,
			Height:     0,
			Nonce:      genesisNonce,
			Difficulty: 1,
		},
	}
}

// NewBlockchain returns a Blockchain over the given store, initializing it
// with the genesis block when the store is empty.
func NewBlockchain(s storage.Store, log *zap.Logger) (*Blockchain, error) {
	if log == nil {
		return nil, errors.New("empty logger")
	}
	bc := &Blockchain{
		log:   log,
		store: s,
	}
	if err := bc.init(); err != nil {
		return nil, err
	}
	return bc, nil
}

func (bc *Blockchain) init() error {
	val, err := bc.store.Get([]byte{byte(storage.SYSCurrentBlock)})
	if errors.Is(err, storage.ErrKeyNotFound) {
		genesis := CreateGenesisBlock()
		if err := bc.persistBlock(genesis); err != nil {
			return fmt.Errorf("failed to persist genesis block: %w", err)
		}
		bc.log.Info("initialized chain", zap.String("genesis", genesis.Hash().String()))
		return nil
	}
	if err != nil {
		return err
	}

	r := io.NewBinReaderFromBuf(val)
	bc.blockHeight = r.ReadU32LE()
	bc.currentHash.DecodeBinary(r)
	if r.Err != nil {
		return fmt.Errorf("malformed current block record: %w", r.Err)
	}
	bc.log.Info("restored chain state",
		zap.Uint32("blockHeight", bc.blockHeight),
		zap.String("headerHash", bc.currentHash.String()))
	return nil
}

// BlockHeight returns the height of the current tip.
func (bc *Blockchain) BlockHeight() uint32 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.blockHeight
}

// CurrentBlockHash returns the hash of the current tip.
func (bc *Blockchain) CurrentBlockHash() util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.currentHash
}

// GetBlock returns the committed block with the given hash.
func (bc *Blockchain) GetBlock(hash util.Uint256) (*block.Block, error) {
	val, err := bc.store.Get(storage.AppendPrefix(storage.DataBlock, hash.Bytes()))
	if err != nil {
		return nil, err
	}
	b := new(block.Block)
	if err := io.FromByteArray(b, val); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBlockByHeight returns the committed block at the given height.
func (bc *Blockchain) GetBlockByHeight(h uint32) (*block.Block, error) {
	hash, err := bc.GetHeaderHash(h)
	if err != nil {
		return nil, err
	}
	return bc.GetBlock(hash)
}

// GetHeaderHash returns the hash of the committed block at the given height.
func (bc *Blockchain) GetHeaderHash(h uint32) (util.Uint256, error) {
	val, err := bc.store.Get(storage.AppendPrefixInt(storage.IXHeightToHash, h))
	if err != nil {
		return util.Uint256{}, err
	}
	return util.Uint256DecodeBytes(val)
}

// HasBlock returns true when the block with the given hash is committed.
func (bc *Blockchain) HasBlock(hash util.Uint256) bool {
	_, err := bc.store.Get(storage.AppendPrefix(storage.DataBlock, hash.Bytes()))
	return err == nil
}

// AddBlock appends a block to the chain. Appending an already committed
// block is a no-op, a conflicting block at a committed height or a
// non-sequential one is an error.
func (bc *Blockchain) AddBlock(b *block.Block) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if b.Height <= bc.blockHeight {
		stored, err := bc.GetHeaderHash(b.Height)
		if err == nil && stored.Equals(b.Hash()) {
			// Can easily happen when fetching the same blocks from
			// different peers, the commit is idempotent.
			return nil
		}
		return fmt.Errorf("%w: height %d is already committed", ErrAlreadyExists, b.Height)
	}
	if b.Height != bc.blockHeight+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidBlockHeight, bc.blockHeight+1, b.Height)
	}
	if !b.PrevHash.Equals(bc.currentHash) {
		return fmt.Errorf("%w: expected %s", ErrParentHashMismatch, bc.currentHash.String())
	}
	if err := bc.persistBlock(b); err != nil {
		return err
	}
	bc.log.Debug("appended block",
		zap.Uint32("blockHeight", b.Height),
		zap.String("hash", b.Hash().String()))
	return nil
}

// persistBlock stores the block and moves the tip to it, lock must be taken.
func (bc *Blockchain) persistBlock(b *block.Block) error {
	raw, err := io.ToByteArray(b)
	if err != nil {
		return err
	}
	hash := b.Hash()
	if err := bc.store.Put(storage.AppendPrefix(storage.DataBlock, hash.Bytes()), raw); err != nil {
		return err
	}
	if err := bc.store.Put(storage.AppendPrefixInt(storage.IXHeightToHash, b.Height), hash.Bytes()); err != nil {
		return err
	}

	buf := io.NewBufBinWriter()
	buf.WriteU32LE(b.Height)
	hash.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		return buf.Err
	}
	if err := bc.store.Put([]byte{byte(storage.SYSCurrentBlock)}, buf.Bytes()); err != nil {
		return err
	}
	bc.blockHeight = b.Height
	bc.currentHash = hash
	return nil
}
