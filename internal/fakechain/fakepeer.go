package fakechain

import (
	"errors"
	"sync"

	"github.com/emberchain/ember/pkg/core"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/network"
	"github.com/emberchain/ember/pkg/util"
)

// ErrNotFound is returned by FakePeer getters for unknown data.
var ErrNotFound = errors.New("not found")

// FakePeer is a Peer implementation serving a fixed chain of blocks.
type FakePeer struct {
	id    network.PeerID
	chain []*block.Block
	index map[util.Uint256]*block.Block

	lock        sync.Mutex
	sentBlocks  []*block.Block
	sentTxs     []*transaction.Transaction
	headerCalls int

	// Mempool is returned from GetMempool.
	Mempool []*transaction.Transaction
	// WrongBlockFor makes GetBlock return a block different from the
	// requested one, to exercise hash verification.
	WrongBlockFor map[util.Uint256]*block.Block
	// Error injection per method.
	HeaderErr  error
	BlockErr   error
	SuccErr    error
	MempoolErr error
	PingErr    error
}

// NewFakePeer returns a peer with the given identity serving the given
// chain (genesis first, contiguous heights).
func NewFakePeer(id network.PeerID, chain []*block.Block) *FakePeer {
	index := make(map[util.Uint256]*block.Block, len(chain))
	for _, b := range chain {
		index[b.Hash()] = b
	}
	return &FakePeer{
		id:    id,
		chain: chain,
		index: index,
	}
}

// ID implements the Peer interface.
func (p *FakePeer) ID() network.PeerID {
	return p.id
}

// Top returns the tip of the peer's chain.
func (p *FakePeer) Top() *block.Block {
	return p.chain[len(p.chain)-1]
}

// GetHeaderByHash implements the Peer interface.
func (p *FakePeer) GetHeaderByHash(hash util.Uint256) (*block.Header, error) {
	p.countHeaderCall()
	if p.HeaderErr != nil {
		return nil, p.HeaderErr
	}
	if b, ok := p.index[hash]; ok {
		return &b.Header, nil
	}
	return nil, ErrNotFound
}

// GetHeaderByHeight implements the Peer interface.
func (p *FakePeer) GetHeaderByHeight(h uint32) (*block.Header, error) {
	p.countHeaderCall()
	if p.HeaderErr != nil {
		return nil, p.HeaderErr
	}
	if h >= uint32(len(p.chain)) {
		return nil, ErrNotFound
	}
	return &p.chain[h].Header, nil
}

// GetSuccessorHashes implements the Peer interface.
func (p *FakePeer) GetSuccessorHashes(from util.Uint256, limit int) ([]util.Uint256, error) {
	if p.SuccErr != nil {
		return nil, p.SuccErr
	}
	b, ok := p.index[from]
	if !ok {
		return nil, ErrNotFound
	}
	var res []util.Uint256
	for h := b.Height + 1; h < uint32(len(p.chain)) && len(res) < limit; h++ {
		res = append(res, p.chain[h].Hash())
	}
	return res, nil
}

// GetBlock implements the Peer interface.
func (p *FakePeer) GetBlock(hash util.Uint256) (*block.Block, error) {
	if p.BlockErr != nil {
		return nil, p.BlockErr
	}
	if wrong, ok := p.WrongBlockFor[hash]; ok {
		return wrong, nil
	}
	if b, ok := p.index[hash]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

// GetMempool implements the Peer interface.
func (p *FakePeer) GetMempool() ([]*transaction.Transaction, error) {
	if p.MempoolErr != nil {
		return nil, p.MempoolErr
	}
	return p.Mempool, nil
}

// SendBlock implements the Peer interface.
func (p *FakePeer) SendBlock(b *block.Block) error {
	p.lock.Lock()
	p.sentBlocks = append(p.sentBlocks, b)
	p.lock.Unlock()
	return nil
}

// SendTx implements the Peer interface.
func (p *FakePeer) SendTx(tx *transaction.Transaction) error {
	p.lock.Lock()
	p.sentTxs = append(p.sentTxs, tx)
	p.lock.Unlock()
	return nil
}

// Ping implements the Peer interface.
func (p *FakePeer) Ping() error {
	return p.PingErr
}

func (p *FakePeer) countHeaderCall() {
	p.lock.Lock()
	p.headerCalls++
	p.lock.Unlock()
}

// HeaderCalls returns the number of header requests served so far.
func (p *FakePeer) HeaderCalls() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.headerCalls
}

// SentBlocks returns the blocks forwarded to this peer so far.
func (p *FakePeer) SentBlocks() []*block.Block {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*block.Block{}, p.sentBlocks...)
}

// SentTxs returns the transactions forwarded to this peer so far.
func (p *FakePeer) SentTxs() []*transaction.Transaction {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*transaction.Transaction{}, p.sentTxs...)
}

// MakeChain builds a chain of the given length (genesis included) with
// deterministic contents.
func MakeChain(length int) []*block.Block {
	return ExtendChain([]*block.Block{core.CreateGenesisBlock()}, length-1, 0)
}

// ExtendChain appends n deterministic blocks to a copy of the given chain.
// Different seeds produce different (forked) continuations.
func ExtendChain(chain []*block.Block, n int, seed uint64) []*block.Block {
	res := append([]*block.Block{}, chain...)
	for i := 0; i < n; i++ {
		parent := res[len(res)-1]
		b := &block.Block{
			Header: block.Header{
				PrevHash:   parent.Hash(),
				Timestamp:  parent.Timestamp + 1000,
				Height:     parent.Height + 1,
				Nonce:      seed + uint64(parent.Height) + 1,
				Difficulty: 1,
			},
		}
		res = append(res, b)
	}
	return res
}
