package network

import (
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/util"
)

// PeerID is an opaque peer identity, unique per connected peer.
type PeerID string

// Peer represents a remote node as seen by the synchronizer. It's the
// request/response surface of one connection, the transport behind it owns
// framing, retries and per-call timeouts.
type Peer interface {
	// ID returns the peer identity.
	ID() PeerID
	// GetHeaderByHash requests the header with the given hash.
	GetHeaderByHash(hash util.Uint256) (*block.Header, error)
	// GetHeaderByHeight requests the header at the given height of the
	// peer's chain.
	GetHeaderByHeight(h uint32) (*block.Header, error)
	// GetSuccessorHashes requests up to limit hashes of the blocks
	// following the given one on the peer's chain, in height order.
	GetSuccessorHashes(from util.Uint256, limit int) ([]util.Uint256, error)
	// GetBlock requests the full block with the given hash.
	GetBlock(hash util.Uint256) (*block.Block, error)
	// GetMempool requests the peer's unconfirmed transactions.
	GetMempool() ([]*transaction.Transaction, error)
	// SendBlock forwards a block to the peer.
	SendBlock(b *block.Block) error
	// SendTx forwards a transaction to the peer.
	SendTx(tx *transaction.Transaction) error
	// Ping probes the peer for liveness and its current height.
	Ping() error
}
