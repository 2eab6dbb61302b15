package block

import (
	"errors"

	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/io"
)

// MaxTransactionsPerBlock is the maximum number of transactions per block.
const MaxTransactionsPerBlock = 1 << 16

// ErrMaxContentsPerBlock is returned when the maximum number of contents per block is reached.
var ErrMaxContentsPerBlock = errors.New("the number of contents exceeds the maximum number of contents per block")

// Block represents one block in the chain.
type Block struct {
	// The base of the block.
	Header

	// Transaction list.
	Transactions []*transaction.Transaction
}

// New returns a block ready to carry the given transactions on top of the
// given parent header.
func New(parent *Header, txs []*transaction.Transaction) *Block {
	return &Block{
		Header: Header{
			Version:  parent.Version,
			PrevHash: parent.Hash(),
			Height:   parent.Height + 1,
		},
		Transactions: txs,
	}
}

// EncodeBinary implements the Serializable interface.
func (b *Block) EncodeBinary(w *io.BinWriter) {
	b.Header.EncodeBinary(w)
	w.WriteVarUint(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.EncodeBinary(w)
	}
}

// DecodeBinary implements the Serializable interface.
func (b *Block) DecodeBinary(r *io.BinReader) {
	b.Header.DecodeBinary(r)
	n := r.ReadVarUint()
	if n > MaxTransactionsPerBlock {
		r.Err = ErrMaxContentsPerBlock
		return
	}
	b.Transactions = make([]*transaction.Transaction, 0, n)
	for i := uint64(0); i < n; i++ {
		tx := new(transaction.Transaction)
		tx.DecodeBinary(r)
		b.Transactions = append(b.Transactions, tx)
	}
}
