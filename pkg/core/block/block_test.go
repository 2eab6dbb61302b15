package block

import (
	"testing"

	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *Header {
	return &Header{
		Version:    1,
		Timestamp:  1609459200000,
		Height:     10,
		Nonce:      12345,
		Difficulty: 7,
	}
}

func TestHeaderHashStable(t *testing.T) {
	h := testHeader()
	first := h.Hash()
	assert.Equal(t, first, h.Hash(), "the hash must be cached, not recomputed differently")

	other := testHeader()
	assert.Equal(t, first, other.Hash(), "equal headers must hash equally")

	other = testHeader()
	other.Nonce++
	assert.NotEqual(t, first, other.Hash())
}

func TestBlockEncodeDecode(t *testing.T) {
	b := &Block{
		Header: *testHeader(),
		Transactions: []*transaction.Transaction{
			transaction.New([]byte("first"), 1),
			transaction.New([]byte("second"), 2),
		},
	}

	data, err := io.ToByteArray(b)
	require.NoError(t, err)

	decoded := new(Block)
	require.NoError(t, io.FromByteArray(decoded, data))
	assert.Equal(t, b.Hash(), decoded.Hash())
	require.Len(t, decoded.Transactions, 2)
	for i, tx := range decoded.Transactions {
		assert.Equal(t, b.Transactions[i].Hash(), tx.Hash())
	}
}

func TestBlockHashIsHeaderHash(t *testing.T) {
	b := &Block{
		Header:       *testHeader(),
		Transactions: []*transaction.Transaction{transaction.New([]byte("x"), 3)},
	}
	// Transactions don't participate in the block identity directly,
	// they're bound through the merkle root.
	assert.Equal(t, b.Header.Hash(), b.Hash())
}

func TestBlockDecodeTooManyTransactions(t *testing.T) {
	buf := io.NewBufBinWriter()
	h := testHeader()
	h.EncodeBinary(buf.BinWriter)
	buf.WriteVarUint(MaxTransactionsPerBlock + 1)
	require.NoError(t, buf.Err)

	decoded := new(Block)
	err := io.FromByteArray(decoded, buf.Bytes())
	require.ErrorIs(t, err, ErrMaxContentsPerBlock)
}

func TestNewBlockLinksToParent(t *testing.T) {
	parent := testHeader()
	b := New(parent, nil)
	assert.Equal(t, parent.Hash(), b.PrevHash)
	assert.Equal(t, parent.Height+1, b.Height)
	assert.Equal(t, parent.Version, b.Version)
}
