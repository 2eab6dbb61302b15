package mempool

import (
	"testing"

	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemPoolAddRemove(t *testing.T) {
	mp := New(10)
	tx := transaction.New([]byte{1, 2, 3}, 1)

	require.NoError(t, mp.Add(tx))
	assert.Equal(t, 1, mp.Count())
	assert.True(t, mp.ContainsKey(tx.Hash()))

	require.ErrorIs(t, mp.Add(tx), ErrDup)
	assert.Equal(t, 1, mp.Count())

	mp.Remove(tx.Hash())
	assert.Equal(t, 0, mp.Count())
	assert.False(t, mp.ContainsKey(tx.Hash()))

	// Removing it twice is fine.
	mp.Remove(tx.Hash())
}

func TestMemPoolCapacity(t *testing.T) {
	mp := New(3)
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, mp.Add(transaction.New([]byte{1}, i)))
	}
	require.ErrorIs(t, mp.Add(transaction.New([]byte{1}, 100)), ErrOOM)
	assert.Equal(t, 3, mp.Count())
}

func TestMemPoolGetVerified(t *testing.T) {
	mp := New(10)
	txs := []*transaction.Transaction{
		transaction.New([]byte{1}, 1),
		transaction.New([]byte{2}, 2),
		transaction.New([]byte{3}, 3),
	}
	for _, tx := range txs {
		require.NoError(t, mp.Add(tx))
	}

	got := mp.GetVerifiedTransactions()
	require.Len(t, got, 3)
	for _, tx := range txs {
		assert.Contains(t, got, tx)
	}
}
