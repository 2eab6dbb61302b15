package mempool

import (
	"errors"
	"sync"

	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/util"
)

var (
	// ErrDup is returned when adding a duplicate transaction.
	ErrDup = errors.New("already in the memory pool")
	// ErrOOM is returned when the pool is full.
	ErrOOM = errors.New("out of memory")
)

// Pool stores the unconfirmed transactions.
type Pool struct {
	lock     sync.RWMutex
	verified map[util.Uint256]*transaction.Transaction
	capacity int
}

// New returns a new Pool struct.
func New(capacity int) *Pool {
	return &Pool{
		verified: make(map[util.Uint256]*transaction.Transaction, capacity),
		capacity: capacity,
	}
}

// Count returns the total number of uncofirmed transactions.
func (mp *Pool) Count() int {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	return len(mp.verified)
}

// ContainsKey checks if the transactions hash is in the Pool.
func (mp *Pool) ContainsKey(hash util.Uint256) bool {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	_, ok := mp.verified[hash]
	return ok
}

// Add tries to add the given transaction to the Pool.
func (mp *Pool) Add(t *transaction.Transaction) error {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	if _, ok := mp.verified[t.Hash()]; ok {
		return ErrDup
	}
	if len(mp.verified) >= mp.capacity {
		return ErrOOM
	}
	mp.verified[t.Hash()] = t
	return nil
}

// Remove removes an item from the mempool if it exists there (and does
// nothing if it doesn't).
func (mp *Pool) Remove(hash util.Uint256) {
	mp.lock.Lock()
	delete(mp.verified, hash)
	mp.lock.Unlock()
}

// GetVerifiedTransactions returns a slice of transactions stored in the pool.
func (mp *Pool) GetVerifiedTransactions() []*transaction.Transaction {
	mp.lock.RLock()
	defer mp.lock.RUnlock()

	t := make([]*transaction.Transaction, 0, len(mp.verified))
	for _, tx := range mp.verified {
		t = append(t, tx)
	}
	return t
}
