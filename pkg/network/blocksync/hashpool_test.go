package blocksync

import (
	"math/rand"
	"testing"

	"github.com/emberchain/ember/internal/fakechain"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingEntry(b *block.Block, owner network.PeerID) *Entry {
	return &Entry{Height: b.Height, Hash: b.Hash(), Owner: owner}
}

func resolvedEntry(b *block.Block, owner network.PeerID) *Entry {
	return &Entry{Height: b.Height, Hash: b.Hash(), Owner: owner, Block: b}
}

func TestHashPoolMergeOrder(t *testing.T) {
	chain := fakechain.MakeChain(6)
	var p hashPool

	// Merge out of order, in two batches with an overlap.
	p.merge([]*Entry{pendingEntry(chain[3], "a"), pendingEntry(chain[1], "a")})
	p.merge([]*Entry{pendingEntry(chain[2], "a"), pendingEntry(chain[3], "a")})

	require.Equal(t, 3, p.size())
	for i, e := range p.entries {
		assert.Equal(t, uint32(i+1), e.Height)
	}
}

func TestHashPoolMergeIdempotent(t *testing.T) {
	chain := fakechain.MakeChain(5)
	var p hashPool

	in := []*Entry{pendingEntry(chain[1], "a"), pendingEntry(chain[2], "a")}
	p.merge(in)
	p.merge(in)
	require.Equal(t, 2, p.size())
}

func TestHashPoolMergeResolvedWins(t *testing.T) {
	chain := fakechain.MakeChain(3)

	// Resolved over pending, in both merge orders.
	var p hashPool
	p.merge([]*Entry{pendingEntry(chain[1], "a")})
	p.merge([]*Entry{resolvedEntry(chain[1], "b")})
	require.Equal(t, 1, p.size())
	assert.True(t, p.entries[0].Resolved())

	var q hashPool
	q.merge([]*Entry{resolvedEntry(chain[1], "b")})
	q.merge([]*Entry{pendingEntry(chain[1], "a")})
	require.Equal(t, 1, q.size())
	assert.True(t, q.entries[0].Resolved())
}

func TestHashPoolForkCandidatesCoexist(t *testing.T) {
	chain := fakechain.MakeChain(3)
	fork := fakechain.ExtendChain(chain[:2], 1, 42)

	var p hashPool
	p.merge([]*Entry{pendingEntry(chain[2], "a"), pendingEntry(fork[2], "b")})

	// Same height, different hashes, both stay.
	require.Equal(t, 2, p.size())
	require.Len(t, p.at(2), 2)
	require.Empty(t, p.at(3))
}

func TestHashPoolDropBelow(t *testing.T) {
	chain := fakechain.MakeChain(8)
	var p hashPool
	for _, b := range chain[1:] {
		p.merge([]*Entry{pendingEntry(b, "a")})
	}

	p.dropBelow(4)
	require.Equal(t, 4, p.size())
	assert.Equal(t, uint32(4), p.entries[0].Height)

	p.dropBelow(100)
	require.Equal(t, 0, p.size())
}

func TestHashPoolRemove(t *testing.T) {
	chain := fakechain.MakeChain(4)
	var p hashPool
	p.merge([]*Entry{pendingEntry(chain[1], "a"), pendingEntry(chain[2], "a"), pendingEntry(chain[3], "a")})

	p.remove(2, chain[2].Hash())
	require.Equal(t, 2, p.size())
	require.Empty(t, p.at(2))

	// Removing a missing key is a no-op.
	p.remove(2, chain[2].Hash())
	require.Equal(t, 2, p.size())
}

func TestHashPoolPending(t *testing.T) {
	chain := fakechain.MakeChain(5)
	var p hashPool
	p.merge([]*Entry{
		pendingEntry(chain[1], "a"),
		resolvedEntry(chain[2], "a"),
		pendingEntry(chain[3], "b"),
	})

	pend := p.pending()
	require.Len(t, pend, 2)
	for _, e := range pend {
		assert.False(t, e.Resolved())
	}
}

func TestHashPoolRemoveOwnedBy(t *testing.T) {
	chain := fakechain.MakeChain(5)
	var p hashPool
	p.merge([]*Entry{
		pendingEntry(chain[1], "a"),
		resolvedEntry(chain[2], "a"),
		pendingEntry(chain[3], "b"),
	})

	p.removeOwnedBy("a")

	// Only the pending entry of "a" goes away, its resolved one is
	// still useful to other sessions.
	require.Equal(t, 2, p.size())
	require.Len(t, p.at(2), 1)
	assert.True(t, p.at(2)[0].Resolved())
	require.Len(t, p.at(3), 1)
}

func TestHashPoolMergeOrderInvariant(t *testing.T) {
	chain := fakechain.MakeChain(20)
	entries := make([]*Entry, 0, len(chain)-1)
	for _, b := range chain[1:] {
		entries = append(entries, pendingEntry(b, "a"))
	}

	r := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := append([]*Entry{}, entries...)
		r.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		var p hashPool
		for _, e := range shuffled {
			p.merge([]*Entry{e})
		}
		require.Equal(t, len(entries), p.size())
		for i, e := range p.entries {
			require.Equal(t, entries[i].Hash, e.Hash)
		}
	}
}
