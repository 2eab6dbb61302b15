package blocksync

import (
	"sort"

	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/network"
	"github.com/emberchain/ember/pkg/util"
)

// Entry is one slot of the hash pool keyed by (Height, Hash). An entry is
// either pending (the hash was announced by Owner, the body is not here yet)
// or resolved (Block is the fetched body). Same hash means same block, so
// two resolved entries under one key can't conflict.
type Entry struct {
	Height uint32
	Hash   util.Uint256
	// Owner is the peer the hash came from, used for conservative
	// cleanup when that peer's session is torn down.
	Owner network.PeerID
	// Block is nil while the entry is pending.
	Block *block.Block
}

// Resolved returns true when the block body is available.
func (e *Entry) Resolved() bool {
	return e.Block != nil
}

// less orders entries by (height, hash).
func (e *Entry) less(other *Entry) bool {
	if e.Height != other.Height {
		return e.Height < other.Height
	}
	return e.Hash.CompareTo(other.Hash) < 0
}

// hashPool is the ordered set of pending/resolved block slots shared by all
// active sync sessions. It's owned by the Coordinator loop exclusively, so
// no locking happens here.
type hashPool struct {
	entries []*Entry
}

// size returns the number of entries in the pool.
func (p *hashPool) size() int {
	return len(p.entries)
}

// merge folds the given entries into the pool keeping the (height, hash)
// order and key uniqueness. On key conflict a resolved entry always wins
// over a pending one.
func (p *hashPool) merge(in []*Entry) {
	if len(in) == 0 {
		return
	}
	merged := make([]*Entry, 0, len(p.entries)+len(in))
	merged = append(merged, p.entries...)
	merged = append(merged, in...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].less(merged[j])
	})

	out := merged[:0]
	for _, e := range merged {
		if n := len(out); n > 0 && out[n-1].Height == e.Height && out[n-1].Hash.Equals(e.Hash) {
			if !out[n-1].Resolved() && e.Resolved() {
				out[n-1] = e
			}
			continue
		}
		out = append(out, e)
	}
	p.entries = out
}

// dropBelow removes all the entries below the given height, they're
// already committed or superseded.
func (p *hashPool) dropBelow(height uint32) {
	idx := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].Height >= height
	})
	if idx > 0 {
		p.entries = append(p.entries[:0], p.entries[idx:]...)
	}
}

// at returns all the entries at the given height (fork candidates share a
// height).
func (p *hashPool) at(height uint32) []*Entry {
	lo := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].Height >= height
	})
	hi := lo
	for hi < len(p.entries) && p.entries[hi].Height == height {
		hi++
	}
	return p.entries[lo:hi]
}

// remove deletes the entry with the given key from the pool.
func (p *hashPool) remove(height uint32, hash util.Uint256) {
	for i, e := range p.entries {
		if e.Height == height && e.Hash.Equals(hash) {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// pendingByHash returns the pending entry with the given hash, if any.
func (p *hashPool) pendingByHash(hash util.Uint256) *Entry {
	for _, e := range p.entries {
		if !e.Resolved() && e.Hash.Equals(hash) {
			return e
		}
	}
	return nil
}

// pending returns all the entries that still need their block fetched.
func (p *hashPool) pending() []*Entry {
	var res []*Entry
	for _, e := range p.entries {
		if !e.Resolved() {
			res = append(res, e)
		}
	}
	return res
}

// removeOwnedBy drops pending entries announced by the given peer. Resolved
// entries stay, other sessions can still commit them.
func (p *hashPool) removeOwnedBy(peer network.PeerID) {
	out := p.entries[:0]
	for _, e := range p.entries {
		if !e.Resolved() && e.Owner == peer {
			continue
		}
		out = append(out, e)
	}
	p.entries = out
}
