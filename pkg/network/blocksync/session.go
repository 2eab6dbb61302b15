package blocksync

import (
	"fmt"
	"sort"

	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/network"
	"github.com/emberchain/ember/pkg/util"
)

// sortSessions orders the sync pool snapshot by claimed difficulty
// according to the configured policy, peers break ties to keep the order
// stable.
func sortSessions(ss []PeerSyncSession, priority string) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Difficulty != ss[j].Difficulty {
			if priority == config.SyncPriorityHighest {
				return ss[i].Difficulty > ss[j].Difficulty
			}
			return ss[i].Difficulty < ss[j].Difficulty
		}
		return ss[i].Peer < ss[j].Peer
	})
}

// agreeOnHeight finds the highest height not above min(local, remote) at
// which both chains carry the same block, the starting point of a sync
// session. It's a linear descent, one round trip per probed height: forks
// are expected to be shallow and the simplicity is worth more than saved
// round trips. Height 0 (genesis) is trivial agreement.
func agreeOnHeight(chain Ledger, p network.Peer, remoteHeight uint32, remoteHash util.Uint256) (uint32, util.Uint256, error) {
	candidate := chain.BlockHeight()
	if remoteHeight < candidate {
		candidate = remoteHeight
	}
	for ; candidate > 0; candidate-- {
		var hashAt util.Uint256
		if candidate == remoteHeight {
			hashAt = remoteHash
		} else {
			hdr, err := p.GetHeaderByHeight(candidate)
			if err != nil {
				return 0, util.Uint256{}, fmt.Errorf("height negotiation aborted at %d: %w", candidate, err)
			}
			hashAt = hdr.Hash()
		}
		if b, err := chain.GetBlock(hashAt); err == nil && b.Height == candidate {
			return candidate, hashAt, nil
		}
	}
	genesis, err := chain.GetBlockByHeight(0)
	if err != nil {
		return 0, util.Uint256{}, err
	}
	return 0, genesis.Hash(), nil
}
