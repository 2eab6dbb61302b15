/*
Package blocksync implements the peer chain-synchronization protocol.

Synchronization with one peer is a session: an agreement point (the highest
height both chains share, found by a linear descent from the lower of the
two tips) plus a target (the latest remote height seen). A session worker
repeatedly asks the Coordinator for the next action and performs it: fetch
a specific block, merge already resolved blocks into the chain, ask the
peer for another chunk of successor hashes, or stop.

The Coordinator is the single serialization point. It owns the sync pool
(at most one session per peer, frontiers only grow) and the hash pool (the
ordered set of pending/resolved block slots between agreement and target)
and it alone commits blocks to the ledger, at most MaxBlockBatch per
decision. Sessions terminate by completing, by becoming stuck (no
contiguous progress possible from the pool contents) or on a peer error,
and they are never retried automatically: a fresh inbound trigger starts a
new session.
*/
package blocksync
