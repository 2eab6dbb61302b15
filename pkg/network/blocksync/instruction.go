package blocksync

import (
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/util"
)

// InstrOp is the kind of action the Coordinator tells a sync session to
// perform next.
type InstrOp uint8

// Possible instruction kinds.
const (
	// OpFetch means retrieve the block with the Target hash and report
	// the result back.
	OpFetch InstrOp = iota
	// OpInsert means no network action is needed, poll again right away.
	OpInsert
	// OpFillPool means request another chunk of successor hashes
	// starting at Hash.
	OpFillPool
	// OpDone means the session has reached its target and was removed.
	OpDone
	// OpStuck means no contiguous progress is possible, the session was
	// removed. Height is the first height that couldn't be bridged.
	OpStuck
	// OpErr is a coordinator-side failure, the session was removed.
	OpErr
)

// String implements the Stringer interface.
func (o InstrOp) String() string {
	switch o {
	case OpFetch:
		return "fetch"
	case OpInsert:
		return "insert"
	case OpFillPool:
		return "fillpool"
	case OpDone:
		return "done"
	case OpStuck:
		return "stuck"
	case OpErr:
		return "error"
	default:
		return "unknown"
	}
}

// Instruction is one decision step of the synchronization protocol. Height
// and Hash carry the new agreement point the session must adopt before
// acting on Op.
type Instruction struct {
	Op     InstrOp
	Height uint32
	Hash   util.Uint256
	// Target is the hash of the block to fetch, set for OpFetch only.
	Target util.Uint256
	// Err describes an OpErr instruction.
	Err error
}

// FetchResult is the outcome of the previous OpFetch instruction fed back
// into the next FetchNext call.
type FetchResult struct {
	// Block is the successfully retrieved block, nil if there was
	// nothing to report.
	Block *block.Block
	// Target is the hash the fetch was issued for.
	Target util.Uint256
	// Err is the retrieval failure, if any.
	Err error
}
