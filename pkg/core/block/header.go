package block

import (
	"github.com/emberchain/ember/pkg/crypto/hash"
	"github.com/emberchain/ember/pkg/io"
	"github.com/emberchain/ember/pkg/util"
)

// Header holds the base info of a block.
type Header struct {
	// Version of the block.
	Version uint32

	// Hash of the previous block.
	PrevHash util.Uint256

	// Root hash of transaction hashes.
	MerkleRoot util.Uint256

	// Timestamp is a millisecond-precision timestamp.
	Timestamp uint64

	// Height of the block in the chain, genesis is 0.
	Height uint32

	// Nonce chosen by the miner.
	Nonce uint64

	// Difficulty the block was mined at. The chain difficulty is the sum
	// of these over all committed blocks.
	Difficulty uint64

	// Hash of this block, created when binary encoded (double SHA256).
	hash       util.Uint256
	hashCalced bool
}

// Hash returns the hash of the block, computing it if needed.
func (h *Header) Hash() util.Uint256 {
	if !h.hashCalced {
		h.createHash()
	}
	return h.hash
}

// createHash creates the hash of the block.
// When calculated, the hash is cached to avoid reserializing on every access.
func (h *Header) createHash() {
	buf := io.NewBufBinWriter()
	h.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		panic(buf.Err)
	}
	h.hash = hash.DoubleSha256(buf.Bytes())
	h.hashCalced = true
}

// EncodeBinary implements the Serializable interface.
func (h *Header) EncodeBinary(w *io.BinWriter) {
	w.WriteU32LE(h.Version)
	h.PrevHash.EncodeBinary(w)
	h.MerkleRoot.EncodeBinary(w)
	w.WriteU64LE(h.Timestamp)
	w.WriteU32LE(h.Height)
	w.WriteU64LE(h.Nonce)
	w.WriteU64LE(h.Difficulty)
}

// DecodeBinary implements the Serializable interface.
func (h *Header) DecodeBinary(r *io.BinReader) {
	h.Version = r.ReadU32LE()
	h.PrevHash.DecodeBinary(r)
	h.MerkleRoot.DecodeBinary(r)
	h.Timestamp = r.ReadU64LE()
	h.Height = r.ReadU32LE()
	h.Nonce = r.ReadU64LE()
	h.Difficulty = r.ReadU64LE()
	h.hashCalced = false
}
