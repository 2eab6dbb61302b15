package transaction

import (
	"github.com/emberchain/ember/pkg/crypto/hash"
	"github.com/emberchain/ember/pkg/io"
	"github.com/emberchain/ember/pkg/util"
)

// MaxPayloadSize is the maximum size of a transaction payload in bytes.
const MaxPayloadSize = 1 << 16

// Transaction is a single chain transaction. The synchronizer treats its
// payload as opaque bytes, only the hash is ever inspected.
type Transaction struct {
	// Version of the binary format.
	Version uint8
	// Random number to avoid hash collisions between identical payloads.
	Nonce uint64
	// Payload raw transaction data.
	Payload []byte

	hash       util.Uint256
	hashCalced bool
}

// New returns a new transaction carrying the given payload.
func New(payload []byte, nonce uint64) *Transaction {
	return &Transaction{
		Nonce:   nonce,
		Payload: payload,
	}
}

// Hash returns the hash of the transaction, computing it if needed.
func (t *Transaction) Hash() util.Uint256 {
	if !t.hashCalced {
		if t.createHash() != nil {
			panic("failed to compute hash!")
		}
	}
	return t.hash
}

func (t *Transaction) createHash() error {
	buf := io.NewBufBinWriter()
	t.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		return buf.Err
	}
	t.hash = hash.DoubleSha256(buf.Bytes())
	t.hashCalced = true
	return nil
}

// EncodeBinary implements the Serializable interface.
func (t *Transaction) EncodeBinary(w *io.BinWriter) {
	w.WriteB(t.Version)
	w.WriteU64LE(t.Nonce)
	w.WriteVarBytes(t.Payload)
}

// DecodeBinary implements the Serializable interface.
func (t *Transaction) DecodeBinary(r *io.BinReader) {
	t.Version = r.ReadB()
	t.Nonce = r.ReadU64LE()
	t.Payload = r.ReadVarBytes(MaxPayloadSize)
	t.hashCalced = false
}
