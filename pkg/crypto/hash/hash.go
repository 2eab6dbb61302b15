package hash

import (
	"crypto/sha256"

	"github.com/emberchain/ember/pkg/util"
)

// Sha256 hashes a byte slice using sha256.
func Sha256(data []byte) util.Uint256 {
	hash := sha256.Sum256(data)
	return hash
}

// DoubleSha256 performs sha256 twice on the given data.
func DoubleSha256(data []byte) util.Uint256 {
	h1 := Sha256(data)
	return Sha256(h1.Bytes())
}
