package crypto

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// CommitmentSize is the serialized size of a group element.
const CommitmentSize = 33

// Commitment is an opaque serialized group element: a Pedersen commitment
// to a value, or a kernel excess. The node never interprets its contents;
// all arithmetic on commitments happens behind the Verifier interface.
type Commitment [CommitmentSize]byte

// String returns the commitment as a hexadecimal string.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Less compares commitments lexicographically.
func (c *Commitment) Less(target *Commitment) bool {
	for i := 0; i < CommitmentSize; i++ {
		if c[i] != target[i] {
			return c[i] < target[i]
		}
	}
	return false
}

// NewCommitment returns a new Commitment from a byte slice of length
// CommitmentSize.
func NewCommitment(serialized []byte) (*Commitment, error) {
	if len(serialized) != CommitmentSize {
		return nil, errors.Errorf("invalid commitment length of %d, want %d",
			len(serialized), CommitmentSize)
	}

	var commitment Commitment
	copy(commitment[:], serialized)
	return &commitment, nil
}

// SignatureSize is the serialized size of a kernel signature.
const SignatureSize = 64

// Signature is an opaque serialized signature over a kernel. Verification
// happens behind the Verifier interface.
type Signature [SignatureSize]byte

// String returns the signature as a hexadecimal string.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}
