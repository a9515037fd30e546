package crypto

import (
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// HashSize of array used to store hashes.
const HashSize = 32

// Hash is used in several of the chain data structures. It
// typically represents the blake2b digest of data.
type Hash [HashSize]byte

// Domain tags keep hashes of different structures from colliding. Every
// hash computed by the node is keyed by exactly one of these.
const (
	DomainHeader    = "tenebra/header"
	DomainBlock     = "tenebra/block"
	DomainTx        = "tenebra/tx"
	DomainKernel    = "tenebra/kernel"
	DomainRadixLeaf = "tenebra/radix/leaf"
	DomainRadixNode = "tenebra/radix/node"
	DomainLive      = "tenebra/live"
	DomainSimRange  = "tenebra/sim/range"
	DomainSimNonce  = "tenebra/sim/nonce"
	DomainSimKey    = "tenebra/sim/key"
	DomainSimChal   = "tenebra/sim/challenge"
)

// TaggedHash returns the domain-separated blake2b-256 digest of the
// concatenation of chunks. The domain tag is used as the blake2b key.
func TaggedHash(domain string, chunks ...[]byte) Hash {
	d, err := blake2b.New256([]byte(domain))
	if err != nil {
		panic(errors.Wrapf(err, "invalid hash domain %q", domain))
	}
	for _, chunk := range chunks {
		d.Write(chunk)
	}

	var hash Hash
	copy(hash[:], d.Sum(nil))
	return hash
}

// String returns the Hash as the hexadecimal string of the byte-reversed
// hash.
func (hash Hash) String() string {
	for i := 0; i < HashSize/2; i++ {
		hash[i], hash[HashSize-1-i] = hash[HashSize-1-i], hash[i]
	}
	return hex.EncodeToString(hash[:])
}

// IsEqual returns true if target is the same as hash.
func (hash *Hash) IsEqual(target *Hash) bool {
	if hash == nil && target == nil {
		return true
	}
	if hash == nil || target == nil {
		return false
	}
	return *hash == *target
}

// Less returns true if hash is strictly less than target, interpreting both
// as big-endian unsigned integers. It is the deterministic tie-break used
// by chain selection.
func (hash *Hash) Less(target *Hash) bool {
	for i := 0; i < HashSize; i++ {
		if hash[i] != target[i] {
			return hash[i] < target[i]
		}
	}
	return false
}

// ToBig converts the hash into a big.Int, interpreting it as a big-endian
// unsigned integer. Used for proof-of-work comparisons.
func (hash *Hash) ToBig() *big.Int {
	return new(big.Int).SetBytes(hash[:])
}

// NewHash returns a new Hash from a byte slice. An error is returned if
// the number of bytes passed in is not HashSize.
func NewHash(newHash []byte) (*Hash, error) {
	if len(newHash) != HashSize {
		return nil, errors.Errorf("invalid hash length of %d, want %d",
			len(newHash), HashSize)
	}

	var hash Hash
	copy(hash[:], newHash)
	return &hash, nil
}
