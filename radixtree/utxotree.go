package radixtree

import (
	"encoding/binary"

	"github.com/tenebra-net/tenebrad/crypto"
)

// UtxoKeySize is the width of a UTXO tree key: a serialized commitment
// followed by the big-endian maturity height.
const UtxoKeySize = crypto.CommitmentSize + 8

// UtxoKey builds the tree key of a (commitment, maturity) pair. Maturity
// is appended big-endian so that entries of the same commitment sort by
// maturity.
func UtxoKey(commitment crypto.Commitment, maturity uint64) []byte {
	key := make([]byte, UtxoKeySize)
	copy(key, commitment[:])
	binary.BigEndian.PutUint64(key[crypto.CommitmentSize:], maturity)
	return key
}

// SplitUtxoKey is the inverse of UtxoKey.
func SplitUtxoKey(key []byte) (crypto.Commitment, uint64) {
	var commitment crypto.Commitment
	copy(commitment[:], key[:crypto.CommitmentSize])
	return commitment, binary.BigEndian.Uint64(key[crypto.CommitmentSize:])
}

// UtxoTree is the authenticated multiset of unspent outputs. Entries are
// keyed by (commitment, maturity) and carry a multiplicity: the same
// commitment with the same maturity may legitimately exist several times.
type UtxoTree struct {
	tree *tree
}

// NewUtxoTree returns an empty UTXO tree.
func NewUtxoTree() *UtxoTree {
	return &UtxoTree{tree: newTree(UtxoKeySize)}
}

// Insert adds one unit of (commitment, maturity), creating the entry with
// multiplicity 1 or incrementing an existing one. It returns the new
// multiplicity.
func (t *UtxoTree) Insert(commitment crypto.Commitment, maturity uint64) uint32 {
	return t.tree.add(UtxoKey(commitment, maturity))
}

// Decrement removes one unit of (commitment, maturity), deleting the
// entry when its multiplicity reaches zero. It returns the multiplicity
// prior to the decrement; the undo log needs it to invert the operation
// exactly. Fails with ErrNoUnspent if the entry is absent.
func (t *UtxoTree) Decrement(commitment crypto.Commitment, maturity uint64) (uint32, error) {
	prior, ok := t.tree.sub(UtxoKey(commitment, maturity))
	if !ok {
		return 0, ErrNoUnspent
	}
	return prior, nil
}

// Set forces the multiplicity of (commitment, maturity), used when
// reverting a block from its undo log.
func (t *UtxoTree) Set(commitment crypto.Commitment, maturity uint64, multiplicity uint32) {
	t.tree.set(UtxoKey(commitment, maturity), multiplicity)
}

// Multiplicity returns the current multiplicity of (commitment, maturity)
// and whether the entry exists.
func (t *UtxoTree) Multiplicity(commitment crypto.Commitment, maturity uint64) (uint32, bool) {
	return t.tree.lookup(UtxoKey(commitment, maturity))
}

// Root returns the authenticated Merkle root of the tree.
func (t *UtxoTree) Root() crypto.Hash {
	return t.tree.rootHash()
}

// Len returns the number of distinct entries.
func (t *UtxoTree) Len() int {
	return t.tree.count
}

// Walk visits every entry in key order. Returning false stops the walk.
func (t *UtxoTree) Walk(fn func(commitment crypto.Commitment, maturity uint64, multiplicity uint32) bool) {
	t.tree.walk(func(key []byte, value uint32) bool {
		commitment, maturity := SplitUtxoKey(key)
		return fn(commitment, maturity, value)
	})
}

// Prove builds the Merkle proof of (commitment, maturity). Returns false
// if the entry is absent.
func (t *UtxoTree) Prove(commitment crypto.Commitment, maturity uint64) (*Proof, bool) {
	return t.tree.prove(UtxoKey(commitment, maturity))
}

// Clone returns a deep copy, used as the block builder's working
// snapshot.
func (t *UtxoTree) Clone() *UtxoTree {
	return &UtxoTree{tree: t.tree.clone()}
}
