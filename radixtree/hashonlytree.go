package radixtree

import (
	"github.com/tenebra-net/tenebrad/crypto"
)

// HashOnlyTree is the authenticated set of transaction kernels. Keys are
// kernel hashes; the tree carries no values and enforces set semantics.
type HashOnlyTree struct {
	tree *tree
}

// NewHashOnlyTree returns an empty hash-only tree.
func NewHashOnlyTree() *HashOnlyTree {
	return &HashOnlyTree{tree: newTree(crypto.HashSize)}
}

// Insert adds the hash to the set. Fails with ErrDuplicate if it is
// already present.
func (t *HashOnlyTree) Insert(hash crypto.Hash) error {
	if _, ok := t.tree.lookup(hash[:]); ok {
		return ErrDuplicate
	}
	t.tree.add(hash[:])
	return nil
}

// Remove deletes the hash from the set. Fails with ErrNotFound if it is
// absent.
func (t *HashOnlyTree) Remove(hash crypto.Hash) error {
	if _, ok := t.tree.sub(hash[:]); !ok {
		return ErrNotFound
	}
	return nil
}

// Has returns whether the hash is in the set.
func (t *HashOnlyTree) Has(hash crypto.Hash) bool {
	_, ok := t.tree.lookup(hash[:])
	return ok
}

// Root returns the authenticated Merkle root of the tree.
func (t *HashOnlyTree) Root() crypto.Hash {
	return t.tree.rootHash()
}

// Len returns the number of entries.
func (t *HashOnlyTree) Len() int {
	return t.tree.count
}

// Walk visits every hash in lexicographic order. Returning false stops
// the walk.
func (t *HashOnlyTree) Walk(fn func(hash crypto.Hash) bool) {
	t.tree.walk(func(key []byte, value uint32) bool {
		var hash crypto.Hash
		copy(hash[:], key)
		return fn(hash)
	})
}

// Prove builds the Merkle proof of the hash. Returns false if it is
// absent.
func (t *HashOnlyTree) Prove(hash crypto.Hash) (*Proof, bool) {
	return t.tree.prove(hash[:])
}

// Clone returns a deep copy, used as the block builder's working
// snapshot.
func (t *HashOnlyTree) Clone() *HashOnlyTree {
	return &HashOnlyTree{tree: t.tree.clone()}
}
