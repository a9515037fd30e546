// Package radixtree implements the authenticated radix trees backing the
// chain state: a commitment tree with multiplicity leaves for unspent
// outputs and a hash-only tree for transaction kernels. Both are
// compressed binary radix trees over fixed-width keys whose Merkle roots
// commit to the full key/value set.
package radixtree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
)

var (
	// ErrNoUnspent is returned when decrementing a key that is not in
	// the tree.
	ErrNoUnspent = errors.New("no unspent entry for key")

	// ErrDuplicate is returned when inserting a key that is already in a
	// set-semantics tree.
	ErrDuplicate = errors.New("duplicate key")

	// ErrNotFound is returned when removing a key that is not in the
	// tree.
	ErrNotFound = errors.New("key not found")
)

// treeNode is a node of the compressed radix tree. Leaves carry the full
// key and its multiplicity; internal nodes carry the critical bit their
// children diverge on.
type treeNode struct {
	bit         int // critical bit index; meaningful for internal nodes only
	key         []byte
	value       uint32
	left, right *treeNode
	hash        crypto.Hash
	clean       bool
}

func (n *treeNode) isLeaf() bool {
	return n.left == nil
}

// tree is the shared radix core. keySize is fixed per tree; mixing key
// widths corrupts the structure.
type tree struct {
	root    *treeNode
	keySize int
	count   int
}

func newTree(keySize int) *tree {
	return &tree{keySize: keySize}
}

// bitAt returns the i'th bit of key, most significant bit first.
func bitAt(key []byte, i int) byte {
	return (key[i/8] >> (7 - uint(i)%8)) & 1
}

// firstDiffBit returns the index of the first differing bit of a and b,
// or -1 if the keys are equal.
func firstDiffBit(a, b []byte) int {
	for i := range a {
		diff := a[i] ^ b[i]
		if diff == 0 {
			continue
		}
		bit := i * 8
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if diff&mask != 0 {
				return bit
			}
			bit++
		}
	}
	return -1
}

func newLeaf(key []byte, value uint32) *treeNode {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return &treeNode{key: keyCopy, value: value}
}

// findLeaf walks to the leaf whose path matches key's bits. It returns
// nil on an empty tree. The returned leaf's key is not necessarily equal
// to key; the caller compares.
func (t *tree) findLeaf(key []byte) *treeNode {
	node := t.root
	if node == nil {
		return nil
	}
	for !node.isLeaf() {
		if bitAt(key, node.bit) == 0 {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node
}

// lookup returns the multiplicity of key, or false if absent.
func (t *tree) lookup(key []byte) (uint32, bool) {
	leaf := t.findLeaf(key)
	if leaf == nil || firstDiffBit(leaf.key, key) != -1 {
		return 0, false
	}
	return leaf.value, true
}

// add increases the multiplicity of key by one, creating the leaf if
// needed. It returns the new multiplicity.
func (t *tree) add(key []byte) uint32 {
	leaf := t.findLeaf(key)
	if leaf == nil {
		t.root = newLeaf(key, 1)
		t.count++
		return 1
	}

	crit := firstDiffBit(leaf.key, key)
	if crit == -1 {
		leaf.value++
		t.markPathDirty(key)
		return leaf.value
	}

	// Descend to the first node below which the new leaf diverges, then
	// split there.
	slot := &t.root
	for {
		node := *slot
		if node.isLeaf() || node.bit > crit {
			break
		}
		node.clean = false
		if bitAt(key, node.bit) == 0 {
			slot = &node.left
		} else {
			slot = &node.right
		}
	}

	added := newLeaf(key, 1)
	split := &treeNode{bit: crit}
	if bitAt(key, crit) == 0 {
		split.left, split.right = added, *slot
	} else {
		split.left, split.right = *slot, added
	}
	*slot = split
	t.count++
	return 1
}

// sub decreases the multiplicity of key by one, deleting the leaf when it
// reaches zero. It returns the multiplicity prior to the decrement, or
// false if the key is absent.
func (t *tree) sub(key []byte) (uint32, bool) {
	// Walk with enough history to splice the leaf's sibling into the
	// grandparent slot on deletion.
	if t.root == nil {
		return 0, false
	}

	slot := &t.root
	var parentSlot **treeNode
	for {
		node := *slot
		if node.isLeaf() {
			break
		}
		node.clean = false
		parentSlot = slot
		if bitAt(key, node.bit) == 0 {
			slot = &node.left
		} else {
			slot = &node.right
		}
	}

	leaf := *slot
	if firstDiffBit(leaf.key, key) != -1 {
		// The walk dirtied nodes for a key that turned out to be absent.
		// Their hashes are still valid; rehashing them is harmless.
		return 0, false
	}

	prior := leaf.value
	if leaf.value > 1 {
		leaf.value--
		leaf.clean = false
		return prior, true
	}

	t.count--
	if parentSlot == nil {
		t.root = nil
		return prior, true
	}
	parent := *parentSlot
	if parent.left == leaf {
		*parentSlot = parent.right
	} else {
		*parentSlot = parent.left
	}
	return prior, true
}

// set forces the multiplicity of key, used when re-inserting entries from
// an undo log. A zero value is rejected; deletion goes through sub.
func (t *tree) set(key []byte, value uint32) {
	if value == 0 {
		return
	}
	current, ok := t.lookup(key)
	if !ok {
		t.add(key)
		current = 1
	}
	if current != value {
		leaf := t.findLeaf(key)
		leaf.value = value
		t.markPathDirty(key)
	}
}

// markPathDirty invalidates the hashes of every node on key's path.
func (t *tree) markPathDirty(key []byte) {
	node := t.root
	for node != nil && !node.isLeaf() {
		node.clean = false
		if bitAt(key, node.bit) == 0 {
			node = node.left
		} else {
			node = node.right
		}
	}
	if node != nil {
		node.clean = false
	}
}

// hashOf computes (or reuses) the Merkle hash of the subtree.
func hashOf(node *treeNode) crypto.Hash {
	if node.clean {
		return node.hash
	}
	if node.isLeaf() {
		var value [4]byte
		binary.LittleEndian.PutUint32(value[:], node.value)
		node.hash = crypto.TaggedHash(crypto.DomainRadixLeaf, node.key, value[:])
	} else {
		left := hashOf(node.left)
		right := hashOf(node.right)
		var bit [2]byte
		binary.BigEndian.PutUint16(bit[:], uint16(node.bit))
		node.hash = crypto.TaggedHash(crypto.DomainRadixNode, bit[:], left[:], right[:])
	}
	node.clean = true
	return node.hash
}

// rootHash returns the Merkle root of the tree. The empty tree's root is
// the zero hash.
func (t *tree) rootHash() crypto.Hash {
	if t.root == nil {
		return crypto.Hash{}
	}
	return hashOf(t.root)
}

// walk visits every leaf in lexicographic key order. Returning false from
// the callback stops the walk.
func (t *tree) walk(fn func(key []byte, value uint32) bool) {
	var visit func(node *treeNode) bool
	visit = func(node *treeNode) bool {
		if node == nil {
			return true
		}
		if node.isLeaf() {
			return fn(node.key, node.value)
		}
		return visit(node.left) && visit(node.right)
	}
	visit(t.root)
}

// clone returns a deep copy of the tree. Hashes and clean flags are
// carried over, so cloning a hashed tree costs no rehashing.
func (t *tree) clone() *tree {
	var copyNode func(node *treeNode) *treeNode
	copyNode = func(node *treeNode) *treeNode {
		if node == nil {
			return nil
		}
		nodeCopy := &treeNode{
			bit:   node.bit,
			value: node.value,
			hash:  node.hash,
			clean: node.clean,
			left:  copyNode(node.left),
			right: copyNode(node.right),
		}
		if node.key != nil {
			nodeCopy.key = make([]byte, len(node.key))
			copy(nodeCopy.key, node.key)
		}
		return nodeCopy
	}
	return &tree{root: copyNode(t.root), keySize: t.keySize, count: t.count}
}
