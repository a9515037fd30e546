package radixtree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
)

// ProofStep is one level of a Merkle proof: the sibling hash at an
// internal node, the node's critical bit and which side the proven key
// descends on.
type ProofStep struct {
	Sibling   crypto.Hash
	Bit       uint16
	KeyOnLeft bool
}

// Proof authenticates a (key, value) leaf against a tree root. Steps are
// ordered root to leaf.
type Proof struct {
	Key   []byte
	Value uint32
	Steps []ProofStep
}

// prove builds the Merkle proof of key. Returns false if the key is not
// in the tree.
func (t *tree) prove(key []byte) (*Proof, bool) {
	if t.root == nil {
		return nil, false
	}

	// Hash the tree first so every node on the path carries a valid hash.
	t.rootHash()

	proof := &Proof{Key: append([]byte(nil), key...)}
	node := t.root
	for !node.isLeaf() {
		step := ProofStep{Bit: uint16(node.bit)}
		if bitAt(key, node.bit) == 0 {
			step.KeyOnLeft = true
			step.Sibling = hashOf(node.right)
			node = node.left
		} else {
			step.Sibling = hashOf(node.left)
			node = node.right
		}
		proof.Steps = append(proof.Steps, step)
	}

	if firstDiffBit(node.key, key) != -1 {
		return nil, false
	}
	proof.Value = node.value
	return proof, true
}

// VerifyProof checks that proof authenticates its (key, value) pair
// against root.
func VerifyProof(proof *Proof, root crypto.Hash) error {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], proof.Value)
	current := crypto.TaggedHash(crypto.DomainRadixLeaf, proof.Key, value[:])

	for i := len(proof.Steps) - 1; i >= 0; i-- {
		step := proof.Steps[i]
		var bit [2]byte
		binary.BigEndian.PutUint16(bit[:], step.Bit)
		if step.KeyOnLeft {
			current = crypto.TaggedHash(crypto.DomainRadixNode, bit[:], current[:], step.Sibling[:])
		} else {
			current = crypto.TaggedHash(crypto.DomainRadixNode, bit[:], step.Sibling[:], current[:])
		}
	}

	if current != root {
		return errors.New("proof does not match root")
	}
	return nil
}
