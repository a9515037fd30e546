package blockdag

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/wire"
)

// PeerID identifies the peer a header or body was first received from.
// The zero value means "no peer": locally generated or loaded from disk.
type PeerID [32]byte

// IsZero returns whether the PeerID is the no-peer value.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

func (p PeerID) String() string {
	return hex.EncodeToString(p[:8])
}

// Status is the flag lattice of a DAG node. The flags are ordered:
// Active implies Functional implies Reachable.
type Status uint8

const (
	// StatusReachable means the header chain back to genesis is fully
	// known.
	StatusReachable Status = 1 << iota

	// StatusFunctional means block bodies exist for the entire path back
	// to genesis. Only functional headers compete for the tip.
	StatusFunctional

	// StatusActive means the header is on the canonical chain currently
	// reflected by the trees.
	StatusActive

	// StatusFailed means the header, its body, or one of its ancestors
	// failed validation. Failed headers are kept in the DAG to avoid
	// refetch loops but never compete for the tip.
	StatusFailed
)

// Node is a header registered in the DAG together with its flags and
// bookkeeping. Parent/child relationships are stored as hash lookups on
// the DAG, never as owning pointers.
type Node struct {
	Header  *wire.Header
	ID      wire.ID
	Status  Status
	Peer    PeerID
	HasBody bool
}

func newNode(header *wire.Header, peer PeerID) *Node {
	return &Node{
		Header: header,
		ID:     header.ID(),
		Peer:   peer,
	}
}

// IsGenesis returns whether the node is at height zero.
func (n *Node) IsGenesis() bool {
	return n.ID.Height == 0
}

// HasFlag returns whether all the given flags are set.
func (n *Node) HasFlag(flag Status) bool {
	return n.Status&flag == flag
}

func (n *Node) String() string {
	return n.ID.String()
}

// serializeNode encodes the node's header and flags into the states
// family envelope.
func serializeNode(n *Node) []byte {
	var buf bytes.Buffer
	if err := n.Header.Serialize(&buf); err != nil {
		panic(err)
	}
	buf.WriteByte(byte(n.Status))
	buf.Write(n.Peer[:])
	return buf.Bytes()
}

// deserializeNode decodes a states family envelope.
func deserializeNode(envelope []byte) (*Node, error) {
	r := bytes.NewReader(envelope)
	header := new(wire.Header)
	if err := header.Deserialize(r); err != nil {
		return nil, errors.Wrap(err, "malformed state envelope header")
	}
	trailer := make([]byte, r.Len())
	if _, err := r.Read(trailer); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(trailer) != 1+len(PeerID{}) {
		return nil, errors.Errorf("state envelope trailer of %d bytes", len(trailer))
	}

	node := newNode(header, PeerID{})
	node.Status = Status(trailer[0])
	copy(node.Peer[:], trailer[1:])
	return node, nil
}

// betterTip returns the preferred of two candidate tips: higher
// cumulative work wins, equal work breaks ties toward the lower hash.
// The result is deterministic and identical on every node of the network.
func betterTip(a, b *Node) *Node {
	cmp := a.Header.Work.Cmp(b.Header.Work)
	if cmp > 0 {
		return a
	}
	if cmp < 0 {
		return b
	}
	if a.ID.Hash.Less(&b.ID.Hash) {
		return a
	}
	return b
}
