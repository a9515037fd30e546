package wire

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/tenebra-net/tenebrad/crypto"
)

// workSize is the serialized size of the cumulative work field.
const workSize = 32

// ID identifies a header by its height and final hash. All persistent
// structures key headers this way.
type ID struct {
	Height uint64
	Hash   crypto.Hash
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%s", id.Height, id.Hash)
}

// Less orders IDs by height, then by hash. Hash order doubles as the
// consensus tie-break between equal-work chains.
func (id *ID) Less(target *ID) bool {
	if id.Height != target.Height {
		return id.Height < target.Height
	}
	return id.Hash.Less(&target.Hash)
}

// Header is the full system state of a block: everything needed to verify
// its place in the chain and the tree roots resulting from its
// application.
type Header struct {
	Height     uint64
	Prev       crypto.Hash
	Timestamp  uint64
	Bits       uint32
	Work       *big.Int // cumulative chain work including this block
	UTXORoot   crypto.Hash
	KernelRoot crypto.Hash
	Nonce      uint64
}

// serialize writes the canonical encoding. The nonce is written only when
// withNonce is set; the nonce-less prefix is the intermediate identity the
// PoW commits to.
func (h *Header) serialize(w io.Writer, withNonce bool) error {
	if err := writeUint64(w, h.Height); err != nil {
		return err
	}
	if err := writeBytes(w, h.Prev[:]); err != nil {
		return err
	}
	if err := writeUint64(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	var work [workSize]byte
	h.Work.FillBytes(work[:])
	if err := writeBytes(w, work[:]); err != nil {
		return err
	}
	if err := writeBytes(w, h.UTXORoot[:]); err != nil {
		return err
	}
	if err := writeBytes(w, h.KernelRoot[:]); err != nil {
		return err
	}
	if !withNonce {
		return nil
	}
	return writeUint64(w, h.Nonce)
}

// Serialize writes the full canonical encoding of the header.
func (h *Header) Serialize(w io.Writer) error {
	return h.serialize(w, true)
}

// Deserialize reads a header from its canonical encoding.
func (h *Header) Deserialize(r io.Reader) error {
	var err error
	if h.Height, err = readUint64(r); err != nil {
		return err
	}
	if err = readBytes(r, h.Prev[:]); err != nil {
		return err
	}
	if h.Timestamp, err = readUint64(r); err != nil {
		return err
	}
	if h.Bits, err = readUint32(r); err != nil {
		return err
	}
	var work [workSize]byte
	if err = readBytes(r, work[:]); err != nil {
		return err
	}
	h.Work = new(big.Int).SetBytes(work[:])
	if err = readBytes(r, h.UTXORoot[:]); err != nil {
		return err
	}
	if err = readBytes(r, h.KernelRoot[:]); err != nil {
		return err
	}
	h.Nonce, err = readUint64(r)
	return err
}

// Bytes returns the full canonical encoding of the header.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		panic(err) // bytes.Buffer does not fail
	}
	return buf.Bytes()
}

// PrePoWHash is the intermediate identity of the header: the hash of its
// canonical encoding excluding the nonce.
func (h *Header) PrePoWHash() crypto.Hash {
	var buf bytes.Buffer
	if err := h.serialize(&buf, false); err != nil {
		panic(err)
	}
	return crypto.TaggedHash(crypto.DomainHeader, buf.Bytes())
}

// BlockHash is the final identity of the header, including the nonce.
// This is the hash the proof-of-work is checked against and the hash all
// chain structures key by.
func (h *Header) BlockHash() crypto.Hash {
	return crypto.TaggedHash(crypto.DomainHeader, h.Bytes())
}

// ID returns the (height, hash) identity of the header.
func (h *Header) ID() ID {
	return ID{Height: h.Height, Hash: h.BlockHash()}
}
