package wire

import (
	"bytes"
	"io"
)

// Block pairs a header with the body it commits to. The body is the
// aggregate transaction of the block: all inputs, outputs and kernels of
// its transactions merged, coinbase included.
type Block struct {
	Header Header
	Body   Transaction
}

// Serialize writes the canonical encoding of the block.
func (b *Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}
	return b.Body.Serialize(w)
}

// Deserialize reads a block from its canonical encoding.
func (b *Block) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}
	return b.Body.Deserialize(r)
}

// Bytes returns the canonical encoding of the block.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
