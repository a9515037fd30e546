package wire

import (
	"bytes"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
)

// maxBodyElements bounds the element counts of a deserialized body.
const maxBodyElements = 1 << 20

// Input spends an unspent output. It references the output's commitment
// together with the maturity the spender expects it to carry; the pair is
// the full identity of a UTXO entry.
type Input struct {
	Commitment crypto.Commitment
	Maturity   uint64
}

func (in *Input) serialize(w io.Writer) error {
	if err := writeBytes(w, in.Commitment[:]); err != nil {
		return err
	}
	return writeUint64(w, in.Maturity)
}

func (in *Input) deserialize(r io.Reader) error {
	if err := readBytes(r, in.Commitment[:]); err != nil {
		return err
	}
	var err error
	in.Maturity, err = readUint64(r)
	return err
}

// Output creates an unspent output: a commitment, the height at which it
// becomes spendable, and the range proof over the committed value.
type Output struct {
	Commitment crypto.Commitment
	Maturity   uint64
	Coinbase   bool
	RangeProof []byte
}

func (out *Output) serialize(w io.Writer) error {
	if err := writeBytes(w, out.Commitment[:]); err != nil {
		return err
	}
	if err := writeUint64(w, out.Maturity); err != nil {
		return err
	}
	coinbase := byte(0)
	if out.Coinbase {
		coinbase = 1
	}
	if err := writeBytes(w, []byte{coinbase}); err != nil {
		return err
	}
	return writeVarBytes(w, out.RangeProof)
}

func (out *Output) deserialize(r io.Reader) error {
	if err := readBytes(r, out.Commitment[:]); err != nil {
		return err
	}
	var err error
	if out.Maturity, err = readUint64(r); err != nil {
		return err
	}
	var coinbase [1]byte
	if err := readBytes(r, coinbase[:]); err != nil {
		return err
	}
	if coinbase[0] > 1 {
		return errors.Errorf("invalid coinbase flag %d", coinbase[0])
	}
	out.Coinbase = coinbase[0] == 1
	out.RangeProof, err = readVarBytes(r)
	return err
}

// TxKernel proves the zero-sum balance of a transaction without revealing
// amounts. Its hash (excluding the signature) is both the message the
// signature covers and the key of the kernel commitment tree.
type TxKernel struct {
	Excess    crypto.Commitment
	Signature crypto.Signature
	Fee       uint64
	MinHeight uint64
	MaxHeight uint64
	HashLock  []byte
}

func (k *TxKernel) serialize(w io.Writer, withSignature bool) error {
	if err := writeBytes(w, k.Excess[:]); err != nil {
		return err
	}
	if err := writeUint64(w, k.Fee); err != nil {
		return err
	}
	if err := writeUint64(w, k.MinHeight); err != nil {
		return err
	}
	if err := writeUint64(w, k.MaxHeight); err != nil {
		return err
	}
	if err := writeVarBytes(w, k.HashLock); err != nil {
		return err
	}
	if !withSignature {
		return nil
	}
	return writeBytes(w, k.Signature[:])
}

func (k *TxKernel) deserialize(r io.Reader) error {
	if err := readBytes(r, k.Excess[:]); err != nil {
		return err
	}
	var err error
	if k.Fee, err = readUint64(r); err != nil {
		return err
	}
	if k.MinHeight, err = readUint64(r); err != nil {
		return err
	}
	if k.MaxHeight, err = readUint64(r); err != nil {
		return err
	}
	if k.HashLock, err = readVarBytes(r); err != nil {
		return err
	}
	return readBytes(r, k.Signature[:])
}

// Hash is the kernel's identity: the hash of its canonical encoding
// excluding the signature. It doubles as the signed message.
func (k *TxKernel) Hash() crypto.Hash {
	var buf bytes.Buffer
	if err := k.serialize(&buf, false); err != nil {
		panic(err)
	}
	return crypto.TaggedHash(crypto.DomainKernel, buf.Bytes())
}

// Transaction is a list of inputs, outputs and kernels. A block body is
// the same structure: the aggregate of all its transactions.
type Transaction struct {
	Inputs  []*Input
	Outputs []*Output
	Kernels []*TxKernel
}

// Serialize writes the canonical encoding of the transaction.
func (tx *Transaction) Serialize(w io.Writer) error {
	if err := writeUvarint(w, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if err := in.serialize(w); err != nil {
			return err
		}
	}
	if err := writeUvarint(w, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		if err := out.serialize(w); err != nil {
			return err
		}
	}
	if err := writeUvarint(w, uint64(len(tx.Kernels))); err != nil {
		return err
	}
	for _, kernel := range tx.Kernels {
		if err := kernel.serialize(w, true); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a transaction from its canonical encoding.
func (tx *Transaction) Deserialize(r io.Reader) error {
	inputCount, err := readUvarint(r)
	if err != nil {
		return err
	}
	if inputCount > maxBodyElements {
		return errors.Errorf("input count %d exceeds maximum %d", inputCount, maxBodyElements)
	}
	tx.Inputs = make([]*Input, inputCount)
	for i := range tx.Inputs {
		tx.Inputs[i] = new(Input)
		if err := tx.Inputs[i].deserialize(r); err != nil {
			return err
		}
	}

	outputCount, err := readUvarint(r)
	if err != nil {
		return err
	}
	if outputCount > maxBodyElements {
		return errors.Errorf("output count %d exceeds maximum %d", outputCount, maxBodyElements)
	}
	tx.Outputs = make([]*Output, outputCount)
	for i := range tx.Outputs {
		tx.Outputs[i] = new(Output)
		if err := tx.Outputs[i].deserialize(r); err != nil {
			return err
		}
	}

	kernelCount, err := readUvarint(r)
	if err != nil {
		return err
	}
	if kernelCount > maxBodyElements {
		return errors.Errorf("kernel count %d exceeds maximum %d", kernelCount, maxBodyElements)
	}
	tx.Kernels = make([]*TxKernel, kernelCount)
	for i := range tx.Kernels {
		tx.Kernels[i] = new(TxKernel)
		if err := tx.Kernels[i].deserialize(r); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the canonical encoding of the transaction.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ID is the transaction's identity: the hash of its canonical encoding.
func (tx *Transaction) ID() crypto.Hash {
	return crypto.TaggedHash(crypto.DomainTx, tx.Bytes())
}

// SerializeSize returns the length of the canonical encoding.
func (tx *Transaction) SerializeSize() int {
	return len(tx.Bytes())
}

// Fee returns the total fee carried by the transaction's kernels.
func (tx *Transaction) Fee() uint64 {
	var fee uint64
	for _, kernel := range tx.Kernels {
		fee += kernel.Fee
	}
	return fee
}

// LockWindow returns the intersection of the kernels' lock windows: the
// heights at which the transaction may be included. An empty transaction
// has the full window.
func (tx *Transaction) LockWindow() (minHeight, maxHeight uint64) {
	minHeight, maxHeight = 0, math.MaxUint64
	for _, kernel := range tx.Kernels {
		if kernel.MinHeight > minHeight {
			minHeight = kernel.MinHeight
		}
		max := kernel.MaxHeight
		if max == 0 {
			max = math.MaxUint64
		}
		if max < maxHeight {
			maxHeight = max
		}
	}
	return minHeight, maxHeight
}
