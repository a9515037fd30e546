package wire

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/tenebra-net/tenebrad/crypto"
)

func testHeader() *Header {
	return &Header{
		Height:     42,
		Prev:       crypto.TaggedHash(crypto.DomainHeader, []byte("prev")),
		Timestamp:  1767398400,
		Bits:       0x207fffff,
		Work:       big.NewInt(123456789),
		UTXORoot:   crypto.TaggedHash(crypto.DomainRadixNode, []byte("utxo")),
		KernelRoot: crypto.TaggedHash(crypto.DomainRadixNode, []byte("kernel")),
		Nonce:      7,
	}
}

func testBody() *Transaction {
	var commitment crypto.Commitment
	commitment[0] = 0x09
	commitment[1] = 0xaa
	var signature crypto.Signature
	signature[63] = 0xbb

	return &Transaction{
		Inputs: []*Input{
			{Commitment: commitment, Maturity: 5},
		},
		Outputs: []*Output{
			{Commitment: commitment, Maturity: 10, RangeProof: []byte{1, 2, 3}},
			{Commitment: commitment, Maturity: 250, Coinbase: true, RangeProof: []byte{4}},
		},
		Kernels: []*TxKernel{
			{Excess: commitment, Signature: signature, Fee: 3, MinHeight: 1, MaxHeight: 100},
			{Excess: commitment, Signature: signature, HashLock: []byte("preimage")},
		},
	}
}

func TestHeaderSerializationRoundTrip(t *testing.T) {
	header := testHeader()

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded := new(Header)
	if err := decoded.Deserialize(&buf); err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if !reflect.DeepEqual(header, decoded) {
		t.Fatalf("round trip mismatch:\n%s", spew.Sdump(header, decoded))
	}
	if header.BlockHash() != decoded.BlockHash() {
		t.Fatal("hashes differ after round trip")
	}
}

func TestHeaderIdentity(t *testing.T) {
	header := testHeader()
	preHash := header.PrePoWHash()
	fullHash := header.BlockHash()

	// The nonce participates only in the final identity.
	header.Nonce++
	if header.PrePoWHash() != preHash {
		t.Fatal("pre-PoW hash changed with the nonce")
	}
	if header.BlockHash() == fullHash {
		t.Fatal("block hash did not change with the nonce")
	}

	// Every other field participates in both.
	header.Nonce--
	header.Height++
	if header.PrePoWHash() == preHash || header.BlockHash() == fullHash {
		t.Fatal("height change did not affect the hashes")
	}
}

func TestTransactionSerializationRoundTrip(t *testing.T) {
	tx := testBody()

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if buf.Len() != tx.SerializeSize() {
		t.Fatalf("SerializeSize %d, wrote %d", tx.SerializeSize(), buf.Len())
	}

	decoded := new(Transaction)
	if err := decoded.Deserialize(&buf); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(tx, decoded) {
		t.Fatalf("round trip mismatch:\n%s", spew.Sdump(tx, decoded))
	}
	if tx.ID() != decoded.ID() {
		t.Fatal("IDs differ after round trip")
	}
}

func TestKernelHashExcludesSignature(t *testing.T) {
	kernel := testBody().Kernels[0]
	hash := kernel.Hash()

	kernel.Signature[0] ^= 0xff
	if kernel.Hash() != hash {
		t.Fatal("kernel hash depends on the signature")
	}
	kernel.Fee++
	if kernel.Hash() == hash {
		t.Fatal("kernel hash ignores the fee")
	}
}

func TestTransactionLockWindow(t *testing.T) {
	tests := []struct {
		name    string
		kernels []*TxKernel
		wantMin uint64
		wantMax uint64
	}{
		{
			name:    "no kernels",
			wantMin: 0,
			wantMax: ^uint64(0),
		},
		{
			name: "single bounded",
			kernels: []*TxKernel{
				{MinHeight: 5, MaxHeight: 100},
			},
			wantMin: 5,
			wantMax: 100,
		},
		{
			name: "intersection",
			kernels: []*TxKernel{
				{MinHeight: 5, MaxHeight: 100},
				{MinHeight: 10, MaxHeight: 0},
			},
			wantMin: 10,
			wantMax: 100,
		},
	}

	for _, test := range tests {
		tx := &Transaction{Kernels: test.kernels}
		gotMin, gotMax := tx.LockWindow()
		if gotMin != test.wantMin || gotMax != test.wantMax {
			t.Errorf("%s: window [%d, %d], want [%d, %d]",
				test.name, gotMin, gotMax, test.wantMin, test.wantMax)
		}
	}
}

func TestTransactionFee(t *testing.T) {
	tx := testBody()
	if got := tx.Fee(); got != 3 {
		t.Fatalf("fee %d, want 3", got)
	}
}
