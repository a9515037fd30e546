package simgroup

import (
	"math/big"
	"testing"

	"github.com/tenebra-net/tenebrad/crypto"
)

func TestBalanceEquation(t *testing.T) {
	verifier := NewVerifier()

	// A transaction spending 100 into 90 + fee 10, with the excess
	// balancing the blinds: k = rIn - rOut.
	rIn := big.NewInt(1111)
	rOut := big.NewInt(2222)
	input := Commit(100, rIn)
	output := Commit(90, rOut)
	k := new(big.Int).Sub(rIn, rOut)
	excess := ExcessOf(k)

	err := verifier.VerifyBalance(
		[]crypto.Commitment{input},
		[]crypto.Commitment{output},
		[]crypto.Commitment{excess},
		10, 0)
	if err != nil {
		t.Fatalf("balanced transaction rejected: %v", err)
	}

	// Off by one mote: must fail.
	err = verifier.VerifyBalance(
		[]crypto.Commitment{input},
		[]crypto.Commitment{output},
		[]crypto.Commitment{excess},
		11, 0)
	if err == nil {
		t.Fatal("unbalanced transaction accepted")
	}
}

func TestKernelSignature(t *testing.T) {
	verifier := NewVerifier()
	key := big.NewInt(424242)
	msg := crypto.TaggedHash(crypto.DomainKernel, []byte("kernel"))

	sig := SignKernel(key, msg)
	excess := ExcessOf(key)
	if err := verifier.VerifyKernelSignature(excess, msg, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// Wrong message.
	otherMsg := crypto.TaggedHash(crypto.DomainKernel, []byte("other"))
	if err := verifier.VerifyKernelSignature(excess, otherMsg, sig); err == nil {
		t.Fatal("signature verified against the wrong message")
	}

	// Wrong key.
	otherExcess := ExcessOf(big.NewInt(5))
	if err := verifier.VerifyKernelSignature(otherExcess, msg, sig); err == nil {
		t.Fatal("signature verified against the wrong excess")
	}
}

func TestRangeProof(t *testing.T) {
	verifier := NewVerifier()
	commitment := Commit(77, big.NewInt(88))

	proof := RangeProof(commitment)
	if err := verifier.VerifyRangeProof(commitment, proof); err != nil {
		t.Fatalf("valid range proof rejected: %v", err)
	}

	other := Commit(78, big.NewInt(88))
	if err := verifier.VerifyRangeProof(other, proof); err == nil {
		t.Fatal("range proof verified against the wrong commitment")
	}
}

func TestKeychainCoinbaseBalances(t *testing.T) {
	verifier := NewVerifier()
	var seed [32]byte
	seed[0] = 1
	keychain := NewKeychain(seed)

	const value, height = 8000000000, 17
	commitment, proof, err := keychain.CoinbaseOutput(value, height, 0)
	if err != nil {
		t.Fatalf("coinbase output: %v", err)
	}
	if err := verifier.VerifyRangeProof(commitment, proof); err != nil {
		t.Fatalf("coinbase range proof: %v", err)
	}

	excess, err := keychain.CoinbaseExcess(value, height)
	if err != nil {
		t.Fatalf("coinbase excess: %v", err)
	}

	// A coinbase-only block: no inputs, subsidy creates the value.
	err = verifier.VerifyBalance(nil,
		[]crypto.Commitment{commitment},
		[]crypto.Commitment{excess},
		0, value)
	if err != nil {
		t.Fatalf("coinbase block does not balance: %v", err)
	}

	// The kernel signature binds to the kernel key.
	msg := crypto.TaggedHash(crypto.DomainKernel, []byte("coinbase kernel"))
	sig, err := keychain.SignCoinbaseKernel(height, msg)
	if err != nil {
		t.Fatalf("sign coinbase kernel: %v", err)
	}
	if err := verifier.VerifyKernelSignature(excess, msg, sig); err != nil {
		t.Fatalf("coinbase kernel signature rejected: %v", err)
	}
}
