// Package simgroup implements the crypto collaborator interfaces over a
// toy linear group. It exists so that the simnet and the tests can build
// and verify fully balanced blocks without the production crypto module.
//
// It is NOT hiding, NOT binding and NOT secure in any way. Do not use it
// outside simnet.
package simgroup

import (
	"bytes"
	"math/big"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
)

// groupOrder is the order of the simulation group (the secp256k1 group
// order, reused here only as a convenient 256-bit prime).
var groupOrder, _ = new(big.Int).SetString(
	"fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

// commitmentPrefix marks serialized simulation group elements.
const commitmentPrefix = 0x09

var (
	genG = tagScalar("G")
	genH = tagScalar("H")
)

func tagScalar(name string) *big.Int {
	hash := crypto.TaggedHash(crypto.DomainSimKey, []byte(name))
	return new(big.Int).Mod(new(big.Int).SetBytes(hash[:]), groupOrder)
}

// Scalar reduces the given bytes into a group scalar.
func Scalar(data []byte) *big.Int {
	return new(big.Int).Mod(new(big.Int).SetBytes(data), groupOrder)
}

// point is a group element. The simulation group is the additive group of
// integers modulo groupOrder, so elements and scalars coincide.
type point = big.Int

func mulG(k *big.Int) *point {
	return new(big.Int).Mod(new(big.Int).Mul(k, genG), groupOrder)
}

func mulH(k *big.Int) *point {
	return new(big.Int).Mod(new(big.Int).Mul(k, genH), groupOrder)
}

func add(a, b *point) *point {
	return new(big.Int).Mod(new(big.Int).Add(a, b), groupOrder)
}

func neg(a *point) *point {
	return new(big.Int).Mod(new(big.Int).Neg(a), groupOrder)
}

func serializePoint(p *point) crypto.Commitment {
	var commitment crypto.Commitment
	commitment[0] = commitmentPrefix
	p.FillBytes(commitment[1:])
	return commitment
}

func deserializePoint(commitment crypto.Commitment) (*point, error) {
	if commitment[0] != commitmentPrefix {
		return nil, errors.Errorf("commitment prefix %x is not a simulation "+
			"group element", commitment[0])
	}
	return new(big.Int).SetBytes(commitment[1:]), nil
}

// Commit returns the commitment value·H + blind·G.
func Commit(value uint64, blind *big.Int) crypto.Commitment {
	vH := mulH(new(big.Int).SetUint64(value))
	rG := mulG(blind)
	return serializePoint(add(vH, rG))
}

// ExcessOf returns key·G, the kernel excess of the given key.
func ExcessOf(key *big.Int) crypto.Commitment {
	return serializePoint(mulG(key))
}

// RangeProof builds the simulation range proof for a commitment.
func RangeProof(commitment crypto.Commitment) []byte {
	proof := crypto.TaggedHash(crypto.DomainSimRange, commitment[:])
	return proof[:]
}

// SignKernel produces a Schnorr-style signature over msg with the given
// key. The matching public key is ExcessOf(key).
func SignKernel(key *big.Int, msg crypto.Hash) crypto.Signature {
	key = new(big.Int).Mod(key, groupOrder)
	var keyBytes [32]byte
	key.FillBytes(keyBytes[:])
	nonceHash := crypto.TaggedHash(crypto.DomainSimNonce, keyBytes[:], msg[:])
	nonce := Scalar(nonceHash[:])

	r := mulG(nonce)
	e := challenge(r, ExcessOf(key), msg)
	s := new(big.Int).Mod(new(big.Int).Add(nonce, new(big.Int).Mul(e, key)), groupOrder)

	var sig crypto.Signature
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func challenge(r *point, pub crypto.Commitment, msg crypto.Hash) *big.Int {
	var rBytes [32]byte
	r.FillBytes(rBytes[:])
	hash := crypto.TaggedHash(crypto.DomainSimChal, rBytes[:], pub[:], msg[:])
	return Scalar(hash[:])
}

// Verifier implements crypto.Verifier over the simulation group.
type Verifier struct{}

// NewVerifier returns a simulation group verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// VerifyRangeProof checks a simulation range proof.
func (*Verifier) VerifyRangeProof(commitment crypto.Commitment, proof []byte) error {
	expected := crypto.TaggedHash(crypto.DomainSimRange, commitment[:])
	if !bytes.Equal(proof, expected[:]) {
		return errors.New("range proof does not match commitment")
	}
	return nil
}

// VerifyKernelSignature checks a kernel signature against the excess.
func (*Verifier) VerifyKernelSignature(excess crypto.Commitment, msg crypto.Hash, sig crypto.Signature) error {
	pub, err := deserializePoint(excess)
	if err != nil {
		return err
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	e := challenge(r, excess, msg)

	// s·G == R + e·pub
	lhs := mulG(s)
	rhs := add(r, new(big.Int).Mod(new(big.Int).Mul(e, pub), groupOrder))
	if lhs.Cmp(rhs) != 0 {
		return errors.New("kernel signature verification failed")
	}
	return nil
}

// VerifyBalance checks Σ inputs + subsidy·H == Σ outputs + fee·H + Σ excess.
func (*Verifier) VerifyBalance(inputs, outputs, excesses []crypto.Commitment, fee, subsidy uint64) error {
	sum := func(commitments []crypto.Commitment) (*point, error) {
		total := new(big.Int)
		for _, commitment := range commitments {
			p, err := deserializePoint(commitment)
			if err != nil {
				return nil, err
			}
			total = add(total, p)
		}
		return total, nil
	}

	lhs, err := sum(inputs)
	if err != nil {
		return err
	}
	lhs = add(lhs, mulH(new(big.Int).SetUint64(subsidy)))

	rhs, err := sum(outputs)
	if err != nil {
		return err
	}
	rhs = add(rhs, mulH(new(big.Int).SetUint64(fee)))
	excessSum, err := sum(excesses)
	if err != nil {
		return err
	}
	rhs = add(rhs, excessSum)

	if lhs.Cmp(rhs) != 0 {
		return errors.New("balance equation does not hold")
	}
	return nil
}
