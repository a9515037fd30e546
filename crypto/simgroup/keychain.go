package simgroup

import (
	"encoding/binary"
	"math/big"

	"github.com/tenebra-net/tenebrad/crypto"
)

// Keychain implements crypto.Keychain over the simulation group. Keys are
// derived deterministically from the seed, so the excess built by
// CoinbaseExcess always balances the output built by CoinbaseOutput for
// the same height.
type Keychain struct {
	seed [32]byte
}

// NewKeychain returns a keychain over the given seed.
func NewKeychain(seed [32]byte) *Keychain {
	return &Keychain{seed: seed}
}

// Identifier returns a stable identifier of the keychain's seed.
func (kc *Keychain) Identifier() []byte {
	id := crypto.TaggedHash(crypto.DomainSimKey, kc.seed[:], []byte("id"))
	return id[:]
}

// deriveKey derives the scalar at (height, keyType, idx).
func (kc *Keychain) deriveKey(height uint64, keyType crypto.KeyType, idx uint32) *big.Int {
	var heightBytes [8]byte
	binary.LittleEndian.PutUint64(heightBytes[:], height)
	var idxBytes [4]byte
	binary.LittleEndian.PutUint32(idxBytes[:], idx)

	hash := crypto.TaggedHash(crypto.DomainSimKey,
		kc.seed[:], heightBytes[:], []byte{byte(keyType)}, idxBytes[:])
	return Scalar(hash[:])
}

// kernelKey is the kernel key at the given height. The coinbase output
// blind is its negation, which is what balances the block.
func (kc *Keychain) kernelKey(height uint64) *big.Int {
	return kc.deriveKey(height, crypto.KeyTypeKernel, 0)
}

// CoinbaseBlind returns the blind of the coinbase output at (height,
// idx). The owning wallet derives the same value to spend the output.
func (kc *Keychain) CoinbaseBlind(height uint64, idx uint32) *big.Int {
	if idx == 0 {
		return neg(kc.kernelKey(height))
	}
	return kc.deriveKey(height, crypto.KeyTypeCoinbase, idx)
}

// CoinbaseOutput builds the coinbase output commitment and range proof.
// Only index 0 carries the kernel-balancing blind; further indices derive
// independent coinbase keys.
func (kc *Keychain) CoinbaseOutput(value uint64, height uint64, idx uint32) (crypto.Commitment, []byte, error) {
	var blind *big.Int
	if idx == 0 {
		blind = neg(kc.kernelKey(height))
	} else {
		blind = kc.deriveKey(height, crypto.KeyTypeCoinbase, idx)
	}
	commitment := Commit(value, blind)
	return commitment, RangeProof(commitment), nil
}

// CoinbaseExcess builds the kernel excess balancing the coinbase output
// of the same height.
func (kc *Keychain) CoinbaseExcess(value uint64, height uint64) (crypto.Commitment, error) {
	return ExcessOf(kc.kernelKey(height)), nil
}

// SignCoinbaseKernel signs msg with the kernel key of the given height.
func (kc *Keychain) SignCoinbaseKernel(height uint64, msg crypto.Hash) (crypto.Signature, error) {
	return SignKernel(kc.kernelKey(height), msg), nil
}
