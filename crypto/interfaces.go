package crypto

// Verifier checks the cryptographic claims carried by block elements. The
// actual group arithmetic lives outside the chain-state core; the core
// only sees pass/fail.
type Verifier interface {
	// VerifyRangeProof checks that proof demonstrates the committed value
	// lies in the legal range.
	VerifyRangeProof(commitment Commitment, proof []byte) error

	// VerifyKernelSignature checks the kernel signature over msg against
	// the kernel's excess used as the public key.
	VerifyKernelSignature(excess Commitment, msg Hash, sig Signature) error

	// VerifyBalance checks the block-level balance equation:
	//
	//   Σ inputs + subsidy·H == Σ outputs + fee·H + Σ excess
	//
	// For context-free transaction validation subsidy is zero.
	VerifyBalance(inputs, outputs, excesses []Commitment, fee, subsidy uint64) error
}

// KeyType selects the derivation path of a locally generated key.
type KeyType uint8

// Key types used by block generation.
const (
	KeyTypeCommission KeyType = iota
	KeyTypeCoinbase
	KeyTypeKernel
)

func (kt KeyType) String() string {
	switch kt {
	case KeyTypeCommission:
		return "commission"
	case KeyTypeCoinbase:
		return "coinbase"
	case KeyTypeKernel:
		return "kernel"
	}
	return "unknown"
}

// Keychain derives the keys for locally generated blocks and produces the
// coinbase output and its balancing kernel. Implementations own the master
// key material; the core only handles the resulting opaque elements.
type Keychain interface {
	// Identifier returns a stable identifier of the master key, persisted
	// in the store to detect key mismatches across restarts.
	Identifier() []byte

	// CoinbaseOutput builds the coinbase output commitment and range proof
	// for value at the key derived from (height, KeyTypeCoinbase, idx).
	CoinbaseOutput(value uint64, height uint64, idx uint32) (Commitment, []byte, error)

	// CoinbaseExcess builds the kernel excess balancing the coinbase
	// output built for the same height. The kernel message is not known
	// until the excess is, so signing is a separate step.
	CoinbaseExcess(value uint64, height uint64) (Commitment, error)

	// SignCoinbaseKernel signs msg with the kernel key derived at
	// (height, KeyTypeKernel, 0).
	SignCoinbaseKernel(height uint64, msg Hash) (Signature, error)
}
