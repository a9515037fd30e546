package blockdag

import (
	"fmt"
)

// ErrorCode identifies a kind of consensus rule violation.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateState indicates a header with the same hash is already
	// registered.
	ErrDuplicateState ErrorCode = iota

	// ErrInvalidPoW indicates the header's proof-of-work is invalid.
	ErrInvalidPoW

	// ErrWrongHeight indicates the header's height does not follow its
	// parent's.
	ErrWrongHeight

	// ErrUnexpectedDifficulty indicates the declared difficulty bits do
	// not match the target expected of the header's position.
	ErrUnexpectedDifficulty

	// ErrTimeTooOld indicates the header's timestamp is not after the
	// median time of its ancestors.
	ErrTimeTooOld

	// ErrUnexpectedWork indicates the declared cumulative work does not
	// match the parent's work plus the header's own.
	ErrUnexpectedWork

	// ErrNoUnspent indicates an input references a UTXO entry that does
	// not exist.
	ErrNoUnspent

	// ErrImmatureSpend indicates an input spends an output before its
	// maturity height.
	ErrImmatureSpend

	// ErrWrongMaturity indicates an output declares a maturity that does
	// not follow from its creation height.
	ErrWrongMaturity

	// ErrBadRangeProof indicates an output's range proof fails
	// verification.
	ErrBadRangeProof

	// ErrDuplicateKernel indicates a kernel with the same hash is already
	// in the kernel tree.
	ErrDuplicateKernel

	// ErrKernelNotFound indicates a kernel to be removed is not in the
	// kernel tree.
	ErrKernelNotFound

	// ErrKernelSignature indicates a kernel signature fails verification.
	ErrKernelSignature

	// ErrKernelLocked indicates a kernel's minimum lock height is above
	// the block height.
	ErrKernelLocked

	// ErrKernelExpired indicates a kernel's maximum lock height is below
	// the block height.
	ErrKernelExpired

	// ErrBadBalance indicates the block-level balance equation does not
	// hold.
	ErrBadBalance

	// ErrBadRoots indicates the tree roots after applying the block do
	// not match the roots its header declares.
	ErrBadRoots

	// ErrBadBody indicates a block body that cannot be parsed or does not
	// match its header.
	ErrBadBody

	// ErrFossilReorg indicates a reorganization whose fork point lies
	// below the body-erasure horizon. Such reorgs cannot be replayed and
	// are refused.
	ErrFossilReorg
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateState:       "ErrDuplicateState",
	ErrInvalidPoW:           "ErrInvalidPoW",
	ErrWrongHeight:          "ErrWrongHeight",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrTimeTooOld:           "ErrTimeTooOld",
	ErrUnexpectedWork:       "ErrUnexpectedWork",
	ErrNoUnspent:            "ErrNoUnspent",
	ErrImmatureSpend:        "ErrImmatureSpend",
	ErrWrongMaturity:        "ErrWrongMaturity",
	ErrBadRangeProof:        "ErrBadRangeProof",
	ErrDuplicateKernel:      "ErrDuplicateKernel",
	ErrKernelNotFound:       "ErrKernelNotFound",
	ErrKernelSignature:      "ErrKernelSignature",
	ErrKernelLocked:         "ErrKernelLocked",
	ErrKernelExpired:        "ErrKernelExpired",
	ErrBadBalance:           "ErrBadBalance",
	ErrBadRoots:             "ErrBadRoots",
	ErrBadBody:              "ErrBadBody",
	ErrFossilReorg:          "ErrFossilReorg",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a header or block failed due to one of the many validation
// rules. The caller can use errors.As to access the ErrorCode field and
// ascertain the specific reason for the failure.
//
// A RuleError means the submitting peer is misbehaving. Any other error
// out of the chain state engine means the node's own store is damaged.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}
