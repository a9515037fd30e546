package mempool

import (
	"fmt"
)

// RejectCode categorizes why a transaction was refused admission.
type RejectCode uint8

// These constants define the supported reject codes.
const (
	RejectMalformed RejectCode = 0x01
	RejectInvalid   RejectCode = 0x10
	RejectDuplicate RejectCode = 0x12
	RejectExpired   RejectCode = 0x40
)

var rejectCodeStrings = map[RejectCode]string{
	RejectMalformed: "REJECT_MALFORMED",
	RejectInvalid:   "REJECT_INVALID",
	RejectDuplicate: "REJECT_DUPLICATE",
	RejectExpired:   "REJECT_EXPIRED",
}

// String returns the RejectCode in human-readable form.
func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// TxRuleError identifies a transaction rule violation. It is used to
// indicate that processing of a transaction failed due to one of the
// context-free validation rules.
type TxRuleError struct {
	RejectCode  RejectCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates a TxRuleError given a set of arguments.
func txRuleError(c RejectCode, desc string) TxRuleError {
	return TxRuleError{RejectCode: c, Description: desc}
}
