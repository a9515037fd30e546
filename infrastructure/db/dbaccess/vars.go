package dbaccess

import (
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var varsBucket = database.MakeBucket([]byte("vars"))

// Well-known vars keys.
const (
	// VarDBVersion holds the store schema version.
	VarDBVersion = "db-version"

	// VarKeychainID holds the identifier of the keychain used for local
	// block generation.
	VarKeychainID = "keychain-id"

	// VarHorizonBranching echoes the branching horizon the store was last
	// maintained under.
	VarHorizonBranching = "horizon-branching"

	// VarHorizonSchwarzschild echoes the body-erasure horizon the store
	// was last maintained under.
	VarHorizonSchwarzschild = "horizon-schwarzschild"
)

// StoreVar stores a miscellaneous variable.
func StoreVar(context Context, name string, value []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(varsBucket.Key([]byte(name)), value)
}

// FetchVar returns a miscellaneous variable. Returns ErrNotFound if it
// was never stored.
func FetchVar(context Context, name string) ([]byte, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Get(varsBucket.Key([]byte(name)))
}
