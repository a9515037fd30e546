package dbaccess

import (
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var undoBucket = database.MakeBucket([]byte("undo"))

// StoreUndoData stores the serialized undo log of (height, hash).
func StoreUndoData(context Context, height uint64, hash *crypto.Hash, undoBytes []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(undoBucket.Key(stateKey(height, hash)), undoBytes)
}

// FetchUndoData returns the serialized undo log of (height, hash).
// Returns ErrNotFound if it was never stored or has been freed.
func FetchUndoData(context Context, height uint64, hash *crypto.Hash) ([]byte, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Get(undoBucket.Key(stateKey(height, hash)))
}

// DeleteUndoData frees the undo log of (height, hash).
func DeleteUndoData(context Context, height uint64, hash *crypto.Hash) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(undoBucket.Key(stateKey(height, hash)))
}
