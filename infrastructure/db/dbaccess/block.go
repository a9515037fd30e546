package dbaccess

import (
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var bodiesBucket = database.MakeBucket([]byte("bodies"))

// StoreBody stores the serialized block body of (height, hash).
func StoreBody(context Context, height uint64, hash *crypto.Hash, bodyBytes []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(bodiesBucket.Key(stateKey(height, hash)), bodyBytes)
}

// FetchBody returns the serialized block body of (height, hash). Returns
// ErrNotFound if the body was never stored or has been erased.
func FetchBody(context Context, height uint64, hash *crypto.Hash) ([]byte, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Get(bodiesBucket.Key(stateKey(height, hash)))
}

// HasBody returns whether the body of (height, hash) is stored.
func HasBody(context Context, height uint64, hash *crypto.Hash) (bool, error) {
	accessor, err := context.accessor()
	if err != nil {
		return false, err
	}
	return accessor.Has(bodiesBucket.Key(stateKey(height, hash)))
}

// DeleteBody erases the body of (height, hash). The header is unaffected.
func DeleteBody(context Context, height uint64, hash *crypto.Hash) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(bodiesBucket.Key(stateKey(height, hash)))
}
