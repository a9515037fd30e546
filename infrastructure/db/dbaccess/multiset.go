package dbaccess

import (
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var multisetBucket = database.MakeBucket([]byte("multiset"))

// StoreMultiset stores the serialized ECMH multiset checksum of a state.
func StoreMultiset(context Context, hash *crypto.Hash, serialized []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(multisetBucket.Key(hash[:]), serialized)
}

// FetchMultiset returns the serialized ECMH multiset checksum of a state.
// Returns ErrNotFound if none is stored.
func FetchMultiset(context Context, hash *crypto.Hash) ([]byte, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Get(multisetBucket.Key(hash[:]))
}

// DeleteMultiset deletes the multiset checksum of a state.
func DeleteMultiset(context Context, hash *crypto.Hash) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(multisetBucket.Key(hash[:]))
}
