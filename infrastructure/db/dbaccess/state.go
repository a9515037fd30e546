package dbaccess

import (
	"encoding/binary"

	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var statesBucket = database.MakeBucket([]byte("states"))

// stateKey builds the composite (height, hash) key used by the states,
// bodies and undo families. The big-endian height prefix keeps cursors
// ordered by height.
func stateKey(height uint64, hash *crypto.Hash) []byte {
	key := make([]byte, 8+crypto.HashSize)
	binary.BigEndian.PutUint64(key, height)
	copy(key[8:], hash[:])
	return key
}

// splitStateKey is the inverse of stateKey.
func splitStateKey(key []byte) (uint64, *crypto.Hash) {
	var hash crypto.Hash
	copy(hash[:], key[8:])
	return binary.BigEndian.Uint64(key[:8]), &hash
}

// StoreState stores a serialized header envelope keyed by (height, hash).
func StoreState(context Context, height uint64, hash *crypto.Hash, envelope []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(statesBucket.Key(stateKey(height, hash)), envelope)
}

// FetchState returns the serialized header envelope of (height, hash).
// Returns ErrNotFound if the state is not registered.
func FetchState(context Context, height uint64, hash *crypto.Hash) ([]byte, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Get(statesBucket.Key(stateKey(height, hash)))
}

// HasState returns whether (height, hash) is registered.
func HasState(context Context, height uint64, hash *crypto.Hash) (bool, error) {
	accessor, err := context.accessor()
	if err != nil {
		return false, err
	}
	return accessor.Has(statesBucket.Key(stateKey(height, hash)))
}

// DeleteState deletes the header envelope of (height, hash).
func DeleteState(context Context, height uint64, hash *crypto.Hash) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(statesBucket.Key(stateKey(height, hash)))
}

// StateCursor opens a cursor over all registered states, ordered by
// height.
func StateCursor(context Context) (database.Cursor, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Cursor(statesBucket)
}

// StateCursorKey splits a cursor key from StateCursor into its (height,
// hash) components.
func StateCursorKey(key *database.Key) (uint64, *crypto.Hash) {
	return splitStateKey(key.Key())
}
