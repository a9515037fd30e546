package dbaccess

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var tipKey = database.MakeBucket().Key([]byte("tip"))

// StoreTip persists the (height, hash) of the active tip.
func StoreTip(context Context, height uint64, hash *crypto.Hash) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	value := make([]byte, 8+crypto.HashSize)
	binary.BigEndian.PutUint64(value, height)
	copy(value[8:], hash[:])
	return accessor.Put(tipKey, value)
}

// FetchTip returns the persisted (height, hash) of the active tip.
// Returns ErrNotFound before the first tip is stored.
func FetchTip(context Context) (uint64, *crypto.Hash, error) {
	accessor, err := context.accessor()
	if err != nil {
		return 0, nil, err
	}
	value, err := accessor.Get(tipKey)
	if err != nil {
		return 0, nil, err
	}
	if len(value) != 8+crypto.HashSize {
		return 0, nil, errors.Errorf("corrupt tip record of %d bytes", len(value))
	}
	var hash crypto.Hash
	copy(hash[:], value[8:])
	return binary.BigEndian.Uint64(value[:8]), &hash, nil
}

// DeleteTip removes the persisted tip, returning the store to its
// pre-genesis state.
func DeleteTip(context Context) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(tipKey)
}
