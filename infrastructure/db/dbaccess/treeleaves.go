package dbaccess

import (
	"encoding/binary"

	"github.com/tenebra-net/tenebrad/infrastructure/db/database"
)

var (
	utxoTreeBucket   = database.MakeBucket([]byte("utxo-tree"))
	kernelTreeBucket = database.MakeBucket([]byte("kernel-tree"))
)

// StoreUtxoLeaf stores the multiplicity of a UTXO tree leaf.
func StoreUtxoLeaf(context Context, leafKey []byte, multiplicity uint32) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], multiplicity)
	return accessor.Put(utxoTreeBucket.Key(leafKey), value[:])
}

// DeleteUtxoLeaf deletes a UTXO tree leaf.
func DeleteUtxoLeaf(context Context, leafKey []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(utxoTreeBucket.Key(leafKey))
}

// UtxoLeafCursor opens a cursor over all persisted UTXO tree leaves in
// key order.
func UtxoLeafCursor(context Context) (database.Cursor, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Cursor(utxoTreeBucket)
}

// StoreKernelLeaf stores a kernel tree leaf.
func StoreKernelLeaf(context Context, leafKey []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Put(kernelTreeBucket.Key(leafKey), []byte{})
}

// DeleteKernelLeaf deletes a kernel tree leaf.
func DeleteKernelLeaf(context Context, leafKey []byte) error {
	accessor, err := context.accessor()
	if err != nil {
		return err
	}
	return accessor.Delete(kernelTreeBucket.Key(leafKey))
}

// KernelLeafCursor opens a cursor over all persisted kernel tree leaves
// in key order.
func KernelLeafCursor(context Context) (database.Cursor, error) {
	accessor, err := context.accessor()
	if err != nil {
		return nil, err
	}
	return accessor.Cursor(kernelTreeBucket)
}
