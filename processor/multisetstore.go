package processor

import (
	"encoding/binary"

	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
	"github.com/tenebra-net/tenebrad/radixtree"
)

// multisetStore keeps, per active state, an ECMH multiset over the live
// chain state: every UTXO leaf with its multiplicity plus every kernel.
// It is an internal integrity cross-check, cheap to maintain
// incrementally and order-independent; it takes no part in consensus
// roots.
type multisetStore struct {
	new    map[crypto.Hash]struct{}
	loaded map[crypto.Hash]secp256k1.MultiSet
}

func newMultisetStore() *multisetStore {
	return &multisetStore{
		new:    make(map[crypto.Hash]struct{}),
		loaded: make(map[crypto.Hash]secp256k1.MultiSet),
	}
}

// setMultiset records the multiset of the given state.
func (store *multisetStore) setMultiset(hash *crypto.Hash, ms *secp256k1.MultiSet) {
	store.loaded[*hash] = *ms
	store.new[*hash] = struct{}{}
}

// multisetByHash returns the multiset recorded for the given state,
// loading it from the database if needed.
func (store *multisetStore) multisetByHash(context dbaccess.Context, hash *crypto.Hash) (*secp256k1.MultiSet, error) {
	if ms, ok := store.loaded[*hash]; ok {
		return &ms, nil
	}

	serialized, err := dbaccess.FetchMultiset(context, hash)
	if err != nil {
		return nil, err
	}
	ms, err := deserializeMultiset(serialized)
	if err != nil {
		return nil, err
	}
	store.loaded[*hash] = *ms
	return ms, nil
}

// flushToDB writes all new multisets within the given context.
func (store *multisetStore) flushToDB(context dbaccess.Context) error {
	for hash := range store.new {
		ms := store.loaded[hash]
		hashCopy := hash
		err := dbaccess.StoreMultiset(context, &hashCopy, ms.Serialize()[:])
		if err != nil {
			return err
		}
	}
	return nil
}

// clearNewEntries is called after the enclosing transaction commits.
func (store *multisetStore) clearNewEntries() {
	store.new = make(map[crypto.Hash]struct{})
}

func deserializeMultiset(serialized []byte) (*secp256k1.MultiSet, error) {
	buf := &secp256k1.SerializedMultiSet{}
	if len(serialized) != len(buf) {
		return nil, errors.Errorf("serialized multiset is %d bytes, want %d",
			len(serialized), len(buf))
	}
	copy(buf[:], serialized)
	return secp256k1.DeserializeMultiSet(buf)
}

// utxoMultisetElement serializes a UTXO leaf for multiset membership. The
// multiplicity is part of the element, so a change of multiplicity is a
// remove of the old element plus an add of the new one.
func utxoMultisetElement(leafKey []byte, multiplicity uint32) []byte {
	element := make([]byte, 1+len(leafKey)+4)
	element[0] = 'u'
	copy(element[1:], leafKey)
	binary.LittleEndian.PutUint32(element[1+len(leafKey):], multiplicity)
	return element
}

// kernelMultisetElement serializes a kernel for multiset membership.
func kernelMultisetElement(kernelHash crypto.Hash) []byte {
	element := make([]byte, 1+crypto.HashSize)
	element[0] = 'k'
	copy(element[1:], kernelHash[:])
	return element
}

// multisetOfTrees computes the multiset of the full tree contents. Used
// on startup to cross-check the incrementally maintained tip multiset.
func multisetOfTrees(utxos *radixtree.UtxoTree, kernels *radixtree.HashOnlyTree) *secp256k1.MultiSet {
	ms := secp256k1.NewMultiset()
	utxos.Walk(func(commitment crypto.Commitment, maturity uint64, multiplicity uint32) bool {
		ms.Add(utxoMultisetElement(radixtree.UtxoKey(commitment, maturity), multiplicity))
		return true
	})
	kernels.Walk(func(hash crypto.Hash) bool {
		ms.Add(kernelMultisetElement(hash))
		return true
	})
	return ms
}
