// Package mempool keeps context-free-validated transactions indexed by
// profitability and by expiration height, ready for block assembly.
package mempool

import (
	"fmt"
	"sort"

	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/wire"
)

// Config holds the pool's policy knobs.
type Config struct {
	// MaximumTransactionCount caps the pool size. Admitting beyond the
	// cap evicts the least profitable transactions. Zero disables the
	// cap.
	MaximumTransactionCount int
}

// TxDesc is a pool entry: the transaction plus the precomputed sort keys
// of both indices. A single TxDesc is owned by the arena and referenced
// by both indices; eviction drops it from all three at once.
type TxDesc struct {
	Tx   *wire.Transaction
	ID   crypto.Hash
	Fee  uint64
	Size uint64

	// MinHeight and MaxHeight bound the heights this transaction may be
	// included at, intersected over its kernels.
	MinHeight uint64
	MaxHeight uint64
}

// feeRate is the profitability of the entry in fee per byte.
func (desc *TxDesc) feeRate() float64 {
	return float64(desc.Fee) / float64(desc.Size)
}

// profitLess orders entries by descending fee rate, then descending fee,
// then ascending ID. The ID component makes the order total, so block
// assembly is deterministic across nodes with the same pool.
func profitLess(a, b *TxDesc) bool {
	aRate, bRate := a.feeRate(), b.feeRate()
	if aRate != bRate {
		return aRate > bRate
	}
	if a.Fee != b.Fee {
		return a.Fee > b.Fee
	}
	return a.ID.Less(&b.ID)
}

// expiryLess orders entries by ascending expiration height, then
// ascending ID.
func expiryLess(a, b *TxDesc) bool {
	if a.MaxHeight != b.MaxHeight {
		return a.MaxHeight < b.MaxHeight
	}
	return a.ID.Less(&b.ID)
}

// TxPool is the transaction pool. It is exclusive to the owner thread.
type TxPool struct {
	config   Config
	verifier crypto.Verifier

	all    map[crypto.Hash]*TxDesc
	profit []*TxDesc // ordered by profitLess
	expiry []*TxDesc // ordered by expiryLess
}

// New returns an empty pool validating against the given verifier.
func New(config Config, verifier crypto.Verifier) *TxPool {
	return &TxPool{
		config:   config,
		verifier: verifier,
		all:      make(map[crypto.Hash]*TxDesc),
	}
}

// Count returns the number of pooled transactions.
func (mp *TxPool) Count() int {
	return len(mp.all)
}

// HaveTransaction returns whether the pool holds the transaction.
func (mp *TxPool) HaveTransaction(id *crypto.Hash) bool {
	_, ok := mp.all[*id]
	return ok
}

// AddTx admits a transaction at the given chain height. Admission runs
// context-free validation only; whether the inputs are actually unspent
// is the block builder's concern. Returns a TxRuleError on rejection.
func (mp *TxPool) AddTx(tx *wire.Transaction, height uint64) error {
	desc, err := mp.checkTransaction(tx, height)
	if err != nil {
		return err
	}

	mp.all[desc.ID] = desc
	mp.profit = insertOrdered(mp.profit, desc, profitLess)
	mp.expiry = insertOrdered(mp.expiry, desc, expiryLess)
	log.Debugf("Admitted transaction %s (fee %d, size %d)", desc.ID, desc.Fee, desc.Size)

	mp.limitCount()
	return nil
}

// checkTransaction runs the context-free validation rules.
func (mp *TxPool) checkTransaction(tx *wire.Transaction, height uint64) (*TxDesc, error) {
	if len(tx.Kernels) == 0 {
		return nil, txRuleError(RejectMalformed, "transaction has no kernels")
	}
	if len(tx.Inputs) == 0 && len(tx.Outputs) == 0 {
		return nil, txRuleError(RejectMalformed, "transaction moves nothing")
	}

	id := tx.ID()
	if _, ok := mp.all[id]; ok {
		return nil, txRuleError(RejectDuplicate,
			fmt.Sprintf("already have transaction %s", id))
	}

	seenKernels := make(map[crypto.Hash]struct{}, len(tx.Kernels))
	excesses := make([]crypto.Commitment, 0, len(tx.Kernels))
	for _, kernel := range tx.Kernels {
		kernelHash := kernel.Hash()
		if _, ok := seenKernels[kernelHash]; ok {
			return nil, txRuleError(RejectMalformed,
				fmt.Sprintf("duplicate kernel %s", kernelHash))
		}
		seenKernels[kernelHash] = struct{}{}

		err := mp.verifier.VerifyKernelSignature(kernel.Excess, kernelHash, kernel.Signature)
		if err != nil {
			return nil, txRuleError(RejectInvalid,
				fmt.Sprintf("kernel %s signature: %s", kernelHash, err))
		}
		excesses = append(excesses, kernel.Excess)
	}

	inputs := make([]crypto.Commitment, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		inputs = append(inputs, in.Commitment)
	}
	outputs := make([]crypto.Commitment, 0, len(tx.Outputs))
	for _, out := range tx.Outputs {
		if err := mp.verifier.VerifyRangeProof(out.Commitment, out.RangeProof); err != nil {
			return nil, txRuleError(RejectInvalid,
				fmt.Sprintf("output %s range proof: %s", out.Commitment, err))
		}
		outputs = append(outputs, out.Commitment)
	}

	fee := tx.Fee()
	if err := mp.verifier.VerifyBalance(inputs, outputs, excesses, fee, 0); err != nil {
		return nil, txRuleError(RejectInvalid, fmt.Sprintf("balance: %s", err))
	}

	minHeight, maxHeight := tx.LockWindow()
	if maxHeight <= height {
		return nil, txRuleError(RejectExpired,
			fmt.Sprintf("transaction %s expired at height %d", id, maxHeight))
	}

	return &TxDesc{
		Tx:        tx,
		ID:        id,
		Fee:       fee,
		Size:      uint64(tx.SerializeSize()),
		MinHeight: minHeight,
		MaxHeight: maxHeight,
	}, nil
}

// RemoveTransaction evicts the transaction from the pool, if present.
func (mp *TxPool) RemoveTransaction(id *crypto.Hash) {
	desc, ok := mp.all[*id]
	if !ok {
		return
	}
	delete(mp.all, *id)
	mp.profit = removeOrdered(mp.profit, desc, profitLess)
	mp.expiry = removeOrdered(mp.expiry, desc, expiryLess)
}

// DeleteOutOfBound evicts every transaction whose expiration height is at
// or below height, in one ordered walk of the expiration index.
func (mp *TxPool) DeleteOutOfBound(height uint64) int {
	cut := sort.Search(len(mp.expiry), func(i int) bool {
		return mp.expiry[i].MaxHeight > height
	})
	if cut == 0 {
		return 0
	}

	expired := mp.expiry[:cut]
	mp.expiry = append([]*TxDesc(nil), mp.expiry[cut:]...)
	for _, desc := range expired {
		delete(mp.all, desc.ID)
		mp.profit = removeOrdered(mp.profit, desc, profitLess)
		log.Debugf("Expired transaction %s at height %d", desc.ID, height)
	}
	return cut
}

// RemoveConfirmedKernels evicts transactions any of whose kernels appear
// in the given set. Called when a block connects: its transactions are no
// longer candidates.
func (mp *TxPool) RemoveConfirmedKernels(kernelHashes map[crypto.Hash]struct{}) {
	var evict []*TxDesc
	for _, desc := range mp.all {
		for _, kernel := range desc.Tx.Kernels {
			if _, ok := kernelHashes[kernel.Hash()]; ok {
				evict = append(evict, desc)
				break
			}
		}
	}
	for _, desc := range evict {
		mp.RemoveTransaction(&desc.ID)
	}
}

// ForEachByProfit streams pool entries from most to least profitable.
// Returning false stops the walk.
func (mp *TxPool) ForEachByProfit(fn func(desc *TxDesc) bool) {
	for _, desc := range mp.profit {
		if !fn(desc) {
			return
		}
	}
}

// Clear empties the pool.
func (mp *TxPool) Clear() {
	mp.all = make(map[crypto.Hash]*TxDesc)
	mp.profit = nil
	mp.expiry = nil
}

// limitCount enforces the configured pool cap by evicting from the
// unprofitable end of the profit index.
func (mp *TxPool) limitCount() {
	if mp.config.MaximumTransactionCount == 0 {
		return
	}
	for len(mp.all) > mp.config.MaximumTransactionCount {
		worst := mp.profit[len(mp.profit)-1]
		log.Debugf("Evicting transaction %s: pool over capacity", worst.ID)
		mp.RemoveTransaction(&worst.ID)
	}
}

// insertOrdered inserts desc into the slice at its sort position.
func insertOrdered(slice []*TxDesc, desc *TxDesc, less func(a, b *TxDesc) bool) []*TxDesc {
	i := sort.Search(len(slice), func(i int) bool {
		return less(desc, slice[i])
	})
	slice = append(slice, nil)
	copy(slice[i+1:], slice[i:])
	slice[i] = desc
	return slice
}

// removeOrdered removes desc from the slice, locating it by binary
// search.
func removeOrdered(slice []*TxDesc, desc *TxDesc, less func(a, b *TxDesc) bool) []*TxDesc {
	i := sort.Search(len(slice), func(i int) bool {
		return !less(slice[i], desc)
	})
	for i < len(slice) && slice[i] != desc {
		i++
	}
	if i == len(slice) {
		return slice
	}
	copy(slice[i:], slice[i+1:])
	return slice[:len(slice)-1]
}
