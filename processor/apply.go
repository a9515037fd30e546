package processor

import (
	"bytes"
	"fmt"

	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
	"github.com/tenebra-net/tenebrad/radixtree"
	"github.com/tenebra-net/tenebrad/wire"
)

// LiveRoot combines the two tree roots into the single live commitment
// of the chain state.
func LiveRoot(utxoRoot, kernelRoot crypto.Hash) crypto.Hash {
	return crypto.TaggedHash(crypto.DomainLive, utxoRoot[:], kernelRoot[:])
}

// msOp is a deferred multiset update, collected during element
// application and replayed onto the parent state's multiset once the
// whole block has validated.
type msOp struct {
	element []byte
	remove  bool
}

// applyBlockForward validates the node's body against the trees and
// moves them forward. On a rule violation the trees are restored to
// their pre-apply state and the violation is returned; the enclosing
// transaction stays usable. Any other error is corruption.
func (p *NodeProcessor) applyBlockForward(dbTx *dbaccess.TxContext, node *blockdag.Node) error {
	body, err := p.loadBody(dbTx, node)
	if err != nil {
		return err
	}

	height := node.ID.Height
	undo := &rollbackData{}
	var msOps []msOp
	inputsApplied, outputsApplied, kernelsApplied := 0, 0, 0

	// unwind restores the in-memory trees after a mid-apply rule
	// violation, using the undo data accumulated so far.
	unwind := func() error {
		for i := kernelsApplied - 1; i >= 0; i-- {
			if err := p.kernels.Remove(body.Kernels[i].Hash()); err != nil {
				return errors.Wrap(err, "unwinding kernel insert")
			}
		}
		for i := outputsApplied - 1; i >= 0; i-- {
			out := body.Outputs[i]
			if _, err := p.utxos.Decrement(out.Commitment, out.Maturity); err != nil {
				return errors.Wrap(err, "unwinding output insert")
			}
		}
		for i := inputsApplied - 1; i >= 0; i-- {
			in := body.Inputs[i]
			p.utxos.Set(in.Commitment, in.Maturity, undo.priorMultiplicities[i])
		}
		return nil
	}
	fail := func(ruleErr error) error {
		if err := unwind(); err != nil {
			return err
		}
		return ruleErr
	}

	// Inputs: decrement or fail.
	for _, in := range body.Inputs {
		if height < in.Maturity {
			return fail(ruleError(blockdag.ErrImmatureSpend,
				fmt.Sprintf("input %s is immature until height %d", in.Commitment, in.Maturity)))
		}
		leafKey := radixtree.UtxoKey(in.Commitment, in.Maturity)
		prior, err := p.utxos.Decrement(in.Commitment, in.Maturity)
		if err != nil {
			if errors.Is(err, radixtree.ErrNoUnspent) {
				return fail(ruleError(blockdag.ErrNoUnspent,
					fmt.Sprintf("input %s/%d has no unspent entry", in.Commitment, in.Maturity)))
			}
			return err
		}
		undo.priorMultiplicities = append(undo.priorMultiplicities, prior)
		inputsApplied++

		msOps = append(msOps, msOp{element: utxoMultisetElement(leafKey, prior), remove: true})
		if prior > 1 {
			msOps = append(msOps, msOp{element: utxoMultisetElement(leafKey, prior-1)})
		}
	}

	// Outputs: validate and insert.
	for _, out := range body.Outputs {
		expectedMaturity := height
		if out.Coinbase {
			expectedMaturity = height + p.params.CoinbaseMaturityDelta
		}
		if out.Maturity != expectedMaturity {
			return fail(ruleError(blockdag.ErrWrongMaturity,
				fmt.Sprintf("output %s declares maturity %d, expected %d",
					out.Commitment, out.Maturity, expectedMaturity)))
		}
		if err := p.verifier.VerifyRangeProof(out.Commitment, out.RangeProof); err != nil {
			return fail(ruleError(blockdag.ErrBadRangeProof,
				fmt.Sprintf("output %s range proof: %s", out.Commitment, err)))
		}

		leafKey := radixtree.UtxoKey(out.Commitment, out.Maturity)
		multiplicity := p.utxos.Insert(out.Commitment, out.Maturity)
		outputsApplied++

		if multiplicity > 1 {
			msOps = append(msOps, msOp{element: utxoMultisetElement(leafKey, multiplicity-1), remove: true})
		}
		msOps = append(msOps, msOp{element: utxoMultisetElement(leafKey, multiplicity)})
	}

	// Kernels: validate lock heights and signatures, insert.
	for _, kernel := range body.Kernels {
		kernelHash := kernel.Hash()
		if height < kernel.MinHeight {
			return fail(ruleError(blockdag.ErrKernelLocked,
				fmt.Sprintf("kernel %s is locked until height %d", kernelHash, kernel.MinHeight)))
		}
		if kernel.MaxHeight != 0 && kernel.MaxHeight < height {
			return fail(ruleError(blockdag.ErrKernelExpired,
				fmt.Sprintf("kernel %s expired at height %d", kernelHash, kernel.MaxHeight)))
		}
		if err := p.verifier.VerifyKernelSignature(kernel.Excess, kernelHash, kernel.Signature); err != nil {
			return fail(ruleError(blockdag.ErrKernelSignature,
				fmt.Sprintf("kernel %s signature: %s", kernelHash, err)))
		}
		if err := p.kernels.Insert(kernelHash); err != nil {
			if errors.Is(err, radixtree.ErrDuplicate) {
				return fail(ruleError(blockdag.ErrDuplicateKernel,
					fmt.Sprintf("kernel %s is already committed", kernelHash)))
			}
			return err
		}
		kernelsApplied++
		msOps = append(msOps, msOp{element: kernelMultisetElement(kernelHash)})
	}

	// Balance equation over the whole block.
	if err := p.verifyBodyBalance(body, height); err != nil {
		return fail(err)
	}

	// The resulting roots must be exactly what the header committed to.
	utxoRoot, kernelRoot := p.utxos.Root(), p.kernels.Root()
	if utxoRoot != node.Header.UTXORoot || kernelRoot != node.Header.KernelRoot {
		return fail(ruleError(blockdag.ErrBadRoots,
			fmt.Sprintf("state %s declares live root %s, computed %s",
				node, LiveRoot(node.Header.UTXORoot, node.Header.KernelRoot),
				LiveRoot(utxoRoot, kernelRoot))))
	}

	// Validation passed; persist the leaf deltas, the undo log and the
	// state multiset.
	if err := p.persistForward(dbTx, node, body, undo, msOps); err != nil {
		return err
	}
	return nil
}

func (p *NodeProcessor) loadBody(dbTx *dbaccess.TxContext, node *blockdag.Node) (*wire.Transaction, error) {
	if node.IsGenesis() {
		// Genesis has an empty body by definition.
		return &wire.Transaction{}, nil
	}
	if body, ok := p.pendingBodies[node.ID.Hash]; ok {
		return body, nil
	}
	bodyBytes, err := dbaccess.FetchBody(dbTx, node.ID.Height, &node.ID.Hash)
	if err != nil {
		return nil, errors.Wrapf(err, "body of functional state %s is missing", node)
	}
	body := new(wire.Transaction)
	if err := body.Deserialize(bytes.NewReader(bodyBytes)); err != nil {
		return nil, ruleError(blockdag.ErrBadBody,
			fmt.Sprintf("body of %s does not parse: %s", node, err))
	}
	return body, nil
}

func (p *NodeProcessor) verifyBodyBalance(body *wire.Transaction, height uint64) error {
	inputs := make([]crypto.Commitment, len(body.Inputs))
	for i, in := range body.Inputs {
		inputs[i] = in.Commitment
	}
	outputs := make([]crypto.Commitment, len(body.Outputs))
	for i, out := range body.Outputs {
		outputs[i] = out.Commitment
	}
	excesses := make([]crypto.Commitment, len(body.Kernels))
	for i, kernel := range body.Kernels {
		excesses[i] = kernel.Excess
	}

	subsidy := uint64(0)
	if height > 0 {
		subsidy = p.params.SubsidyAtHeight(height)
	}
	// No fee term at block granularity: the kernels' fees are collected
	// by the coinbase output, so a block creates exactly the subsidy.
	if err := p.verifier.VerifyBalance(inputs, outputs, excesses, 0, subsidy); err != nil {
		return ruleError(blockdag.ErrBadBalance,
			fmt.Sprintf("balance equation at height %d: %s", height, err))
	}
	return nil
}

// persistForward writes the effects of a validated block: leaf deltas,
// undo log and the new state multiset.
func (p *NodeProcessor) persistForward(dbTx *dbaccess.TxContext, node *blockdag.Node,
	body *wire.Transaction, undo *rollbackData, msOps []msOp) error {

	if err := p.persistUtxoDeltas(dbTx, body); err != nil {
		return err
	}
	for _, kernel := range body.Kernels {
		kernelHash := kernel.Hash()
		if err := dbaccess.StoreKernelLeaf(dbTx, kernelHash[:]); err != nil {
			return err
		}
	}
	undoBytes := undo.bytes()
	if err := dbaccess.StoreUndoData(dbTx, node.ID.Height, &node.ID.Hash, undoBytes); err != nil {
		return err
	}
	p.pendingUndo[node.ID.Hash] = undoBytes

	parentMultiset, err := p.parentMultiset(dbTx, node)
	if err != nil {
		return err
	}
	for _, op := range msOps {
		if op.remove {
			parentMultiset.Remove(op.element)
		} else {
			parentMultiset.Add(op.element)
		}
	}
	p.multisets.setMultiset(&node.ID.Hash, parentMultiset)
	return nil
}

// parentMultiset returns a copy of the parent state's multiset, or an
// empty one for genesis.
func (p *NodeProcessor) parentMultiset(dbTx *dbaccess.TxContext, node *blockdag.Node) (*secp256k1.MultiSet, error) {
	if node.IsGenesis() {
		return secp256k1.NewMultiset(), nil
	}
	ms, err := p.multisets.multisetByHash(dbTx, &node.Header.Prev)
	if err != nil {
		return nil, errors.Wrapf(err, "state multiset of %s's parent is missing", node)
	}
	msCopy := *ms
	return &msCopy, nil
}

// applyBlockBackward inverts a previously applied block using its undo
// log. Any failure here is corruption: a block that applied must revert.
func (p *NodeProcessor) applyBlockBackward(dbTx *dbaccess.TxContext, node *blockdag.Node) error {
	body, err := p.loadBody(dbTx, node)
	if err != nil {
		return err
	}

	undoBytes, ok := p.pendingUndo[node.ID.Hash]
	if !ok {
		var err error
		undoBytes, err = dbaccess.FetchUndoData(dbTx, node.ID.Height, &node.ID.Hash)
		if err != nil {
			return errors.Wrapf(err, "undo log of %s is missing", node)
		}
	}
	undo, err := deserializeRollbackData(undoBytes)
	if err != nil {
		return errors.Wrapf(err, "undo log of %s is malformed", node)
	}
	if len(undo.priorMultiplicities) != len(body.Inputs) {
		return errors.Errorf("undo log of %s covers %d inputs, body has %d",
			node, len(undo.priorMultiplicities), len(body.Inputs))
	}

	// The reverse of the apply sequence: kernels out, outputs out,
	// inputs back in with their recorded multiplicities.
	for i := len(body.Kernels) - 1; i >= 0; i-- {
		if err := p.kernels.Remove(body.Kernels[i].Hash()); err != nil {
			return errors.Wrapf(err, "reverting kernel of %s", node)
		}
	}
	for i := len(body.Outputs) - 1; i >= 0; i-- {
		out := body.Outputs[i]
		if _, err := p.utxos.Decrement(out.Commitment, out.Maturity); err != nil {
			return errors.Wrapf(err, "reverting output of %s", node)
		}
	}
	for i := len(body.Inputs) - 1; i >= 0; i-- {
		in := body.Inputs[i]
		p.utxos.Set(in.Commitment, in.Maturity, undo.priorMultiplicities[i])
	}

	// The trees must now match the parent's declared roots.
	parent, ok := p.dag.Parent(node)
	if !ok {
		return errors.Errorf("reverting %s with no registered parent", node)
	}
	if p.utxos.Root() != parent.Header.UTXORoot || p.kernels.Root() != parent.Header.KernelRoot {
		return errors.Errorf("roots after reverting %s do not match parent %s", node, parent)
	}

	if err := p.persistUtxoDeltas(dbTx, body); err != nil {
		return err
	}
	for _, kernel := range body.Kernels {
		kernelHash := kernel.Hash()
		if err := dbaccess.DeleteKernelLeaf(dbTx, kernelHash[:]); err != nil {
			return err
		}
	}
	// The undo log is consumed by the revert.
	delete(p.pendingUndo, node.ID.Hash)
	return dbaccess.DeleteUndoData(dbTx, node.ID.Height, &node.ID.Hash)
}

// persistUtxoDeltas writes the final multiplicity of every UTXO leaf the
// body touched. Writing the final count per key keeps the operation
// idempotent across duplicate entries in the same body.
func (p *NodeProcessor) persistUtxoDeltas(dbTx *dbaccess.TxContext, body *wire.Transaction) error {
	persist := func(commitment crypto.Commitment, maturity uint64) error {
		leafKey := radixtree.UtxoKey(commitment, maturity)
		multiplicity, exists := p.utxos.Multiplicity(commitment, maturity)
		if !exists {
			return dbaccess.DeleteUtxoLeaf(dbTx, leafKey)
		}
		return dbaccess.StoreUtxoLeaf(dbTx, leafKey, multiplicity)
	}

	for _, in := range body.Inputs {
		if err := persist(in.Commitment, in.Maturity); err != nil {
			return err
		}
	}
	for _, out := range body.Outputs {
		if err := persist(out.Commitment, out.Maturity); err != nil {
			return err
		}
	}
	return nil
}

// ruleError builds a blockdag.RuleError; the processor shares the DAG's
// error taxonomy.
func ruleError(code blockdag.ErrorCode, desc string) blockdag.RuleError {
	return blockdag.RuleError{ErrorCode: code, Description: desc}
}
