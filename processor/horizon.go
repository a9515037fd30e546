package processor

import (
	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
)

// pruneOld enforces both horizons after a tip change to tipHeight. Both
// default to disabled; when disabled nothing is ever deleted.
func (p *NodeProcessor) pruneOld(dbTx *dbaccess.TxContext, tipHeight uint64) error {
	if p.horizon.Branching != 0 && tipHeight > p.horizon.Branching {
		pruned, err := p.dag.PruneBranches(dbTx, tipHeight-p.horizon.Branching)
		if err != nil {
			return err
		}
		if pruned > 0 {
			log.Debugf("Pruned %d branch states below height %d",
				pruned, tipHeight-p.horizon.Branching)
		}
	}

	if p.horizon.Schwarzschild != 0 && tipHeight > p.horizon.Schwarzschild {
		if err := p.eraseFossilBodies(dbTx, tipHeight-p.horizon.Schwarzschild); err != nil {
			return err
		}
	}
	return nil
}

// eraseFossilBodies erases the bodies of active states at or below
// eraseHeight, keeping their headers, and dereferences their undo logs.
func (p *NodeProcessor) eraseFossilBodies(dbTx *dbaccess.TxContext, eraseHeight uint64) error {
	var fossils []*blockdag.Node
	p.dag.ForEachNode(func(node *blockdag.Node) bool {
		if node.HasFlag(blockdag.StatusActive) && !node.IsGenesis() &&
			node.ID.Height <= eraseHeight && node.HasBody {
			fossils = append(fossils, node)
		}
		return true
	})

	for _, node := range fossils {
		if err := p.dag.EraseBody(dbTx, node); err != nil {
			return err
		}
		if err := p.dereferenceFossilBlock(dbTx, node); err != nil {
			return err
		}
		log.Debugf("Erased fossil body of %s", node)
	}
	return nil
}

// dereferenceFossilBlock frees the undo log of a fossil block. With the
// body erased no revert across this height can be replayed, so the undo
// data serves nothing.
func (p *NodeProcessor) dereferenceFossilBlock(dbTx *dbaccess.TxContext, node *blockdag.Node) error {
	return dbaccess.DeleteUndoData(dbTx, node.ID.Height, &node.ID.Hash)
}
