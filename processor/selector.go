package processor

import (
	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
)

// tryGoUp moves the active tip to the best functional header. It reverts
// to the fork point and applies forward as needed; a block that fails to
// apply marks its whole subtree non-functional and selection restarts,
// which bounds the loop by the number of registered headers.
//
// Returns whether the tip moved. Runs inside the caller's transaction.
func (p *NodeProcessor) tryGoUp(dbTx *dbaccess.TxContext) (dirty bool, err error) {
	startTip, _ := p.dag.Tip()

	for {
		best, ok := p.dag.BestFunctionalTip()
		if !ok {
			break
		}
		tip, haveTip := p.dag.Tip()
		if haveTip && best == tip {
			break
		}

		if haveTip {
			forkPoint, err := p.dag.CommonAncestor(best, tip)
			if err != nil {
				return false, err
			}
			if !p.checkReorgDepth(forkPoint, best) {
				continue
			}
			for current := tip; current != forkPoint; {
				parent, err := p.rollback(dbTx, current)
				if err != nil {
					return false, err
				}
				current = parent
			}
		}

		if err := p.climb(dbTx, best); err != nil {
			return false, err
		}
	}

	endTip, ok := p.dag.Tip()
	if !ok || endTip == startTip {
		return false, nil
	}

	if err := dbaccess.StoreTip(dbTx, endTip.ID.Height, &endTip.ID.Hash); err != nil {
		return false, err
	}
	if err := p.pruneOld(dbTx, endTip.ID.Height); err != nil {
		return false, err
	}
	log.Infof("New tip %s (work %s)", endTip, endTip.Header.Work)
	if p.callbacks.OnNewState != nil {
		p.queueNotification(p.callbacks.OnNewState)
	}
	return true, nil
}

// checkReorgDepth refuses reorganizations that would cross the
// body-erasure horizon: their path cannot be replayed from erased
// bodies. The triggering header is failed as insane.
func (p *NodeProcessor) checkReorgDepth(forkPoint, best *blockdag.Node) bool {
	floor := p.fossilFloor()
	if floor == 0 || forkPoint.ID.Height > floor {
		return true
	}
	log.Warnf("Refusing reorg to %s: fork point %s is below the body-erasure horizon",
		best, forkPoint)
	p.dag.MarkFailedSubtree(best)
	p.queuePeerInsane(best.Peer)
	return false
}

// climb applies the path from the current tip (already at an ancestor of
// target) up to target. A failing block fails its subtree; the caller
// restarts selection.
func (p *NodeProcessor) climb(dbTx *dbaccess.TxContext, target *blockdag.Node) error {
	var from *blockdag.Node
	if tip, ok := p.dag.Tip(); ok {
		from = tip
	} else {
		// Fresh store: the climb starts at genesis, which applies first.
		genesisID := p.params.GenesisID()
		genesis, ok := p.dag.LookupNode(&genesisID.Hash)
		if !ok {
			return errors.New("genesis header missing from the DAG")
		}
		if target != genesis && !p.dag.IsAncestorOf(genesis, target) {
			return errors.Errorf("target %s does not descend from genesis", target)
		}
		if err := p.goForward(dbTx, genesis); err != nil {
			return err
		}
		from = genesis
	}

	path, err := p.dag.PathBetween(from, target)
	if err != nil {
		return err
	}
	for _, node := range path {
		if err := p.goForward(dbTx, node); err != nil {
			return err
		}
		if tip, _ := p.dag.Tip(); tip != node {
			// The block failed to apply; selection restarts.
			return nil
		}
	}
	return nil
}

// goForward applies one block on top of the current tip. Rule violations
// mark the node's subtree failed and flag the peer; they do not
// propagate as errors.
func (p *NodeProcessor) goForward(dbTx *dbaccess.TxContext, node *blockdag.Node) error {
	if err := p.applyBlockForward(dbTx, node); err != nil {
		var ruleErr blockdag.RuleError
		if !errors.As(err, &ruleErr) {
			return err
		}
		log.Infof("Block %s failed to apply: %s", node, ruleErr)
		p.dag.MarkFailedSubtree(node)
		p.queuePeerInsane(node.Peer)
		return nil
	}

	p.dag.AddFlags(node, blockdag.StatusActive)
	p.dag.SetTip(node)
	log.Debugf("Advanced to %s", node)
	return nil
}

// rollback reverts the current tip block and moves the tip pointer to
// its parent. Returns the new tip.
func (p *NodeProcessor) rollback(dbTx *dbaccess.TxContext, node *blockdag.Node) (*blockdag.Node, error) {
	if err := p.applyBlockBackward(dbTx, node); err != nil {
		return nil, err
	}

	parent, ok := p.dag.Parent(node)
	if !ok {
		return nil, errors.Errorf("rolled back %s with no registered parent", node)
	}
	p.dag.ClearFlags(node, blockdag.StatusActive)
	p.dag.SetTip(parent)
	log.Debugf("Rolled back %s", node)
	return parent, nil
}
