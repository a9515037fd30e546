package blockdag

import (
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
)

// PruneBranches deletes every branch whose fork point fell below the
// branching horizon: any non-active node at height <= pruneHeight is
// removed together with its whole subtree, from memory and from the
// states, bodies, undo and multiset families.
//
// Active nodes are never touched; their ancestors are active too, so a
// pruned subtree can never reach the tip.
func (dag *DAG) PruneBranches(context dbaccess.Context, pruneHeight uint64) (pruned int, err error) {
	var roots []*Node
	for _, node := range dag.index {
		if node.HasFlag(StatusActive) || node.ID.Height > pruneHeight {
			continue
		}
		parent, ok := dag.Parent(node)
		if ok && !parent.HasFlag(StatusActive) && parent.ID.Height <= pruneHeight {
			// Its parent root will take the whole subtree down.
			continue
		}
		roots = append(roots, node)
	}

	for _, root := range roots {
		queue := []*Node{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for childHash := range dag.children[current.ID.Hash] {
				queue = append(queue, dag.index[childHash])
			}
			if err := dag.deleteNode(context, current); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func (dag *DAG) deleteNode(context dbaccess.Context, node *Node) error {
	hash := node.ID.Hash
	delete(dag.index, hash)
	delete(dag.dirty, hash)
	delete(dag.children, hash)
	if siblings, ok := dag.children[node.Header.Prev]; ok {
		delete(siblings, hash)
	}

	if err := dbaccess.DeleteState(context, node.ID.Height, &hash); err != nil {
		return err
	}
	if err := dbaccess.DeleteBody(context, node.ID.Height, &hash); err != nil {
		return err
	}
	if err := dbaccess.DeleteUndoData(context, node.ID.Height, &hash); err != nil {
		return err
	}
	return dbaccess.DeleteMultiset(context, &hash)
}

// EraseBody is used by the body-erasure horizon: the header survives, the
// body is dropped.
func (dag *DAG) EraseBody(context dbaccess.Context, node *Node) error {
	if !node.HasBody {
		return nil
	}
	node.HasBody = false
	dag.markDirty(node)
	return dbaccess.DeleteBody(context, node.ID.Height, &node.ID.Hash)
}
