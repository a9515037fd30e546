package processor

import (
	"github.com/tenebra-net/tenebrad/radixtree"
)

// TreesSnapshot returns deep copies of the commitment trees as of the
// active tip. The block builder applies candidates against these working
// copies; the live trees are never touched.
func (p *NodeProcessor) TreesSnapshot() (*radixtree.UtxoTree, *radixtree.HashOnlyTree, bool) {
	if _, ok := p.dag.Tip(); !ok {
		return nil, nil, false
	}
	return p.utxos.Clone(), p.kernels.Clone(), true
}

// TipMedianTimePast returns the median-time-past of the active tip, the
// lower bound of the next block's timestamp.
func (p *NodeProcessor) TipMedianTimePast() (uint64, bool) {
	tip, ok := p.dag.Tip()
	if !ok {
		return 0, false
	}
	return p.dag.MedianTimePast(tip), true
}
