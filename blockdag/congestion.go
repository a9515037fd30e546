package blockdag

import (
	"math/big"

	"github.com/tenebra-net/tenebrad/wire"
)

// RequestFunc receives a data request for a header (isBlock false) or a
// block body (isBlock true). The peer is the one that advertised the
// descendant the walk started from; zero if unknown.
type RequestFunc func(id wire.ID, isBlock bool, peer PeerID)

// congestionKey dedups requests across overlapping branch walks.
type congestionKey struct {
	id      wire.ID
	isBlock bool
}

// EnumCongestions walks the ancestors of every candidate branch tip that
// could overtake the current chain but is not yet functional, and emits
// requests for the data that is missing on the way: unknown ancestor
// headers and stored headers without bodies.
//
// tipWork is the cumulative work of the active tip; branches that cannot
// exceed it are not worth requesting. Pass nil to request everything.
func (dag *DAG) EnumCongestions(tipWork *big.Int, request RequestFunc) {
	requested := make(map[congestionKey]struct{})
	emit := func(id wire.ID, isBlock bool, peer PeerID) {
		key := congestionKey{id: id, isBlock: isBlock}
		if _, ok := requested[key]; ok {
			return
		}
		requested[key] = struct{}{}
		request(id, isBlock, peer)
	}

	for _, candidate := range dag.index {
		if candidate.HasFlag(StatusFunctional) || candidate.HasFlag(StatusFailed) {
			continue
		}
		if len(dag.children[candidate.ID.Hash]) > 0 {
			// Not a branch tip; the walk from its descendants covers it.
			continue
		}
		if tipWork != nil && candidate.Header.Work.Cmp(tipWork) <= 0 {
			continue
		}

		// Walk toward the last functional ancestor, requesting whatever
		// is missing on the way.
		peer := candidate.Peer
		for current := candidate; !current.HasFlag(StatusFunctional); {
			if !current.HasBody {
				emit(current.ID, true, peer)
			}
			if current.IsGenesis() {
				break
			}
			parent, ok := dag.Parent(current)
			if !ok {
				emit(wire.ID{
					Height: current.ID.Height - 1,
					Hash:   current.Header.Prev,
				}, false, peer)
				break
			}
			current = parent
		}
	}
}
