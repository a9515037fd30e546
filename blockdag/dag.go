package blockdag

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/wire"
)

// DAG stores every known header keyed by its hash, tracks the per-node
// status flags and maintains the active tip pointer. It is exclusive to
// the owner thread; none of its methods are safe for concurrent access.
type DAG struct {
	params *chaincfg.Params

	index    map[crypto.Hash]*Node
	children map[crypto.Hash]map[crypto.Hash]struct{}
	dirty    map[crypto.Hash]*Node
	tip      *Node
}

// New creates a DAG holding only the network's genesis header. Genesis
// is reachable and functional by definition; it becomes active once the
// processor applies it.
func New(params *chaincfg.Params) *DAG {
	dag := &DAG{
		params:   params,
		index:    make(map[crypto.Hash]*Node),
		children: make(map[crypto.Hash]map[crypto.Hash]struct{}),
		dirty:    make(map[crypto.Hash]*Node),
	}

	genesis := newNode(params.GenesisHeader(), PeerID{})
	genesis.Status = StatusReachable | StatusFunctional
	genesis.HasBody = true
	dag.insert(genesis)
	return dag
}

// Load rebuilds the in-memory index from the states family. Body
// presence is rederived from the bodies family rather than trusted from
// flags.
func (dag *DAG) Load(context dbaccess.Context) error {
	cursor, err := dbaccess.StateCursor(context)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for ok := cursor.First(); ok; ok = cursor.Next() {
		value, err := cursor.Value()
		if err != nil {
			return err
		}
		node, err := deserializeNode(value)
		if err != nil {
			return err
		}
		if existing, ok := dag.index[node.ID.Hash]; ok {
			// Genesis is created by New; the stored copy only carries
			// flags.
			existing.Status = node.Status
			existing.Peer = node.Peer
			continue
		}
		dag.insert(node)
	}

	for _, node := range dag.index {
		hasBody, err := dbaccess.HasBody(context, node.ID.Height, &node.ID.Hash)
		if err != nil {
			return err
		}
		node.HasBody = hasBody || node.IsGenesis()
	}

	tipHeight, tipHash, err := dbaccess.FetchTip(context)
	if dbaccess.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	tip, ok := dag.index[*tipHash]
	if !ok || tip.ID.Height != tipHeight {
		return errors.Errorf("tip cursor points at unknown state %d/%s", tipHeight, tipHash)
	}
	dag.tip = tip
	return nil
}

func (dag *DAG) insert(node *Node) {
	dag.index[node.ID.Hash] = node
	childSet, ok := dag.children[node.Header.Prev]
	if !ok {
		childSet = make(map[crypto.Hash]struct{})
		dag.children[node.Header.Prev] = childSet
	}
	if !node.IsGenesis() {
		childSet[node.ID.Hash] = struct{}{}
	}
	dag.markDirty(node)
}

func (dag *DAG) markDirty(node *Node) {
	dag.dirty[node.ID.Hash] = node
}

// LookupNode returns the node of the given hash, if registered.
func (dag *DAG) LookupNode(hash *crypto.Hash) (*Node, bool) {
	node, ok := dag.index[*hash]
	return node, ok
}

// Parent returns the parent node, or false for genesis and for nodes
// whose parent header is not registered.
func (dag *DAG) Parent(node *Node) (*Node, bool) {
	if node.IsGenesis() {
		return nil, false
	}
	parent, ok := dag.index[node.Header.Prev]
	return parent, ok
}

// Tip returns the active tip, or false if no state has been applied yet.
func (dag *DAG) Tip() (*Node, bool) {
	if dag.tip == nil {
		return nil, false
	}
	return dag.tip, true
}

// SetTip moves the active tip pointer. The caller maintains the Active
// flags and persists the tip cursor.
func (dag *DAG) SetTip(node *Node) {
	dag.tip = node
}

// SetFlags replaces the node's status flags and marks it dirty.
func (dag *DAG) SetFlags(node *Node, status Status) {
	if node.Status != status {
		node.Status = status
		dag.markDirty(node)
	}
}

// AddFlags sets the given flags on the node.
func (dag *DAG) AddFlags(node *Node, flags Status) {
	dag.SetFlags(node, node.Status|flags)
}

// ClearFlags clears the given flags on the node.
func (dag *DAG) ClearFlags(node *Node, flags Status) {
	dag.SetFlags(node, node.Status&^flags)
}

// RegisterState validates a header received from peer and inserts it into
// the DAG. It returns the new node. RuleErrors indicate the peer is
// misbehaving; ErrDuplicateState indicates the header is already known
// and changed nothing.
func (dag *DAG) RegisterState(header *wire.Header, peer PeerID) (*Node, error) {
	id := header.ID()
	if _, ok := dag.index[id.Hash]; ok {
		return nil, ruleError(ErrDuplicateState, fmt.Sprintf("already have state %s", id))
	}

	if id.Height == 0 {
		return nil, ruleError(ErrWrongHeight, "peer submitted a height-zero header")
	}

	if err := dag.checkProofOfWork(header, &id); err != nil {
		return nil, err
	}

	parent, parentKnown := dag.index[header.Prev]
	if parentKnown {
		if err := dag.checkStateContext(header, &id, parent); err != nil {
			return nil, err
		}
	}

	node := newNode(header, peer)
	if parentKnown && parent.HasFlag(StatusFailed) {
		// Keep descendants of failed headers out of tip selection, but
		// register them so they are not refetched.
		node.Status |= StatusFailed
	}
	dag.insert(node)
	dag.propagateReachable(node)
	return node, nil
}

// checkProofOfWork verifies the declared target is within the network
// limit and the header hash satisfies it.
func (dag *DAG) checkProofOfWork(header *wire.Header, id *wire.ID) error {
	target := difficulty.CompactToBig(header.Bits)
	if target.Sign() <= 0 || target.Cmp(dag.params.PowLimit) > 0 {
		return ruleError(ErrUnexpectedDifficulty,
			fmt.Sprintf("target %064x is outside the network limit", target))
	}
	if id.Hash.ToBig().Cmp(target) > 0 {
		return ruleError(ErrInvalidPoW,
			fmt.Sprintf("state %s does not satisfy its declared target", id))
	}
	return nil
}

// checkStateContext validates header against its known parent.
func (dag *DAG) checkStateContext(header *wire.Header, id *wire.ID, parent *Node) error {
	if header.Height != parent.ID.Height+1 {
		return ruleError(ErrWrongHeight,
			fmt.Sprintf("state %s declares height %d on top of height %d",
				id, header.Height, parent.ID.Height))
	}

	expectedBits := dag.params.NextRequiredBits(parent.Header.Bits)
	if header.Bits != expectedBits {
		return ruleError(ErrUnexpectedDifficulty,
			fmt.Sprintf("state %s declares bits %08x, expected %08x",
				id, header.Bits, expectedBits))
	}

	if header.Timestamp <= dag.medianTimePast(parent) {
		return ruleError(ErrTimeTooOld,
			fmt.Sprintf("state %s timestamp %d is not after its ancestors' median",
				id, header.Timestamp))
	}

	expectedWork := new(big.Int).Add(parent.Header.Work, difficulty.CalcWork(header.Bits))
	if header.Work.Cmp(expectedWork) != 0 {
		return ruleError(ErrUnexpectedWork,
			fmt.Sprintf("state %s declares work %s, expected %s",
				id, header.Work, expectedWork))
	}
	return nil
}

// medianTimePast returns the median timestamp of the node and its
// ancestors within the median time window.
func (dag *DAG) medianTimePast(node *Node) uint64 {
	timestamps := make([]uint64, 0, dag.params.MedianTimeWindow)
	for current := node; current != nil; {
		timestamps = append(timestamps, current.Header.Timestamp)
		if len(timestamps) == dag.params.MedianTimeWindow {
			break
		}
		parent, ok := dag.Parent(current)
		if !ok {
			break
		}
		current = parent
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// MedianTimePast exposes the median-time-past of a node for block
// building.
func (dag *DAG) MedianTimePast(node *Node) uint64 {
	return dag.medianTimePast(node)
}

// propagateReachable marks the node reachable if its ancestry allows it,
// then cascades to already-known descendants.
func (dag *DAG) propagateReachable(node *Node) {
	parent, ok := dag.Parent(node)
	if !(ok && parent.HasFlag(StatusReachable)) {
		return
	}

	queue := []*Node{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.HasFlag(StatusReachable) {
			continue
		}
		dag.AddFlags(current, StatusReachable)
		for childHash := range dag.children[current.ID.Hash] {
			queue = append(queue, dag.index[childHash])
		}
	}
}

// AttachBody records that the node's body is now stored, and cascades the
// Functional flag to every node that thereby gained a fully-backed path
// from genesis.
func (dag *DAG) AttachBody(node *Node) {
	node.HasBody = true
	dag.markDirty(node)
	dag.updateFunctional(node)
}

func (dag *DAG) updateFunctional(node *Node) {
	parent, ok := dag.Parent(node)
	if !(ok && parent.HasFlag(StatusFunctional)) {
		return
	}

	queue := []*Node{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.HasFlag(StatusFunctional) || current.HasFlag(StatusFailed) || !current.HasBody {
			continue
		}
		dag.AddFlags(current, StatusReachable|StatusFunctional)
		for childHash := range dag.children[current.ID.Hash] {
			queue = append(queue, dag.index[childHash])
		}
	}
}

// MarkFailedSubtree flags the node and all its descendants as failed,
// removing them from tip selection permanently. This bounds chain
// selection restarts: bad data is marked exactly once.
func (dag *DAG) MarkFailedSubtree(node *Node) {
	queue := []*Node{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.HasFlag(StatusFailed) {
			continue
		}
		dag.SetFlags(current, (current.Status|StatusFailed)&^(StatusFunctional|StatusActive))
		for childHash := range dag.children[current.ID.Hash] {
			queue = append(queue, dag.index[childHash])
		}
	}
}

// BestFunctionalTip returns the functional, non-failed node with the
// maximum cumulative work, ties broken toward the lower hash. Returns
// false if no functional node exists.
func (dag *DAG) BestFunctionalTip() (*Node, bool) {
	var best *Node
	for _, node := range dag.index {
		if !node.HasFlag(StatusFunctional) || node.HasFlag(StatusFailed) {
			continue
		}
		if best == nil {
			best = node
			continue
		}
		best = betterTip(best, node)
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// CommonAncestor returns the lowest common ancestor of a and b.
func (dag *DAG) CommonAncestor(a, b *Node) (*Node, error) {
	stepUp := func(node *Node) (*Node, error) {
		parent, ok := dag.Parent(node)
		if !ok {
			return nil, errors.Errorf("ancestry of %s is broken at height %d",
				node, node.ID.Height)
		}
		return parent, nil
	}

	var err error
	for a.ID.Height > b.ID.Height {
		if a, err = stepUp(a); err != nil {
			return nil, err
		}
	}
	for b.ID.Height > a.ID.Height {
		if b, err = stepUp(b); err != nil {
			return nil, err
		}
	}
	for a != b {
		if a, err = stepUp(a); err != nil {
			return nil, err
		}
		if b, err = stepUp(b); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// PathBetween returns the nodes strictly between ancestor and descendant
// plus the descendant itself, ordered ancestor-first. This is the forward
// application order of a reorg.
func (dag *DAG) PathBetween(ancestor, descendant *Node) ([]*Node, error) {
	if ancestor == descendant {
		return nil, nil
	}
	path := make([]*Node, 0, descendant.ID.Height-ancestor.ID.Height)
	for current := descendant; current != ancestor; {
		path = append(path, current)
		parent, ok := dag.Parent(current)
		if !ok {
			return nil, errors.Errorf("ancestry of %s is broken at height %d",
				current, current.ID.Height)
		}
		current = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// IsAncestorOf returns whether ancestor lies on descendant's path to
// genesis.
func (dag *DAG) IsAncestorOf(ancestor, descendant *Node) bool {
	current := descendant
	for current.ID.Height > ancestor.ID.Height {
		parent, ok := dag.Parent(current)
		if !ok {
			return false
		}
		current = parent
	}
	return current == ancestor
}

// ForEachNode visits every registered node in unspecified order.
func (dag *DAG) ForEachNode(fn func(node *Node) bool) {
	for _, node := range dag.index {
		if !fn(node) {
			return
		}
	}
}

// FlushToDB writes all dirty nodes within the given context.
func (dag *DAG) FlushToDB(context dbaccess.Context) error {
	for _, node := range dag.dirty {
		err := dbaccess.StoreState(context, node.ID.Height, &node.ID.Hash, serializeNode(node))
		if err != nil {
			return err
		}
	}
	return nil
}

// ClearDirtyEntries is called after the enclosing transaction commits.
func (dag *DAG) ClearDirtyEntries() {
	dag.dirty = make(map[crypto.Hash]*Node)
}

// Len returns the number of registered headers.
func (dag *DAG) Len() int {
	return len(dag.index)
}
