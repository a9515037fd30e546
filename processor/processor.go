// Package processor implements the chain-state core: it ingests headers
// and block bodies, decides which tip is canonical, applies and reverts
// blocks against the authenticated trees, prunes history below the
// configured horizons and exposes the state the block builder works
// from.
package processor

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
	"github.com/tenebra-net/tenebrad/radixtree"
	"github.com/tenebra-net/tenebrad/wire"
)

// dbVersion is the store schema version this build reads and writes.
const dbVersion = 1

// Horizon holds the two pruning depths. Zero disables the respective
// horizon; by default both are disabled and storage grows monotonically.
type Horizon struct {
	// Branching: branches whose fork point lies more than this many
	// blocks below the tip are pruned.
	Branching uint64

	// Schwarzschild: bodies of active states at or below the tip height
	// minus this value are erased. Headers are retained.
	Schwarzschild uint64
}

// Callbacks is the capability set the processor notifies. All callbacks
// are invoked synchronously on the owner thread, after the enclosing
// store transaction has closed, in FIFO order of the triggering events.
// Nil members are skipped.
type Callbacks struct {
	// RequestData asks the outer layer to fetch a header (isBlock false)
	// or a block body (isBlock true). preferredPeer is the peer known to
	// have the data; zero if unknown.
	RequestData func(id wire.ID, isBlock bool, preferredPeer blockdag.PeerID)

	// OnPeerInsane reports a peer that submitted invalid data.
	OnPeerInsane func(peer blockdag.PeerID)

	// OnNewState reports that the active tip changed.
	OnNewState func()
}

// NodeProcessor is the chain-state core. It owns the header DAG, the
// UTXO and kernel commitment trees, the undo logs and the store handle.
// It is exclusive to the owner thread.
type NodeProcessor struct {
	params    *chaincfg.Params
	verifier  crypto.Verifier
	horizon   Horizon
	callbacks Callbacks

	dbContext *dbaccess.DatabaseContext
	dag       *blockdag.DAG
	utxos     *radixtree.UtxoTree
	kernels   *radixtree.HashOnlyTree
	multisets *multisetStore

	// pendingBodies and pendingUndo hold data written within the current
	// event's transaction. Store transactions read from a snapshot, so
	// data put inside one is not readable through it; the apply engine
	// consults these first.
	pendingBodies map[crypto.Hash]*wire.Transaction
	pendingUndo   map[crypto.Hash][]byte

	// notifications queued during the current event, drained after the
	// transaction closes.
	notifications []func()
}

// New creates a processor. Initialize must be called before any other
// method.
func New(params *chaincfg.Params, verifier crypto.Verifier, horizon Horizon, callbacks Callbacks) *NodeProcessor {
	return &NodeProcessor{
		params:        params,
		verifier:      verifier,
		horizon:       horizon,
		callbacks:     callbacks,
		multisets:     newMultisetStore(),
		pendingBodies: make(map[crypto.Hash]*wire.Transaction),
		pendingUndo:   make(map[crypto.Hash][]byte),
	}
}

// Initialize opens the store at path, rebuilds the in-memory state and
// applies genesis if the store is fresh. It verifies the rebuilt trees
// against the persisted tip; any mismatch is corruption and fatal.
func (p *NodeProcessor) Initialize(path string) error {
	dbContext, err := dbaccess.New(path)
	if err != nil {
		return err
	}
	p.dbContext = dbContext

	if err := p.checkDBVersion(); err != nil {
		return err
	}

	p.dag = blockdag.New(p.params)
	if err := p.dag.Load(dbContext.NoTx()); err != nil {
		return err
	}
	if err := p.loadTrees(); err != nil {
		return err
	}

	if _, ok := p.dag.Tip(); !ok {
		if err := p.applyGenesis(); err != nil {
			return err
		}
	} else {
		// Everything just loaded is already persisted; only genuinely
		// new flag changes should flush.
		p.dag.ClearDirtyEntries()
		if err := p.verifyTipIntegrity(); err != nil {
			p.OnCorrupted(err)
		}
	}

	log.Infof("Chain state initialized: %d headers, tip %s",
		p.dag.Len(), p.tipString())

	// The stored state may already allow progress, e.g. after a crash
	// between a body ingest and its reorg.
	return p.withEvent(func(dbTx *dbaccess.TxContext) (bool, error) {
		return p.tryGoUp(dbTx)
	})
}

// Close releases the store handle.
func (p *NodeProcessor) Close() error {
	return p.dbContext.Close()
}

func (p *NodeProcessor) tipString() string {
	tip, ok := p.dag.Tip()
	if !ok {
		return "none"
	}
	return tip.String()
}

func (p *NodeProcessor) checkDBVersion() error {
	value, err := dbaccess.FetchVar(p.dbContext.NoTx(), dbaccess.VarDBVersion)
	if dbaccess.IsNotFoundError(err) {
		var versionBytes [4]byte
		binary.LittleEndian.PutUint32(versionBytes[:], dbVersion)
		return dbaccess.StoreVar(p.dbContext.NoTx(), dbaccess.VarDBVersion, versionBytes[:])
	}
	if err != nil {
		return err
	}
	if len(value) != 4 || binary.LittleEndian.Uint32(value) != dbVersion {
		return errors.Errorf("store schema version mismatch: have %x, want %d", value, dbVersion)
	}
	return nil
}

// loadTrees rebuilds both trees from the persisted leaf families.
func (p *NodeProcessor) loadTrees() error {
	p.utxos = radixtree.NewUtxoTree()
	p.kernels = radixtree.NewHashOnlyTree()

	utxoCursor, err := dbaccess.UtxoLeafCursor(p.dbContext.NoTx())
	if err != nil {
		return err
	}
	defer utxoCursor.Close()
	for ok := utxoCursor.First(); ok; ok = utxoCursor.Next() {
		key, err := utxoCursor.Key()
		if err != nil {
			return err
		}
		value, err := utxoCursor.Value()
		if err != nil {
			return err
		}
		leafKey := key.Key()
		if len(leafKey) != radixtree.UtxoKeySize || len(value) != 4 {
			return errors.Errorf("corrupt utxo leaf record %s", key)
		}
		commitment, maturity := radixtree.SplitUtxoKey(leafKey)
		p.utxos.Set(commitment, maturity, binary.LittleEndian.Uint32(value))
	}

	kernelCursor, err := dbaccess.KernelLeafCursor(p.dbContext.NoTx())
	if err != nil {
		return err
	}
	defer kernelCursor.Close()
	for ok := kernelCursor.First(); ok; ok = kernelCursor.Next() {
		key, err := kernelCursor.Key()
		if err != nil {
			return err
		}
		kernelHash, err := crypto.NewHash(key.Key())
		if err != nil {
			return errors.Errorf("corrupt kernel leaf record %s", key)
		}
		if err := p.kernels.Insert(*kernelHash); err != nil {
			return errors.Wrapf(err, "corrupt kernel leaf record %s", key)
		}
	}
	return nil
}

// verifyTipIntegrity cross-checks the rebuilt trees against the tip
// header's roots and the stored ECMH multiset.
func (p *NodeProcessor) verifyTipIntegrity() error {
	tip, _ := p.dag.Tip()
	if utxoRoot := p.utxos.Root(); utxoRoot != tip.Header.UTXORoot {
		return errors.Errorf("utxo root %s does not match tip %s", utxoRoot, tip)
	}
	if kernelRoot := p.kernels.Root(); kernelRoot != tip.Header.KernelRoot {
		return errors.Errorf("kernel root %s does not match tip %s", kernelRoot, tip)
	}

	recomputed := multisetOfTrees(p.utxos, p.kernels)
	stored, err := p.multisets.multisetByHash(p.dbContext.NoTx(), &tip.ID.Hash)
	if dbaccess.IsNotFoundError(errors.Cause(err)) {
		// Stores written before the checksum was introduced backfill it
		// here.
		p.multisets.setMultiset(&tip.ID.Hash, recomputed)
		err := p.multisets.flushToDB(p.dbContext.NoTx())
		p.multisets.clearNewEntries()
		return err
	}
	if err != nil {
		return err
	}
	if *stored.Finalize() != *recomputed.Finalize() {
		return errors.Errorf("state multiset of tip %s does not match its trees", tip)
	}
	return nil
}

// applyGenesis applies the network's genesis block to a fresh store.
func (p *NodeProcessor) applyGenesis() error {
	return p.withEvent(func(dbTx *dbaccess.TxContext) (bool, error) {
		genesisID := p.params.GenesisID()
		genesis, ok := p.dag.LookupNode(&genesisID.Hash)
		if !ok {
			return false, errors.New("genesis header missing from the DAG")
		}
		if err := p.goForward(dbTx, genesis); err != nil {
			return false, err
		}
		if tip, ok := p.dag.Tip(); !ok || tip != genesis {
			return false, errors.New("genesis block failed to apply")
		}
		if err := dbaccess.StoreTip(dbTx, genesisID.Height, &genesisID.Hash); err != nil {
			return false, err
		}
		if _, err := p.tryGoUp(dbTx); err != nil {
			return false, err
		}
		if p.callbacks.OnNewState != nil {
			p.queueNotification(p.callbacks.OnNewState)
		}
		return true, nil
	})
}

// withEvent wraps one externally triggered event in a store transaction
// and drains queued notifications after the transaction closes. The
// event function reports whether anything changed; errors are internal
// invariant violations and fatal.
func (p *NodeProcessor) withEvent(event func(dbTx *dbaccess.TxContext) (bool, error)) error {
	dbTx, err := p.dbContext.NewTx()
	if err != nil {
		p.OnCorrupted(err)
	}
	defer dbTx.RollbackUnlessClosed()

	dirty, err := event(dbTx)
	if err != nil {
		p.OnCorrupted(err)
	}
	p.pendingBodies = make(map[crypto.Hash]*wire.Transaction)
	p.pendingUndo = make(map[crypto.Hash][]byte)

	if dirty {
		if err := p.dag.FlushToDB(dbTx); err != nil {
			p.OnCorrupted(err)
		}
		if err := p.multisets.flushToDB(dbTx); err != nil {
			p.OnCorrupted(err)
		}
		if err := dbTx.Commit(); err != nil {
			p.OnCorrupted(err)
		}
		p.dag.ClearDirtyEntries()
		p.multisets.clearNewEntries()
	} else {
		if err := dbTx.Rollback(); err != nil {
			p.OnCorrupted(err)
		}
	}

	p.drainNotifications()
	return nil
}

func (p *NodeProcessor) queueNotification(fn func()) {
	p.notifications = append(p.notifications, fn)
}

func (p *NodeProcessor) drainNotifications() {
	queued := p.notifications
	p.notifications = nil
	for _, fn := range queued {
		fn()
	}
}

func (p *NodeProcessor) queuePeerInsane(peer blockdag.PeerID) {
	if p.callbacks.OnPeerInsane == nil || peer.IsZero() {
		return
	}
	p.queueNotification(func() { p.callbacks.OnPeerInsane(peer) })
}

// OnCorrupted reports an internal invariant breach: a tree root mismatch
// absent peer misbehavior, a store I/O failure, a missing undo log. There
// is no automatic recovery; the process dies.
func (p *NodeProcessor) OnCorrupted(err error) {
	log.Criticalf("Chain state corrupted: %+v", err)
	panic(errors.Wrap(err, "chain state corrupted"))
}

// CurrentState returns the ID of the active tip, or false if no state
// has been applied yet.
func (p *NodeProcessor) CurrentState() (wire.ID, bool) {
	tip, ok := p.dag.Tip()
	if !ok {
		return wire.ID{}, false
	}
	return tip.ID, true
}

// CurrentHeader returns the full header of the active tip.
func (p *NodeProcessor) CurrentHeader() (*wire.Header, bool) {
	tip, ok := p.dag.Tip()
	if !ok {
		return nil, false
	}
	return tip.Header, true
}

// fossilFloor returns the height at or below which bodies may have been
// erased. Zero when the body-erasure horizon is disabled.
func (p *NodeProcessor) fossilFloor() uint64 {
	tip, ok := p.dag.Tip()
	if !ok || p.horizon.Schwarzschild == 0 || tip.ID.Height <= p.horizon.Schwarzschild {
		return 0
	}
	return tip.ID.Height - p.horizon.Schwarzschild
}

// IsStateNeeded returns whether the given state is worth fetching: it is
// unknown to the DAG and above the body-erasure horizon.
func (p *NodeProcessor) IsStateNeeded(id wire.ID) bool {
	if _, ok := p.dag.LookupNode(&id.Hash); ok {
		return false
	}
	return id.Height > p.fossilFloor()
}

// OnState ingests a header received from peer. It returns whether the
// header was new and registered. Invalid headers flag the peer insane;
// they are never an error of this node.
func (p *NodeProcessor) OnState(header *wire.Header, peer blockdag.PeerID) (dirty bool, err error) {
	err = p.withEvent(func(dbTx *dbaccess.TxContext) (bool, error) {
		node, registerErr := p.dag.RegisterState(header, peer)
		if registerErr != nil {
			var ruleErr blockdag.RuleError
			if !errors.As(registerErr, &ruleErr) {
				return false, registerErr
			}
			if ruleErr.ErrorCode == blockdag.ErrDuplicateState {
				log.Tracef("Ignoring known state %s from %s", header.ID(), peer)
				return false, nil
			}
			log.Infof("Rejecting state %s from %s: %s", header.ID(), peer, ruleErr)
			p.queuePeerInsane(peer)
			return false, nil
		}

		log.Debugf("Registered state %s from %s", node, peer)
		dirty = true
		return true, nil
	})
	return dirty, err
}

// OnBlock ingests the body of the identified state received from peer,
// and moves the tip if the new body makes a better chain fully
// functional. It returns whether the data was relevant and stored.
func (p *NodeProcessor) OnBlock(id wire.ID, bodyBytes []byte, peer blockdag.PeerID) (dirty bool, err error) {
	err = p.withEvent(func(dbTx *dbaccess.TxContext) (bool, error) {
		node, ok := p.dag.LookupNode(&id.Hash)
		if !ok || node.ID.Height != id.Height {
			log.Tracef("Ignoring body for unknown state %s from %s", id, peer)
			return false, nil
		}
		if node.HasBody {
			log.Tracef("Ignoring duplicate body for %s from %s", id, peer)
			return false, nil
		}

		// Parse and bind to the header before storing; a body that does
		// not decode is peer garbage, not chain data.
		body := new(wire.Transaction)
		if parseErr := body.Deserialize(bytes.NewReader(bodyBytes)); parseErr != nil {
			log.Infof("Rejecting unparseable body for %s from %s: %s", id, peer, parseErr)
			p.queuePeerInsane(peer)
			return false, nil
		}

		if err := dbaccess.StoreBody(dbTx, id.Height, &id.Hash, bodyBytes); err != nil {
			return false, err
		}
		p.pendingBodies[id.Hash] = body
		if node.Peer.IsZero() {
			node.Peer = peer
		}
		p.dag.AttachBody(node)
		dirty = true
		log.Debugf("Stored body for %s from %s (%d bytes)", id, peer, len(bodyBytes))

		if _, err := p.tryGoUp(dbTx); err != nil {
			return false, err
		}
		return true, nil
	})
	return dirty, err
}

// EnumCongestions walks the missing ancestors of every candidate branch
// and emits RequestData callbacks for the headers and bodies the node
// still needs.
func (p *NodeProcessor) EnumCongestions() {
	if p.callbacks.RequestData == nil {
		return
	}
	tip, ok := p.dag.Tip()
	if !ok {
		p.dag.EnumCongestions(nil, p.callbacks.RequestData)
		return
	}
	p.dag.EnumCongestions(tip.Header.Work, p.callbacks.RequestData)
}
