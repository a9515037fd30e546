package processor

import (
	"testing"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/infrastructure/db/dbaccess"
	"github.com/tenebra-net/tenebrad/wire"
)

func TestInitializeAppliesGenesis(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	h.requireTip(h.params.GenesisID())
	h.requireRoots(h.genesisHeader())
	if h.cb.newStates == 0 {
		t.Fatal("OnNewState did not fire for genesis")
	}
}

func TestLinearApply(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	blockA := h.buildBlock(h.genesisHeader(), nil, 0)
	blockB := h.buildBlock(&blockA.Header, nil, 0)

	h.ingestBlock(blockA, testPeer)
	h.requireTip(blockA.Header.ID())
	h.requireRoots(&blockA.Header)

	h.ingestBlock(blockB, testPeer)
	h.requireTip(blockB.Header.ID())
	h.requireRoots(&blockB.Header)

	if h.proc.utxos.Len() != 2 || h.proc.kernels.Len() != 2 {
		t.Fatalf("tree sizes %d/%d, want 2/2", h.proc.utxos.Len(), h.proc.kernels.Len())
	}
	if len(h.cb.insanePeers) != 0 {
		t.Fatalf("unexpected insane peers: %v", h.cb.insanePeers)
	}
}

func TestRevertRoundTrip(t *testing.T) {
	// Applying a chain and reverting it in reverse order returns the
	// trees to their starting roots at every step.
	h := newTestHarness(t, Horizon{})

	headers := []*wire.Header{h.genesisHeader()}
	parent := h.genesisHeader()
	for i := 0; i < 4; i++ {
		block := h.buildBlock(parent, nil, 0)
		h.ingestBlock(block, testPeer)
		parent = &block.Header
		headers = append(headers, parent)
	}
	h.requireTip(parent.ID())

	dbTx, err := h.proc.dbContext.NewTx()
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	defer dbTx.RollbackUnlessClosed()

	for i := len(headers) - 1; i > 0; i-- {
		tipID, ok := h.proc.CurrentState()
		if !ok {
			t.Fatal("no tip")
		}
		node, ok := h.proc.dag.LookupNode(&tipID.Hash)
		if !ok {
			t.Fatal("tip not in index")
		}
		if _, err := h.proc.rollback(dbTx, node); err != nil {
			t.Fatalf("rollback at height %d: %+v", i, err)
		}
		h.requireRoots(headers[i-1])
	}
	if err := dbTx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestReorg(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	// Chain G-A1-A2, then a longer fork G-C1-C2-C3.
	blockA1 := h.buildBlock(h.genesisHeader(), nil, 0)
	blockA2 := h.buildBlock(&blockA1.Header, nil, 0)
	h.ingestBlock(blockA1, testPeer)
	h.ingestBlock(blockA2, testPeer)
	h.requireTip(blockA2.Header.ID())

	forkPeer := blockdag.PeerID{0: 0xbb}
	blockC1 := h.buildBlock(h.genesisHeader(), nil, 7)
	blockC2 := h.buildBlock(&blockC1.Header, nil, 0)
	blockC3 := h.buildBlock(&blockC2.Header, nil, 0)
	h.ingestBlock(blockC1, forkPeer)
	h.ingestBlock(blockC2, forkPeer)
	h.ingestBlock(blockC3, forkPeer)

	h.requireTip(blockC3.Header.ID())
	h.requireRoots(&blockC3.Header)

	// The old branch is registered but no longer active.
	nodeA2, ok := h.proc.dag.LookupNode(&blockA2.Header.ID().Hash)
	if !ok {
		t.Fatal("old tip fell out of the DAG")
	}
	if nodeA2.HasFlag(blockdag.StatusActive) {
		t.Fatal("old tip is still active")
	}
	if !nodeA2.HasFlag(blockdag.StatusFunctional) {
		t.Fatal("old tip lost its functional flag")
	}
	if len(h.cb.insanePeers) != 0 {
		t.Fatalf("unexpected insane peers: %v", h.cb.insanePeers)
	}

	// Every active node's ancestry is active too.
	h.proc.dag.ForEachNode(func(node *blockdag.Node) bool {
		if !node.HasFlag(blockdag.StatusActive) || node.IsGenesis() {
			return true
		}
		parent, ok := h.proc.dag.Parent(node)
		if !ok || !parent.HasFlag(blockdag.StatusActive) {
			t.Fatalf("active node %s has a non-active parent", node)
		}
		return true
	})
}

func TestEqualWorkTieBreak(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	// Two sibling blocks with identical work; the lower hash must win
	// regardless of arrival order.
	blockX := h.buildBlock(h.genesisHeader(), nil, 0)
	blockY := h.buildBlock(h.genesisHeader(), nil, 13)

	winner, loser := blockX, blockY
	loserHash := blockY.Header.BlockHash()
	winnerHash := blockX.Header.BlockHash()
	if loserHash.Less(&winnerHash) {
		winner, loser = blockY, blockX
	}

	h.ingestBlock(loser, testPeer)
	h.requireTip(loser.Header.ID())
	h.ingestBlock(winner, testPeer)
	h.requireTip(winner.Header.ID())

	// Ingesting the loser again must not displace the winner.
	if _, err := h.proc.OnBlock(loser.Header.ID(), loser.Body.Bytes(), testPeer); err != nil {
		t.Fatalf("OnBlock: %+v", err)
	}
	h.requireTip(winner.Header.ID())
}

func TestBadBlockFlagsPeer(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	good := h.buildBlock(h.genesisHeader(), nil, 0)
	h.ingestBlock(good, testPeer)

	badPeer := blockdag.PeerID{0: 0xcc}
	bad := h.buildBadSpendBlock(&good.Header)
	h.ingestBlock(bad, badPeer)

	// Tip unchanged, peer flagged, header kept but failed.
	h.requireTip(good.Header.ID())
	h.requireRoots(&good.Header)
	if len(h.cb.insanePeers) != 1 || h.cb.insanePeers[0] != badPeer {
		t.Fatalf("insane peers %v, want [%s]", h.cb.insanePeers, badPeer)
	}
	badHash := bad.Header.BlockHash()
	node, ok := h.proc.dag.LookupNode(&badHash)
	if !ok {
		t.Fatal("bad header was dropped from the DAG; it must be kept to avoid refetch loops")
	}
	if !node.HasFlag(blockdag.StatusFailed) {
		t.Fatal("bad header is not marked failed")
	}
}

func TestDuplicateOutputs(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	// Mine a coinbase, wait out its maturity, then split it into a
	// transaction carrying two identical outputs.
	blockA1 := h.buildBlock(h.genesisHeader(), nil, 0)
	blockA2 := h.buildBlock(&blockA1.Header, nil, 0)
	h.ingestBlock(blockA1, testPeer)
	h.ingestBlock(blockA2, testPeer)

	includeHeight := uint64(3)
	dup := h.duplicateOutputsTx(1, includeHeight)
	blockA3 := h.buildBlock(&blockA2.Header, []*wire.Transaction{dup}, 0)
	h.ingestBlock(blockA3, testPeer)
	h.requireTip(blockA3.Header.ID())

	dupCommitment := dup.Outputs[0].Commitment
	if m, ok := h.proc.utxos.Multiplicity(dupCommitment, includeHeight); !ok || m != 2 {
		t.Fatalf("duplicate entry multiplicity %d ok %t, want 2 true", m, ok)
	}

	// One spend leaves multiplicity 1, the second removes the leaf.
	spend1 := h.spendDuplicateTx(dup, includeHeight, 4, 0)
	blockA4 := h.buildBlock(&blockA3.Header, []*wire.Transaction{spend1}, 0)
	h.ingestBlock(blockA4, testPeer)
	if m, ok := h.proc.utxos.Multiplicity(dupCommitment, includeHeight); !ok || m != 1 {
		t.Fatalf("after first spend: multiplicity %d ok %t, want 1 true", m, ok)
	}

	spend2 := h.spendDuplicateTx(dup, includeHeight, 5, 1)
	blockA5 := h.buildBlock(&blockA4.Header, []*wire.Transaction{spend2}, 0)
	h.ingestBlock(blockA5, testPeer)
	if _, ok := h.proc.utxos.Multiplicity(dupCommitment, includeHeight); ok {
		t.Fatal("after second spend: leaf still present")
	}

	// A third consumer has nothing to spend.
	badPeer := blockdag.PeerID{0: 0xdd}
	spend3 := h.spendDuplicateTx(dup, includeHeight, 6, 2)
	blockA6 := h.buildInvalidBlock(&blockA5.Header, []*wire.Transaction{spend3})
	h.ingestBlock(blockA6, badPeer)
	h.requireTip(blockA5.Header.ID())
	if len(h.cb.insanePeers) != 1 || h.cb.insanePeers[0] != badPeer {
		t.Fatalf("insane peers %v, want [%s]", h.cb.insanePeers, badPeer)
	}
}

func TestHorizonPruning(t *testing.T) {
	h := newTestHarness(t, Horizon{Branching: 2, Schwarzschild: 3})

	// A stale sibling at height 1, then a main chain tall enough to push
	// it below both horizons.
	stale := h.buildBlock(h.genesisHeader(), nil, 99)
	h.ingestBlock(stale, testPeer)

	parent := h.genesisHeader()
	var mainChain []*wire.Block
	for i := 0; i < 7; i++ {
		block := h.buildBlock(parent, nil, 0)
		h.ingestBlock(block, testPeer)
		parent = &block.Header
		mainChain = append(mainChain, block)
	}
	tip, _ := h.proc.CurrentState()
	if tip.Height != 7 {
		t.Fatalf("tip height %d, want 7", tip.Height)
	}

	// The stale branch lost the tie-break at some point and now lies
	// below the branching horizon: it must be gone entirely.
	staleHash := stale.Header.BlockHash()
	if _, ok := h.proc.dag.LookupNode(&staleHash); ok {
		t.Fatal("stale branch survived the branching horizon")
	}

	// Bodies at and below height 7-3 are erased, headers retained, undo
	// logs freed.
	noTx := h.proc.dbContext.NoTx()
	for _, block := range mainChain {
		id := block.Header.ID()
		node, ok := h.proc.dag.LookupNode(&id.Hash)
		if !ok {
			t.Fatalf("active header %s was pruned", id)
		}
		_, bodyErr := dbaccess.FetchBody(noTx, id.Height, &id.Hash)
		_, undoErr := dbaccess.FetchUndoData(noTx, id.Height, &id.Hash)
		if id.Height <= 4 {
			if node.HasBody || !dbaccess.IsNotFoundError(bodyErr) {
				t.Fatalf("body of %s survived the erasure horizon", id)
			}
			if !dbaccess.IsNotFoundError(undoErr) {
				t.Fatalf("undo log of %s was not dereferenced", id)
			}
		} else {
			if !node.HasBody || bodyErr != nil {
				t.Fatalf("body of %s was erased above the horizon", id)
			}
		}
	}

	// States below the erasure horizon are no longer needed.
	if h.proc.IsStateNeeded(wire.ID{Height: 3}) {
		t.Fatal("state below the erasure horizon reported as needed")
	}
	if !h.proc.IsStateNeeded(wire.ID{Height: 8}) {
		t.Fatal("unknown state above the horizon reported as not needed")
	}
}

func TestCongestionRequests(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	// A three-block fork advertised headers-first: C1 C2 C3 with no
	// bodies. The planner must ask for all three bodies.
	forkPeer := blockdag.PeerID{0: 0xee}
	blockC1 := h.buildBlock(h.genesisHeader(), nil, 3)
	blockC2 := h.buildBlock(&blockC1.Header, nil, 0)
	blockC3 := h.buildBlock(&blockC2.Header, nil, 0)
	h.ingestHeader(blockC1, forkPeer)
	h.ingestHeader(blockC2, forkPeer)
	h.ingestHeader(blockC3, forkPeer)

	h.proc.EnumCongestions()
	wantBodies := map[wire.ID]bool{
		blockC1.Header.ID(): true,
		blockC2.Header.ID(): true,
		blockC3.Header.ID(): true,
	}
	for _, request := range h.cb.requests {
		if !request.isBlock {
			t.Fatalf("unexpected header request %s; all headers are known", request.id)
		}
		if !wantBodies[request.id] {
			t.Fatalf("unexpected body request %s", request.id)
		}
		if request.peer != forkPeer {
			t.Fatalf("request for %s addressed to %s, want %s", request.id, request.peer, forkPeer)
		}
		delete(wantBodies, request.id)
	}
	if len(wantBodies) != 0 {
		t.Fatalf("missing body requests: %v", wantBodies)
	}

	// An orphan header must produce a request for its unknown parent.
	h.cb.requests = nil
	blockD1 := h.buildBlock(&blockC3.Header, nil, 0)
	blockD2 := h.buildBlock(&blockD1.Header, nil, 0)
	h.ingestHeader(blockD2, forkPeer)

	h.proc.EnumCongestions()
	foundParentRequest := false
	for _, request := range h.cb.requests {
		if !request.isBlock && request.id == blockD1.Header.ID() {
			foundParentRequest = true
		}
	}
	if !foundParentRequest {
		t.Fatalf("no header request for the orphan's parent; requests: %v", h.cb.requests)
	}
}

func TestRestartKeepsState(t *testing.T) {
	h := newTestHarness(t, Horizon{})

	blockA := h.buildBlock(h.genesisHeader(), nil, 0)
	blockB := h.buildBlock(&blockA.Header, nil, 0)
	h.ingestBlock(blockA, testPeer)
	h.ingestBlock(blockB, testPeer)
	h.requireTip(blockB.Header.ID())

	if err := h.proc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen over the same store: the trees must rebuild to the same
	// roots and the tip must survive. Initialize cross-checks the
	// multiset, so a silent divergence would panic here.
	cb := &testCallbacks{}
	reopened := New(h.params, h.proc.verifier, Horizon{}, cb.callbacks())
	if err := reopened.Initialize(h.dataDir); err != nil {
		t.Fatalf("re-Initialize: %+v", err)
	}
	h.proc = reopened // the harness cleanup closes the reopened store

	h.requireTip(blockB.Header.ID())
	h.requireRoots(&blockB.Header)
	if h.proc.utxos.Len() != 2 || h.proc.kernels.Len() != 2 {
		t.Fatalf("tree sizes %d/%d after restart, want 2/2",
			h.proc.utxos.Len(), h.proc.kernels.Len())
	}
}
