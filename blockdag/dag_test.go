package blockdag

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/wire"
)

func testParams() *chaincfg.Params {
	return &chaincfg.SimnetParams
}

// makeChildHeader builds a valid child of parent. tsOffset
// disambiguates siblings.
func makeChildHeader(t *testing.T, params *chaincfg.Params, parent *wire.Header, tsOffset uint64) *wire.Header {
	t.Helper()

	header := &wire.Header{
		Height:    parent.Height + 1,
		Prev:      parent.BlockHash(),
		Timestamp: parent.Timestamp + 600 + tsOffset,
		Bits:      params.NextRequiredBits(parent.Bits),
	}
	header.Work = new(big.Int).Add(parent.Work, difficulty.CalcWork(header.Bits))

	target := difficulty.CompactToBig(header.Bits)
	for nonce := uint64(0); nonce < 1<<20; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if hash.ToBig().Cmp(target) <= 0 {
			return header
		}
	}
	t.Fatal("no nonce found")
	return nil
}

func mustRegister(t *testing.T, dag *DAG, header *wire.Header, peer PeerID) *Node {
	t.Helper()
	node, err := dag.RegisterState(header, peer)
	if err != nil {
		t.Fatalf("RegisterState(%s): %v", header.ID(), err)
	}
	return node
}

func ruleCodeOf(t *testing.T, err error) ErrorCode {
	t.Helper()
	var ruleErr RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("error %v is not a RuleError", err)
	}
	return ruleErr.ErrorCode
}

func TestRegisterStateValidation(t *testing.T) {
	params := testParams()
	dag := New(params)
	genesis := params.GenesisHeader()
	peer := PeerID{0: 1}

	// A valid child registers and becomes reachable.
	child := makeChildHeader(t, params, genesis, 0)
	node := mustRegister(t, dag, child, peer)
	if !node.HasFlag(StatusReachable) {
		t.Fatal("child of genesis is not reachable")
	}

	// Re-registration is reported as a duplicate.
	_, err := dag.RegisterState(child, peer)
	if code := ruleCodeOf(t, err); code != ErrDuplicateState {
		t.Fatalf("duplicate registration: %s, want ErrDuplicateState", code)
	}

	// Wrong height on a known parent.
	wrongHeight := makeChildHeader(t, params, genesis, 5)
	wrongHeight.Height = 5
	resolve(t, params, wrongHeight)
	_, err = dag.RegisterState(wrongHeight, peer)
	if code := ruleCodeOf(t, err); code != ErrWrongHeight {
		t.Fatalf("wrong height: %s, want ErrWrongHeight", code)
	}

	// Timestamp at or below the parent's median time past.
	staleTime := makeChildHeader(t, params, genesis, 0)
	staleTime.Timestamp = genesis.Timestamp
	resolve(t, params, staleTime)
	_, err = dag.RegisterState(staleTime, peer)
	if code := ruleCodeOf(t, err); code != ErrTimeTooOld {
		t.Fatalf("stale timestamp: %s, want ErrTimeTooOld", code)
	}

	// Declared work must follow from the parent.
	badWork := makeChildHeader(t, params, genesis, 11)
	badWork.Work = new(big.Int).Add(badWork.Work, big.NewInt(1))
	resolve(t, params, badWork)
	_, err = dag.RegisterState(badWork, peer)
	if code := ruleCodeOf(t, err); code != ErrUnexpectedWork {
		t.Fatalf("bad work: %s, want ErrUnexpectedWork", code)
	}
}

// resolve re-solves the header's PoW after a field was tampered with, so
// the tampering is what the DAG rejects, not the stale nonce.
func resolve(t *testing.T, params *chaincfg.Params, header *wire.Header) {
	t.Helper()
	target := difficulty.CompactToBig(header.Bits)
	for nonce := uint64(0); nonce < 1<<20; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if hash.ToBig().Cmp(target) <= 0 {
			return
		}
	}
	t.Fatal("no nonce found")
}

func TestReachabilityPropagation(t *testing.T) {
	params := testParams()
	dag := New(params)
	genesis := params.GenesisHeader()
	peer := PeerID{0: 2}

	// Register grandchild before child: it stays unreachable until the
	// gap closes.
	child := makeChildHeader(t, params, genesis, 0)
	grandchild := makeChildHeader(t, params, child, 0)

	gcNode := mustRegister(t, dag, grandchild, peer)
	if gcNode.HasFlag(StatusReachable) {
		t.Fatal("orphan header is reachable")
	}

	mustRegister(t, dag, child, peer)
	if !gcNode.HasFlag(StatusReachable) {
		t.Fatal("reachability did not propagate to the waiting descendant")
	}
}

func TestFunctionalCascade(t *testing.T) {
	params := testParams()
	dag := New(params)
	genesis := params.GenesisHeader()
	peer := PeerID{0: 3}

	child := makeChildHeader(t, params, genesis, 0)
	grandchild := makeChildHeader(t, params, child, 0)
	childNode := mustRegister(t, dag, child, peer)
	gcNode := mustRegister(t, dag, grandchild, peer)

	// Bodies arrive out of order: the grandchild's first.
	dag.AttachBody(gcNode)
	if gcNode.HasFlag(StatusFunctional) {
		t.Fatal("grandchild functional without its ancestor's body")
	}

	dag.AttachBody(childNode)
	if !childNode.HasFlag(StatusFunctional) || !gcNode.HasFlag(StatusFunctional) {
		t.Fatal("functional flag did not cascade through the gap")
	}
}

func TestBestFunctionalTipTieBreak(t *testing.T) {
	params := testParams()
	peer := PeerID{0: 4}

	// Two equal-work siblings: the lower hash must win regardless of
	// registration order.
	genesis := params.GenesisHeader()
	siblingA := makeChildHeader(t, params, genesis, 0)
	siblingB := makeChildHeader(t, params, genesis, 17)
	if siblingA.Work.Cmp(siblingB.Work) != 0 {
		t.Fatal("siblings do not have equal work")
	}

	expected := siblingA.ID()
	bHash := siblingB.ID()
	if bHash.Hash.Less(&expected.Hash) {
		expected = bHash
	}

	for _, order := range [][]*wire.Header{
		{siblingA, siblingB},
		{siblingB, siblingA},
	} {
		dag := New(params)
		for _, header := range order {
			node := mustRegister(t, dag, header, peer)
			dag.AttachBody(node)
		}
		best, ok := dag.BestFunctionalTip()
		if !ok {
			t.Fatal("no functional tip")
		}
		if best.ID != expected {
			t.Fatalf("best tip %s, want %s", best.ID, expected)
		}
	}
}

func TestMarkFailedSubtree(t *testing.T) {
	params := testParams()
	dag := New(params)
	genesis := params.GenesisHeader()
	peer := PeerID{0: 5}

	child := makeChildHeader(t, params, genesis, 0)
	grandchild := makeChildHeader(t, params, child, 0)
	childNode := mustRegister(t, dag, child, peer)
	gcNode := mustRegister(t, dag, grandchild, peer)
	dag.AttachBody(childNode)
	dag.AttachBody(gcNode)

	dag.MarkFailedSubtree(childNode)
	for _, node := range []*Node{childNode, gcNode} {
		if !node.HasFlag(StatusFailed) {
			t.Fatalf("%s is not failed", node)
		}
		if node.HasFlag(StatusFunctional) {
			t.Fatalf("%s kept its functional flag", node)
		}
	}

	best, ok := dag.BestFunctionalTip()
	if !ok || !best.IsGenesis() {
		t.Fatalf("best functional tip %v, want genesis: a failed subtree must not compete", best)
	}

	// A late descendant of a failed header inherits the failure.
	greatGrandchild := makeChildHeader(t, params, grandchild, 0)
	ggNode := mustRegister(t, dag, greatGrandchild, peer)
	if !ggNode.HasFlag(StatusFailed) {
		t.Fatal("descendant of a failed header is not failed")
	}
}

func TestCommonAncestorAndPath(t *testing.T) {
	params := testParams()
	dag := New(params)
	genesis := params.GenesisHeader()
	genesisID := params.GenesisID()
	genesisNode, _ := dag.LookupNode(&genesisID.Hash)
	peer := PeerID{0: 6}

	// Two branches of different lengths off the same fork point.
	fork := makeChildHeader(t, params, genesis, 0)
	forkNode := mustRegister(t, dag, fork, peer)

	branchA := makeChildHeader(t, params, fork, 1)
	branchANode := mustRegister(t, dag, branchA, peer)

	branchB1 := makeChildHeader(t, params, fork, 2)
	branchB2 := makeChildHeader(t, params, branchB1, 0)
	mustRegister(t, dag, branchB1, peer)
	branchB2Node := mustRegister(t, dag, branchB2, peer)

	ancestor, err := dag.CommonAncestor(branchANode, branchB2Node)
	if err != nil {
		t.Fatalf("CommonAncestor: %v", err)
	}
	if ancestor != forkNode {
		t.Fatalf("common ancestor %s, want %s", ancestor, forkNode)
	}

	path, err := dag.PathBetween(genesisNode, branchB2Node)
	if err != nil {
		t.Fatalf("PathBetween: %v", err)
	}
	if len(path) != 3 {
		t.Fatalf("path length %d, want 3", len(path))
	}
	if path[0] != forkNode || path[2] != branchB2Node {
		t.Fatal("path is not ordered ancestor-first")
	}
}
