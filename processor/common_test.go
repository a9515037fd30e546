package processor

import (
	"math/big"
	"testing"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/crypto/simgroup"
	"github.com/tenebra-net/tenebrad/radixtree"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/wire"
)

// testParams is the simnet with a short coinbase maturity, so tests can
// spend coinbase outputs after a couple of blocks.
func testParams() *chaincfg.Params {
	params := chaincfg.SimnetParams
	params.CoinbaseMaturityDelta = 2
	return &params
}

// testCallbacks records every callback invocation.
type testCallbacks struct {
	insanePeers []blockdag.PeerID
	newStates   int
	requests    []testRequest
}

type testRequest struct {
	id      wire.ID
	isBlock bool
	peer    blockdag.PeerID
}

func (cb *testCallbacks) callbacks() Callbacks {
	return Callbacks{
		RequestData: func(id wire.ID, isBlock bool, preferredPeer blockdag.PeerID) {
			cb.requests = append(cb.requests, testRequest{id: id, isBlock: isBlock, peer: preferredPeer})
		},
		OnPeerInsane: func(peer blockdag.PeerID) {
			cb.insanePeers = append(cb.insanePeers, peer)
		},
		OnNewState: func() {
			cb.newStates++
		},
	}
}

// testHarness owns a processor over a temp store plus everything needed
// to construct valid blocks: the keychain and the registry of built
// blocks for ancestry replay.
type testHarness struct {
	t        *testing.T
	params   *chaincfg.Params
	proc     *NodeProcessor
	cb       *testCallbacks
	keychain *simgroup.Keychain
	dataDir  string
	blocks   map[crypto.Hash]*wire.Block

	// Blinds and values of outputs the harness created, so later blocks
	// can spend them.
	blinds map[crypto.Commitment]*big.Int
	values map[crypto.Commitment]uint64
}

func newTestHarness(t *testing.T, horizon Horizon) *testHarness {
	t.Helper()

	params := testParams()
	cb := &testCallbacks{}
	dataDir := t.TempDir()
	proc := New(params, simgroup.NewVerifier(), horizon, cb.callbacks())
	if err := proc.Initialize(dataDir); err != nil {
		t.Fatalf("Initialize: %+v", err)
	}

	var seed [32]byte
	copy(seed[:], []byte("test keychain seed"))
	h := &testHarness{
		t:        t,
		params:   params,
		proc:     proc,
		cb:       cb,
		keychain: simgroup.NewKeychain(seed),
		dataDir:  dataDir,
		blocks:   make(map[crypto.Hash]*wire.Block),
		blinds:   make(map[crypto.Commitment]*big.Int),
		values:   make(map[crypto.Commitment]uint64),
	}
	t.Cleanup(func() {
		if err := h.proc.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return h
}

// ancestry returns the blocks from genesis (exclusive) to header
// (inclusive), using the harness registry.
func (h *testHarness) ancestry(header *wire.Header) []*wire.Block {
	h.t.Helper()
	var chain []*wire.Block
	for current := header; current.Height > 0; {
		block, ok := h.blocks[current.BlockHash()]
		if !ok {
			h.t.Fatalf("ancestry of height %d not registered in the harness", current.Height)
		}
		chain = append(chain, block)
		if current.Height == 1 {
			break
		}
		parent, ok := h.parentOf(current)
		if !ok {
			h.t.Fatalf("parent of height %d not registered in the harness", current.Height)
		}
		current = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (h *testHarness) parentOf(header *wire.Header) (*wire.Header, bool) {
	block, ok := h.blocks[header.Prev]
	if !ok {
		return nil, false
	}
	return &block.Header, true
}

// replayTrees rebuilds the tree state as of header by replaying the
// registered ancestry.
func (h *testHarness) replayTrees(header *wire.Header) (*radixtree.UtxoTree, *radixtree.HashOnlyTree) {
	h.t.Helper()
	utxos := radixtree.NewUtxoTree()
	kernels := radixtree.NewHashOnlyTree()
	for _, block := range h.ancestry(header) {
		h.applyBody(utxos, kernels, &block.Body)
	}
	return utxos, kernels
}

func (h *testHarness) applyBody(utxos *radixtree.UtxoTree, kernels *radixtree.HashOnlyTree, body *wire.Transaction) {
	h.t.Helper()
	for _, in := range body.Inputs {
		if _, err := utxos.Decrement(in.Commitment, in.Maturity); err != nil {
			h.t.Fatalf("harness replay: decrement %s: %v", in.Commitment, err)
		}
	}
	for _, out := range body.Outputs {
		utxos.Insert(out.Commitment, out.Maturity)
	}
	for _, kernel := range body.Kernels {
		if err := kernels.Insert(kernel.Hash()); err != nil {
			h.t.Fatalf("harness replay: kernel %s: %v", kernel.Hash(), err)
		}
	}
}

// buildBlock assembles a valid block on top of parent: the given
// transactions plus a coinbase collecting their fees. tsOffset
// disambiguates equal-content siblings.
func (h *testHarness) buildBlock(parent *wire.Header, txs []*wire.Transaction, tsOffset uint64) *wire.Block {
	h.t.Helper()

	height := parent.Height + 1
	body := &wire.Transaction{}
	var fees uint64
	for _, tx := range txs {
		body.Inputs = append(body.Inputs, tx.Inputs...)
		body.Outputs = append(body.Outputs, tx.Outputs...)
		body.Kernels = append(body.Kernels, tx.Kernels...)
		fees += tx.Fee()
	}

	coinbaseValue := fees + h.params.SubsidyAtHeight(height)
	commitment, rangeProof, err := h.keychain.CoinbaseOutput(coinbaseValue, height, 0)
	if err != nil {
		h.t.Fatalf("coinbase output: %v", err)
	}
	coinbaseOutput := &wire.Output{
		Commitment: commitment,
		Maturity:   height + h.params.CoinbaseMaturityDelta,
		Coinbase:   true,
		RangeProof: rangeProof,
	}
	excess, err := h.keychain.CoinbaseExcess(coinbaseValue, height)
	if err != nil {
		h.t.Fatalf("coinbase excess: %v", err)
	}
	coinbaseKernel := &wire.TxKernel{Excess: excess}
	signature, err := h.keychain.SignCoinbaseKernel(height, coinbaseKernel.Hash())
	if err != nil {
		h.t.Fatalf("coinbase kernel signature: %v", err)
	}
	coinbaseKernel.Signature = signature
	body.Outputs = append(body.Outputs, coinbaseOutput)
	body.Kernels = append(body.Kernels, coinbaseKernel)

	utxos, kernels := h.replayTrees(parent)
	h.applyBody(utxos, kernels, body)

	header := &wire.Header{
		Height:     height,
		Prev:       parent.BlockHash(),
		Timestamp:  parent.Timestamp + 600 + tsOffset,
		Bits:       h.params.NextRequiredBits(parent.Bits),
		UTXORoot:   utxos.Root(),
		KernelRoot: kernels.Root(),
	}
	header.Work = new(big.Int).Add(parent.Work, difficulty.CalcWork(header.Bits))
	h.solve(header)

	block := &wire.Block{Header: *header, Body: *body}
	h.blocks[header.BlockHash()] = block
	return block
}

// buildBadSpendBlock assembles a block whose body spends a commitment
// that does not exist. The declared roots are irrelevant; the engine
// refuses before comparing them.
func (h *testHarness) buildBadSpendBlock(parent *wire.Header) *wire.Block {
	h.t.Helper()

	var absent crypto.Commitment
	absent[0] = 0x09
	absent[1] = 0xde
	body := &wire.Transaction{
		Inputs: []*wire.Input{{Commitment: absent, Maturity: 1}},
	}

	header := &wire.Header{
		Height:     parent.Height + 1,
		Prev:       parent.BlockHash(),
		Timestamp:  parent.Timestamp + 600,
		Bits:       h.params.NextRequiredBits(parent.Bits),
		UTXORoot:   parent.UTXORoot,
		KernelRoot: parent.KernelRoot,
	}
	header.Work = new(big.Int).Add(parent.Work, difficulty.CalcWork(header.Bits))
	h.solve(header)

	block := &wire.Block{Header: *header, Body: *body}
	h.blocks[header.BlockHash()] = block
	return block
}

// solve finds a nonce satisfying the header's target. Simnet targets
// make this nearly free.
func (h *testHarness) solve(header *wire.Header) {
	h.t.Helper()
	target := difficulty.CompactToBig(header.Bits)
	for nonce := uint64(0); nonce < 1<<20; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if hash.ToBig().Cmp(target) <= 0 {
			return
		}
	}
	h.t.Fatal("no nonce found")
}

var testPeer = blockdag.PeerID{0: 0xaa}

// ingestHeader feeds the block's header through OnState.
func (h *testHarness) ingestHeader(block *wire.Block, peer blockdag.PeerID) bool {
	h.t.Helper()
	dirty, err := h.proc.OnState(&block.Header, peer)
	if err != nil {
		h.t.Fatalf("OnState(%s): %+v", block.Header.ID(), err)
	}
	return dirty
}

// ingestBlock feeds the block's header and body through the normal
// ingest path.
func (h *testHarness) ingestBlock(block *wire.Block, peer blockdag.PeerID) {
	h.t.Helper()
	h.ingestHeader(block, peer)
	if _, err := h.proc.OnBlock(block.Header.ID(), block.Body.Bytes(), peer); err != nil {
		h.t.Fatalf("OnBlock(%s): %+v", block.Header.ID(), err)
	}
}

// genesisHeader is a convenience accessor.
func (h *testHarness) genesisHeader() *wire.Header {
	return h.params.GenesisHeader()
}

// requireTip asserts the processor's tip.
func (h *testHarness) requireTip(want wire.ID) {
	h.t.Helper()
	tip, ok := h.proc.CurrentState()
	if !ok {
		h.t.Fatalf("no tip, want %s", want)
	}
	if tip != want {
		h.t.Fatalf("tip %s, want %s", tip, want)
	}
}

// requireRoots asserts the live trees match the given header's roots.
func (h *testHarness) requireRoots(header *wire.Header) {
	h.t.Helper()
	if got := h.proc.utxos.Root(); got != header.UTXORoot {
		h.t.Fatalf("utxo root %s, want %s (height %d)", got, header.UTXORoot, header.Height)
	}
	if got := h.proc.kernels.Root(); got != header.KernelRoot {
		h.t.Fatalf("kernel root %s, want %s (height %d)", got, header.KernelRoot, header.Height)
	}
}

// spendCoinbaseTx builds a transaction spending the coinbase output of
// the block at coinbaseHeight into a fresh output, paying fee. The
// output's maturity must equal the height of the block that will include
// the transaction.
func (h *testHarness) spendCoinbaseTx(coinbaseHeight, includeHeight uint64, fee uint64, outBlindSeed int64) *wire.Transaction {
	h.t.Helper()

	coinbaseValue := h.params.SubsidyAtHeight(coinbaseHeight)
	inBlind := h.keychain.CoinbaseBlind(coinbaseHeight, 0)
	inCommitment, _, err := h.keychain.CoinbaseOutput(coinbaseValue, coinbaseHeight, 0)
	if err != nil {
		h.t.Fatalf("coinbase output: %v", err)
	}

	outBlind := big.NewInt(outBlindSeed)
	outValue := coinbaseValue - fee
	output := &wire.Output{
		Commitment: simgroup.Commit(outValue, outBlind),
		Maturity:   includeHeight,
	}
	output.RangeProof = simgroup.RangeProof(output.Commitment)

	k := new(big.Int).Sub(inBlind, outBlind)
	kernel := &wire.TxKernel{
		Excess: simgroup.ExcessOf(k),
		Fee:    fee,
	}
	kernel.Signature = simgroup.SignKernel(k, kernel.Hash())

	h.blinds[output.Commitment] = outBlind
	h.values[output.Commitment] = outValue

	return &wire.Transaction{
		Inputs:  []*wire.Input{{Commitment: inCommitment, Maturity: coinbaseHeight + h.params.CoinbaseMaturityDelta}},
		Outputs: []*wire.Output{output},
		Kernels: []*wire.TxKernel{kernel},
	}
}

// duplicateOutputsTx spends the coinbase of coinbaseHeight into two
// byte-identical outputs (same commitment, same maturity), fee zero.
func (h *testHarness) duplicateOutputsTx(coinbaseHeight, includeHeight uint64) *wire.Transaction {
	h.t.Helper()

	coinbaseValue := h.params.SubsidyAtHeight(coinbaseHeight)
	inBlind := h.keychain.CoinbaseBlind(coinbaseHeight, 0)
	inCommitment, _, err := h.keychain.CoinbaseOutput(coinbaseValue, coinbaseHeight, 0)
	if err != nil {
		h.t.Fatalf("coinbase output: %v", err)
	}

	halfValue := coinbaseValue / 2
	outBlind := big.NewInt(777777)
	commitment := simgroup.Commit(halfValue, outBlind)
	rangeProof := simgroup.RangeProof(commitment)
	makeOut := func() *wire.Output {
		return &wire.Output{
			Commitment: commitment,
			Maturity:   includeHeight,
			RangeProof: rangeProof,
		}
	}

	// k = rIn - (rOut + rOut)
	k := new(big.Int).Sub(inBlind, new(big.Int).Add(outBlind, outBlind))
	kernel := &wire.TxKernel{Excess: simgroup.ExcessOf(k)}
	kernel.Signature = simgroup.SignKernel(k, kernel.Hash())

	h.blinds[commitment] = outBlind
	h.values[commitment] = halfValue

	return &wire.Transaction{
		Inputs:  []*wire.Input{{Commitment: inCommitment, Maturity: coinbaseHeight + h.params.CoinbaseMaturityDelta}},
		Outputs: []*wire.Output{makeOut(), makeOut()},
		Kernels: []*wire.TxKernel{kernel},
	}
}

// spendDuplicateTx spends one instance of the duplicated output at the
// given inclusion height. seed differentiates the spenders' outputs.
func (h *testHarness) spendDuplicateTx(dup *wire.Transaction, dupMaturity, includeHeight uint64, seed int64) *wire.Transaction {
	h.t.Helper()

	inCommitment := dup.Outputs[0].Commitment
	inBlind, ok := h.blinds[inCommitment]
	if !ok {
		h.t.Fatal("harness does not know the duplicated output's blind")
	}
	inValue := h.values[inCommitment]

	const fee = 1000
	outBlind := big.NewInt(888800 + seed)
	output := &wire.Output{
		Commitment: simgroup.Commit(inValue-fee, outBlind),
		Maturity:   includeHeight,
	}
	output.RangeProof = simgroup.RangeProof(output.Commitment)

	k := new(big.Int).Sub(inBlind, outBlind)
	kernel := &wire.TxKernel{
		Excess: simgroup.ExcessOf(k),
		Fee:    fee,
	}
	kernel.Signature = simgroup.SignKernel(k, kernel.Hash())

	h.blinds[output.Commitment] = outBlind
	h.values[output.Commitment] = inValue - fee

	return &wire.Transaction{
		Inputs:  []*wire.Input{{Commitment: inCommitment, Maturity: dupMaturity}},
		Outputs: []*wire.Output{output},
		Kernels: []*wire.TxKernel{kernel},
	}
}

// buildInvalidBlock assembles a block whose body will fail to apply. No
// tree replay happens; the declared roots are the parent's, which the
// engine never reaches.
func (h *testHarness) buildInvalidBlock(parent *wire.Header, txs []*wire.Transaction) *wire.Block {
	h.t.Helper()

	height := parent.Height + 1
	body := &wire.Transaction{}
	var fees uint64
	for _, tx := range txs {
		body.Inputs = append(body.Inputs, tx.Inputs...)
		body.Outputs = append(body.Outputs, tx.Outputs...)
		body.Kernels = append(body.Kernels, tx.Kernels...)
		fees += tx.Fee()
	}

	coinbaseValue := fees + h.params.SubsidyAtHeight(height)
	commitment, rangeProof, err := h.keychain.CoinbaseOutput(coinbaseValue, height, 0)
	if err != nil {
		h.t.Fatalf("coinbase output: %v", err)
	}
	body.Outputs = append(body.Outputs, &wire.Output{
		Commitment: commitment,
		Maturity:   height + h.params.CoinbaseMaturityDelta,
		Coinbase:   true,
		RangeProof: rangeProof,
	})
	excess, err := h.keychain.CoinbaseExcess(coinbaseValue, height)
	if err != nil {
		h.t.Fatalf("coinbase excess: %v", err)
	}
	coinbaseKernel := &wire.TxKernel{Excess: excess}
	signature, err := h.keychain.SignCoinbaseKernel(height, coinbaseKernel.Hash())
	if err != nil {
		h.t.Fatalf("coinbase kernel signature: %v", err)
	}
	coinbaseKernel.Signature = signature
	body.Kernels = append(body.Kernels, coinbaseKernel)

	header := &wire.Header{
		Height:     height,
		Prev:       parent.BlockHash(),
		Timestamp:  parent.Timestamp + 600,
		Bits:       h.params.NextRequiredBits(parent.Bits),
		UTXORoot:   parent.UTXORoot,
		KernelRoot: parent.KernelRoot,
	}
	header.Work = new(big.Int).Add(parent.Work, difficulty.CalcWork(header.Bits))
	h.solve(header)

	block := &wire.Block{Header: *header, Body: *body}
	h.blocks[header.BlockHash()] = block
	return block
}
