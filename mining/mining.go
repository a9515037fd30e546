// Package mining assembles candidate blocks from the transaction pool on
// top of the current chain state.
package mining

import (
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/mempool"
	"github.com/tenebra-net/tenebrad/radixtree"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/wire"
)

// ChainState is the view of the chain the generator builds on. The
// processor implements it.
type ChainState interface {
	// CurrentHeader returns the header of the active tip.
	CurrentHeader() (*wire.Header, bool)

	// TreesSnapshot returns working copies of the commitment trees at
	// the tip.
	TreesSnapshot() (*radixtree.UtxoTree, *radixtree.HashOnlyTree, bool)

	// TipMedianTimePast returns the median-time-past of the tip.
	TipMedianTimePast() (uint64, bool)
}

// TimeSource provides the wall clock used to timestamp generated blocks.
type TimeSource interface {
	Now() time.Time
}

type realTimeSource struct{}

func (realTimeSource) Now() time.Time { return time.Now() }

// RealTimeSource returns a TimeSource backed by the system clock.
func RealTimeSource() TimeSource { return realTimeSource{} }

// BlockTemplate is a generated block that has yet to be mined. The
// header carries final roots and work but a zero nonce; the proof of
// work search is the miner's job. Once mined, the block re-enters the
// node through the normal ingest path.
type BlockTemplate struct {
	Header *wire.Header
	Bytes  []byte
	Fees   uint64
}

// BlkTmplGenerator provides a type that can be used to generate block
// templates based on a given mining policy and source of transactions.
type BlkTmplGenerator struct {
	policy     *Policy
	params     *chaincfg.Params
	chain      ChainState
	timeSource TimeSource
}

// NewBlkTmplGenerator returns a new block template generator for the
// given policy.
func NewBlkTmplGenerator(policy *Policy, params *chaincfg.Params, chain ChainState,
	timeSource TimeSource) *BlkTmplGenerator {

	return &BlkTmplGenerator{
		policy:     policy,
		params:     params,
		chain:      chain,
		timeSource: timeSource,
	}
}

// GenerateNewBlock assembles a candidate block from the pool under the
// weight cap, fills the coinbase through the keychain and finalizes the
// header. The working trees are discarded afterwards; the chain state is
// not modified.
func (g *BlkTmplGenerator) GenerateNewBlock(pool *mempool.TxPool, keychain crypto.Keychain) (*BlockTemplate, error) {
	tipHeader, ok := g.chain.CurrentHeader()
	if !ok {
		return nil, errors.New("no chain state to build on")
	}
	utxos, kernels, ok := g.chain.TreesSnapshot()
	if !ok {
		return nil, errors.New("no chain state to build on")
	}
	medianTimePast, _ := g.chain.TipMedianTimePast()

	height := tipHeader.Height + 1
	body := &wire.Transaction{}
	var totalFees, blockWeight uint64

	// Weight is reserved up front for the coinbase output and kernel.
	coinbaseReserve := uint64(2*crypto.CommitmentSize + crypto.SignatureSize + crypto.HashSize + 64)

	// Candidates stream from the pool most profitable first. Each is
	// applied tentatively against the working trees; failures discard
	// the candidate, success keeps its effects so later candidates may
	// spend its outputs.
	pool.ForEachByProfit(func(desc *mempool.TxDesc) bool {
		if height < desc.MinHeight || height > desc.MaxHeight {
			log.Tracef("Skipping tx %s: lock window [%d, %d] excludes height %d",
				desc.ID, desc.MinHeight, desc.MaxHeight, height)
			return true
		}
		if blockWeight+desc.Size+coinbaseReserve > g.policy.BlockMaxWeight {
			log.Tracef("Tx %s would exceed the max block weight. As such, stopping.", desc.ID)
			return false
		}

		if err := applyCandidate(utxos, kernels, desc.Tx, height, g.params); err != nil {
			log.Tracef("Skipping tx %s: %s", desc.ID, err)
			return true
		}

		body.Inputs = append(body.Inputs, desc.Tx.Inputs...)
		body.Outputs = append(body.Outputs, desc.Tx.Outputs...)
		body.Kernels = append(body.Kernels, desc.Tx.Kernels...)
		blockWeight += desc.Size
		totalFees += desc.Fee
		return true
	})

	// Coinbase output and its balancing kernel.
	coinbaseValue := totalFees + g.params.SubsidyAtHeight(height)
	coinbaseCommitment, rangeProof, err := keychain.CoinbaseOutput(coinbaseValue, height, 0)
	if err != nil {
		return nil, errors.Wrap(err, "building coinbase output")
	}
	coinbaseOutput := &wire.Output{
		Commitment: coinbaseCommitment,
		Maturity:   height + g.params.CoinbaseMaturityDelta,
		Coinbase:   true,
		RangeProof: rangeProof,
	}

	excess, err := keychain.CoinbaseExcess(coinbaseValue, height)
	if err != nil {
		return nil, errors.Wrap(err, "building coinbase excess")
	}
	coinbaseKernel := &wire.TxKernel{Excess: excess}
	signature, err := keychain.SignCoinbaseKernel(height, coinbaseKernel.Hash())
	if err != nil {
		return nil, errors.Wrap(err, "signing coinbase kernel")
	}
	coinbaseKernel.Signature = signature

	utxos.Insert(coinbaseOutput.Commitment, coinbaseOutput.Maturity)
	if err := kernels.Insert(coinbaseKernel.Hash()); err != nil {
		return nil, errors.Wrap(err, "inserting coinbase kernel")
	}
	body.Outputs = append(body.Outputs, coinbaseOutput)
	body.Kernels = append(body.Kernels, coinbaseKernel)

	// Finalize the header. The nonce stays zero for the external miner.
	timestamp := uint64(g.timeSource.Now().Unix())
	if timestamp <= medianTimePast {
		timestamp = medianTimePast + 1
	}
	bits := g.params.NextRequiredBits(tipHeader.Bits)
	header := &wire.Header{
		Height:     height,
		Prev:       tipHeader.BlockHash(),
		Timestamp:  timestamp,
		Bits:       bits,
		Work:       new(big.Int).Add(tipHeader.Work, difficulty.CalcWork(bits)),
		UTXORoot:   utxos.Root(),
		KernelRoot: kernels.Root(),
	}

	block := &wire.Block{Header: *header, Body: *body}
	log.Debugf("Generated block template at height %d: %d kernels, %d in fees",
		height, len(body.Kernels), totalFees)

	return &BlockTemplate{
		Header: header,
		Bytes:  block.Bytes(),
		Fees:   totalFees,
	}, nil
}

// applyCandidate replays the engine's element checks for one candidate
// against the working trees. On any failure the working trees are
// restored and the candidate is reported unusable.
func applyCandidate(utxos *radixtree.UtxoTree, kernels *radixtree.HashOnlyTree,
	tx *wire.Transaction, height uint64, params *chaincfg.Params) error {

	priors := make([]uint32, 0, len(tx.Inputs))
	outputsApplied, kernelsApplied := 0, 0

	unwind := func() {
		for i := kernelsApplied - 1; i >= 0; i-- {
			_ = kernels.Remove(tx.Kernels[i].Hash())
		}
		for i := outputsApplied - 1; i >= 0; i-- {
			_, _ = utxos.Decrement(tx.Outputs[i].Commitment, tx.Outputs[i].Maturity)
		}
		for i := len(priors) - 1; i >= 0; i-- {
			utxos.Set(tx.Inputs[i].Commitment, tx.Inputs[i].Maturity, priors[i])
		}
	}
	fail := func(err error) error {
		unwind()
		return err
	}

	for _, in := range tx.Inputs {
		if height < in.Maturity {
			return fail(errors.Errorf("input %s immature until %d", in.Commitment, in.Maturity))
		}
		prior, err := utxos.Decrement(in.Commitment, in.Maturity)
		if err != nil {
			return fail(errors.Wrapf(err, "input %s", in.Commitment))
		}
		priors = append(priors, prior)
	}

	for _, out := range tx.Outputs {
		expectedMaturity := height
		if out.Coinbase {
			return fail(errors.New("pool transaction carries a coinbase output"))
		}
		if out.Maturity != expectedMaturity {
			return fail(errors.Errorf("output %s maturity %d, expected %d",
				out.Commitment, out.Maturity, expectedMaturity))
		}
		utxos.Insert(out.Commitment, out.Maturity)
		outputsApplied++
	}

	for _, kernel := range tx.Kernels {
		if height < kernel.MinHeight {
			return fail(errors.Errorf("kernel locked until %d", kernel.MinHeight))
		}
		if kernel.MaxHeight != 0 && kernel.MaxHeight < height {
			return fail(errors.Errorf("kernel expired at %d", kernel.MaxHeight))
		}
		if err := kernels.Insert(kernel.Hash()); err != nil {
			return fail(errors.Wrap(err, "kernel"))
		}
		kernelsApplied++
	}

	return nil
}
