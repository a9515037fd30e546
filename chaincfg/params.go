// Package chaincfg defines the consensus parameter sets of the tenebra
// networks.
package chaincfg

import (
	"math/big"

	"github.com/tenebra-net/tenebrad/util/difficulty"
)

// MotePerTenebra is the number of base units in one coin.
const MotePerTenebra = 100_000_000

var (
	// mainPowLimit is the highest proof of work target a mainnet block
	// can have: 2^236 - 1.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 236), big.NewInt(1))

	// simnetPowLimit is the highest proof of work target a simnet block
	// can have: 2^255 - 1. Practically every hash qualifies.
	simnetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

// Params defines a tenebra network: the consensus constants the chain
// state engine needs to validate a block given its height.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256.
	PowLimit *big.Int

	// PowLimitBits is the PowLimit in compact form.
	PowLimitBits uint32

	// MedianTimeWindow is the number of ancestors whose timestamp median
	// a new block's timestamp must exceed.
	MedianTimeWindow int

	// CoinbaseMaturityDelta is added to the creation height of coinbase
	// outputs to produce their maturity height.
	CoinbaseMaturityDelta uint64

	// BaseSubsidy is the coinbase reward of every block. The schedule is
	// deliberately flat; networks with decaying emission override
	// SubsidyReductionInterval.
	BaseSubsidy uint64

	// SubsidyReductionInterval is the number of blocks after which the
	// subsidy halves. Zero disables reduction.
	SubsidyReductionInterval uint64

	// BlockMaxWeight is the hard cap on the serialized weight of a block
	// body.
	BlockMaxWeight uint64
}

// SubsidyAtHeight returns the coinbase subsidy of a block at the given
// height.
func (p *Params) SubsidyAtHeight(height uint64) uint64 {
	if p.SubsidyReductionInterval == 0 {
		return p.BaseSubsidy
	}
	return p.BaseSubsidy >> (height / p.SubsidyReductionInterval)
}

// NextRequiredBits returns the difficulty target required of the block
// following the parent with the given bits. Retargeting beyond
// keep-the-parent's-target is the surrounding node's concern; the engine
// only validates a declared target against this expectation.
func (p *Params) NextRequiredBits(parentBits uint32) uint32 {
	return parentBits
}

// MainnetParams defines the network parameters for the main tenebra
// network.
var MainnetParams = Params{
	Name:                     "mainnet",
	PowLimit:                 mainPowLimit,
	PowLimitBits:             difficulty.BigToCompact(mainPowLimit),
	MedianTimeWindow:         11,
	CoinbaseMaturityDelta:    240,
	BaseSubsidy:              80 * MotePerTenebra,
	SubsidyReductionInterval: 0,
	BlockMaxWeight:           1_000_000,
}

// SimnetParams defines the network parameters for the simulation test
// network. Proof of work is near-trivial so that blocks can be generated
// at will.
var SimnetParams = Params{
	Name:                     "simnet",
	PowLimit:                 simnetPowLimit,
	PowLimitBits:             difficulty.BigToCompact(simnetPowLimit),
	MedianTimeWindow:         11,
	CoinbaseMaturityDelta:    16,
	BaseSubsidy:              80 * MotePerTenebra,
	SubsidyReductionInterval: 0,
	BlockMaxWeight:           1_000_000,
}
