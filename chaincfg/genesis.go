package chaincfg

import (
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/wire"
)

// genesisTimestamp is the timestamp of every network's genesis block:
// 2026-01-03 00:00:00 UTC.
const genesisTimestamp = 1767398400

// GenesisHeader returns the genesis header of the network. The genesis
// block has an empty body, so both tree roots are the empty-tree root.
// Its proof of work is not checked; it is trusted by definition.
func (p *Params) GenesisHeader() *wire.Header {
	return &wire.Header{
		Height:     0,
		Prev:       crypto.Hash{},
		Timestamp:  genesisTimestamp,
		Bits:       p.PowLimitBits,
		Work:       difficulty.CalcWork(p.PowLimitBits),
		UTXORoot:   crypto.Hash{},
		KernelRoot: crypto.Hash{},
		Nonce:      0,
	}
}

// GenesisID returns the (height, hash) identity of the network's genesis
// block.
func (p *Params) GenesisID() wire.ID {
	return p.GenesisHeader().ID()
}
