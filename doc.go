// tenebrad is the chain-state daemon of the tenebra network: a
// confidential UTXO chain whose outputs are Pedersen commitments and
// whose transactions prove their balance through kernels.
//
// The heart of the daemon is the processor package: it ingests headers
// and block bodies, keeps the authenticated UTXO and kernel trees in
// step with the canonical chain, rolls blocks back on reorganizations,
// prunes history below the configured horizons and feeds the mempool
// and block builder.
package main
