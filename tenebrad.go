package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/tenebra-net/tenebrad/blockdag"
	"github.com/tenebra-net/tenebrad/config"
	"github.com/tenebra-net/tenebrad/crypto"
	"github.com/tenebra-net/tenebrad/crypto/simgroup"
	"github.com/tenebra-net/tenebrad/infrastructure/logger"
	"github.com/tenebra-net/tenebrad/mempool"
	"github.com/tenebra-net/tenebrad/mining"
	"github.com/tenebra-net/tenebrad/processor"
	"github.com/tenebra-net/tenebrad/signal"
	"github.com/tenebra-net/tenebrad/util/difficulty"
	"github.com/tenebra-net/tenebrad/version"
	"github.com/tenebra-net/tenebrad/wire"
)

// startTenebrad wires the chain-state core together and runs until an
// interrupt. The networking reactor is an external collaborator; this
// shell only hosts the core and its callbacks.
func startTenebrad() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	logger.InitLog(cfg.LogFile(), cfg.ErrLogFile())
	defer logger.Close()
	if err := logger.SetLogLevels(cfg.LogLevel); err != nil {
		log.Errorf("Invalid log level: %s", err)
		return err
	}

	log.Infof("Version %s", version.Version())
	log.Infof("Network %s, data dir %s", cfg.NetParams.Name, cfg.DataDir)

	interrupt := signal.InterruptListener()

	// The simulation group stands in for the production crypto module,
	// which is wired by the surrounding node.
	verifier := simgroup.NewVerifier()

	pool := mempool.New(mempool.Config{
		MaximumTransactionCount: cfg.MaxMempoolTxs,
	}, verifier)

	callbacks := processor.Callbacks{
		RequestData: func(id wire.ID, isBlock bool, preferredPeer blockdag.PeerID) {
			log.Debugf("Data needed: %s (block=%t) from %s", id, isBlock, preferredPeer)
		},
		OnPeerInsane: func(peer blockdag.PeerID) {
			log.Warnf("Peer %s is insane", peer)
		},
		OnNewState: func() {
			log.Debug("Tip changed")
		},
	}

	proc := processor.New(cfg.NetParams, verifier, processor.Horizon{
		Branching:     cfg.BranchingHrz,
		Schwarzschild: cfg.FossilHrz,
	}, callbacks)

	if err := proc.Initialize(cfg.DataDir); err != nil {
		log.Errorf("Failed to initialize chain state: %+v", err)
		return err
	}
	defer func() {
		if err := proc.Close(); err != nil {
			log.Errorf("Failed to close the store: %s", err)
		}
	}()

	generator := mining.NewBlkTmplGenerator(&mining.Policy{
		BlockMaxWeight: cfg.NetParams.BlockMaxWeight,
	}, cfg.NetParams, proc, mining.RealTimeSource())

	if tip, ok := proc.CurrentState(); ok {
		log.Infof("Chain tip: %s", tip)
	}

	if cfg.Generate {
		return generateLoop(proc, generator, pool, interrupt)
	}

	<-interrupt
	log.Info("Shutdown complete")
	return nil
}

// generateLoop self-mines on simnet: it builds a template from the pool,
// searches a nonce and feeds the block back through the normal ingest
// path. All work stays on the owner goroutine.
func generateLoop(proc *processor.NodeProcessor, generator *mining.BlkTmplGenerator,
	pool *mempool.TxPool, interrupt <-chan struct{}) error {

	var seed [32]byte
	copy(seed[:], []byte("tenebra-simnet-keychain"))
	keychain := simgroup.NewKeychain(seed)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			log.Info("Shutdown complete")
			return nil
		case <-ticker.C:
		}

		template, err := generator.GenerateNewBlock(pool, keychain)
		if err != nil {
			log.Errorf("Failed to generate a block: %s", err)
			continue
		}
		if !solveHeader(template.Header) {
			log.Warnf("No nonce found for height %d, retrying", template.Header.Height)
			continue
		}

		block := new(wire.Block)
		if err := block.Deserialize(bytes.NewReader(template.Bytes)); err != nil {
			log.Errorf("Generated block does not parse: %s", err)
			continue
		}
		block.Header = *template.Header // carry the solved nonce

		dirty, err := proc.OnState(template.Header, blockdag.PeerID{})
		if err != nil || !dirty {
			log.Errorf("Generated header was not accepted (dirty=%t): %v", dirty, err)
			continue
		}
		if _, err := proc.OnBlock(template.Header.ID(), block.Body.Bytes(), blockdag.PeerID{}); err != nil {
			log.Errorf("Generated block was not accepted: %v", err)
			continue
		}

		confirmed := make(map[crypto.Hash]struct{}, len(block.Body.Kernels))
		for _, kernel := range block.Body.Kernels {
			confirmed[kernel.Hash()] = struct{}{}
		}
		pool.RemoveConfirmedKernels(confirmed)

		if tip, ok := proc.CurrentState(); ok {
			pool.DeleteOutOfBound(tip.Height)
			log.Infof("Mined %s (%d in fees)", tip, template.Fees)
		}
	}
}

// solveHeader searches a nonce satisfying the header's declared target.
// Simnet targets are near-trivial, so a bounded search suffices.
func solveHeader(header *wire.Header) bool {
	target := difficulty.CompactToBig(header.Bits)
	for nonce := uint64(0); nonce < 1<<20; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if hash.ToBig().Cmp(target) <= 0 {
			return true
		}
	}
	return false
}
