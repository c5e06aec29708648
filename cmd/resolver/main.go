// Command resolver is the reference resolver-side driver: it runs the
// escrow-creation, verification and secret-release pipeline for a
// single claimed order (or segment) and exits. The coordinator process
// never runs this pipeline itself; a resolver invokes this (or an
// equivalent of its own) once its client call to claim succeeds.
//
// This reference driver keeps its own vault, seeded only with the
// secret passed in -secret; it shares the order-store row but not the
// coordinator's in-memory secret map, so main registers -secret
// (RegisterSecret, or RegisterSegmentSecret when -segment is set)
// against the committed hash before calling Run, whose release step
// then calls Release. A deployment that wants the coordinator to
// remain the sole secret holder instead of trusting each resolver with
// it would put the vault behind an RPC the coordinator serves.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"math/big"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/config"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/logging"
	"github.com/relayforge/htlc-coordinator/internal/orchestrator"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"

	"go.uber.org/zap"
)

func main() {
	orderID := flag.String("order", "", "order id to drive")
	segment := flag.Int("segment", -1, "segment index, or -1 for a non-segmented order")
	resolverID := flag.String("resolver", "", "resolver id that won the claim")
	secretHex := flag.String("secret", "", "hex-encoded secret the maker disclosed out of band, checked against the order's hashlock before release")
	flag.Parse()

	if *orderID == "" || *resolverID == "" || *secretHex == "" {
		log.Fatal("-order, -resolver and -secret are required")
	}
	secret, err := hex.DecodeString(*secretHex)
	if err != nil {
		log.Fatal("-secret must be hex-encoded: ", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer logger.Sync()

	store, err := orderstore.Open(cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err))
	}
	defer store.Close()

	bus := eventbus.NewHub(logger)

	v := verifier.New(logger)
	v.SetBackoff(cfg.Verifier.BackoffInitial, cfg.Verifier.BackoffMax, cfg.Verifier.BackoffFactor, cfg.Verifier.VerificationBudget)

	evmAdapter, err := chain.NewEVMAdapter(chain.EVMConfig{
		ChainID:        cfg.EVM.ChainID,
		PrivateKeyHex:  cfg.EVM.PrivateKeyHex,
		Address:        cfg.EVM.Address,
		BlockTime:      cfg.EVM.BlockTime,
		FinalityBlocks: cfg.EVM.FinalityBlocks,
	})
	if err != nil {
		logger.Fatal("failed to build evm adapter", zap.Error(err))
	}
	v.RegisterEVM(cfg.EVM.ChainID, evmAdapter, cfg.Verifier.FreshnessSrc)

	stellarAdapter, err := chain.NewStellarAdapter(chain.StellarConfig{
		NetworkPassphrase: cfg.Stellar.NetworkPassphrase,
		SourceSecretHex:   cfg.Stellar.SourceSecretHex,
		Address:           cfg.Stellar.Address,
		LedgerTime:        cfg.Stellar.LedgerTime,
		FinalityLedgers:   cfg.Stellar.FinalityLedgers,
	})
	if err != nil {
		logger.Fatal("failed to build stellar adapter", zap.Error(err))
	}
	v.RegisterStellar("stellar-testnet", stellarAdapter, cfg.Verifier.FreshnessDst)

	minDeposit, ok := new(big.Int).SetString(cfg.Orchestrator.MinSafetyDeposit, 10)
	if !ok {
		logger.Fatal("invalid ORCHESTRATOR_MIN_SAFETY_DEPOSIT", zap.String("value", cfg.Orchestrator.MinSafetyDeposit))
	}
	safety := orchestrator.NewSafetyLedger(minDeposit)

	releaseLog := vault.NewMemoryReleaseLog()
	vlt := vault.New(logger, releaseLog)

	orch := orchestrator.New(store, bus, v, vlt, safety, logger)
	orch.RegisterChain(cfg.EVM.ChainID, evmAdapter)
	orch.RegisterChain("stellar-testnet", stellarAdapter)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var segmentID *int
	if *segment >= 0 {
		s := *segment
		segmentID = &s
	}

	if segmentID == nil {
		order, err := store.Get(*orderID)
		if err != nil {
			logger.Fatal("failed to load order", zap.Error(err))
		}
		if err := vlt.RegisterSecret(*orderID, secret, order.HashLock); err != nil {
			logger.Fatal("failed to register secret", zap.Error(err))
		}
	} else {
		seg, err := store.GetSegment(*orderID, *segmentID)
		if err != nil {
			logger.Fatal("failed to load segment", zap.Error(err))
		}
		if err := vlt.RegisterSegmentSecret(*orderID, *segmentID, secret, seg.LeafHash); err != nil {
			logger.Fatal("failed to register segment secret", zap.Error(err))
		}
	}

	logger.Info("driving order",
		zap.String("order_id", *orderID),
		zap.String("segment", strconv.Itoa(*segment)),
		zap.String("resolver_id", *resolverID))

	if err := orch.Run(ctx, *orderID, segmentID, *resolverID); err != nil {
		logger.Fatal("order pipeline failed", zap.Error(err))
	}

	logger.Info("order pipeline completed")
}
