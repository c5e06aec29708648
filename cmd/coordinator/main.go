// Command coordinator boots the relayer API: order admission, the
// Dutch-auction engine, the secret vault, the escrow verifier and the
// event bus, wired behind one HTTP/WebSocket server. Shape follows the
// original `cmd/relayer/main.go` (config.Load, signal.NotifyContext,
// construct, Start, wait, Stop), generalized from constructing one
// global-singleton integration object into constructing each component
// directly since this redesign has no single struct that owns them all.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/relayforge/htlc-coordinator/internal/api"
	"github.com/relayforge/htlc-coordinator/internal/auction"
	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/config"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/logging"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"

	"go.uber.org/zap"
)


func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer logger.Sync()

	store, closeStore, err := openStore(cfg.Store, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err))
	}
	defer closeStore()

	releaseLog, closeLog, err := openReleaseLog(cfg.Store)
	if err != nil {
		logger.Fatal("failed to open release log", zap.Error(err))
	}
	defer closeLog()

	registry := auction.NewRegistry()
	bus := eventbus.NewHub(logger)
	engine := auction.New(store, bus, registry, logger)
	defer engine.Close()

	vlt := vault.New(logger, releaseLog)

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

	server := api.New(api.Config{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
		AllowedOrigins:  cfg.API.AllowedOrigins,
	}, store, engine, registry, vlt, v, bus, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	logger.Info("htlc coordinator started")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("api server exited early", zap.Error(err))
		cancel()
	}

	wg.Wait()
	logger.Info("htlc coordinator stopped")
}

func openStore(cfg config.Store, dbCfg config.Database) (orderstore.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		s, err := orderstore.Open(dbCfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "pebble":
		s, err := orderstore.NewCache(cfg.PebblePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return orderstore.NewMemoryStore(), func() {}, nil
	}
}

func openReleaseLog(cfg config.Store) (vault.ReleaseLog, func(), error) {
	switch cfg.Backend {
	case "pebble":
		l, err := vault.NewPebbleReleaseLog(fmt.Sprintf("%s-releases", cfg.PebblePath))
		if err != nil {
			return nil, nil, err
		}
		return l, func() { l.Close() }, nil
	default:
		return vault.NewMemoryReleaseLog(), func() {}, nil
	}
}
