package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMConfig configures an EVMAdapter, generalized from
// internal/adapters.AnvilAdapter's config.Ethereum fields into a
// chain-family-agnostic shape any EVM-compatible network can supply.
type EVMConfig struct {
	ChainID       string
	PrivateKeyHex string
	Address       string // overrides the address derived from PrivateKeyHex when set
	BlockTime     time.Duration
	FinalityBlocks uint64
}

// EVMAdapter implements Adapter for EVM-family chains (fork or
// testnet). Transaction submission is modeled the way
// internal/adapters.AnvilAdapter modeled it for an Anvil fork: no live
// RPC client is dialed here (that belongs to the external collaborator
// layer named in the coordinator's system overview), but address
// derivation and transfer-history evidence use the real go-ethereum
// primitives rather than placeholder strings.
type EVMAdapter struct {
	cfg        EVMConfig
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu        sync.Mutex
	transfers []recordedTransfer // simulated eth_getLogs result set
}

type recordedTransfer struct {
	to         common.Address
	amount     *big.Int
	txHash     string
	blockNum   uint64
	observedAt time.Time
}

// NewEVMAdapter derives the adapter's address from its private key (or
// uses the configured override) the same way AnvilAdapter.Connect did.
func NewEVMAdapter(cfg EVMConfig) (*EVMAdapter, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: load evm private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	if cfg.Address != "" {
		addr = common.HexToAddress(cfg.Address)
	}
	return &EVMAdapter{cfg: cfg, privateKey: privateKey, address: addr}, nil
}

func (a *EVMAdapter) ChainID() string { return a.cfg.ChainID }
func (a *EVMAdapter) Address() string { return a.address.Hex() }

func (a *EVMAdapter) Approve(ctx context.Context, spender string, amount *big.Int) (string, error) {
	return a.submit("approve", spender, amount), nil
}

func (a *EVMAdapter) Transfer(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	txHash := a.submit("transfer", recipient, amount)
	a.RecordTransfer(recipient, amount, txHash)
	return txHash, nil
}

func (a *EVMAdapter) Invoke(ctx context.Context, contract, method string, args ...interface{}) (string, error) {
	return a.submit(method, contract, nil), nil
}

func (a *EVMAdapter) submit(method, target string, amount *big.Int) string {
	h := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%s:%s:%d", method, target, amountString(amount), time.Now().UnixNano())))
	return h.Hex()
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// RecordTransfer registers a transfer as having landed on-chain,
// standing in for the eth_getLogs query a live RPC client would run
// against the escrow's Transfer events.
func (a *EVMAdapter) RecordTransfer(to string, amount *big.Int, txHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transfers = append(a.transfers, recordedTransfer{
		to:         common.HexToAddress(to),
		amount:     new(big.Int).Set(amount),
		txHash:     txHash,
		blockNum:   uint64(len(a.transfers) + 1),
		observedAt: time.Now(),
	})
}

// ObserveTransferTo implements TransferHistoryObserver: scans recorded
// transfers filtered by recipient and minimum value, most recent
// first, honoring the freshness window via `since`.
func (a *EVMAdapter) ObserveTransferTo(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*TransferEvidence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	target := common.HexToAddress(address)
	for i := len(a.transfers) - 1; i >= 0; i-- {
		t := a.transfers[i]
		if t.to != target {
			continue
		}
		if t.observedAt.Before(since) {
			continue
		}
		if t.amount.Cmp(minAmount) < 0 {
			continue
		}
		return &TransferEvidence{
			TxHash:      t.txHash,
			Amount:      t.amount,
			BlockNumber: t.blockNum,
			ObservedAt:  t.observedAt,
		}, nil
	}
	return nil, &ErrEvidenceNotFound{Address: address}
}

func (a *EVMAdapter) BlockTime() time.Duration { return a.cfg.BlockTime }
func (a *EVMAdapter) FinalityDepth() uint64    { return a.cfg.FinalityBlocks }
