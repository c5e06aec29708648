package orchestrator

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// DepositStatus is the lifecycle of one resolver's safety deposit.
type DepositStatus string

const (
	DepositActive   DepositStatus = "active"
	DepositClaimed  DepositStatus = "claimed"
	DepositRefunded DepositStatus = "refunded"
)

// ClaimReason records why a deposit became claimable, mirroring the
// teacher's ClaimReason enum in internal/fusion/safety.go.
type ClaimReason string

const (
	ClaimReasonCompleted ClaimReason = "withdrawal_executed"
	ClaimReasonTimeout   ClaimReason = "timeout"
)

// SafetyDeposit is the per-order collateral a winning resolver posts;
// it incentivizes completing the swap rather than abandoning it
// mid-flow. Orchestrator.Run marks it refunded once the swap completes;
// Run does not check that a deposit exists before funding escrows.
type SafetyDeposit struct {
	OrderID    string
	ResolverID string
	Amount     *big.Int
	Status     DepositStatus
	Reason     ClaimReason
	PostedAt   time.Time
}

// SafetyLedger tracks deposits per order, generalized from
// internal/fusion/safety.go's SafetyDepositManager into a narrower
// surface the orchestrator needs: post once at claim time, release on
// a terminal outcome.
type SafetyLedger struct {
	mu       sync.Mutex
	minimum  *big.Int
	deposits map[string]*SafetyDeposit
}

func NewSafetyLedger(minimum *big.Int) *SafetyLedger {
	return &SafetyLedger{minimum: minimum, deposits: make(map[string]*SafetyDeposit)}
}

// Post records the resolver's deposit for orderID. A deposit below the
// configured minimum is rejected outright.
func (l *SafetyLedger) Post(orderID, resolverID string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.Cmp(l.minimum) < 0 {
		return fmt.Errorf("orchestrator: safety deposit %s below minimum %s", amount, l.minimum)
	}
	if _, exists := l.deposits[orderID]; exists {
		return fmt.Errorf("orchestrator: safety deposit already posted for order %s", orderID)
	}
	l.deposits[orderID] = &SafetyDeposit{
		OrderID:    orderID,
		ResolverID: resolverID,
		Amount:     new(big.Int).Set(amount),
		Status:     DepositActive,
		PostedAt:   time.Now(),
	}
	return nil
}

// Release marks the deposit resolved: refunded when the swap completed
// normally, claimed by the ledger operator when the resolver timed
// out mid-flow.
func (l *SafetyLedger) Release(orderID string, reason ClaimReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.deposits[orderID]
	if !ok {
		return fmt.Errorf("orchestrator: no safety deposit for order %s", orderID)
	}
	if d.Status != DepositActive {
		return fmt.Errorf("orchestrator: safety deposit for order %s already resolved", orderID)
	}
	d.Reason = reason
	if reason == ClaimReasonTimeout {
		d.Status = DepositClaimed
	} else {
		d.Status = DepositRefunded
	}
	return nil
}

func (l *SafetyLedger) Get(orderID string) (*SafetyDeposit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deposits[orderID]
	return d, ok
}
