// Package orchestrator drives the winning resolver's per-order state
// machine across both chains: escrow creation, verification, secret
// release and withdrawal. Grounded on internal/fusion/statemachine.go's
// phase-tagged FusionOrderState and internal/fusion/timelock.go's
// TimelockManager, generalized from their original EVM/Sui pairing
// onto this system's EVM/Stellar pairing.
package orchestrator

import (
	"fmt"
	"time"
)

// Role is who is attempting a withdraw or cancel against an escrow.
type Role string

const (
	RoleRecipient Role = "recipient"
	RoleCreator   Role = "creator"
	RoleAnyone    Role = "anyone"
)

// Windows holds the four timelock boundaries for one escrow. Renamed
// from the original ExclusiveWithdrawStart/PublicWithdrawStart/
// DstCancellationStart/SrcCancellationStart field names onto the
// canonical withdrawalStart/publicWithdrawalStart/cancellationStart/
// publicCancellationStart vocabulary shared by both escrow sides.
type Windows struct {
	WithdrawalStart         time.Time
	PublicWithdrawalStart   time.Time
	CancellationStart       time.Time
	PublicCancellationStart time.Time
}

// Validate enforces testable property 7: the four windows must be
// strictly increasing.
func (w Windows) Validate() error {
	if !w.WithdrawalStart.Before(w.PublicWithdrawalStart) {
		return fmt.Errorf("orchestrator: withdrawalStart must precede publicWithdrawalStart")
	}
	if !w.PublicWithdrawalStart.Before(w.CancellationStart) {
		return fmt.Errorf("orchestrator: publicWithdrawalStart must precede cancellationStart")
	}
	if !w.CancellationStart.Before(w.PublicCancellationStart) {
		return fmt.Errorf("orchestrator: cancellationStart must precede publicCancellationStart")
	}
	return nil
}

// CanWithdraw implements the timelock invariant from the contract
// contract: before withdrawalStart nobody may withdraw; between
// withdrawalStart and publicWithdrawalStart only the recipient may;
// from publicWithdrawalStart up to cancellationStart anyone may.
func (w Windows) CanWithdraw(now time.Time, role Role) bool {
	switch {
	case now.Before(w.WithdrawalStart):
		return false
	case now.Before(w.PublicWithdrawalStart):
		return role == RoleRecipient
	case now.Before(w.CancellationStart):
		return true
	default:
		return false
	}
}

// CanCancel implements the cancellation half: the creator may cancel
// from cancellationStart, and anyone may from publicCancellationStart.
func (w Windows) CanCancel(now time.Time, role Role) bool {
	switch {
	case now.Before(w.CancellationStart):
		return false
	case now.Before(w.PublicCancellationStart):
		return role == RoleCreator
	default:
		return true
	}
}

// Policy is the set of delays-from-creation used to compute a fresh
// Windows, generalized from config.Relayer's
// DefaultSrcTimeoutOffset/DefaultDstTimeoutOffset pair into the full
// four-stage schedule TimelockManager originally tracked per-field.
type Policy struct {
	WithdrawalDelay         time.Duration
	PublicWithdrawalDelay   time.Duration
	CancellationDelay       time.Duration
	PublicCancellationDelay time.Duration
}

// DefaultPolicy mirrors the original whitepaper-derived staging: a
// short exclusive window for the winning resolver, a longer public
// window, then recovery.
var DefaultPolicy = Policy{
	WithdrawalDelay:         10 * time.Minute,
	PublicWithdrawalDelay:   30 * time.Minute,
	CancellationDelay:       60 * time.Minute,
	PublicCancellationDelay: 90 * time.Minute,
}

// ComputeWindows derives a Windows from a creation timestamp.
func (p Policy) ComputeWindows(from time.Time) Windows {
	return Windows{
		WithdrawalStart:         from.Add(p.WithdrawalDelay),
		PublicWithdrawalStart:   from.Add(p.PublicWithdrawalDelay),
		CancellationStart:       from.Add(p.CancellationDelay),
		PublicCancellationStart: from.Add(p.PublicCancellationDelay),
	}
}

// CrossCheck enforces "these windows MUST be identical on both sides"
// with a tolerance equal to one block time on the slower chain — the
// teacher's TimelockManager computed src and dst windows independently
// and never cross-checked them; this closes that gap.
func CrossCheck(src, dst Windows, tolerance time.Duration) error {
	diffs := []struct {
		name     string
		a, b     time.Time
	}{
		{"withdrawalStart", src.WithdrawalStart, dst.WithdrawalStart},
		{"publicWithdrawalStart", src.PublicWithdrawalStart, dst.PublicWithdrawalStart},
		{"cancellationStart", src.CancellationStart, dst.CancellationStart},
		{"publicCancellationStart", src.PublicCancellationStart, dst.PublicCancellationStart},
	}
	for _, d := range diffs {
		delta := d.a.Sub(d.b)
		if delta < 0 {
			delta = -delta
		}
		if delta > tolerance {
			return fmt.Errorf("orchestrator: %s differs across sides by %s, exceeds tolerance %s", d.name, delta, tolerance)
		}
	}
	return nil
}
