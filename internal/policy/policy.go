// policy.go - Economic policy engine: fee caps, emergency multiplier bounds,
// and the deposits >= withdrawals reconciliation check.
//
// Fee math runs in 256-bit integers so intermediate products cannot wrap;
// a result that does not fit the 64-bit amount domain is an arithmetic
// error, never a silently wrapped value.

package policy

import (
	"fmt"

	"github.com/holiman/uint256"

	"veilpool/internal/vperrors"
)

const (
	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10000

	// DefaultPercentageFeeBps caps relayer fees at 1% of the amount.
	DefaultPercentageFeeBps = 100
	// DefaultMaxEmergencyMultiplier rejects multipliers of 1000x and above.
	DefaultMaxEmergencyMultiplier = 1000
)

// FeeSchedule is the fee structure fixed at initialization. Emergency mode
// scales the cap computed from it but never rewrites it.
type FeeSchedule struct {
	BaseFee          uint64 `json:"base_fee"`
	PercentageFeeBps uint64 `json:"percentage_fee_bps"`
}

// Engine evaluates the schedule against concrete amounts.
type Engine struct {
	schedule      FeeSchedule
	maxMultiplier uint64
	tolerance     uint64
}

// NewEngine validates and fixes the policy parameters. tolerance is the
// allowed absolute gap between the vault balance and the deposit/withdraw
// ledger, covering host-level transaction fees only.
func NewEngine(schedule FeeSchedule, maxMultiplier, tolerance uint64) (*Engine, error) {
	if schedule.PercentageFeeBps > BpsDenominator {
		return nil, fmt.Errorf("percentage fee %d bps exceeds 100%%: %w", schedule.PercentageFeeBps, vperrors.ErrInvalidInput)
	}
	if maxMultiplier < 1 {
		return nil, fmt.Errorf("max emergency multiplier must be at least 1: %w", vperrors.ErrInvalidInput)
	}
	return &Engine{schedule: schedule, maxMultiplier: maxMultiplier, tolerance: tolerance}, nil
}

// Schedule returns the fixed fee structure.
func (e *Engine) Schedule() FeeSchedule { return e.schedule }

// Tolerance returns the reconciliation tolerance.
func (e *Engine) Tolerance() uint64 { return e.tolerance }

// MaxFee computes the fee cap for amount: baseFee + amount*bps/10000, scaled
// by the multiplier while emergency mode is active.
func (e *Engine) MaxFee(amount uint64, emergency bool, multiplier uint64) (uint64, error) {
	cap256 := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(e.schedule.PercentageFeeBps))
	cap256.Div(cap256, uint256.NewInt(BpsDenominator))
	cap256.Add(cap256, uint256.NewInt(e.schedule.BaseFee))
	if emergency {
		cap256.Mul(cap256, uint256.NewInt(multiplier))
	}
	if !cap256.IsUint64() {
		return 0, fmt.Errorf("fee cap for amount %d overflows: %w", amount, vperrors.ErrArithmetic)
	}
	return cap256.Uint64(), nil
}

// CheckFee accepts fee for amount or reports why not. Zero fees are valid;
// negative fees cannot be expressed in the unsigned domain and are rejected
// at the wire boundary before reaching here.
func (e *Engine) CheckFee(amount, fee uint64, emergency bool, multiplier uint64) error {
	if amount == 0 {
		return fmt.Errorf("zero amount: %w", vperrors.ErrInvalidAmount)
	}
	if fee > amount {
		return fmt.Errorf("fee %d exceeds amount %d: %w", fee, amount, vperrors.ErrExcessiveFee)
	}
	maxFee, err := e.MaxFee(amount, emergency, multiplier)
	if err != nil {
		return err
	}
	if fee > maxFee {
		return fmt.Errorf("fee %d exceeds cap %d for amount %d: %w", fee, maxFee, amount, vperrors.ErrExcessiveFee)
	}
	return nil
}

// CheckEmergencyMultiplier bounds m: at least 1, below the configured
// maximum, and small enough that the multiplied percentage stays within
// 100% of the amount. Emergency mode raises fees during congestion; it is
// not an unbounded extraction path.
func (e *Engine) CheckEmergencyMultiplier(m uint64) error {
	if m < 1 || m >= e.maxMultiplier {
		return fmt.Errorf("multiplier %d outside [1,%d): %w", m, e.maxMultiplier, vperrors.ErrInvalidEmergencyMultiplier)
	}
	scaled := new(uint256.Int).Mul(uint256.NewInt(e.schedule.PercentageFeeBps), uint256.NewInt(m))
	if scaled.CmpUint64(BpsDenominator) > 0 {
		return fmt.Errorf("multiplier %d pushes percentage fee past 100%%: %w", m, vperrors.ErrInvalidEmergencyMultiplier)
	}
	return nil
}

// Reconcile checks the global economic invariant: withdrawals never exceed
// deposits, and the vault holds the difference up to the tolerance.
func (e *Engine) Reconcile(totalDeposits, totalWithdrawn, vaultBalance uint64) error {
	if totalWithdrawn > totalDeposits {
		return fmt.Errorf("withdrawn %d exceeds deposited %d: %w", totalWithdrawn, totalDeposits, vperrors.ErrStateInconsistent)
	}
	expected := totalDeposits - totalWithdrawn
	var gap uint64
	if vaultBalance > expected {
		gap = vaultBalance - expected
	} else {
		gap = expected - vaultBalance
	}
	if gap > e.tolerance {
		return fmt.Errorf("vault %d does not reconcile with ledger %d (gap %d, tolerance %d): %w",
			vaultBalance, expected, gap, e.tolerance, vperrors.ErrStateInconsistent)
	}
	return nil
}
