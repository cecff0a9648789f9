package policy

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilpool/internal/vperrors"
)

func onePercent(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(FeeSchedule{BaseFee: 0, PercentageFeeBps: DefaultPercentageFeeBps},
		DefaultMaxEmergencyMultiplier, 0)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(FeeSchedule{PercentageFeeBps: 10001}, 1000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrInvalidInput))

	_, err = NewEngine(FeeSchedule{PercentageFeeBps: 100}, 0, 0)
	require.Error(t, err)
}

func TestMaxFee(t *testing.T) {
	e := onePercent(t)

	cap1, err := e.MaxFee(1_000_000, false, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), cap1)

	// Emergency mode scales the cap.
	cap3, err := e.MaxFee(1_000_000, true, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), cap3)

	withBase, err := NewEngine(FeeSchedule{BaseFee: 500, PercentageFeeBps: 100}, 1000, 0)
	require.NoError(t, err)
	cap, err := withBase.MaxFee(1_000_000, false, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500), cap)
}

func TestCheckFeeBoundaries(t *testing.T) {
	e := onePercent(t)
	const amount = 1_000_000

	assert.NoError(t, e.CheckFee(amount, 0, false, 1))
	assert.NoError(t, e.CheckFee(amount, 10_000, false, 1))

	err := e.CheckFee(amount, 10_001, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrExcessiveFee))

	// 2% against a 1% cap.
	err = e.CheckFee(amount, 20_000, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrExcessiveFee))

	err = e.CheckFee(0, 0, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrInvalidAmount))

	// A base fee can push the cap past the amount itself; the fee still may
	// not exceed what is being withdrawn.
	withBase, err := NewEngine(FeeSchedule{BaseFee: 1000, PercentageFeeBps: 100}, 1000, 0)
	require.NoError(t, err)
	assert.NoError(t, withBase.CheckFee(500, 500, false, 1))
	err = withBase.CheckFee(500, 600, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrExcessiveFee))
}

func TestFeeOverflow(t *testing.T) {
	e, err := NewEngine(FeeSchedule{BaseFee: math.MaxUint64, PercentageFeeBps: 10000}, 1000, 0)
	require.NoError(t, err)

	_, err = e.MaxFee(math.MaxUint64, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrArithmetic))

	err = e.CheckFee(math.MaxUint64, 1, false, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrArithmetic))
}

func TestCheckEmergencyMultiplier(t *testing.T) {
	e := onePercent(t)

	assert.NoError(t, e.CheckEmergencyMultiplier(1))
	assert.NoError(t, e.CheckEmergencyMultiplier(100)) // 1% * 100 = 100%, still in bounds

	for _, m := range []uint64{0, 1000, 5000} {
		err := e.CheckEmergencyMultiplier(m)
		require.Error(t, err, "multiplier %d", m)
		assert.True(t, errors.Is(err, vperrors.ErrInvalidEmergencyMultiplier), "multiplier %d", m)
	}

	// 1% * 101 would exceed 100% of the amount.
	err := e.CheckEmergencyMultiplier(101)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrInvalidEmergencyMultiplier))

	// A finer-grained schedule admits larger multipliers, still below the max.
	fine, err := NewEngine(FeeSchedule{PercentageFeeBps: 1}, 1000, 0)
	require.NoError(t, err)
	assert.NoError(t, fine.CheckEmergencyMultiplier(999))
	assert.Error(t, fine.CheckEmergencyMultiplier(1000))
}

func TestReconcile(t *testing.T) {
	e := onePercent(t)

	assert.NoError(t, e.Reconcile(100, 40, 60))

	err := e.Reconcile(40, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrStateInconsistent))

	err = e.Reconcile(100, 40, 59)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrStateInconsistent))

	// Gaps at the tolerance pass on both sides; one unit past it fails.
	tolerant, err := NewEngine(FeeSchedule{PercentageFeeBps: 100}, 1000, 5)
	require.NoError(t, err)
	assert.NoError(t, tolerant.Reconcile(100, 40, 55))
	assert.NoError(t, tolerant.Reconcile(100, 40, 65))
	assert.Error(t, tolerant.Reconcile(100, 40, 54))
	assert.Error(t, tolerant.Reconcile(100, 40, 66))
}
