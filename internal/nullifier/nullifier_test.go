package nullifier

import (
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilpool/internal/vperrors"
)

func hashOf(i int64) common.Hash {
	return common.BigToHash(big.NewInt(7000 + i))
}

func testBasicClaims(t *testing.T, reg Registry) {
	t.Helper()

	h := hashOf(1)
	spent, err := reg.Spent(h)
	require.NoError(t, err)
	assert.False(t, spent)

	require.NoError(t, reg.Claim(h))

	spent, err = reg.Spent(h)
	require.NoError(t, err)
	assert.True(t, spent)

	err = reg.Claim(h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrNullifierAlreadyUsed))

	require.NoError(t, reg.Claim(hashOf(2)))
	n, err := reg.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// testRacingClaims races many goroutines on one nullifier: exactly one
// winner, every loser sees NullifierAlreadyUsed.
func testRacingClaims(t *testing.T, reg Registry) {
	t.Helper()

	const racers = 32
	h := hashOf(99)

	var wg sync.WaitGroup
	var wins, spentErrs atomic.Int32
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := reg.Claim(h); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, vperrors.ErrNullifierAlreadyUsed):
				spentErrs.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), spentErrs.Load())
}

func testParallelDistinctClaims(t *testing.T, reg Registry) {
	t.Helper()

	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = reg.Claim(hashOf(200 + int64(i)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "claim %d", i)
	}
	count, err := reg.Len()
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestMemoryRegistry(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		testBasicClaims(t, NewMemoryRegistry())
	})
	t.Run("racing same nullifier", func(t *testing.T) {
		testRacingClaims(t, NewMemoryRegistry())
	})
	t.Run("parallel distinct nullifiers", func(t *testing.T) {
		testParallelDistinctClaims(t, NewMemoryRegistry())
	})
}

func TestStore(t *testing.T) {
	open := func(t *testing.T) Registry {
		s, err := NewStore("")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("basic", func(t *testing.T) {
		testBasicClaims(t, open(t))
	})
	t.Run("racing same nullifier", func(t *testing.T) {
		testRacingClaims(t, open(t))
	})
	t.Run("parallel distinct nullifiers", func(t *testing.T) {
		testParallelDistinctClaims(t, open(t))
	})
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nullifiers")

	s, err := NewStore(path)
	require.NoError(t, err)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.Claim(hashOf(i)))
	}
	require.NoError(t, s.Close())

	// Claims are permanent across restarts.
	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	for i := int64(0); i < 5; i++ {
		spent, err := s.Spent(hashOf(i))
		require.NoError(t, err)
		assert.True(t, spent, "nullifier %d", i)

		err = s.Claim(hashOf(i))
		assert.True(t, errors.Is(err, vperrors.ErrNullifierAlreadyUsed), "nullifier %d", i)
	}
	count, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestClaimErrorNamesNullifier(t *testing.T) {
	reg := NewMemoryRegistry()
	h := hashOf(3)
	require.NoError(t, reg.Claim(h))

	err := reg.Claim(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), h.Hex())
}
