package field

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilpool/internal/vperrors"
)

func TestCanonical(t *testing.T) {
	assert.True(t, Canonical(common.Hash{}))
	assert.True(t, Canonical(common.BigToHash(big.NewInt(42))))

	rMinusOne := new(big.Int).Sub(Modulus(), big.NewInt(1))
	assert.True(t, Canonical(common.BigToHash(rMinusOne)))

	assert.False(t, Canonical(common.BigToHash(Modulus())))

	var allOnes common.Hash
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	assert.False(t, Canonical(allOnes))
}

func TestElementRoundTrip(t *testing.T) {
	h := common.BigToHash(big.NewInt(123456789))
	e, err := ToElement(h)
	require.NoError(t, err)
	assert.Equal(t, h, FromElement(e))

	_, err = ToElement(common.BigToHash(Modulus()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrInvalidInput))
}

func TestFromDecimal(t *testing.T) {
	h, err := FromDecimal("1000000007")
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1000000007)), h)
	assert.Equal(t, "1000000007", Decimal(h))

	for _, bad := range []string{"", "-5", "12x3", " 12", "0x12", Modulus().String()} {
		_, err := FromDecimal(bad)
		require.Error(t, err, "input %q", bad)
		assert.True(t, errors.Is(err, vperrors.ErrInvalidInput), "input %q", bad)
	}
}

func TestDecimalOfLargeHash(t *testing.T) {
	rMinusOne := new(big.Int).Sub(Modulus(), big.NewInt(1))
	h := common.BigToHash(rMinusOne)
	assert.Equal(t, rMinusOne.String(), Decimal(h))

	back, err := FromDecimal(Decimal(h))
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestZeroLeaf(t *testing.T) {
	z := ZeroLeaf(DomainTag)
	assert.True(t, Canonical(z))
	assert.NotEqual(t, common.Hash{}, z)

	// Deterministic, and tag-sensitive.
	assert.Equal(t, z, ZeroLeaf(DomainTag))
	assert.NotEqual(t, z, ZeroLeaf("other"))
}
