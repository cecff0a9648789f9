package merkle

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilpool/internal/field"
	"veilpool/internal/vperrors"
)

// naiveRoot recomputes the root from scratch: pad the leaf level with the
// zero leaf, then hash strictly in (left, right) order. Any divergence from
// the incremental path is a hash-order bug.
func naiveRoot(t *testing.T, h Hasher, depth int, leaves []common.Hash) common.Hash {
	t.Helper()
	level := make([]common.Hash, 1<<uint(depth))
	zero := field.ZeroLeaf(field.DomainTag)
	for i := range level {
		if i < len(leaves) {
			level[i] = leaves[i]
		} else {
			level[i] = zero
		}
	}
	for d := 0; d < depth; d++ {
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			c, err := h.Combine(level[2*i], level[2*i+1])
			require.NoError(t, err)
			next[i] = c
		}
		level = next
	}
	return level[0]
}

func leafOf(i int64) common.Hash {
	return common.BigToHash(big.NewInt(1000 + i))
}

func TestEmptyTreeRoot(t *testing.T) {
	h := MiMCHasher{}
	tree, err := NewTree(4, h)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), tree.NextIndex())
	assert.Equal(t, uint64(16), tree.Capacity())
	assert.Equal(t, naiveRoot(t, h, 4, nil), tree.Root())

	zeros := tree.Zeros()
	require.Len(t, zeros, 4)
	assert.Equal(t, field.ZeroLeaf(field.DomainTag), zeros[0])
	for i := 1; i < 4; i++ {
		z, err := h.Combine(zeros[i-1], zeros[i-1])
		require.NoError(t, err)
		assert.Equal(t, z, zeros[i])
	}
}

func TestInsertMatchesNaiveRecompute(t *testing.T) {
	// Depth 3 exercises both even (left child) and odd (right child) index
	// paths at every level across the 8 insertions.
	h := MiMCHasher{}
	tree, err := NewTree(3, h)
	require.NoError(t, err)

	var leaves []common.Hash
	for i := int64(0); i < 8; i++ {
		leaf := leafOf(i)
		idx, root, err := tree.Insert(leaf)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), idx)

		leaves = append(leaves, leaf)
		assert.Equal(t, naiveRoot(t, h, 3, leaves), root, "after %d insertions", i+1)
		assert.Equal(t, uint64(i+1), tree.NextIndex())
	}
}

func TestTreeFull(t *testing.T) {
	tree, err := NewTree(2, MiMCHasher{})
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		_, _, err := tree.Insert(leafOf(i))
		require.NoError(t, err)
	}
	_, _, err = tree.Insert(leafOf(99))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrTreeFull))
	assert.Equal(t, uint64(4), tree.NextIndex())
}

func TestInsertRejectsNonCanonicalLeaf(t *testing.T) {
	tree, err := NewTree(4, MiMCHasher{})
	require.NoError(t, err)

	_, _, err = tree.Insert(common.BigToHash(field.Modulus()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vperrors.ErrInvalidInput))
	assert.Equal(t, uint64(0), tree.NextIndex())
}

func TestPoseidonHasher(t *testing.T) {
	l, r := leafOf(1), leafOf(2)
	got, err := PoseidonHasher{}.Combine(l, r)
	require.NoError(t, err)

	want, err := poseidon.Hash([]*big.Int{
		new(big.Int).SetBytes(l[:]),
		new(big.Int).SetBytes(r[:]),
	})
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(want), got)

	tree, err := NewTree(3, PoseidonHasher{})
	require.NoError(t, err)
	var leaves []common.Hash
	for i := int64(0); i < 3; i++ {
		leaves = append(leaves, leafOf(i))
		_, root, err := tree.Insert(leaves[i])
		require.NoError(t, err)
		assert.Equal(t, naiveRoot(t, PoseidonHasher{}, 3, leaves), root)
	}
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, HasherMiMC, h.Name())

	h, err = NewHasher(HasherPoseidon)
	require.NoError(t, err)
	assert.Equal(t, HasherPoseidon, h.Name())

	_, err = NewHasher("sha999")
	require.Error(t, err)
}

func TestTreeSnapshotRoundTrip(t *testing.T) {
	tree, err := NewTree(4, MiMCHasher{})
	require.NoError(t, err)
	for i := int64(0); i < 5; i++ {
		_, _, err := tree.Insert(leafOf(i))
		require.NoError(t, err)
	}

	blob, err := json.Marshal(tree)
	require.NoError(t, err)

	var restored Tree
	require.NoError(t, json.Unmarshal(blob, &restored))
	assert.Equal(t, tree.Root(), restored.Root())
	assert.Equal(t, tree.NextIndex(), restored.NextIndex())
	assert.Equal(t, tree.HasherName(), restored.HasherName())

	// The restored tree continues exactly where the original left off.
	idxA, rootA, err := tree.Insert(leafOf(5))
	require.NoError(t, err)
	idxB, rootB, err := restored.Insert(leafOf(5))
	require.NoError(t, err)
	assert.Equal(t, idxA, idxB)
	assert.Equal(t, rootA, rootB)
}

func TestTreeSnapshotValidation(t *testing.T) {
	zeroHash := common.Hash{}.Hex()
	for name, bad := range map[string]string{
		"empty level arrays": `{"depth":4,"hasher":"mimc","next_index":0,"root":"` + zeroHash + `","filled_subtrees":[],"zeros":[]}`,
		"depth zero":         `{"depth":0,"hasher":"mimc","next_index":0,"root":"` + zeroHash + `","filled_subtrees":[],"zeros":[]}`,
		"index past capacity": `{"depth":1,"hasher":"mimc","next_index":3,"root":"` + zeroHash +
			`","filled_subtrees":["` + zeroHash + `"],"zeros":["` + zeroHash + `"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var tree Tree
			err := json.Unmarshal([]byte(bad), &tree)
			require.Error(t, err)
			assert.True(t, errors.Is(err, vperrors.ErrInvalidInput))
		})
	}
}

func rootOf(i int64) common.Hash {
	return common.BigToHash(big.NewInt(5000 + i))
}

func TestHistoryRecordAndContains(t *testing.T) {
	rh, err := NewRootHistory(3)
	require.NoError(t, err)

	assert.False(t, rh.Contains(rootOf(0)))
	assert.Equal(t, 0, rh.Len())

	rh.Record(rootOf(0))
	rh.Record(rootOf(1))
	assert.True(t, rh.Contains(rootOf(0)))
	assert.True(t, rh.Contains(rootOf(1)))
	assert.False(t, rh.Contains(rootOf(2)))
	assert.Equal(t, 2, rh.Len())
	assert.Equal(t, uint64(2), rh.Cursor())
}

func TestHistoryEvictionOrder(t *testing.T) {
	rh, err := NewRootHistory(3)
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		rh.Record(rootOf(i))
		// Entries already written stay in their original slot.
		assert.Equal(t, rootOf(i), rh.Slot(int(i)))
	}

	// Overflow evicts the oldest entry only, in insertion order.
	rh.Record(rootOf(3))
	assert.False(t, rh.Contains(rootOf(0)))
	assert.True(t, rh.Contains(rootOf(1)))
	assert.Equal(t, rootOf(3), rh.Slot(0))
	assert.Equal(t, rootOf(1), rh.Slot(1))
	assert.Equal(t, rootOf(2), rh.Slot(2))

	rh.Record(rootOf(4))
	assert.False(t, rh.Contains(rootOf(1)))
	assert.True(t, rh.Contains(rootOf(2)))
	assert.Equal(t, uint64(5), rh.Cursor())
}

func TestHistoryStaleRootWindow(t *testing.T) {
	// A root recorded capacity+1 insertions ago is gone for good.
	rh, err := NewRootHistory(10)
	require.NoError(t, err)

	first := rootOf(0)
	rh.Record(first)
	for i := int64(1); i <= 10; i++ {
		rh.Record(rootOf(i))
	}
	assert.False(t, rh.Contains(first))
	assert.Equal(t, 10, rh.Len())
}

func TestHistorySnapshotRoundTrip(t *testing.T) {
	rh, err := NewRootHistory(4)
	require.NoError(t, err)
	for i := int64(0); i < 6; i++ {
		rh.Record(rootOf(i))
	}

	blob, err := json.Marshal(rh)
	require.NoError(t, err)

	var restored RootHistory
	require.NoError(t, json.Unmarshal(blob, &restored))
	assert.Equal(t, rh.Cursor(), restored.Cursor())
	assert.Equal(t, rh.Capacity(), restored.Capacity())
	for i := int64(2); i < 6; i++ {
		assert.True(t, restored.Contains(rootOf(i)))
	}
	assert.False(t, restored.Contains(rootOf(1)))

	var bad RootHistory
	err = json.Unmarshal([]byte(`{"capacity":4,"cursor":0,"slots":[]}`), &bad)
	require.Error(t, err)
}
