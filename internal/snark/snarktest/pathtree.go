// pathtree.go - Leaf-retaining mirror of the incremental accumulator.
//
// The production tree keeps O(depth) state and cannot produce membership
// paths. This mirror keeps every leaf, recomputes paths level by level, and
// cross-checks its own recomputation against the incremental root, so a
// hash-order mismatch between the two implementations surfaces as an error
// rather than an unverifiable proof.

package snarktest

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/merkle"
)

// PathTree wraps the incremental tree next to a full leaf list.
type PathTree struct {
	tree   *merkle.Tree
	leaves []common.Hash
}

// NewPathTree builds an empty MiMC mirror of the given depth.
func NewPathTree(depth int) (*PathTree, error) {
	t, err := merkle.NewTree(depth, merkle.MiMCHasher{})
	if err != nil {
		return nil, err
	}
	return &PathTree{tree: t}, nil
}

// Insert appends a leaf to both representations.
func (pt *PathTree) Insert(leaf common.Hash) (uint64, common.Hash, error) {
	idx, root, err := pt.tree.Insert(leaf)
	if err != nil {
		return 0, common.Hash{}, err
	}
	pt.leaves = append(pt.leaves, leaf)
	return idx, root, nil
}

// Root returns the incremental tree's current root.
func (pt *PathTree) Root() common.Hash { return pt.tree.Root() }

// Depth returns the tree depth.
func (pt *PathTree) Depth() int { return pt.tree.Depth() }

// Path returns the sibling hashes and left/right bits for the leaf at index,
// bottom up. The recomputed root must match the incremental root exactly.
func (pt *PathTree) Path(index uint64) ([]common.Hash, []int, error) {
	if index >= uint64(len(pt.leaves)) {
		return nil, nil, fmt.Errorf("no leaf at index %d (have %d)", index, len(pt.leaves))
	}

	depth := pt.tree.Depth()
	zeros := pt.tree.Zeros()
	hasher := merkle.MiMCHasher{}

	elements := make([]common.Hash, depth)
	indices := make([]int, depth)

	level := append([]common.Hash(nil), pt.leaves...)
	idx := index
	for lvl := 0; lvl < depth; lvl++ {
		sibling := idx ^ 1
		if sibling < uint64(len(level)) {
			elements[lvl] = level[sibling]
		} else {
			elements[lvl] = zeros[lvl]
		}
		indices[lvl] = int(idx & 1)

		next := make([]common.Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := zeros[lvl]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			var err error
			if next[i], err = hasher.Combine(left, right); err != nil {
				return nil, nil, err
			}
		}
		level = next
		idx >>= 1
	}

	if level[0] != pt.tree.Root() {
		return nil, nil, fmt.Errorf("path recompute root %s disagrees with incremental root %s",
			level[0].Hex(), pt.tree.Root().Hex())
	}
	return elements, indices, nil
}
