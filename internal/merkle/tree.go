// tree.go - Append-only incremental Merkle accumulator.
//
// Insertion touches only the path from the new leaf to the root:
// filledSubtrees remembers the most recent left-sibling hash per level and
// zeros fills in right siblings that do not exist yet. Combination order is
// always H(left, right); proof generation must use the same order or proofs
// silently stop verifying.

package merkle

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/field"
	"veilpool/internal/vperrors"
)

const (
	// DefaultDepth gives the tree 2^20 leaf slots.
	DefaultDepth = 20
	// MaxDepth bounds construction; indices are addressed with uint64.
	MaxDepth = 32
)

// Tree is the incremental commitment accumulator. Not safe for concurrent
// use; the orchestrator serializes mutation.
type Tree struct {
	depth     int
	hasher    Hasher
	nextIndex uint64
	root      common.Hash
	filled    []common.Hash
	zeros     []common.Hash
}

// NewTree builds an empty tree of the given depth. zeros[0] is the keccak
// domain-tag leaf; every level above hashes two copies of the level below.
func NewTree(depth int, h Hasher) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("tree depth %d outside [1,%d]: %w", depth, MaxDepth, vperrors.ErrInvalidInput)
	}
	if h == nil {
		return nil, fmt.Errorf("nil hasher: %w", vperrors.ErrInvalidInput)
	}
	t := &Tree{
		depth:  depth,
		hasher: h,
		filled: make([]common.Hash, depth),
		zeros:  make([]common.Hash, depth),
	}
	t.zeros[0] = field.ZeroLeaf(field.DomainTag)
	for i := 1; i < depth; i++ {
		z, err := h.Combine(t.zeros[i-1], t.zeros[i-1])
		if err != nil {
			return nil, err
		}
		t.zeros[i] = z
	}
	copy(t.filled, t.zeros)
	root, err := h.Combine(t.zeros[depth-1], t.zeros[depth-1])
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

// Insert appends leaf at the next free index and returns (index, new root).
// Fails with TreeFull once 2^depth leaves have been inserted; the tree never
// removes or rebalances.
func (t *Tree) Insert(leaf common.Hash) (uint64, common.Hash, error) {
	if !field.Canonical(leaf) {
		return 0, common.Hash{}, fmt.Errorf("leaf %s out of field: %w", leaf.Hex(), vperrors.ErrInvalidInput)
	}
	if t.nextIndex >= t.Capacity() {
		return 0, common.Hash{}, fmt.Errorf("%d leaves at depth %d: %w", t.nextIndex, t.depth, vperrors.ErrTreeFull)
	}

	idx := t.nextIndex
	cur := leaf
	var err error
	for level := 0; level < t.depth; level++ {
		if idx%2 == 0 {
			// cur is a left child: remember it for the future right sibling,
			// pair it with the empty subtree for now.
			t.filled[level] = cur
			cur, err = t.hasher.Combine(cur, t.zeros[level])
		} else {
			cur, err = t.hasher.Combine(t.filled[level], cur)
		}
		if err != nil {
			return 0, common.Hash{}, err
		}
		idx >>= 1
	}

	t.root = cur
	t.nextIndex++
	return t.nextIndex - 1, cur, nil
}

// Root returns the current root.
func (t *Tree) Root() common.Hash { return t.root }

// NextIndex returns the number of leaves inserted so far.
func (t *Tree) NextIndex() uint64 { return t.nextIndex }

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int { return t.depth }

// Capacity returns the leaf capacity 2^depth.
func (t *Tree) Capacity() uint64 { return uint64(1) << uint(t.depth) }

// HasherName names the node hash in use.
func (t *Tree) HasherName() string { return t.hasher.Name() }

// Zeros returns a copy of the per-level empty-subtree hashes.
func (t *Tree) Zeros() []common.Hash {
	out := make([]common.Hash, len(t.zeros))
	copy(out, t.zeros)
	return out
}

// FilledSubtrees returns a copy of the per-level rightmost subtree hashes.
func (t *Tree) FilledSubtrees() []common.Hash {
	out := make([]common.Hash, len(t.filled))
	copy(out, t.filled)
	return out
}

type treeState struct {
	Depth          int           `json:"depth"`
	Hasher         string        `json:"hasher"`
	NextIndex      uint64        `json:"next_index"`
	Root           common.Hash   `json:"root"`
	FilledSubtrees []common.Hash `json:"filled_subtrees"`
	Zeros          []common.Hash `json:"zeros"`
}

// MarshalJSON serializes the full accumulator state for snapshots.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeState{
		Depth:          t.depth,
		Hasher:         t.hasher.Name(),
		NextIndex:      t.nextIndex,
		Root:           t.root,
		FilledSubtrees: t.FilledSubtrees(),
		Zeros:          t.Zeros(),
	})
}

// UnmarshalJSON restores a snapshot, re-deriving the hasher and insisting on
// exactly depth entries per level array.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var s treeState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Depth < 1 || s.Depth > MaxDepth {
		return fmt.Errorf("snapshot depth %d outside [1,%d]: %w", s.Depth, MaxDepth, vperrors.ErrInvalidInput)
	}
	if len(s.FilledSubtrees) != s.Depth || len(s.Zeros) != s.Depth {
		return fmt.Errorf("snapshot level arrays must have exactly %d entries: %w", s.Depth, vperrors.ErrInvalidInput)
	}
	if s.NextIndex > uint64(1)<<uint(s.Depth) {
		return fmt.Errorf("snapshot next_index %d exceeds capacity: %w", s.NextIndex, vperrors.ErrInvalidInput)
	}
	h, err := NewHasher(s.Hasher)
	if err != nil {
		return err
	}
	t.depth = s.Depth
	t.hasher = h
	t.nextIndex = s.NextIndex
	t.root = s.Root
	t.filled = append([]common.Hash(nil), s.FilledSubtrees...)
	t.zeros = append([]common.Hash(nil), s.Zeros...)
	return nil
}
