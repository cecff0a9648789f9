// registry.go - Anti-double-spend nullifier set.
//
// A nullifier hash is claimed at most once, ever. Claim is the single
// load-bearing guarantee: under concurrent withdrawals racing on the same
// nullifier exactly one claim succeeds and the rest observe
// NullifierAlreadyUsed. There is no unclaim.

package nullifier

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/vperrors"
)

// Registry is the claim set. Implementations must make Claim an atomic
// insert-if-absent, not a read-then-write.
type Registry interface {
	// Claim marks h spent. First caller wins; later callers get
	// NullifierAlreadyUsed.
	Claim(h common.Hash) error
	// Spent reports whether h has been claimed.
	Spent(h common.Hash) (bool, error)
	// Len returns the number of claimed nullifiers.
	Len() (int, error)
	Close() error
}

// MemoryRegistry keeps the claim set in process memory. Claims survive only
// as long as the process; use Store for durability.
type MemoryRegistry struct {
	set   sync.Map // common.Hash -> struct{}
	count atomic.Int64
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

func (m *MemoryRegistry) Claim(h common.Hash) error {
	if _, loaded := m.set.LoadOrStore(h, struct{}{}); loaded {
		return fmt.Errorf("nullifier %s: %w", h.Hex(), vperrors.ErrNullifierAlreadyUsed)
	}
	m.count.Add(1)
	return nil
}

func (m *MemoryRegistry) Spent(h common.Hash) (bool, error) {
	_, ok := m.set.Load(h)
	return ok, nil
}

func (m *MemoryRegistry) Len() (int, error) {
	return int(m.count.Load()), nil
}

func (m *MemoryRegistry) Close() error { return nil }
