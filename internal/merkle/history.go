// history.go - Fixed-capacity ring of recently valid Merkle roots.
//
// A withdrawal proof is generated against some root; deposits that land in
// the meantime move the current root on. The ring keeps the last capacity
// roots valid, and a root older than that is permanently unprovable. Bounded
// storage is the point; the ring must not grow.

package merkle

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/vperrors"
)

// DefaultHistoryCapacity keeps the last 1000 roots provable.
const DefaultHistoryCapacity = 1000

// RootHistory is the ring. Not safe for concurrent use; the orchestrator
// serializes access.
type RootHistory struct {
	slots  []common.Hash
	cursor uint64 // total roots ever recorded; slot = cursor mod capacity
}

// NewRootHistory builds an empty ring with the given capacity.
func NewRootHistory(capacity int) (*RootHistory, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("history capacity %d must be positive: %w", capacity, vperrors.ErrInvalidInput)
	}
	return &RootHistory{slots: make([]common.Hash, capacity)}, nil
}

// Record appends root, evicting the oldest entry once the ring is full.
// The cursor only ever increases; slots are never rewritten out of order.
func (rh *RootHistory) Record(root common.Hash) {
	rh.slots[rh.cursor%uint64(len(rh.slots))] = root
	rh.cursor++
}

// Contains scans recorded roots newest first.
func (rh *RootHistory) Contains(root common.Hash) bool {
	n := rh.Len()
	cap64 := uint64(len(rh.slots))
	for i := 0; i < n; i++ {
		slot := (rh.cursor - 1 - uint64(i)) % cap64
		if rh.slots[slot] == root {
			return true
		}
	}
	return false
}

// Len returns how many slots currently hold a recorded root.
func (rh *RootHistory) Len() int {
	if rh.cursor < uint64(len(rh.slots)) {
		return int(rh.cursor)
	}
	return len(rh.slots)
}

// Capacity returns the fixed ring size.
func (rh *RootHistory) Capacity() int { return len(rh.slots) }

// Cursor returns the monotonically increasing write counter.
func (rh *RootHistory) Cursor() uint64 { return rh.cursor }

// Slot returns the raw ring slot i, for snapshot checks and tests.
func (rh *RootHistory) Slot(i int) common.Hash { return rh.slots[i] }

type historyState struct {
	Capacity int           `json:"capacity"`
	Cursor   uint64        `json:"cursor"`
	Slots    []common.Hash `json:"slots"`
}

// MarshalJSON serializes the ring with all capacity slots, written or not.
func (rh *RootHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyState{
		Capacity: len(rh.slots),
		Cursor:   rh.cursor,
		Slots:    append([]common.Hash(nil), rh.slots...),
	})
}

// UnmarshalJSON restores a snapshot, insisting on exactly capacity slots.
func (rh *RootHistory) UnmarshalJSON(data []byte) error {
	var s historyState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Capacity < 1 || len(s.Slots) != s.Capacity {
		return fmt.Errorf("snapshot ring must have exactly %d slots: %w", s.Capacity, vperrors.ErrInvalidInput)
	}
	rh.slots = append([]common.Hash(nil), s.Slots...)
	rh.cursor = s.Cursor
	return nil
}
