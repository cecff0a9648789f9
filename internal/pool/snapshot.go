// snapshot.go - Persisting the global state as a JSON snapshot file.
//
// The snapshot covers GlobalState only. Claimed nullifiers live in the
// registry, which owns its own durability (the disk-backed store survives
// restarts; the in-memory registry does not).

package pool

import (
	"encoding/json"
	"fmt"
	"os"

	"veilpool/internal/policy"
)

// SaveState writes the current state snapshot to path, overwriting any
// previous snapshot.
func (p *Pool) SaveState(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p.state); err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	return nil
}

// LoadState replaces the in-memory state from a snapshot file and rebuilds
// the policy engine from the persisted fee schedule. Call it at process
// start, before the pool begins serving.
func (p *Pool) LoadState(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var s GlobalState
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return fmt.Errorf("decode state snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.initialized {
		engine, err := policy.NewEngine(s.fees, p.cfg.MaxEmergencyMultiplier, p.cfg.ReconcileTolerance)
		if err != nil {
			return fmt.Errorf("rebuild policy engine: %w", err)
		}
		p.engine = engine
	}
	p.state = &s

	p.log.Info().
		Str("path", path).
		Uint64("next_index", s.tree.NextIndex()).
		Uint64("total_deposits", s.totalDeposits).
		Msg("state snapshot restored")
	return nil
}
