// Package pool implements the shielded value-transfer state machine: an
// append-only commitment accumulator, a bounded root history, an atomic
// nullifier registry, and the economic policy that together turn a Groth16
// membership proof into a safe, non-double-spendable withdrawal.
//
// Overview:
//   - Deposits insert a commitment leaf and record the new Merkle root
//   - Withdrawals pass ordered gates: structural validation, root freshness,
//     fee policy, cryptographic verification, then the atomic nullifier claim
//   - Every failing gate aborts the whole call with a specific reason and no
//     observable state change
//   - The proof verifier is injected at construction; an optional second
//     implementation cross-checks every live verification
//
// Security Model:
//   - The nullifier registry is the sole anti-double-spend primitive; a claim
//     is permanent and first-writer-wins under concurrency
//   - Roots older than the history capacity become permanently unprovable;
//     bounded storage is chosen over an unlimited proof validity window
//   - Fee caps and the emergency multiplier bound what a relayer can extract
//   - totalDeposits >= totalWithdrawn holds in every reachable state, and the
//     vault reconciles against the difference within a fixed tolerance
//
// Usage:
//   - Build a Pool with New, call Initialize exactly once, then Deposit and
//     Withdraw concurrently; SaveState/LoadState persist the global state
package pool
