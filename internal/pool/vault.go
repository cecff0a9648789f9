// vault.go - The pooled funds backing withdrawals.

package pool

import (
	"fmt"
	"math"

	"veilpool/internal/vperrors"
)

// Vault tracks the balance held on behalf of depositors. It carries no
// locking; the Pool serializes all access.
type Vault struct {
	balance uint64
}

// Balance returns the current vault balance.
func (v *Vault) Balance() uint64 { return v.balance }

func (v *Vault) canCredit(amount uint64) bool {
	return v.balance <= math.MaxUint64-amount
}

func (v *Vault) canDebit(amount uint64) bool {
	return v.balance >= amount
}

// credit and debit are guarded by canCredit/canDebit so commits that follow
// the nullifier claim cannot fail halfway.
func (v *Vault) credit(amount uint64) { v.balance += amount }
func (v *Vault) debit(amount uint64)  { v.balance -= amount }

// externalDebit removes funds without touching the withdrawal ledger,
// modelling host-level charges the reconciliation tolerance must absorb.
func (v *Vault) externalDebit(amount uint64) error {
	if !v.canDebit(amount) {
		return fmt.Errorf("external debit %d exceeds vault balance %d: %w",
			amount, v.balance, vperrors.ErrInsufficientVaultBalance)
	}
	v.balance -= amount
	return nil
}
