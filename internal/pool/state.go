// state.go - The protocol's global mutable state and its snapshot form.
//
// GlobalState is created once per pool and mutated exclusively through the
// Pool's operations. The JSON form is the persisted layout: the tree arrays
// carry exactly depth entries and the root history exactly capacity entries,
// and a snapshot that violates the state invariants is refused on load.

package pool

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/merkle"
	"veilpool/internal/policy"
	"veilpool/internal/snark"
	"veilpool/internal/vperrors"
)

// GlobalState bundles the accumulator, root history, vault and protocol
// flags. It carries no locking; the Pool serializes all access.
type GlobalState struct {
	tree    *merkle.Tree
	history *merkle.RootHistory
	vault   *Vault

	authority     common.Address
	depositAmount uint64
	fees          policy.FeeSchedule

	totalDeposits  uint64
	totalWithdrawn uint64

	emergencyMode       bool
	emergencyMultiplier uint64
	pauseWithdrawals    bool
	initialized         bool

	withdrawVK *snark.VerifyingKey
	depositVK  *snark.VerifyingKey
}

func newGlobalState(depth, historyCapacity int, hasherName string) (*GlobalState, error) {
	h, err := merkle.NewHasher(hasherName)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.NewTree(depth, h)
	if err != nil {
		return nil, err
	}
	history, err := merkle.NewRootHistory(historyCapacity)
	if err != nil {
		return nil, err
	}
	return &GlobalState{
		tree:                tree,
		history:             history,
		vault:               &Vault{},
		emergencyMultiplier: 1,
	}, nil
}

// knownRoot reports whether root is the current root or still in the
// history window.
func (s *GlobalState) knownRoot(root common.Hash) bool {
	return root == s.tree.Root() || s.history.Contains(root)
}

type stateSnapshot struct {
	Initialized         bool                `json:"is_initialized"`
	Authority           common.Address      `json:"authority"`
	DepositAmount       uint64              `json:"deposit_amount"`
	Fees                policy.FeeSchedule  `json:"fee_structure"`
	TotalDeposits       uint64              `json:"total_deposits"`
	TotalWithdrawn      uint64              `json:"total_withdrawn"`
	VaultBalance        uint64              `json:"vault_balance"`
	EmergencyMode       bool                `json:"emergency_mode"`
	EmergencyMultiplier uint64              `json:"emergency_multiplier"`
	PauseWithdrawals    bool                `json:"pause_withdrawals"`
	Tree                *merkle.Tree        `json:"tree"`
	History             *merkle.RootHistory `json:"root_history"`
	WithdrawVK          *snark.VerifyingKey `json:"withdraw_vk,omitempty"`
	DepositVK           *snark.VerifyingKey `json:"deposit_vk,omitempty"`
}

func (s *GlobalState) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateSnapshot{
		Initialized:         s.initialized,
		Authority:           s.authority,
		DepositAmount:       s.depositAmount,
		Fees:                s.fees,
		TotalDeposits:       s.totalDeposits,
		TotalWithdrawn:      s.totalWithdrawn,
		VaultBalance:        s.vault.Balance(),
		EmergencyMode:       s.emergencyMode,
		EmergencyMultiplier: s.emergencyMultiplier,
		PauseWithdrawals:    s.pauseWithdrawals,
		Tree:                s.tree,
		History:             s.history,
		WithdrawVK:          s.withdrawVK,
		DepositVK:           s.depositVK,
	})
}

func (s *GlobalState) UnmarshalJSON(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Tree == nil || snap.History == nil {
		return fmt.Errorf("state snapshot missing tree or root history: %w", vperrors.ErrInvalidInput)
	}
	if snap.TotalWithdrawn > snap.TotalDeposits {
		return fmt.Errorf("state snapshot withdrew %d of %d deposited: %w",
			snap.TotalWithdrawn, snap.TotalDeposits, vperrors.ErrStateInconsistent)
	}
	if snap.EmergencyMultiplier < 1 {
		return fmt.Errorf("state snapshot emergency multiplier %d: %w",
			snap.EmergencyMultiplier, vperrors.ErrInvalidInput)
	}
	if snap.Initialized {
		if snap.Authority == (common.Address{}) {
			return fmt.Errorf("initialized state snapshot without authority: %w", vperrors.ErrInvalidInput)
		}
		if snap.DepositAmount == 0 {
			return fmt.Errorf("initialized state snapshot without deposit amount: %w", vperrors.ErrInvalidAmount)
		}
		if snap.WithdrawVK == nil {
			return fmt.Errorf("initialized state snapshot without withdraw verification key: %w", vperrors.ErrInvalidInput)
		}
		if err := snap.WithdrawVK.Validate(); err != nil {
			return fmt.Errorf("state snapshot withdraw verification key: %w", err)
		}
		if snap.DepositVK != nil {
			if err := snap.DepositVK.Validate(); err != nil {
				return fmt.Errorf("state snapshot deposit verification key: %w", err)
			}
		}
	}

	s.tree = snap.Tree
	s.history = snap.History
	s.vault = &Vault{balance: snap.VaultBalance}
	s.authority = snap.Authority
	s.depositAmount = snap.DepositAmount
	s.fees = snap.Fees
	s.totalDeposits = snap.TotalDeposits
	s.totalWithdrawn = snap.TotalWithdrawn
	s.emergencyMode = snap.EmergencyMode
	s.emergencyMultiplier = snap.EmergencyMultiplier
	s.pauseWithdrawals = snap.PauseWithdrawals
	s.initialized = snap.Initialized
	s.withdrawVK = snap.WithdrawVK
	s.depositVK = snap.DepositVK
	return nil
}
