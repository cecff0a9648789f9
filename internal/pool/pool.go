// pool.go - The deposit/withdraw orchestrator.
//
// Withdrawals pass ordered gates, cheapest first: structural validation, root
// freshness, fee policy, then cryptographic verification, and only after all
// of those the atomic nullifier claim. The claim is the last fallible step of
// a withdrawal, so a claimed nullifier always corresponds to a settled
// transfer. Cryptographic verification runs outside the state lock; the
// cheap gates are re-checked at commit time.

package pool

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"veilpool/internal/field"
	"veilpool/internal/merkle"
	"veilpool/internal/nullifier"
	"veilpool/internal/policy"
	"veilpool/internal/snark"
	"veilpool/internal/vperrors"
)

// WithdrawState names the stations of the withdrawal state machine. A
// successful withdrawal traverses all of them in order; any gate failure
// aborts the call with no state change.
type WithdrawState string

const (
	WithdrawReceived          WithdrawState = "Received"
	WithdrawStructurallyValid WithdrawState = "StructurallyValid"
	WithdrawRootFresh         WithdrawState = "RootFresh"
	WithdrawFeeValid          WithdrawState = "FeeValid"
	WithdrawCryptoValid       WithdrawState = "CryptoValid"
	WithdrawNullifierClaimed  WithdrawState = "NullifierClaimed"
	WithdrawSettled           WithdrawState = "Settled"
)

// Config carries the structural parameters fixed when the pool is built.
// Zero values select the defaults.
type Config struct {
	TreeDepth       int
	HistoryCapacity int
	Hasher          string

	MaxEmergencyMultiplier uint64
	ReconcileTolerance     uint64

	// ConsistencyCheck runs every withdrawal proof through the independent
	// reference verifier as well and treats any disagreement as a
	// protocol-integrity incident.
	ConsistencyCheck bool
}

func (c Config) withDefaults() Config {
	if c.TreeDepth == 0 {
		c.TreeDepth = merkle.DefaultDepth
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = merkle.DefaultHistoryCapacity
	}
	if c.Hasher == "" {
		c.Hasher = merkle.HasherMiMC
	}
	if c.MaxEmergencyMultiplier == 0 {
		c.MaxEmergencyMultiplier = policy.DefaultMaxEmergencyMultiplier
	}
	return c
}

// InitParams are the one-time initialization arguments.
type InitParams struct {
	Authority     common.Address      `json:"authority"`
	DepositAmount uint64              `json:"deposit_amount"`
	Fees          policy.FeeSchedule  `json:"fee_structure"`
	WithdrawVK    *snark.VerifyingKey `json:"withdraw_vk"`
	DepositVK     *snark.VerifyingKey `json:"deposit_vk,omitempty"`
}

// DepositReceipt reports a settled deposit.
type DepositReceipt struct {
	LeafIndex   uint64      `json:"leaf_index"`
	Root        common.Hash `json:"new_root"`
	HistorySlot uint64      `json:"history_slot"`
	Amount      uint64      `json:"amount"`
}

// WithdrawRequest is one withdrawal attempt. Root, NullifierHash, Recipient,
// Fee and Refund are the proof-bound public inputs; Relayer only names where
// the fee goes and Amount must match the pool denomination.
type WithdrawRequest struct {
	Root          common.Hash    `json:"root"`
	NullifierHash common.Hash    `json:"nullifier_hash"`
	Recipient     common.Hash    `json:"recipient"`
	Relayer       common.Address `json:"relayer,omitempty"`
	Amount        uint64         `json:"amount"`
	Fee           uint64         `json:"fee"`
	Refund        uint64         `json:"refund"`
	Proof         *snark.Proof   `json:"proof"`
}

// WithdrawReceipt reports a settled withdrawal, including the gate trace.
// The refund is an instruction to the relayer, not a vault movement.
type WithdrawReceipt struct {
	NullifierHash   common.Hash     `json:"nullifier_hash"`
	Root            common.Hash     `json:"root"`
	Recipient       common.Hash     `json:"recipient"`
	Relayer         common.Address  `json:"relayer,omitempty"`
	RecipientAmount uint64          `json:"recipient_amount"`
	RelayerFee      uint64          `json:"relayer_fee"`
	Refund          uint64          `json:"refund"`
	Trace           []WithdrawState `json:"trace"`
}

// Pool is the orchestrator owning the global state. All operations are safe
// for concurrent use.
type Pool struct {
	mu  sync.RWMutex
	cfg Config
	log zerolog.Logger

	state    *GlobalState
	registry nullifier.Registry
	engine   *policy.Engine

	verifier  snark.Verifier
	reference snark.Verifier
}

// New builds an uninitialized pool. A nil verifier selects the gnark-backed
// implementation and a nil registry the in-memory one.
func New(cfg Config, verifier snark.Verifier, registry nullifier.Registry, logger zerolog.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	state, err := newGlobalState(cfg.TreeDepth, cfg.HistoryCapacity, cfg.Hasher)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		verifier = snark.NewGnarkVerifier()
	}
	if registry == nil {
		registry = nullifier.NewMemoryRegistry()
	}
	p := &Pool{
		cfg:      cfg,
		log:      logger,
		state:    state,
		registry: registry,
		verifier: verifier,
	}
	if cfg.ConsistencyCheck {
		p.reference = snark.NewReferenceVerifier()
	}
	return p, nil
}

// Close releases the nullifier registry.
func (p *Pool) Close() error { return p.registry.Close() }

// Initialize fixes the authority, denomination, fee schedule and verification
// keys. It succeeds exactly once per pool lifetime.
func (p *Pool) Initialize(params InitParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.initialized {
		return fmt.Errorf("pool: %w", vperrors.ErrAlreadyInitialized)
	}
	if params.Authority == (common.Address{}) {
		return fmt.Errorf("authority must be set: %w", vperrors.ErrInvalidAuthority)
	}
	if params.DepositAmount == 0 {
		return fmt.Errorf("deposit amount must be positive: %w", vperrors.ErrInvalidAmount)
	}
	engine, err := policy.NewEngine(params.Fees, p.cfg.MaxEmergencyMultiplier, p.cfg.ReconcileTolerance)
	if err != nil {
		return err
	}
	if params.WithdrawVK == nil {
		return fmt.Errorf("withdraw verification key required: %w", vperrors.ErrInvalidInput)
	}
	if err := params.WithdrawVK.Validate(); err != nil {
		return fmt.Errorf("withdraw verification key: %w", err)
	}
	if params.WithdrawVK.NPublic != snark.NumPublicInputs {
		return fmt.Errorf("withdraw verification key binds %d public inputs, want %d: %w",
			params.WithdrawVK.NPublic, snark.NumPublicInputs, vperrors.ErrInvalidInput)
	}
	if params.DepositVK != nil {
		if err := params.DepositVK.Validate(); err != nil {
			return fmt.Errorf("deposit verification key: %w", err)
		}
	}

	s := p.state
	s.authority = params.Authority
	s.depositAmount = params.DepositAmount
	s.fees = params.Fees
	s.withdrawVK = params.WithdrawVK
	s.depositVK = params.DepositVK
	s.emergencyMultiplier = 1
	s.initialized = true
	p.engine = engine

	p.log.Info().
		Str("authority", params.Authority.Hex()).
		Uint64("deposit_amount", params.DepositAmount).
		Uint64("base_fee", params.Fees.BaseFee).
		Uint64("percentage_fee_bps", params.Fees.PercentageFeeBps).
		Int("tree_depth", p.cfg.TreeDepth).
		Int("history_capacity", p.cfg.HistoryCapacity).
		Msg("pool initialized")
	return nil
}

// Deposit inserts a commitment leaf, records the new root, and credits the
// vault with the pool denomination.
func (p *Pool) Deposit(commitment common.Hash) (*DepositReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	if !s.initialized {
		return nil, fmt.Errorf("pool: %w", vperrors.ErrNotInitialized)
	}
	if !field.Canonical(commitment) {
		return nil, fmt.Errorf("commitment %s is not a canonical field element: %w",
			commitment.Hex(), vperrors.ErrInvalidInput)
	}
	if s.tree.NextIndex() >= s.tree.Capacity() {
		return nil, fmt.Errorf("tree at capacity %d: %w", s.tree.Capacity(), vperrors.ErrTreeFull)
	}
	// All fallible checks precede the first mutation so the steps below
	// apply all-or-nothing.
	if !s.vault.canCredit(s.depositAmount) || math.MaxUint64-s.totalDeposits < s.depositAmount {
		return nil, fmt.Errorf("deposit totals would overflow: %w", vperrors.ErrArithmetic)
	}

	index, newRoot, err := s.tree.Insert(commitment)
	if err != nil {
		return nil, fmt.Errorf("insert commitment: %w", err)
	}
	slot := s.history.Cursor() % uint64(s.history.Capacity())
	s.history.Record(newRoot)
	s.vault.credit(s.depositAmount)
	s.totalDeposits += s.depositAmount

	p.log.Info().
		Uint64("leaf_index", index).
		Str("root", newRoot.Hex()).
		Uint64("history_slot", slot).
		Msg("deposit settled")
	return &DepositReceipt{
		LeafIndex:   index,
		Root:        newRoot,
		HistorySlot: slot,
		Amount:      s.depositAmount,
	}, nil
}

// Withdraw runs the full gate sequence for one withdrawal attempt. The first
// failing gate aborts the call with that specific reason and no state change;
// there is no retry inside the pool.
func (p *Pool) Withdraw(req WithdrawRequest) (*WithdrawReceipt, error) {
	trace := []WithdrawState{WithdrawReceived}

	if req.Proof == nil {
		return nil, p.reject(WithdrawReceived, fmt.Errorf("missing proof: %w", vperrors.ErrInvalidProof))
	}
	if !field.Canonical(req.Root) {
		return nil, p.reject(WithdrawReceived, fmt.Errorf("root %s is not a canonical field element: %w",
			req.Root.Hex(), vperrors.ErrInvalidInput))
	}
	if !field.Canonical(req.NullifierHash) {
		return nil, p.reject(WithdrawReceived, fmt.Errorf("nullifier hash %s is not a canonical field element: %w",
			req.NullifierHash.Hex(), vperrors.ErrInvalidInput))
	}
	if !field.Canonical(req.Recipient) {
		return nil, p.reject(WithdrawReceived, fmt.Errorf("recipient %s is not a canonical field element: %w",
			req.Recipient.Hex(), vperrors.ErrInvalidInput))
	}

	p.mu.RLock()
	s := p.state
	if !s.initialized {
		p.mu.RUnlock()
		return nil, p.reject(WithdrawReceived, fmt.Errorf("pool: %w", vperrors.ErrNotInitialized))
	}
	if s.pauseWithdrawals {
		p.mu.RUnlock()
		return nil, p.reject(WithdrawReceived, fmt.Errorf("pool: %w", vperrors.ErrWithdrawalsPaused))
	}
	engine := p.engine
	vk := s.withdrawVK
	emergency, multiplier := s.emergencyMode, s.emergencyMultiplier
	denomination := s.depositAmount
	rootKnown := s.knownRoot(req.Root)
	p.mu.RUnlock()

	if req.Amount != denomination {
		return nil, p.reject(WithdrawReceived, fmt.Errorf("amount %d does not match the %d denomination: %w",
			req.Amount, denomination, vperrors.ErrInvalidAmount))
	}
	trace = append(trace, WithdrawStructurallyValid)

	if !rootKnown {
		return nil, p.reject(WithdrawStructurallyValid, fmt.Errorf("root %s is not current and not in history: %w",
			req.Root.Hex(), vperrors.ErrInvalidMerkleRoot))
	}
	trace = append(trace, WithdrawRootFresh)

	if err := engine.CheckFee(req.Amount, req.Fee, emergency, multiplier); err != nil {
		return nil, p.reject(WithdrawRootFresh, err)
	}
	trace = append(trace, WithdrawFeeValid)

	// Cryptographic verification, outside the state lock. Fee and freshness
	// were already settled, so the pairing only runs for plausible requests.
	inputs := snark.NewPublicInputs(req.Root, req.NullifierHash, req.Recipient, req.Fee, req.Refund)
	var ok bool
	var err error
	if p.reference != nil {
		ok, err = snark.VerifyBoth(p.verifier, p.reference, vk, inputs, req.Proof)
	} else {
		ok, err = p.verifier.Verify(vk, inputs, req.Proof)
	}
	if err != nil {
		var div *snark.DivergenceError
		if errors.As(err, &div) {
			p.log.Error().Err(err).
				Str("nullifier_hash", req.NullifierHash.Hex()).
				Msg("verifier divergence on live withdrawal")
			return nil, err
		}
		return nil, p.reject(WithdrawFeeValid, fmt.Errorf("%w: %v", vperrors.ErrInvalidProof, err))
	}
	if !ok {
		return nil, p.reject(WithdrawFeeValid, fmt.Errorf("proof rejected for nullifier %s: %w",
			req.NullifierHash.Hex(), vperrors.ErrInvalidProof))
	}
	trace = append(trace, WithdrawCryptoValid)

	// Commit. The cheap gates are re-checked because state may have advanced
	// while the pairing ran; the nullifier claim is the last fallible step.
	p.mu.Lock()
	defer p.mu.Unlock()
	s = p.state
	if s.pauseWithdrawals {
		return nil, p.reject(WithdrawCryptoValid, fmt.Errorf("pool: %w", vperrors.ErrWithdrawalsPaused))
	}
	if !s.knownRoot(req.Root) {
		return nil, p.reject(WithdrawCryptoValid, fmt.Errorf("root %s evicted from history: %w",
			req.Root.Hex(), vperrors.ErrInvalidMerkleRoot))
	}
	if err := p.engine.CheckFee(req.Amount, req.Fee, s.emergencyMode, s.emergencyMultiplier); err != nil {
		return nil, p.reject(WithdrawCryptoValid, err)
	}
	if !s.vault.canDebit(req.Amount) {
		return nil, p.reject(WithdrawCryptoValid, fmt.Errorf("vault balance %d below %d: %w",
			s.vault.Balance(), req.Amount, vperrors.ErrInsufficientVaultBalance))
	}
	if math.MaxUint64-s.totalWithdrawn < req.Amount {
		return nil, p.reject(WithdrawCryptoValid, fmt.Errorf("withdrawal totals would overflow: %w", vperrors.ErrArithmetic))
	}
	if err := p.registry.Claim(req.NullifierHash); err != nil {
		return nil, p.reject(WithdrawCryptoValid, err)
	}
	trace = append(trace, WithdrawNullifierClaimed)

	s.vault.debit(req.Amount)
	s.totalWithdrawn += req.Amount
	trace = append(trace, WithdrawSettled)

	p.log.Info().
		Str("nullifier_hash", req.NullifierHash.Hex()).
		Str("recipient", req.Recipient.Hex()).
		Uint64("amount", req.Amount).
		Uint64("fee", req.Fee).
		Msg("withdrawal settled")
	return &WithdrawReceipt{
		NullifierHash:   req.NullifierHash,
		Root:            req.Root,
		Recipient:       req.Recipient,
		Relayer:         req.Relayer,
		RecipientAmount: req.Amount - req.Fee,
		RelayerFee:      req.Fee,
		Refund:          req.Refund,
		Trace:           trace,
	}, nil
}

func (p *Pool) reject(gate WithdrawState, err error) error {
	p.log.Debug().
		Str("gate", string(gate)).
		Str("reason", vperrors.Name(err)).
		Msg("withdrawal rejected")
	return err
}

// SetEmergencyMode toggles the elevated fee cap. Only the authority may call
// it; the multiplier must stay inside policy bounds.
func (p *Pool) SetEmergencyMode(caller common.Address, enabled bool, multiplier uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	if !s.initialized {
		return fmt.Errorf("pool: %w", vperrors.ErrNotInitialized)
	}
	if caller != s.authority {
		return fmt.Errorf("caller %s is not the authority: %w", caller.Hex(), vperrors.ErrInvalidAuthority)
	}
	if enabled {
		if err := p.engine.CheckEmergencyMultiplier(multiplier); err != nil {
			return err
		}
		s.emergencyMode = true
		s.emergencyMultiplier = multiplier
	} else {
		s.emergencyMode = false
		s.emergencyMultiplier = 1
	}
	p.log.Warn().
		Bool("enabled", s.emergencyMode).
		Uint64("multiplier", s.emergencyMultiplier).
		Msg("emergency mode updated")
	return nil
}

// SetPaused toggles the withdrawal circuit breaker. Deposits keep running.
func (p *Pool) SetPaused(caller common.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	if !s.initialized {
		return fmt.Errorf("pool: %w", vperrors.ErrNotInitialized)
	}
	if caller != s.authority {
		return fmt.Errorf("caller %s is not the authority: %w", caller.Hex(), vperrors.ErrInvalidAuthority)
	}
	s.pauseWithdrawals = paused
	p.log.Warn().Bool("paused", paused).Msg("withdrawal pause updated")
	return nil
}

// Reconcile checks the economic invariant against the current vault balance.
func (p *Pool) Reconcile() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.state.initialized {
		return fmt.Errorf("pool: %w", vperrors.ErrNotInitialized)
	}
	return p.engine.Reconcile(p.state.totalDeposits, p.state.totalWithdrawn, p.state.vault.Balance())
}

// ApplyExternalDebit drains vault funds without touching the withdrawal
// ledger, the way host-level charges do. Reconcile surfaces the gap once it
// exceeds the tolerance.
func (p *Pool) ApplyExternalDebit(amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.vault.externalDebit(amount)
}

// Status is a point-in-time snapshot of the observable pool state.
type Status struct {
	Initialized         bool        `json:"is_initialized"`
	Hasher              string      `json:"hasher"`
	TreeDepth           int         `json:"tree_depth"`
	Capacity            uint64      `json:"capacity"`
	NextIndex           uint64      `json:"next_index"`
	Root                common.Hash `json:"root"`
	HistoryCapacity     int         `json:"history_capacity"`
	HistoryLen          int         `json:"history_len"`
	DepositAmount       uint64      `json:"deposit_amount"`
	TotalDeposits       uint64      `json:"total_deposits"`
	TotalWithdrawn      uint64      `json:"total_withdrawn"`
	VaultBalance        uint64      `json:"vault_balance"`
	EmergencyMode       bool        `json:"emergency_mode"`
	EmergencyMultiplier uint64      `json:"emergency_multiplier"`
	PauseWithdrawals    bool        `json:"pause_withdrawals"`
}

// Status reports the observable state under a read lock.
func (p *Pool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.state
	return Status{
		Initialized:         s.initialized,
		Hasher:              s.tree.HasherName(),
		TreeDepth:           s.tree.Depth(),
		Capacity:            s.tree.Capacity(),
		NextIndex:           s.tree.NextIndex(),
		Root:                s.tree.Root(),
		HistoryCapacity:     s.history.Capacity(),
		HistoryLen:          s.history.Len(),
		DepositAmount:       s.depositAmount,
		TotalDeposits:       s.totalDeposits,
		TotalWithdrawn:      s.totalWithdrawn,
		VaultBalance:        s.vault.Balance(),
		EmergencyMode:       s.emergencyMode,
		EmergencyMultiplier: s.emergencyMultiplier,
		PauseWithdrawals:    s.pauseWithdrawals,
	}
}

// Root returns the current Merkle root.
func (p *Pool) Root() common.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.tree.Root()
}

// NextIndex returns the number of leaves inserted so far.
func (p *Pool) NextIndex() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.tree.NextIndex()
}

// KnownRoot reports whether root would pass the freshness gate right now.
func (p *Pool) KnownRoot(root common.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.knownRoot(root)
}

// Spent reports whether a nullifier hash has been claimed.
func (p *Pool) Spent(h common.Hash) (bool, error) {
	return p.registry.Spent(h)
}

// Nullifiers returns the number of claimed nullifiers.
func (p *Pool) Nullifiers() (int, error) {
	return p.registry.Len()
}
