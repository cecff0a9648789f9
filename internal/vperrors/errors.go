// errors.go - Protocol error taxonomy for the shielded pool.
//
// Every rejection surfaced by the pool wraps exactly one of these sentinels,
// so callers can branch with errors.Is and the daemon can map failures to
// stable wire codes without string matching.

package vperrors

import "errors"

var (
	// Administrative misuse.
	ErrAlreadyInitialized         = errors.New("pool already initialized")
	ErrNotInitialized             = errors.New("pool not initialized")
	ErrInvalidAuthority           = errors.New("caller is not the pool authority")
	ErrInvalidEmergencyMultiplier = errors.New("emergency multiplier out of bounds")

	// Accumulator.
	ErrTreeFull = errors.New("merkle tree is full")

	// Withdrawal gates.
	ErrInvalidMerkleRoot    = errors.New("merkle root is not current and not in history")
	ErrNullifierAlreadyUsed = errors.New("nullifier has already been used")
	ErrInvalidProof         = errors.New("proof verification failed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrExcessiveFee         = errors.New("fee exceeds policy cap")
	ErrWithdrawalsPaused    = errors.New("withdrawals are paused")

	// Numeric and structural validation.
	ErrArithmetic   = errors.New("arithmetic overflow or underflow")
	ErrInvalidInput = errors.New("malformed input")

	// Vault and ledger integrity.
	ErrInsufficientVaultBalance = errors.New("withdrawal exceeds vault balance")
	ErrStateInconsistent        = errors.New("pool state failed reconciliation")

	// Off-chain and on-chain verifiers disagreed on the same (proof, inputs)
	// pair. Not a caller error: a protocol-integrity incident that needs
	// out-of-band remediation.
	ErrVerifierDivergence = errors.New("verifier implementations diverged")
)

var names = map[error]string{
	ErrAlreadyInitialized:         "AlreadyInitialized",
	ErrNotInitialized:             "NotInitialized",
	ErrInvalidAuthority:           "InvalidAuthority",
	ErrInvalidEmergencyMultiplier: "InvalidEmergencyMultiplier",
	ErrTreeFull:                   "TreeFull",
	ErrInvalidMerkleRoot:          "InvalidMerkleRoot",
	ErrNullifierAlreadyUsed:       "NullifierAlreadyUsed",
	ErrInvalidProof:               "InvalidProof",
	ErrInvalidAmount:              "InvalidAmount",
	ErrExcessiveFee:               "ExcessiveFee",
	ErrWithdrawalsPaused:          "WithdrawalsPaused",
	ErrArithmetic:                 "ArithmeticError",
	ErrInvalidInput:               "InvalidInput",
	ErrInsufficientVaultBalance:   "InsufficientVaultBalance",
	ErrStateInconsistent:          "StateInconsistent",
	ErrVerifierDivergence:         "VerifierDivergence",
}

// Name returns the stable short name of the taxonomy sentinel err wraps,
// or "Unknown" when err is outside the taxonomy. Used for wire error codes
// and metric labels.
func Name(err error) string {
	for sentinel, name := range names {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "Unknown"
}
