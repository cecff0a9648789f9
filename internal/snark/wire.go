// wire.go - snarkjs-format Groth16 wire types on BN254.
//
// Proofs and verification keys arrive as the JSON emitted by snarkjs
// (decimal-string projective points, curve name "bn128"). The shape of these
// objects is part of the protocol: a key is validated for presence and shape
// before first use, and the ordered public-input tuple
// [root, nullifierHash, recipient, fee, refund] is fixed.

package snark

import (
	"fmt"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/field"
	"veilpool/internal/vperrors"
)

const (
	ProtocolGroth16 = "groth16"
	CurveBN128      = "bn128"
	// CurveBN254 is the gnark name for the same curve; accepted on input.
	CurveBN254 = "bn254"
)

// Public-input slot order. Order and count are the wire contract.
const (
	SlotRoot = iota
	SlotNullifierHash
	SlotRecipient
	SlotFee
	SlotRefund
	NumPublicInputs
)

// PublicInputs is the ordered tuple of decimal strings bound into a proof.
type PublicInputs [NumPublicInputs]string

// NewPublicInputs renders typed withdrawal fields into wire slots. This is
// the only place the tuple is encoded, so the pre-flight and authoritative
// verification paths cannot drift on encoding.
func NewPublicInputs(root, nullifierHash, recipient common.Hash, fee, refund uint64) PublicInputs {
	return PublicInputs{
		SlotRoot:          field.Decimal(root),
		SlotNullifierHash: field.Decimal(nullifierHash),
		SlotRecipient:     field.Decimal(recipient),
		SlotFee:           strconv.FormatUint(fee, 10),
		SlotRefund:        strconv.FormatUint(refund, 10),
	}
}

// Elements parses all slots into canonical field elements, rejecting empty,
// signed, non-numeric and out-of-field values.
func (in PublicInputs) Elements() ([]fr.Element, error) {
	out := make([]fr.Element, NumPublicInputs)
	for i, s := range in {
		h, err := field.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("public input slot %d: %w", i, err)
		}
		e, err := field.ToElement(h)
		if err != nil {
			return nil, fmt.Errorf("public input slot %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// Proof is a Groth16 proof in snarkjs JSON form.
type Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol,omitempty"`
	Curve    string     `json:"curve,omitempty"`
}

// VerifyingKey is a Groth16 verification key in snarkjs JSON form.
// AlphaBeta12 is the optional precomputed pairing some exporters include;
// it is carried for wire fidelity and never trusted.
type VerifyingKey struct {
	Protocol    string       `json:"protocol"`
	Curve       string       `json:"curve"`
	NPublic     int          `json:"nPublic"`
	AlphaG1     []string     `json:"vk_alpha_1"`
	BetaG2      [][]string   `json:"vk_beta_2"`
	GammaG2     [][]string   `json:"vk_gamma_2"`
	DeltaG2     [][]string   `json:"vk_delta_2"`
	IC          [][]string   `json:"IC"`
	AlphaBeta12 [][][]string `json:"vk_alphabeta_12,omitempty"`
}

func curveSupported(name string) bool {
	return name == CurveBN128 || name == CurveBN254
}

// Validate checks the key structurally and decodes every point, so a key
// with missing fields, wrong arity, or off-curve points is refused at
// initialization rather than at first withdrawal.
func (vk *VerifyingKey) Validate() error {
	if vk == nil {
		return fmt.Errorf("nil verifying key: %w", vperrors.ErrInvalidInput)
	}
	if vk.Protocol != ProtocolGroth16 {
		return fmt.Errorf("verifying key protocol %q, want %q: %w", vk.Protocol, ProtocolGroth16, vperrors.ErrInvalidInput)
	}
	if !curveSupported(vk.Curve) {
		return fmt.Errorf("verifying key curve %q not supported: %w", vk.Curve, vperrors.ErrInvalidInput)
	}
	if vk.NPublic < 0 || len(vk.IC) != vk.NPublic+1 {
		return fmt.Errorf("verifying key has %d IC points for nPublic=%d: %w", len(vk.IC), vk.NPublic, vperrors.ErrInvalidInput)
	}
	if _, err := decodeVK(vk); err != nil {
		return err
	}
	return nil
}

// validateShape rejects proofs whose point arrays are the wrong shape before
// any decoding is attempted.
func (p *Proof) validateShape() error {
	if p == nil {
		return fmt.Errorf("nil proof: %w", vperrors.ErrInvalidProof)
	}
	if p.Protocol != "" && p.Protocol != ProtocolGroth16 {
		return fmt.Errorf("proof protocol %q: %w", p.Protocol, vperrors.ErrInvalidProof)
	}
	if p.Curve != "" && !curveSupported(p.Curve) {
		return fmt.Errorf("proof curve %q: %w", p.Curve, vperrors.ErrInvalidProof)
	}
	if len(p.PiA) != 3 || len(p.PiC) != 3 {
		return fmt.Errorf("proof G1 points need 3 coordinates: %w", vperrors.ErrInvalidProof)
	}
	if len(p.PiB) != 3 {
		return fmt.Errorf("proof G2 point needs 3 coordinate pairs: %w", vperrors.ErrInvalidProof)
	}
	for _, pair := range p.PiB {
		if len(pair) != 2 {
			return fmt.Errorf("proof G2 coordinates need 2 components: %w", vperrors.ErrInvalidProof)
		}
	}
	return nil
}
