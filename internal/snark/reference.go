// reference.go - Independent Groth16 verifier over the raw pairing equation.
//
// Implements accept iff e(-A,B) * e(alpha,beta) * e(vk_x,gamma) * e(C,delta)
// is the identity, with vk_x = IC[0] + sum(input_i * IC[i+1]), straight on
// gnark-crypto. Shares no verification code with GnarkVerifier beyond point
// decoding, which is what makes it useful as the second opinion in the
// consistency contract.

package snark

import (
	"fmt"
	"math/big"
	"sync"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
)

// ReferenceVerifier is the second, gnark-backend-free implementation of the
// Verifier contract. Outcome semantics match GnarkVerifier exactly.
type ReferenceVerifier struct {
	mu    sync.Mutex
	cache map[*VerifyingKey]*decodedVK
}

var _ Verifier = (*ReferenceVerifier)(nil)

// NewReferenceVerifier returns an empty verifier.
func NewReferenceVerifier() *ReferenceVerifier {
	return &ReferenceVerifier{cache: make(map[*VerifyingKey]*decodedVK)}
}

func (r *ReferenceVerifier) decoded(vk *VerifyingKey) (*decodedVK, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[vk]; ok {
		return cached, nil
	}
	d, err := decodeVK(vk)
	if err != nil {
		return nil, err
	}
	r.cache[vk] = d
	return d, nil
}

func (r *ReferenceVerifier) Verify(vk *VerifyingKey, inputs PublicInputs, proof *Proof) (bool, error) {
	d, err := r.decoded(vk)
	if err != nil {
		return false, fmt.Errorf("verification key unusable: %w", err)
	}
	witness, err := inputs.Elements()
	if err != nil {
		return false, err
	}
	if len(d.IC) != len(witness)+1 {
		return false, fmt.Errorf("verification key expects %d public inputs, got %d", len(d.IC)-1, len(witness))
	}

	dp, err := decodeProof(proof)
	if err != nil {
		return false, nil
	}

	// vk_x = IC[0] + sum(input_i * IC[i+1])
	var acc bn254.G1Jac
	acc.FromAffine(&d.IC[0])
	var term bn254.G1Affine
	var scalar big.Int
	for i := range witness {
		witness[i].BigInt(&scalar)
		term.ScalarMultiplication(&d.IC[i+1], &scalar)
		acc.AddMixed(&term)
	}
	var vkX bn254.G1Affine
	vkX.FromJacobian(&acc)

	var negA bn254.G1Affine
	negA.Neg(&dp.A)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, d.Alpha, vkX, dp.C},
		[]bn254.G2Affine{dp.B, d.Beta, d.Gamma, d.Delta},
	)
	if err != nil {
		return false, fmt.Errorf("pairing check: %w", err)
	}
	return ok, nil
}
