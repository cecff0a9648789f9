// verifier.go - The Verifier dependency and its authoritative gnark-backed
// implementation.

package snark

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// Verifier is the opaque proof-acceptance primitive the pool is constructed
// with. Outcomes:
//
//	(true, nil)   cryptographic accept
//	(false, nil)  cryptographic reject, including corrupt or malformed proofs
//	(false, err)  the call could not be evaluated: broken verification key or
//	              unparseable public inputs; never attributable to the proof
//
// Verify must be deterministic and side-effect-free: two calls with
// identical arguments return identical results, whether invoked as an
// off-chain pre-check or as the authoritative decision.
type Verifier interface {
	Verify(vk *VerifyingKey, inputs PublicInputs, proof *Proof) (bool, error)
}

// GnarkVerifier verifies through gnark's Groth16 backend. The translated key
// is memoized per wire key, which keeps repeat verifications cheap without
// changing outcomes.
type GnarkVerifier struct {
	mu    sync.Mutex
	cache map[*VerifyingKey]*groth16bn254.VerifyingKey
}

var _ Verifier = (*GnarkVerifier)(nil)

// NewGnarkVerifier returns an empty verifier.
func NewGnarkVerifier() *GnarkVerifier {
	return &GnarkVerifier{cache: make(map[*VerifyingKey]*groth16bn254.VerifyingKey)}
}

func (g *GnarkVerifier) prepared(vk *VerifyingKey) (*groth16bn254.VerifyingKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cached, ok := g.cache[vk]; ok {
		return cached, nil
	}
	d, err := decodeVK(vk)
	if err != nil {
		return nil, err
	}
	gvk, err := toGnarkVK(d)
	if err != nil {
		return nil, err
	}
	g.cache[vk] = gvk
	return gvk, nil
}

func (g *GnarkVerifier) Verify(vk *VerifyingKey, inputs PublicInputs, proof *Proof) (bool, error) {
	gvk, err := g.prepared(vk)
	if err != nil {
		return false, fmt.Errorf("verification key unusable: %w", err)
	}
	witness, err := inputs.Elements()
	if err != nil {
		return false, err
	}
	if len(gvk.G1.K) != len(witness)+1 {
		return false, fmt.Errorf("verification key expects %d public inputs, got %d", len(gvk.G1.K)-1, len(witness))
	}

	dp, err := decodeProof(proof)
	if err != nil {
		// A proof that does not decode is a rejected proof, not an
		// unevaluable call.
		return false, nil
	}
	var gp groth16bn254.Proof
	gp.Ar = dp.A
	gp.Bs = dp.B
	gp.Krs = dp.C

	if err := groth16bn254.Verify(&gp, gvk, fr.Vector(witness)); err != nil {
		return false, nil
	}
	return true, nil
}
