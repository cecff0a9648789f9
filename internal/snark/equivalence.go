// equivalence.go - The verifier-consistency contract.
//
// Whatever backs cryptographic verification, the off-chain pre-check and the
// authoritative decision must accept and reject the identical set of
// (proof, publicInputs) pairs. A divergence is a verifier translation bug,
// a protocol-breaking defect, and is surfaced as its own error kind so no
// caller mistakes it for a bad proof.

package snark

import (
	"fmt"

	"veilpool/internal/vperrors"
)

// Sample is one (inputs, proof) pair of an equivalence corpus.
type Sample struct {
	Name   string
	Inputs PublicInputs
	Proof  Proof
}

// Divergence records one sample the two verifiers disagreed on.
type Divergence struct {
	Sample    string
	Primary   bool
	Reference bool
}

// DivergenceError reports every divergence found in a corpus. It unwraps to
// ErrVerifierDivergence.
type DivergenceError struct {
	Divergences []Divergence
}

func (e *DivergenceError) Error() string {
	if len(e.Divergences) == 1 {
		d := e.Divergences[0]
		return fmt.Sprintf("%v on sample %q: primary=%t reference=%t", vperrors.ErrVerifierDivergence, d.Sample, d.Primary, d.Reference)
	}
	return fmt.Sprintf("%v on %d samples", vperrors.ErrVerifierDivergence, len(e.Divergences))
}

func (e *DivergenceError) Unwrap() error { return vperrors.ErrVerifierDivergence }

// accepted collapses a Verify outcome to the acceptance bit. Unevaluable
// calls count as rejections for comparison purposes: both implementations
// must refuse them alike.
func accepted(v Verifier, vk *VerifyingKey, inputs PublicInputs, proof *Proof) bool {
	ok, err := v.Verify(vk, inputs, proof)
	return err == nil && ok
}

// CheckEquivalence replays every sample through both verifiers and returns
// a DivergenceError if their accept sets differ anywhere.
func CheckEquivalence(primary, reference Verifier, vk *VerifyingKey, samples []Sample) error {
	var divs []Divergence
	for _, s := range samples {
		p := accepted(primary, vk, s.Inputs, &s.Proof)
		r := accepted(reference, vk, s.Inputs, &s.Proof)
		if p != r {
			divs = append(divs, Divergence{Sample: s.Name, Primary: p, Reference: r})
		}
	}
	if len(divs) > 0 {
		return &DivergenceError{Divergences: divs}
	}
	return nil
}

// VerifyBoth runs one verification through both implementations and fails
// with a DivergenceError when they disagree, otherwise returning the
// primary outcome. The pool uses this in consistency-checking mode.
func VerifyBoth(primary, reference Verifier, vk *VerifyingKey, inputs PublicInputs, proof *Proof) (bool, error) {
	pOK, pErr := primary.Verify(vk, inputs, proof)
	rOK, rErr := reference.Verify(vk, inputs, proof)

	pAccept := pErr == nil && pOK
	rAccept := rErr == nil && rOK
	if pAccept != rAccept {
		return false, &DivergenceError{Divergences: []Divergence{{
			Sample:    "live withdrawal",
			Primary:   pAccept,
			Reference: rAccept,
		}}}
	}
	return pOK, pErr
}
