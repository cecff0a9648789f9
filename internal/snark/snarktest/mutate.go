// mutate.go - Single-bit mutations over proofs and public inputs.
//
// Each helper flips exactly one bit of one decimal field and leaves the rest
// of the sample untouched. A sound verifier pair must reject every mutant of
// an accepting sample, regardless of whether the mutation lands off-curve,
// out of the subgroup, or on a valid-but-wrong point.

package snarktest

import (
	"fmt"
	"math/big"

	"veilpool/internal/snark"
)

// FlipDecimalBit XORs the given bit of a base-10 encoded integer.
// The input must be a valid decimal string; fixtures guarantee that.
func FlipDecimalBit(dec string, bit int) string {
	v, ok := new(big.Int).SetString(dec, 10)
	if !ok {
		panic(fmt.Sprintf("snarktest: not a decimal string: %q", dec))
	}
	mask := new(big.Int).Lsh(big.NewInt(1), uint(bit))
	return v.Xor(v, mask).String()
}

// MutateInput returns a copy of inputs with bit 0 of the given slot flipped.
func MutateInput(inputs snark.PublicInputs, slot int) snark.PublicInputs {
	out := inputs
	out[slot] = FlipDecimalBit(out[slot], 0)
	return out
}

// CloneProof deep-copies a proof so mutations never alias the original.
func CloneProof(p *snark.Proof) *snark.Proof {
	out := &snark.Proof{
		PiA:      append([]string(nil), p.PiA...),
		PiC:      append([]string(nil), p.PiC...),
		Protocol: p.Protocol,
		Curve:    p.Curve,
	}
	out.PiB = make([][]string, len(p.PiB))
	for i, pair := range p.PiB {
		out.PiB[i] = append([]string(nil), pair...)
	}
	return out
}

// MutateProof returns a copy of p with bit 0 of one coordinate flipped.
// Component is "pi_a", "pi_b" or "pi_c".
func MutateProof(p *snark.Proof, component string) *snark.Proof {
	out := CloneProof(p)
	switch component {
	case "pi_a":
		out.PiA[0] = FlipDecimalBit(out.PiA[0], 0)
	case "pi_b":
		out.PiB[0][0] = FlipDecimalBit(out.PiB[0][0], 0)
	case "pi_c":
		out.PiC[0] = FlipDecimalBit(out.PiC[0], 0)
	default:
		panic(fmt.Sprintf("snarktest: unknown proof component %q", component))
	}
	return out
}

// MutationCorpus fans a valid sample out into the sample itself plus one
// mutant per public input slot and per proof component. Only the original
// should verify.
func MutationCorpus(name string, inputs snark.PublicInputs, proof *snark.Proof) []snark.Sample {
	slotNames := [snark.NumPublicInputs]string{"root", "nullifier_hash", "recipient", "fee", "refund"}

	samples := []snark.Sample{{Name: name + "/valid", Inputs: inputs, Proof: *CloneProof(proof)}}
	for slot := 0; slot < snark.NumPublicInputs; slot++ {
		samples = append(samples, snark.Sample{
			Name:   fmt.Sprintf("%s/flip-input-%s", name, slotNames[slot]),
			Inputs: MutateInput(inputs, slot),
			Proof:  *CloneProof(proof),
		})
	}
	for _, component := range []string{"pi_a", "pi_b", "pi_c"} {
		samples = append(samples, snark.Sample{
			Name:   fmt.Sprintf("%s/flip-%s", name, component),
			Inputs: inputs,
			Proof:  *MutateProof(proof, component),
		})
	}
	return samples
}
