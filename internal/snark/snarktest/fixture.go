// fixture.go - Compile, prove and encode: real Groth16 material for tests.
//
// Setup compiles the membership circuit on BN254 and runs the Groth16 setup;
// Prove generates genuine proofs and encodes them, together with the
// verification key, into the snarkjs wire format the pool consumes. Tests
// therefore exercise the actual parser and both verifiers end to end, with
// no canned fixtures.

package snarktest

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/field"
	"veilpool/internal/snark"
)

// Fixture bundles the compiled circuit with its keys.
type Fixture struct {
	Depth  int
	CCS    constraint.ConstraintSystem
	PK     groth16.ProvingKey
	VK     groth16.VerifyingKey
	WireVK *snark.VerifyingKey
}

// Setup compiles and keys the circuit at the given tree depth.
func Setup(depth int) (*Fixture, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewCircuit(depth))
	if err != nil {
		return nil, fmt.Errorf("compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	wireVK, err := EncodeVK(vk)
	if err != nil {
		return nil, err
	}
	return &Fixture{Depth: depth, CCS: ccs, PK: pk, VK: vk, WireVK: wireVK}, nil
}

// Deposit is one depositor's secret material and the resulting commitment.
type Deposit struct {
	Nullifier  common.Hash
	Secret     common.Hash
	Commitment common.Hash
}

// NewDeposit draws fresh secrets and derives the commitment leaf.
func NewDeposit() (*Deposit, error) {
	var n, s fr.Element
	if _, err := n.SetRandom(); err != nil {
		return nil, err
	}
	if _, err := s.SetRandom(); err != nil {
		return nil, err
	}
	d := &Deposit{
		Nullifier: field.FromElement(n),
		Secret:    field.FromElement(s),
	}
	var err error
	if d.Commitment, err = mimcHash(d.Nullifier, d.Secret); err != nil {
		return nil, err
	}
	return d, nil
}

// NullifierHash derives the public nullifier hash revealed at withdrawal.
func (d *Deposit) NullifierHash() (common.Hash, error) {
	return mimcHash(d.Nullifier)
}

func mimcHash(chunks ...common.Hash) (common.Hash, error) {
	h := mimc.NewMiMC()
	for _, c := range chunks {
		if _, err := h.Write(c[:]); err != nil {
			return common.Hash{}, err
		}
	}
	return common.BytesToHash(h.Sum(nil)), nil
}

// Witness is everything Prove needs for one withdrawal.
type Witness struct {
	Root          common.Hash
	NullifierHash common.Hash
	Recipient     common.Hash
	Fee           uint64
	Refund        uint64

	Nullifier    common.Hash
	Secret       common.Hash
	PathElements []common.Hash
	PathIndices  []int
}

// Prove generates a Groth16 proof for w and returns it in wire form along
// with the public-input tuple it is bound to.
func (f *Fixture) Prove(w Witness) (*snark.Proof, snark.PublicInputs, error) {
	if len(w.PathElements) != f.Depth || len(w.PathIndices) != f.Depth {
		return nil, snark.PublicInputs{}, fmt.Errorf("witness path length %d, want %d", len(w.PathElements), f.Depth)
	}

	assignment := NewCircuit(f.Depth)
	assignment.Root = toBig(w.Root)
	assignment.NullifierHash = toBig(w.NullifierHash)
	assignment.Recipient = toBig(w.Recipient)
	assignment.Fee = new(big.Int).SetUint64(w.Fee)
	assignment.Refund = new(big.Int).SetUint64(w.Refund)
	assignment.Nullifier = toBig(w.Nullifier)
	assignment.Secret = toBig(w.Secret)
	for i := 0; i < f.Depth; i++ {
		assignment.PathElements[i] = toBig(w.PathElements[i])
		assignment.PathIndices[i] = w.PathIndices[i]
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, snark.PublicInputs{}, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(f.CCS, f.PK, witness)
	if err != nil {
		return nil, snark.PublicInputs{}, fmt.Errorf("prove: %w", err)
	}
	wireProof, err := EncodeProof(proof)
	if err != nil {
		return nil, snark.PublicInputs{}, err
	}
	inputs := snark.NewPublicInputs(w.Root, w.NullifierHash, w.Recipient, w.Fee, w.Refund)
	return wireProof, inputs, nil
}

func toBig(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func encodeG1(p bn254.G1Affine) []string {
	return []string{p.X.String(), p.Y.String(), "1"}
}

func encodeG2(p bn254.G2Affine) [][]string {
	return [][]string{
		{p.X.A0.String(), p.X.A1.String()},
		{p.Y.A0.String(), p.Y.A1.String()},
		{"1", "0"},
	}
}

// EncodeVK renders a gnark verification key as snarkjs JSON wire form.
func EncodeVK(vk groth16.VerifyingKey) (*snark.VerifyingKey, error) {
	bvk, ok := vk.(*groth16bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("verification key is %T, want bn254", vk)
	}
	out := &snark.VerifyingKey{
		Protocol: snark.ProtocolGroth16,
		Curve:    snark.CurveBN128,
		NPublic:  len(bvk.G1.K) - 1,
		AlphaG1:  encodeG1(bvk.G1.Alpha),
		BetaG2:   encodeG2(bvk.G2.Beta),
		GammaG2:  encodeG2(bvk.G2.Gamma),
		DeltaG2:  encodeG2(bvk.G2.Delta),
	}
	for _, k := range bvk.G1.K {
		out.IC = append(out.IC, encodeG1(k))
	}
	return out, nil
}

// EncodeProof renders a gnark proof as snarkjs JSON wire form.
func EncodeProof(p groth16.Proof) (*snark.Proof, error) {
	bp, ok := p.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("proof is %T, want bn254", p)
	}
	return &snark.Proof{
		PiA:      encodeG1(bp.Ar),
		PiB:      encodeG2(bp.Bs),
		PiC:      encodeG1(bp.Krs),
		Protocol: snark.ProtocolGroth16,
		Curve:    snark.CurveBN128,
	}, nil
}
