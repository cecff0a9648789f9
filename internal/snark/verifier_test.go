// verifier_test.go - End-to-end verification against real Groth16 material.
//
// These tests run a trusted setup for a small tree, prove real withdrawals,
// and check both verifier implementations against the resulting snarkjs-form
// proofs, including every single-bit mutation of the wire data.

package snark_test

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"veilpool/internal/snark"
	"veilpool/internal/snark/snarktest"
)

const testDepth = 4

var (
	fixOnce sync.Once
	fix     *snarktest.Fixture
	fixErr  error

	sampleOnce   sync.Once
	sampleProof  *snark.Proof
	sampleInputs snark.PublicInputs
	sampleErr    error
)

func fixture(t *testing.T) *snarktest.Fixture {
	t.Helper()
	fixOnce.Do(func() { fix, fixErr = snarktest.Setup(testDepth) })
	require.NoError(t, fixErr)
	return fix
}

func buildSample(f *snarktest.Fixture) (*snark.Proof, snark.PublicInputs, error) {
	pt, err := snarktest.NewPathTree(testDepth)
	if err != nil {
		return nil, snark.PublicInputs{}, err
	}

	deposits := make([]*snarktest.Deposit, 3)
	for i := range deposits {
		if deposits[i], err = snarktest.NewDeposit(); err != nil {
			return nil, snark.PublicInputs{}, err
		}
		if _, _, err = pt.Insert(deposits[i].Commitment); err != nil {
			return nil, snark.PublicInputs{}, err
		}
	}

	target := deposits[1]
	elements, indices, err := pt.Path(1)
	if err != nil {
		return nil, snark.PublicInputs{}, err
	}
	nh, err := target.NullifierHash()
	if err != nil {
		return nil, snark.PublicInputs{}, err
	}

	return f.Prove(snarktest.Witness{
		Root:          pt.Root(),
		NullifierHash: nh,
		Recipient:     common.BigToHash(big.NewInt(0xbeef01)),
		Fee:           250,
		Refund:        0,
		Nullifier:     target.Nullifier,
		Secret:        target.Secret,
		PathElements:  elements,
		PathIndices:   indices,
	})
}

// provenWithdrawal returns one valid proof shared across tests. Callers must
// not mutate it; the mutation helpers clone.
func provenWithdrawal(t *testing.T) (*snarktest.Fixture, snark.PublicInputs, *snark.Proof) {
	t.Helper()
	f := fixture(t)
	sampleOnce.Do(func() { sampleProof, sampleInputs, sampleErr = buildSample(f) })
	require.NoError(t, sampleErr)
	return f, sampleInputs, sampleProof
}

func TestVerifiersAcceptValidProof(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	for name, v := range map[string]snark.Verifier{
		"gnark":     snark.NewGnarkVerifier(),
		"reference": snark.NewReferenceVerifier(),
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := v.Verify(f.WireVK, inputs, proof)
			require.NoError(t, err)
			require.True(t, ok)

			// Repeat through the cached key path.
			ok, err = v.Verify(f.WireVK, inputs, proof)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestVerifiersRejectEveryMutation(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)
	corpus := snarktest.MutationCorpus("withdraw", inputs, proof)
	require.Len(t, corpus, 1+snark.NumPublicInputs+3)

	gnark := snark.NewGnarkVerifier()
	reference := snark.NewReferenceVerifier()

	for _, s := range corpus[1:] {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			ok, err := gnark.Verify(f.WireVK, s.Inputs, &s.Proof)
			require.NoError(t, err, "mutants must be rejected, not unevaluable")
			require.False(t, ok)

			ok, err = reference.Verify(f.WireVK, s.Inputs, &s.Proof)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestVerifyRejectsReboundRecipient(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	// Re-encode the tuple with a different recipient instead of bit-flipping,
	// so an unbound recipient input would slip through unchanged proofs.
	swapped := inputs
	swapped[snark.SlotRecipient] = snark.NewPublicInputs(
		common.Hash{}, common.Hash{}, common.BigToHash(big.NewInt(0xd00d)), 0, 0,
	)[snark.SlotRecipient]

	for name, v := range map[string]snark.Verifier{
		"gnark":     snark.NewGnarkVerifier(),
		"reference": snark.NewReferenceVerifier(),
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := v.Verify(f.WireVK, swapped, proof)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestVerifyUnevaluableKey(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	broken := *f.WireVK
	broken.IC = broken.IC[:len(broken.IC)-1]
	broken.NPublic = len(broken.IC) - 1

	for name, v := range map[string]snark.Verifier{
		"gnark":     snark.NewGnarkVerifier(),
		"reference": snark.NewReferenceVerifier(),
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := v.Verify(&broken, inputs, proof)
			require.Error(t, err)
			require.False(t, ok)
		})
	}
}

func TestVerifyMalformedInputsAreErrors(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	bad := inputs
	bad[snark.SlotFee] = "not-a-number"

	ok, err := snark.NewGnarkVerifier().Verify(f.WireVK, bad, proof)
	require.Error(t, err)
	require.False(t, ok)
}

func TestVerifyDeterministic(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)
	mutant := snarktest.MutateProof(proof, "pi_c")

	v := snark.NewGnarkVerifier()
	for i := 0; i < 3; i++ {
		ok, err := v.Verify(f.WireVK, inputs, proof)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = v.Verify(f.WireVK, inputs, mutant)
		require.NoError(t, err)
		require.False(t, ok)
	}
}
