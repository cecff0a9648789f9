// equivalence_test.go - Cross-checking the two verifier implementations.

package snark_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"veilpool/internal/snark"
	"veilpool/internal/snark/snarktest"
	"veilpool/internal/vperrors"
)

// fixedVerifier returns the same outcome for every call, standing in for a
// diverging implementation.
type fixedVerifier struct {
	ok  bool
	err error
}

func (f fixedVerifier) Verify(*snark.VerifyingKey, snark.PublicInputs, *snark.Proof) (bool, error) {
	return f.ok, f.err
}

func TestCheckEquivalenceCleanCorpus(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)
	corpus := snarktest.MutationCorpus("withdraw", inputs, proof)

	err := snark.CheckEquivalence(snark.NewGnarkVerifier(), snark.NewReferenceVerifier(), f.WireVK, corpus)
	require.NoError(t, err)
}

func TestCheckEquivalenceDetectsDivergence(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)
	corpus := snarktest.MutationCorpus("withdraw", inputs, proof)

	// A verifier that accepts everything diverges on every mutant but agrees
	// on the valid sample.
	err := snark.CheckEquivalence(fixedVerifier{ok: true}, snark.NewReferenceVerifier(), f.WireVK, corpus)
	require.Error(t, err)
	require.ErrorIs(t, err, vperrors.ErrVerifierDivergence)

	var div *snark.DivergenceError
	require.True(t, errors.As(err, &div))
	require.Len(t, div.Divergences, len(corpus)-1)
	for _, d := range div.Divergences {
		require.True(t, d.Primary)
		require.False(t, d.Reference)
	}
}

func TestCheckEquivalenceTreatsErrorsAsRejection(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)
	corpus := snarktest.MutationCorpus("withdraw", inputs, proof)

	// An always-erroring verifier counts as rejecting everything, so it
	// diverges only on the valid sample.
	err := snark.CheckEquivalence(fixedVerifier{err: errors.New("boom")}, snark.NewReferenceVerifier(), f.WireVK, corpus)
	require.Error(t, err)

	var div *snark.DivergenceError
	require.True(t, errors.As(err, &div))
	require.Len(t, div.Divergences, 1)
	require.Equal(t, "withdraw/valid", div.Divergences[0].Sample)
}

func TestVerifyBothAgreement(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	ok, err := snark.VerifyBoth(snark.NewGnarkVerifier(), snark.NewReferenceVerifier(), f.WireVK, inputs, proof)
	require.NoError(t, err)
	require.True(t, ok)

	mutant := snarktest.MutateProof(proof, "pi_a")
	ok, err = snark.VerifyBoth(snark.NewGnarkVerifier(), snark.NewReferenceVerifier(), f.WireVK, inputs, mutant)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyBothDivergence(t *testing.T) {
	f, inputs, proof := provenWithdrawal(t)

	ok, err := snark.VerifyBoth(snark.NewGnarkVerifier(), fixedVerifier{ok: false}, f.WireVK, inputs, proof)
	require.False(t, ok)
	require.ErrorIs(t, err, vperrors.ErrVerifierDivergence)
}
