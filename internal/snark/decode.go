// decode.go - Decoding snarkjs decimal points into gnark-crypto BN254 points.
//
// snarkjs normalizes exported points, so G1 is [x, y, "1"] and G2 is
// [[x0,x1], [y0,y1], ["1","0"]] with Fp2 elements written c0 + c1*u. Every
// decoded point must be on the curve and in the prime-order subgroup; a key
// or proof carrying anything else is refused outright.

package snark

import (
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"veilpool/internal/vperrors"
)

// fpFromDecimal parses a strict base-10 coordinate below the base field
// modulus p.
func fpFromDecimal(s string) (fp.Element, error) {
	var e fp.Element
	if len(s) == 0 {
		return e, fmt.Errorf("empty coordinate: %w", vperrors.ErrInvalidInput)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return e, fmt.Errorf("non-decimal coordinate %q: %w", s, vperrors.ErrInvalidInput)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return e, fmt.Errorf("unparseable coordinate %q: %w", s, vperrors.ErrInvalidInput)
	}
	if v.Cmp(fp.Modulus()) >= 0 {
		return e, fmt.Errorf("coordinate %q not reduced mod p: %w", s, vperrors.ErrInvalidInput)
	}
	e.SetBigInt(v)
	return e, nil
}

func g1FromStrings(coords []string) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(coords) != 3 {
		return p, fmt.Errorf("G1 point has %d coordinates, want 3: %w", len(coords), vperrors.ErrInvalidInput)
	}
	if coords[2] != "1" {
		return p, fmt.Errorf("G1 point not normalized (z=%q): %w", coords[2], vperrors.ErrInvalidInput)
	}
	var err error
	if p.X, err = fpFromDecimal(coords[0]); err != nil {
		return p, err
	}
	if p.Y, err = fpFromDecimal(coords[1]); err != nil {
		return p, err
	}
	if !p.IsOnCurve() {
		return p, fmt.Errorf("G1 point not on curve: %w", vperrors.ErrInvalidInput)
	}
	if !p.IsInSubGroup() {
		return p, fmt.Errorf("G1 point not in subgroup: %w", vperrors.ErrInvalidInput)
	}
	return p, nil
}

func g2FromStrings(coords [][]string) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	if len(coords) != 3 {
		return p, fmt.Errorf("G2 point has %d coordinate pairs, want 3: %w", len(coords), vperrors.ErrInvalidInput)
	}
	for i, pair := range coords {
		if len(pair) != 2 {
			return p, fmt.Errorf("G2 coordinate %d has %d components, want 2: %w", i, len(pair), vperrors.ErrInvalidInput)
		}
	}
	if coords[2][0] != "1" || coords[2][1] != "0" {
		return p, fmt.Errorf("G2 point not normalized (z=[%q,%q]): %w", coords[2][0], coords[2][1], vperrors.ErrInvalidInput)
	}
	var err error
	if p.X.A0, err = fpFromDecimal(coords[0][0]); err != nil {
		return p, err
	}
	if p.X.A1, err = fpFromDecimal(coords[0][1]); err != nil {
		return p, err
	}
	if p.Y.A0, err = fpFromDecimal(coords[1][0]); err != nil {
		return p, err
	}
	if p.Y.A1, err = fpFromDecimal(coords[1][1]); err != nil {
		return p, err
	}
	if !p.IsOnCurve() {
		return p, fmt.Errorf("G2 point not on curve: %w", vperrors.ErrInvalidInput)
	}
	if !p.IsInSubGroup() {
		return p, fmt.Errorf("G2 point not in subgroup: %w", vperrors.ErrInvalidInput)
	}
	return p, nil
}

// decodedVK holds the verification key as curve points.
type decodedVK struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

func decodeVK(vk *VerifyingKey) (*decodedVK, error) {
	d := &decodedVK{IC: make([]bn254.G1Affine, len(vk.IC))}
	var err error
	if d.Alpha, err = g1FromStrings(vk.AlphaG1); err != nil {
		return nil, fmt.Errorf("vk_alpha_1: %w", err)
	}
	if d.Beta, err = g2FromStrings(vk.BetaG2); err != nil {
		return nil, fmt.Errorf("vk_beta_2: %w", err)
	}
	if d.Gamma, err = g2FromStrings(vk.GammaG2); err != nil {
		return nil, fmt.Errorf("vk_gamma_2: %w", err)
	}
	if d.Delta, err = g2FromStrings(vk.DeltaG2); err != nil {
		return nil, fmt.Errorf("vk_delta_2: %w", err)
	}
	for i, ic := range vk.IC {
		if d.IC[i], err = g1FromStrings(ic); err != nil {
			return nil, fmt.Errorf("IC[%d]: %w", i, err)
		}
	}
	return d, nil
}

// decodedProof holds the proof as curve points.
type decodedProof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

func decodeProof(p *Proof) (*decodedProof, error) {
	if err := p.validateShape(); err != nil {
		return nil, err
	}
	d := &decodedProof{}
	var err error
	if d.A, err = g1FromStrings(p.PiA); err != nil {
		return nil, fmt.Errorf("pi_a: %w", err)
	}
	if d.B, err = g2FromStrings(p.PiB); err != nil {
		return nil, fmt.Errorf("pi_b: %w", err)
	}
	if d.C, err = g1FromStrings(p.PiC); err != nil {
		return nil, fmt.Errorf("pi_c: %w", err)
	}
	return d, nil
}

// toGnarkVK rebuilds the decoded key as a gnark verification key with its
// pairing lines precomputed.
func toGnarkVK(d *decodedVK) (*groth16bn254.VerifyingKey, error) {
	var vk groth16bn254.VerifyingKey
	vk.G1.Alpha = d.Alpha
	vk.G1.K = append([]bn254.G1Affine(nil), d.IC...)
	vk.G2.Beta = d.Beta
	vk.G2.Gamma = d.Gamma
	vk.G2.Delta = d.Delta
	if err := vk.Precompute(); err != nil {
		return nil, fmt.Errorf("precompute verification key: %w", err)
	}
	return &vk, nil
}
