// wire_test.go - Wire-shape and point-decoding tests.

package snark

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"veilpool/internal/vperrors"
)

// BN254 generators in snarkjs decimal form. G1 is (1, 2); the G2 coordinates
// are the EIP-197 constants with each Fp2 written [c0, c1].
var (
	g1Gen = []string{"1", "2", "1"}
	g2Gen = [][]string{
		{
			"10857046999023057135944570762232829481370756359578518086990519993285655852781",
			"11559732032986387107991004021392285783925812861821192530917403151452391805634",
		},
		{
			"8495653923123431417604973247489272438418190587263600148770280649306958101930",
			"4082367875863433681332203403145435568316851327593401208105741076214120093531",
		},
		{"1", "0"},
	}

	fpModulusDec = "21888242871839275222246405745257275088696311157297823662689037894645226208583"
	frModulusDec = "21888242871839275222246405745257275088548364400416034343698204186575808495617"
)

func cloneG1(p []string) []string {
	return append([]string(nil), p...)
}

func cloneG2(p [][]string) [][]string {
	out := make([][]string, len(p))
	for i, pair := range p {
		out[i] = append([]string(nil), pair...)
	}
	return out
}

// testVK returns a structurally valid single-input key built from generators.
func testVK() *VerifyingKey {
	return &VerifyingKey{
		Protocol: ProtocolGroth16,
		Curve:    CurveBN128,
		NPublic:  1,
		AlphaG1:  cloneG1(g1Gen),
		BetaG2:   cloneG2(g2Gen),
		GammaG2:  cloneG2(g2Gen),
		DeltaG2:  cloneG2(g2Gen),
		IC:       [][]string{cloneG1(g1Gen), cloneG1(g1Gen)},
	}
}

func TestNewPublicInputsOrder(t *testing.T) {
	root := common.BigToHash(big.NewInt(7))
	nh := common.BigToHash(big.NewInt(11))
	recipient := common.BigToHash(big.NewInt(13))

	in := NewPublicInputs(root, nh, recipient, 250, 0)
	require.Equal(t, PublicInputs{"7", "11", "13", "250", "0"}, in)
	require.Equal(t, "7", in[SlotRoot])
	require.Equal(t, "11", in[SlotNullifierHash])
	require.Equal(t, "13", in[SlotRecipient])
	require.Equal(t, "250", in[SlotFee])
	require.Equal(t, "0", in[SlotRefund])
}

func TestPublicInputsElements(t *testing.T) {
	in := NewPublicInputs(
		common.BigToHash(big.NewInt(7)),
		common.BigToHash(big.NewInt(11)),
		common.BigToHash(big.NewInt(13)),
		250, 1,
	)
	elems, err := in.Elements()
	require.NoError(t, err)
	require.Len(t, elems, NumPublicInputs)
	require.Equal(t, uint64(7), elems[SlotRoot].Uint64())
	require.Equal(t, uint64(250), elems[SlotFee].Uint64())
	require.Equal(t, uint64(1), elems[SlotRefund].Uint64())
}

func TestPublicInputsElementsRejectsMalformed(t *testing.T) {
	base := NewPublicInputs(
		common.BigToHash(big.NewInt(1)),
		common.BigToHash(big.NewInt(2)),
		common.BigToHash(big.NewInt(3)),
		4, 5,
	)

	for name, bad := range map[string]string{
		"empty":        "",
		"signed":       "-4",
		"hex":          "0x1f",
		"alpha":        "12a",
		"space":        " 12",
		"out of field": frModulusDec,
	} {
		t.Run(name, func(t *testing.T) {
			in := base
			in[SlotFee] = bad
			_, err := in.Elements()
			require.Error(t, err)
			require.ErrorIs(t, err, vperrors.ErrInvalidInput)
		})
	}
}

func TestVerifyingKeyValidate(t *testing.T) {
	require.NoError(t, testVK().Validate())

	alt := testVK()
	alt.Curve = CurveBN254
	require.NoError(t, alt.Validate(), "gnark curve spelling must be accepted")

	for name, corrupt := range map[string]func(vk *VerifyingKey){
		"wrong protocol":    func(vk *VerifyingKey) { vk.Protocol = "plonk" },
		"wrong curve":       func(vk *VerifyingKey) { vk.Curve = "bls12-381" },
		"nPublic mismatch":  func(vk *VerifyingKey) { vk.NPublic = 2 },
		"negative nPublic":  func(vk *VerifyingKey) { vk.NPublic = -1 },
		"missing alpha":     func(vk *VerifyingKey) { vk.AlphaG1 = nil },
		"unnormalized G1":   func(vk *VerifyingKey) { vk.AlphaG1[2] = "0" },
		"unnormalized G2":   func(vk *VerifyingKey) { vk.BetaG2[2][1] = "1" },
		"non-decimal coord": func(vk *VerifyingKey) { vk.AlphaG1[0] = "0x01" },
		"unreduced coord":   func(vk *VerifyingKey) { vk.AlphaG1[0] = fpModulusDec },
		"off-curve G1":      func(vk *VerifyingKey) { vk.IC[0] = []string{"1", "1", "1"} },
		"off-curve G2":      func(vk *VerifyingKey) { vk.GammaG2[0][0] = "12345" },
	} {
		t.Run(name, func(t *testing.T) {
			vk := testVK()
			corrupt(vk)
			err := vk.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, vperrors.ErrInvalidInput)
		})
	}

	var nilVK *VerifyingKey
	require.ErrorIs(t, nilVK.Validate(), vperrors.ErrInvalidInput)
}

func TestProofShape(t *testing.T) {
	valid := &Proof{
		PiA:      cloneG1(g1Gen),
		PiB:      cloneG2(g2Gen),
		PiC:      cloneG1(g1Gen),
		Protocol: ProtocolGroth16,
		Curve:    CurveBN128,
	}
	require.NoError(t, valid.validateShape())

	bare := &Proof{PiA: cloneG1(g1Gen), PiB: cloneG2(g2Gen), PiC: cloneG1(g1Gen)}
	require.NoError(t, bare.validateShape(), "protocol and curve tags are optional")

	for name, corrupt := range map[string]func(p *Proof){
		"wrong protocol": func(p *Proof) { p.Protocol = "plonk" },
		"wrong curve":    func(p *Proof) { p.Curve = "bls12-377" },
		"short pi_a":     func(p *Proof) { p.PiA = p.PiA[:2] },
		"short pi_b":     func(p *Proof) { p.PiB = p.PiB[:1] },
		"ragged pi_b":    func(p *Proof) { p.PiB[1] = p.PiB[1][:1] },
		"short pi_c":     func(p *Proof) { p.PiC = nil },
	} {
		t.Run(name, func(t *testing.T) {
			p := &Proof{
				PiA:      cloneG1(g1Gen),
				PiB:      cloneG2(g2Gen),
				PiC:      cloneG1(g1Gen),
				Protocol: ProtocolGroth16,
				Curve:    CurveBN128,
			}
			corrupt(p)
			require.ErrorIs(t, p.validateShape(), vperrors.ErrInvalidProof)
		})
	}

	var nilProof *Proof
	require.ErrorIs(t, nilProof.validateShape(), vperrors.ErrInvalidProof)
}

func TestDecodeProofRejectsBadPoints(t *testing.T) {
	p := &Proof{PiA: []string{"1", "1", "1"}, PiB: cloneG2(g2Gen), PiC: cloneG1(g1Gen)}
	_, err := decodeProof(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pi_a")

	ok := &Proof{PiA: cloneG1(g1Gen), PiB: cloneG2(g2Gen), PiC: cloneG1(g1Gen)}
	d, err := decodeProof(ok)
	require.NoError(t, err)
	require.True(t, d.A.IsOnCurve())
	require.True(t, d.B.IsInSubGroup())
}
