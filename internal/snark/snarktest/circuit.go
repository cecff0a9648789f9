// circuit.go - Withdrawal membership circuit used to mint real test proofs.
//
// Proves knowledge of (nullifier, secret) such that MiMC(nullifier, secret)
// sits in the tree under Root, and that NullifierHash = MiMC(nullifier).
// Public inputs appear in wire-slot order. Recipient, Fee and Refund carry
// no statement of their own; squaring pins them into the constraint system
// so each gets a non-trivial IC point and a mutated value breaks the proof.

package snarktest

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Circuit is sized by NewCircuit; depth is the merkle path length.
type Circuit struct {
	// Public inputs, in wire-slot order.
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Refund        frontend.Variable `gnark:",public"`

	// Private witness.
	Nullifier    frontend.Variable
	Secret       frontend.Variable
	PathElements []frontend.Variable
	PathIndices  []frontend.Variable // bit per level, 1 = leaf path is the right child
}

// NewCircuit allocates the path slices for the given depth.
func NewCircuit(depth int) *Circuit {
	return &Circuit{
		PathElements: make([]frontend.Variable, depth),
		PathIndices:  make([]frontend.Variable, depth),
	}
}

func (c *Circuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Step 1: nullifier hash (nullifierHash = MiMC(nullifier))
	hasher.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierHash, hasher.Sum())

	// Step 2: commitment leaf (cm = MiMC(nullifier, secret))
	hasher.Reset()
	hasher.Write(c.Nullifier, c.Secret)
	cur := hasher.Sum()

	// Step 3: climb to the root, parent = MiMC(left, right)
	for i := range c.PathElements {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.PathElements[i], cur)
		right := api.Select(c.PathIndices[i], cur, c.PathElements[i])
		hasher.Reset()
		hasher.Write(left, right)
		cur = hasher.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// Step 4: bind the fee-routing inputs
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Fee, c.Fee)
	api.Mul(c.Refund, c.Refund)

	return nil
}
