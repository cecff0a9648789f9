// field.go - BN254 scalar field plumbing shared by the pool packages.
//
// Commitments, nullifier hashes and merkle roots travel as 32-byte big-endian
// values (common.Hash) and cross into proof land as decimal strings. All
// conversions live here so canonicality (value < r) is checked in one place.

package field

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"veilpool/internal/vperrors"
)

// DomainTag seeds the zero leaf of the commitment tree.
const DomainTag = "veilpool"

var modulus = fr.Modulus()

// Modulus returns a copy of the BN254 scalar field modulus r.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// Canonical reports whether h, read big-endian, is a reduced field element.
func Canonical(h common.Hash) bool {
	return new(big.Int).SetBytes(h[:]).Cmp(modulus) < 0
}

// ToElement converts a canonical hash to a field element. Values >= r are
// rejected rather than silently reduced.
func ToElement(h common.Hash) (fr.Element, error) {
	var e fr.Element
	if !Canonical(h) {
		return e, fmt.Errorf("value %s not a canonical field element: %w", h.Hex(), vperrors.ErrInvalidInput)
	}
	e.SetBytes(h[:])
	return e, nil
}

// FromElement serializes a field element as a 32-byte big-endian hash.
func FromElement(e fr.Element) common.Hash {
	b := e.Bytes()
	return common.Hash(b)
}

// FromBig converts a non-negative big integer < r into hash form.
func FromBig(b *big.Int) (common.Hash, error) {
	if b == nil || b.Sign() < 0 || b.Cmp(modulus) >= 0 {
		return common.Hash{}, fmt.Errorf("big integer out of field range: %w", vperrors.ErrInvalidInput)
	}
	return common.BigToHash(b), nil
}

// FromDecimal parses a strict base-10 string (digits only, no sign) into a
// canonical hash. This is the single entry point for public-input slots.
func FromDecimal(s string) (common.Hash, error) {
	if len(s) == 0 {
		return common.Hash{}, fmt.Errorf("empty decimal string: %w", vperrors.ErrInvalidInput)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return common.Hash{}, fmt.Errorf("non-decimal character %q: %w", c, vperrors.ErrInvalidInput)
		}
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("unparseable decimal %q: %w", s, vperrors.ErrInvalidInput)
	}
	return FromBig(b)
}

// Decimal renders a hash as the base-10 string the proving system consumes.
func Decimal(h common.Hash) string {
	return new(big.Int).SetBytes(h[:]).String()
}

// ZeroLeaf derives the empty-leaf value for the commitment tree as
// keccak256(tag) reduced into the field, so an implementation on another
// stack arrives at the same tree by hashing the same tag.
func ZeroLeaf(tag string) common.Hash {
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte(tag))
	v := new(big.Int).SetBytes(k.Sum(nil))
	v.Mod(v, modulus)
	return common.BigToHash(v)
}
