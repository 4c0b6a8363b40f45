// oracle.go - Commitment and nullifier derivation over MiMC on BN254.
//
// Every input is reduced to one BN254 scalar field element before hashing, so the same values
// hashed inside a gnark circuit with std/hash/mimc produce identical outputs.

package oracle

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Commitment binds a future withdrawal of amount of token to recipient, blinded by salt.
// A salt at or above the field modulus r hashes like its residue mod r, so two salts that differ
// by a multiple of r give the same commitment. RandomSalt only returns canonical values.
func Commitment(recipient common.Address, token common.Address, amount *uint256.Int, salt [32]byte) common.Hash {
	amt := amount.Bytes32()
	return hash(recipient[:], token[:], amt[:], salt[:])
}

// Nullifier derives the one-time spend tag of commitment from the holder's secret.
func Nullifier(commitment common.Hash, secret [32]byte) common.Hash {
	return hash(commitment[:], secret[:])
}

// RandomSalt returns a uniformly random BN254 scalar as 32 big-endian bytes, always below r.
func RandomSalt() ([32]byte, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return [32]byte{}, fmt.Errorf("read randomness: %w", err)
	}
	return e.Bytes(), nil
}

// FieldValue returns b reduced into the BN254 scalar field, as assigned to a circuit variable.
func FieldValue(b []byte) *big.Int {
	var e fr.Element
	e.SetBytes(b)
	return e.BigInt(new(big.Int))
}

func hash(inputs ...[]byte) common.Hash {
	h := mimc.NewMiMC()
	for _, in := range inputs {
		var e fr.Element
		e.SetBytes(in)
		b := e.Marshal()
		// A marshalled element is always canonical, so Write cannot fail.
		_, _ = h.Write(b)
	}
	return common.BytesToHash(h.Sum(nil))
}
