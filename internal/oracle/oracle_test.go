package oracle

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	token     = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func TestCommitmentDeterministic(t *testing.T) {
	salt := [32]byte{7}
	a := Commitment(recipient, token, uint256.NewInt(100), salt)
	b := Commitment(recipient, token, uint256.NewInt(100), salt)
	assert.Equal(t, a, b)
	assert.NotEqual(t, common.Hash{}, a)

	assert.NotEqual(t, a, Commitment(recipient, token, uint256.NewInt(101), salt))
	assert.NotEqual(t, a, Commitment(token, token, uint256.NewInt(100), salt))
	assert.NotEqual(t, a, Commitment(recipient, recipient, uint256.NewInt(100), salt))
	assert.NotEqual(t, a, Commitment(recipient, token, uint256.NewInt(100), [32]byte{8}))
}

func TestNullifier(t *testing.T) {
	cm := Commitment(recipient, token, uint256.NewInt(5), [32]byte{1})
	n1 := Nullifier(cm, [32]byte{2})
	assert.Equal(t, n1, Nullifier(cm, [32]byte{2}))
	assert.NotEqual(t, n1, Nullifier(cm, [32]byte{3}))
	assert.NotEqual(t, common.Hash(cm), n1)
}

func TestOutputsAreFieldElements(t *testing.T) {
	cm := Commitment(recipient, token, new(uint256.Int).SetAllOne(), [32]byte{0xff, 0xff})
	modulus := fr.Modulus()
	assert.Equal(t, -1, new(big.Int).SetBytes(cm[:]).Cmp(modulus))
}

func TestFieldValueReduces(t *testing.T) {
	var all [32]byte
	for i := range all {
		all[i] = 0xff
	}
	v := FieldValue(all[:])
	assert.Equal(t, -1, v.Cmp(fr.Modulus()))
	assert.Equal(t, big.NewInt(42), FieldValue([]byte{42}))

	s1, err := RandomSalt()
	require.NoError(t, err)
	s2, err := RandomSalt()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestRandomSaltIsCanonical(t *testing.T) {
	for i := 0; i < 64; i++ {
		s, err := RandomSalt()
		require.NoError(t, err)
		assert.Equal(t, -1, new(big.Int).SetBytes(s[:]).Cmp(fr.Modulus()))
		assert.Equal(t, new(big.Int).SetBytes(s[:]), FieldValue(s[:]))
	}
}

func TestSaltAliasesModulo(t *testing.T) {
	var low, high [32]byte
	big.NewInt(7).FillBytes(low[:])
	new(big.Int).Add(fr.Modulus(), big.NewInt(7)).FillBytes(high[:])
	assert.Equal(t, Commitment(recipient, token, uint256.NewInt(1), low), Commitment(recipient, token, uint256.NewInt(1), high))
}
