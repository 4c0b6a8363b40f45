package withdraw

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/test"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamzaZF/shieldpool/internal/oracle"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

func testNote() Note {
	return Note{
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000d0"),
		Token:     common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Amount:    uint256.NewInt(100),
		Salt:      [32]byte{1, 2, 3},
		Secret:    [32]byte{9, 9, 9},
	}
}

func statement(n Note) pool.UnshieldStatement {
	return pool.UnshieldStatement{Token: n.Token, Recipient: n.Recipient, Amount: n.Amount, Nullifier: n.Nullifier()}
}

func TestCircuitSolves(t *testing.T) {
	n := testNote()
	assignment := publicAssignment(statement(n))
	assignment.Salt = oracle.FieldValue(n.Salt[:])
	assignment.Secret = oracle.FieldValue(n.Secret[:])

	ta := test.NewAssert(t)
	ta.CheckCircuit(&UnshieldCircuit{},
		test.WithValidAssignment(assignment),
		test.WithCurves(Curve),
		test.WithBackends(backend.GROTH16))
}

func TestUnshieldProofRoundTrip(t *testing.T) {
	ccs, err := Compile()
	require.NoError(t, err)

	dir := t.TempDir()
	pkPath := filepath.Join(dir, "unshield_proving.key")
	vkPath := filepath.Join(dir, "unshield_verifying.key")
	pk, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	_, err = os.Stat(vkPath)
	require.NoError(t, err)

	// A second call reuses the keys on disk.
	_, vk2, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)

	n := testNote()
	proof, err := Prove(ccs, pk, n)
	require.NoError(t, err)

	for name, v := range map[string]groth16.VerifyingKey{"fresh": vk, "loaded": vk2} {
		t.Run(name, func(t *testing.T) {
			ok, err := NewVerifier(v).VerifyUnshield(context.Background(), statement(n), proof)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	v := NewVerifier(vk)
	ctx := context.Background()

	tampered := statement(n)
	tampered.Recipient = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	_, err = v.VerifyUnshield(ctx, tampered, proof)
	require.Error(t, err)

	tampered = statement(n)
	tampered.Amount = uint256.NewInt(101)
	_, err = v.VerifyUnshield(ctx, tampered, proof)
	require.Error(t, err)

	_, err = v.VerifyUnshield(ctx, statement(n), nil)
	require.ErrorIs(t, err, ErrEmptyProof)

	_, err = v.VerifyUnshield(ctx, statement(n), []byte{1, 2, 3})
	require.Error(t, err)

	// A nullifier shifted by the modulus would satisfy the circuit; it must be refused.
	aliased := statement(n)
	sum := new(uint256.Int).Add(new(uint256.Int).SetBytes(aliased.Nullifier[:]), uint256.MustFromBig(fr.Modulus()))
	aliased.Nullifier = sum.Bytes32()
	_, err = v.VerifyUnshield(ctx, aliased, proof)
	require.ErrorIs(t, err, ErrNonCanonical)
}

func TestNoteDerivation(t *testing.T) {
	n := testNote()
	assert.Equal(t, n.Commitment(), testNote().Commitment())
	other := testNote()
	other.Secret = [32]byte{8}
	assert.Equal(t, n.Commitment(), other.Commitment())
	assert.NotEqual(t, n.Nullifier(), other.Nullifier())
}
