package withdraw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/HamzaZF/shieldpool/internal/oracle"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

// Curve is the pairing curve of the withdraw proofs. Its scalar field holds 32-byte ids.
const Curve = ecc.BN254

// ErrEmptyProof is returned when an Unshield call carries no proof bytes.
var ErrEmptyProof = errors.New("empty proof")

// ErrNonCanonical is returned when a public input does not fit the scalar field.
var ErrNonCanonical = errors.New("public input outside the scalar field")

// Note is everything the holder of a commitment knows about it.
type Note struct {
	Recipient common.Address
	Token     common.Address
	Amount    *uint256.Int
	Salt      [32]byte
	Secret    [32]byte
}

// Commitment returns the note's commitment id.
func (n Note) Commitment() common.Hash {
	return oracle.Commitment(n.Recipient, n.Token, n.Amount, n.Salt)
}

// Nullifier returns the note's spend tag.
func (n Note) Nullifier() common.Hash {
	return oracle.Nullifier(n.Commitment(), n.Secret)
}

// Compile builds the constraint system of UnshieldCircuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit UnshieldCircuit
	return frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &circuit)
}

func canonical(b []byte) bool {
	return new(big.Int).SetBytes(b).Cmp(fr.Modulus()) < 0
}

func publicAssignment(st pool.UnshieldStatement) *UnshieldCircuit {
	amount := st.Amount.Bytes32()
	return &UnshieldCircuit{
		Nullifier: new(big.Int).SetBytes(st.Nullifier[:]),
		Recipient: oracle.FieldValue(st.Recipient[:]),
		Token:     oracle.FieldValue(st.Token[:]),
		Amount:    oracle.FieldValue(amount[:]),
	}
}

// Prove produces a serialized Groth16 proof that n backs a withdrawal of n.Amount of n.Token to
// n.Recipient under n.Nullifier().
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, n Note) ([]byte, error) {
	assignment := publicAssignment(pool.UnshieldStatement{
		Token:     n.Token,
		Recipient: n.Recipient,
		Amount:    n.Amount,
		Nullifier: n.Nullifier(),
	})
	assignment.Salt = oracle.FieldValue(n.Salt[:])
	assignment.Secret = oracle.FieldValue(n.Secret[:])

	w, err := frontend.NewWitness(assignment, Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verifier checks Unshield proofs against a Groth16 verifying key. It implements
// pool.ProofVerifier.
type Verifier struct {
	vk groth16.VerifyingKey
}

// NewVerifier returns a verifier for vk.
func NewVerifier(vk groth16.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// VerifyUnshield implements pool.ProofVerifier.
func (v *Verifier) VerifyUnshield(_ context.Context, st pool.UnshieldStatement, proofBytes []byte) (bool, error) {
	if len(proofBytes) == 0 {
		return false, ErrEmptyProof
	}
	// Values at or above the field modulus would alias smaller ones inside the circuit.
	amount := st.Amount.Bytes32()
	if !canonical(st.Nullifier[:]) || !canonical(amount[:]) {
		return false, ErrNonCanonical
	}

	proof := groth16.NewProof(Curve)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("cannot unmarshal proof: %w", err)
	}

	w, err := frontend.NewWitness(publicAssignment(st), Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("cannot build public witness: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, w); err != nil {
		return false, fmt.Errorf("verification failed: %w", err)
	}
	return true, nil
}
