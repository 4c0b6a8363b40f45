package withdraw

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// UnshieldCircuit proves knowledge of a commitment to exactly this withdrawal and of the secret
// behind its nullifier:
//
//	Nullifier == MiMC(MiMC(Recipient, Token, Amount, Salt), Secret)
//
// It does not prove that the commitment is in the pool; that membership check is left to the
// ledger.
type UnshieldCircuit struct {
	// Public
	Nullifier frontend.Variable `gnark:",public"`
	Recipient frontend.Variable `gnark:",public"`
	Token     frontend.Variable `gnark:",public"`
	Amount    frontend.Variable `gnark:",public"`

	// Private
	Salt   frontend.Variable
	Secret frontend.Variable
}

func (c *UnshieldCircuit) Define(api frontend.API) error {
	cm, err := hashVars(api, c.Recipient, c.Token, c.Amount, c.Salt)
	if err != nil {
		return err
	}
	nf, err := hashVars(api, cm, c.Secret)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.Nullifier, nf)
	return nil
}

// hashVars is the in-circuit counterpart of the oracle's MiMC over field elements.
func hashVars(api frontend.API, vs ...frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(vs...)
	return h.Sum(), nil
}
