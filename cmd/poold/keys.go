// keys.go - Groth16 key management and note derivation
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/HamzaZF/shieldpool/internal/oracle"
	"github.com/HamzaZF/shieldpool/internal/transactions/withdraw"
)

func keyPaths(dir string) (pk, vk string) {
	return filepath.Join(dir, "unshield_proving.key"), filepath.Join(dir, "unshield_verifying.key")
}

func newKeysCmd() *cobra.Command {
	var keyDir string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Compile the Unshield circuit and create or load its Groth16 keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(keyDir, 0755); err != nil {
				return err
			}
			start := time.Now()
			ccs, err := withdraw.Compile()
			if err != nil {
				return fmt.Errorf("compile circuit: %w", err)
			}
			compiled := time.Since(start)

			pkPath, vkPath := keyPaths(keyDir)
			if _, _, err := withdraw.SetupOrLoadKeys(ccs, pkPath, vkPath); err != nil {
				return fmt.Errorf("setup keys: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "constraints:   %d (compiled in %s)\n", ccs.GetNbConstraints(), compiled.Round(time.Millisecond))
			fmt.Fprintf(out, "proving key:   %s\n", pkPath)
			fmt.Fprintf(out, "verifying key: %s\n", vkPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyDir, "key-dir", "keys", "directory holding the key pair")
	return cmd
}

// noteFlags are the inputs of a note, as hex and decimal strings.
type noteFlags struct {
	recipient string
	token     string
	amount    string
	salt      string
	secret    string
}

func (f *noteFlags) note() (withdraw.Note, error) {
	var n withdraw.Note
	if !common.IsHexAddress(f.recipient) || !common.IsHexAddress(f.token) {
		return n, fmt.Errorf("--recipient and --token must be addresses")
	}
	amount, err := uint256.FromDecimal(f.amount)
	if err != nil {
		return n, fmt.Errorf("--amount: %w", err)
	}
	n.Recipient = common.HexToAddress(f.recipient)
	n.Token = common.HexToAddress(f.token)
	n.Amount = amount
	if n.Salt, err = bytes32OrRandom(f.salt); err != nil {
		return n, fmt.Errorf("--salt: %w", err)
	}
	if n.Secret, err = bytes32OrRandom(f.secret); err != nil {
		return n, fmt.Errorf("--secret: %w", err)
	}
	return n, nil
}

func bytes32OrRandom(s string) ([32]byte, error) {
	if s == "" {
		return oracle.RandomSalt()
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return [32]byte{}, err
	}
	if len(b) != 32 {
		return [32]byte{}, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	return [32]byte(b), nil
}

func newDeriveCmd() *cobra.Command {
	var (
		nf     noteFlags
		prove  bool
		keyDir string
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Compute a note's commitment and nullifier, and optionally an Unshield proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := nf.note()
			if err != nil {
				return err
			}
			var proof []byte
			if prove {
				ccs, err := withdraw.Compile()
				if err != nil {
					return err
				}
				pkPath, vkPath := keyPaths(keyDir)
				pk, _, err := withdraw.SetupOrLoadKeys(ccs, pkPath, vkPath)
				if err != nil {
					return err
				}
				if proof, err = withdraw.Prove(ccs, pk, n); err != nil {
					return err
				}
			}
			printNote(cmd.OutOrStdout(), n, proof)
			return nil
		},
	}
	cmd.Flags().StringVar(&nf.recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&nf.token, "token", "", "token address")
	cmd.Flags().StringVar(&nf.amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&nf.salt, "salt", "", "32-byte hex salt, random when empty")
	cmd.Flags().StringVar(&nf.secret, "secret", "", "32-byte hex nullifier secret, random when empty")
	cmd.Flags().BoolVar(&prove, "prove", false, "also produce a Groth16 Unshield proof")
	cmd.Flags().StringVar(&keyDir, "key-dir", "keys", "directory holding the key pair")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printNote(w io.Writer, n withdraw.Note, proof []byte) {
	fmt.Fprintf(w, "commitment: %s\n", n.Commitment().Hex())
	fmt.Fprintf(w, "nullifier:  %s\n", n.Nullifier().Hex())
	fmt.Fprintf(w, "salt:       %s\n", hexutil.Encode(n.Salt[:]))
	fmt.Fprintf(w, "secret:     %s\n", hexutil.Encode(n.Secret[:]))
	if proof != nil {
		fmt.Fprintf(w, "proof:      %s\n", hexutil.Encode(proof))
	}
}
