// main.go - poold: shielded pool daemon and command-line client.
//
// Usage:
//
//	poold serve --config poold.yaml        run the daemon
//	poold keys --key-dir keys              Groth16 setup for the Unshield circuit
//	poold derive --recipient ... --prove   compute a note's commitment, nullifier and proof
//	poold account                          new signing key for --key
//	poold status                           custody table of a running daemon
//	poold shield|unshield|mix|process ...  pool operations against a running daemon
//	poold admin pause|blacklist|...        owner operations
//	poold snapshot export|import           offline backup of a data directory
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HamzaZF/shieldpool/internal/auth"
	"github.com/HamzaZF/shieldpool/internal/client"
)

var version = "dev"

// keyEnv is read when --key is not given.
const keyEnv = "POOLD_KEY"

// clientFlags are shared by every command that talks to a running daemon.
type clientFlags struct {
	server string
	key    string
}

// client signs with --key. Without a key only queries succeed.
func (f *clientFlags) client() (*client.Client, error) {
	key := f.key
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if key == "" {
		return client.New(f.server, nil), nil
	}
	signer, err := auth.SignerFromHex(key)
	if err != nil {
		return nil, fmt.Errorf("--key: %w", err)
	}
	return client.New(f.server, signer), nil
}

func newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Generate a signing key for --key and print its address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := auth.GenerateSigner()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey:     %s\n", s.Address().Hex(), s.KeyHex())
			return nil
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "poold",
		Short:         "Shielded pool ledger daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	cf := &clientFlags{}
	root.PersistentFlags().StringVar(&cf.server, "server", "http://127.0.0.1:8080", "daemon base URL")
	root.PersistentFlags().StringVar(&cf.key, "key", "", "hex private key signing every request (default $"+keyEnv+")")

	root.AddCommand(
		newServeCmd(),
		newKeysCmd(),
		newDeriveCmd(),
		newAccountCmd(),
		newStatusCmd(cf),
		newShieldCmd(cf),
		newUnshieldCmd(cf),
		newMixCmd(cf),
		newProcessCmd(cf),
		newEventsCmd(cf),
		newAdminCmd(cf),
		newSnapshotCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
