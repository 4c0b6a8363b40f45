// commands.go - Client commands against a running daemon
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/HamzaZF/shieldpool/internal/api"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s %q is not an address", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(name, s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s %q is not 32 bytes of 0x-prefixed hex", name, s)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}

// parseWithdrawal reads recipient:amount:nullifier:commitment.
func parseWithdrawal(s string) (common.Address, *uint256.Int, common.Hash, common.Hash, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return common.Address{}, nil, common.Hash{}, common.Hash{}, fmt.Errorf("withdrawal %q: want recipient:amount:nullifier:commitment", s)
	}
	recipient, err := parseAddress("recipient", parts[0])
	if err != nil {
		return common.Address{}, nil, common.Hash{}, common.Hash{}, err
	}
	amount, err := parseAmount(parts[1])
	if err != nil {
		return common.Address{}, nil, common.Hash{}, common.Hash{}, err
	}
	nullifier, err := parseHash("nullifier", parts[2])
	if err != nil {
		return common.Address{}, nil, common.Hash{}, common.Hash{}, err
	}
	commitment, err := parseHash("commitment", parts[3])
	if err != nil {
		return common.Address{}, nil, common.Hash{}, common.Hash{}, err
	}
	return recipient, amount, nullifier, commitment, nil
}

// parsePayout reads recipient:nullifier.
func parsePayout(s string) (pool.Payout, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return pool.Payout{}, fmt.Errorf("payout %q: want recipient:nullifier", s)
	}
	recipient, err := parseAddress("recipient", parts[0])
	if err != nil {
		return pool.Payout{}, err
	}
	nullifier, err := parseHash("nullifier", parts[1])
	if err != nil {
		return pool.Payout{}, err
	}
	return pool.Payout{Recipient: recipient, Nullifier: nullifier}, nil
}

func newShieldCmd(cf *clientFlags) *cobra.Command {
	var token, amount, commitment, salt string
	cmd := &cobra.Command{
		Use:   "shield",
		Short: "Deposit tokens under a commitment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			tok, err := parseAddress("--token", token)
			if err != nil {
				return err
			}
			v, err := parseAmount(amount)
			if err != nil {
				return err
			}
			cm, err := parseHash("--commitment", commitment)
			if err != nil {
				return err
			}
			var s common.Hash
			if salt != "" {
				if s, err = parseHash("--salt", salt); err != nil {
					return err
				}
			}
			if err := c.Shield(cmd.Context(), tok, v, cm, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shielded %s under %s\n", v.Dec(), cm.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&commitment, "commitment", "", "commitment id (see poold derive)")
	cmd.Flags().StringVar(&salt, "salt", "", "salt used for the commitment")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("commitment")
	return cmd
}

func newUnshieldCmd(cf *clientFlags) *cobra.Command {
	var token, recipient, amount, nullifier, proof string
	cmd := &cobra.Command{
		Use:   "unshield",
		Short: "Withdraw released liquidity with a nullifier and proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			tok, err := parseAddress("--token", token)
			if err != nil {
				return err
			}
			to, err := parseAddress("--recipient", recipient)
			if err != nil {
				return err
			}
			v, err := parseAmount(amount)
			if err != nil {
				return err
			}
			nf, err := parseHash("--nullifier", nullifier)
			if err != nil {
				return err
			}
			var pf []byte
			if proof != "" {
				if pf, err = hexutil.Decode(proof); err != nil {
					return fmt.Errorf("--proof: %w", err)
				}
			}
			if err := c.Unshield(cmd.Context(), tok, to, v, nf, pf); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unshielded %s to %s\n", v.Dec(), to.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token address")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&nullifier, "nullifier", "", "nullifier (see poold derive)")
	cmd.Flags().StringVar(&proof, "proof", "", "hex Groth16 proof (see poold derive --prove)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("nullifier")
	return cmd
}

func newMixCmd(cf *clientFlags) *cobra.Command {
	var withdrawals []string
	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Withdraw matured commitments to recipients in one atomic call",
		Example: "  poold mix --key $BOB_KEY \\\n" +
			"    --withdrawal 0x..b0:100:0x..e1:0x..c1 \\\n" +
			"    --withdrawal 0x..c0:40:0x..e2:0x..c2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			var (
				recipients  []common.Address
				amounts     []*uint256.Int
				nullifiers  []common.Hash
				commitments []common.Hash
			)
			for _, w := range withdrawals {
				r, a, n, cm, err := parseWithdrawal(w)
				if err != nil {
					return err
				}
				recipients = append(recipients, r)
				amounts = append(amounts, a)
				nullifiers = append(nullifiers, n)
				commitments = append(commitments, cm)
			}
			if err := c.MixAndWithdraw(cmd.Context(), recipients, amounts, nullifiers, commitments); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "withdrew %d commitments\n", len(withdrawals))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&withdrawals, "withdrawal", nil, "recipient:amount:nullifier:commitment, repeatable")
	_ = cmd.MarkFlagRequired("withdrawal")
	return cmd
}

func newProcessCmd(cf *clientFlags) *cobra.Command {
	var payouts []string
	cmd := &cobra.Command{
		Use:   "process <batch-id>",
		Short: "Settle a matured batch; without --payout its funds become released liquidity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("batch id: %w", err)
			}
			var ps []pool.Payout
			for _, s := range payouts {
				p, err := parsePayout(s)
				if err != nil {
					return err
				}
				ps = append(ps, p)
			}
			if err := c.ProcessBatch(cmd.Context(), pool.BatchID(id), ps); err != nil {
				return err
			}
			b, err := c.Batch(cmd.Context(), pool.BatchID(id))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %d %s (%d members)\n", b.ID, b.State, len(b.Members))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&payouts, "payout", nil, "recipient:nullifier for each pending member, in order")
	return cmd
}

func newEventsCmd(cf *clientFlags) *cobra.Command {
	var (
		after uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print committed events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			evs, err := c.Events(cmd.Context(), after, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "only events with a higher sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events, 0 for all")
	return cmd
}

func newStatusCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show owner, parameters and per-token custody",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), st)
		},
	}
}

func renderStatus(w io.Writer, st api.StatusResponse) error {
	fmt.Fprintf(w, "owner:         %s\n", st.Owner.Hex())
	fmt.Fprintf(w, "paused:        %t\n", st.Paused)
	fmt.Fprintf(w, "mixing period: %s\n", st.Params.MixingPeriod)
	fmt.Fprintf(w, "mix size:      %d\n\n", st.Params.MixSize)

	table := tablewriter.NewWriter(w)
	table.Header("Token", "Held", "Backed", "Released", "Solvent")
	for _, s := range st.Solvency {
		if err := table.Append([]string{s.Token.Hex(), s.Held, s.Backed, s.Released, strconv.FormatBool(s.Solvent)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func newAdminCmd(cf *clientFlags) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Owner operations",
	}

	simple := func(use, short string, run func(cmd *cobra.Command) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return run(cmd) },
		}
	}
	withAddress := func(use, short string, run func(cmd *cobra.Command, a common.Address) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <address>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := parseAddress("address", args[0])
				if err != nil {
					return err
				}
				return run(cmd, a)
			},
		}
	}

	admin.AddCommand(
		simple("pause", "Stop shield and withdrawal operations", func(cmd *cobra.Command) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.Pause(cmd.Context())
		}),
		simple("unpause", "Resume operations", func(cmd *cobra.Command) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.Unpause(cmd.Context())
		}),
		withAddress("blacklist", "Block an address", func(cmd *cobra.Command, a common.Address) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.Blacklist(cmd.Context(), a)
		}),
		withAddress("unblacklist", "Unblock an address", func(cmd *cobra.Command, a common.Address) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.Unblacklist(cmd.Context(), a)
		}),
		withAddress("add-token", "Allow a token", func(cmd *cobra.Command, a common.Address) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.AddToken(cmd.Context(), a)
		}),
		withAddress("transfer-ownership", "Hand the owner role to another address", func(cmd *cobra.Command, a common.Address) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			return c.TransferOwnership(cmd.Context(), a)
		}),
		newParamsCmd(cf),
	)
	return admin
}

func newParamsCmd(cf *clientFlags) *cobra.Command {
	var (
		period time.Duration
		size   uint32
	)
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Set the mixing period and batch size for batches opened from now on",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			p, err := c.UpdateMixingParameters(cmd.Context(), period, size)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mixing period %s, mix size %d\n", p.MixingPeriod, p.MixSize)
			return nil
		},
	}
	cmd.Flags().DurationVar(&period, "period", time.Hour, "mixing period")
	cmd.Flags().Uint32Var(&size, "size", 10, "mix size")
	return cmd
}
