package cmd

import (
	"context"
	"fmt"

	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Fund your paper account",
	Long: `Credits the signing identity's account on a server running paper custody.
Deposits are only ever made into your own account.`,
	Args: cobra.NoArgs,
	RunE: runDeposit,
}

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Show an account balance",
	Long: `Shows the balance of the given account, or of your own identity when no
account is given. Market escrows can be queried by their escrow reference.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(depositCmd, balanceCmd)

	depositCmd.Flags().Uint64P("amount", "a", 0, "Amount to deposit")
	_ = depositCmd.MarkFlagRequired("amount")
}

func runDeposit(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if c.Identity() == "" {
		return fmt.Errorf("deposit requires --key or --identity")
	}

	amount, _ := cmd.Flags().GetUint64("amount")
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	resp, err := c.Deposit(ctx, amount)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deposited %d into %s, balance now %d\n", amount, resp.Account, resp.Balance)
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	account := c.Identity()
	if len(args) == 1 {
		account = types.NormalizeIdentity(args[0])
	}
	if account == "" {
		return fmt.Errorf("no account given and no --key or --identity configured")
	}

	resp, err := c.Balance(ctx, account)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", resp.Account, resp.Balance)
	return nil
}
