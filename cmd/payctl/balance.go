package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newBalanceCmd(open opener) *cobra.Command {
	var (
		userID int64
		delta  string
		ref    string
	)
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's balance or adjust it through the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var d decimal.Decimal
			if delta != "" {
				var err error
				if d, err = decimal.NewFromString(delta); err != nil {
					return fmt.Errorf("invalid --delta: %w", err)
				}
			}
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			var bal decimal.Decimal
			if delta == "" {
				bal, err = a.Ledger.Balance(cmd.Context(), userID)
			} else {
				bal, err = a.Ledger.ApplyDelta(cmd.Context(), userID, d, ref)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d balance: %s RUB\n", userID, bal.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Telegram user id")
	cmd.Flags().StringVar(&delta, "delta", "", "signed amount in RUB to apply")
	cmd.Flags().StringVar(&ref, "ref", "", "optional idempotency reference for the adjustment")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
