package main

import (
	"fmt"

	"balance-topup-bot/internal/model"

	"github.com/spf13/cobra"
)

func newReplayCmd(open opener) *cobra.Command {
	var provider, txID string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-apply the credit for a payment already marked paid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := model.ParseProvider(provider)
			if err != nil {
				return err
			}
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.ReplayCredit(cmd.Context(), p, txID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Duplicate {
				fmt.Fprintf(out, "%s/%s: credit already applied\n", p, txID)
				return nil
			}
			fmt.Fprintf(out, "%s/%s: credited %s RUB to user %d at rate %s, balance %s\n",
				p, txID, res.Credited.StringFixed(2), res.Record.UserID, res.Rate, res.Balance.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "crypto or fiat")
	cmd.Flags().StringVar(&txID, "tx", "", "provider transaction id")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}
