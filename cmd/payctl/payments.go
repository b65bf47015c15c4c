package main

import (
	"fmt"
	"text/tabwriter"

	"balance-topup-bot/internal/model"

	"github.com/spf13/cobra"
)

func newPaymentsCmd(open opener) *cobra.Command {
	var (
		userID int64
		status string
	)
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List payments of a user, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want model.Status
			if status != "" {
				var err error
				if want, err = model.ParseStatus(status); err != nil {
					return err
				}
			}
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			pays, err := a.Store.GetPaymentsByUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tPROVIDER\tTX\tAMOUNT\tCURRENCY\tSTATUS")
			for _, p := range pays {
				if want != "" && p.Status != want {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.CreatedAt.Format("2006-01-02 15:04:05"), p.Provider, p.TxID, p.Amount, p.Currency, p.Status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Telegram user id")
	cmd.Flags().StringVar(&status, "status", "", "only payments in this status (pending, paid, expired, failed)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
