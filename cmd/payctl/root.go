package main

import (
	"balance-topup-bot/config"
	"balance-topup-bot/internal/app"
	"balance-topup-bot/internal/logger"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Operator tools for balance top-ups",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	open := func() (*app.App, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		zl, err := logger.New(logLevel)
		if err != nil {
			return nil, err
		}
		return app.New(cfg, zl, nil)
	}

	root.AddCommand(newReplayCmd(open), newPaymentsCmd(open), newBalanceCmd(open))
	return root
}

type opener func() (*app.App, error)
