package main

import (
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/config"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/spf13/cobra"
)

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "accounts",
		Short:   "List the customer's accounts",
		Example: "seeder accounts --customer-id 5f1a...",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, log, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.CustomerID == "" {
				return fmt.Errorf("%w: accounts needs --customer-id", config.ErrInvalid)
			}

			nessie := cfg.Nessie()
			accounts, err := upstream.NewNessieClient(nessie).ListAccounts(ctx, cfg.CustomerID)
			if err != nil {
				return err
			}

			if len(accounts) == 0 {
				log.Warn().Str("customer_id", cfg.CustomerID).Msg("Customer has no accounts")
				return nil
			}

			for i, a := range accounts {
				log.Info().
					Int("index", i).
					Str("account_id", a.ID).
					Str("type", a.Type).
					Str("nickname", a.Nickname).
					Float64("balance", a.Balance).
					Msg("Account")
			}

			fmt.Printf("%d account(s); the seeder targets %s.\n", len(accounts), accounts[0].ID)
			return nil
		},
	}
}
