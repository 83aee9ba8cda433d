package main

import (
	"fmt"
	"time"

	"github.com/dvloznov/finance-seeder/internal/merchants"
	"github.com/dvloznov/finance-seeder/internal/simulation"
	"github.com/spf13/cobra"
)

// newMerchantsCmd previews the pool a run with the same seed would mint.
// The account lookup draws nothing from the random source, so minting is the run's first use of it.
func newMerchantsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "merchants",
		Short:   "Preview the merchant pool for a seed",
		Example: "seeder merchants --seed 42 --dry-run",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, log, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}

			seed := cfg.Seed
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}

			reg := merchants.Mint(ctx, simulation.NewRand(seed), cfg.MerchantPoolSize, cfg.MerchantPrefix)

			log.Info().
				Uint64("seed", seed).
				Int("merchants", reg.Len()).
				Msg("Merchant pool")

			out := cmd.OutOrStdout()
			for _, m := range reg.Merchants() {
				fmt.Fprintf(out, "%s\t%s\n", m.ID, m.Category)
			}
			return nil
		},
	}
}
