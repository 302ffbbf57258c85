package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg, true)

	a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.seeder().Run(cmd.Context())
	if !report.Created && err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "collection %s already exists, nothing to seed\n", cfg.Knowledge.Collection)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d documents into %s (%d failed)\n", report.Seeded, cfg.Knowledge.Collection, report.Failed)
	return err
}
