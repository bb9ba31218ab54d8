package main

import (
	"context"
	"fmt"

	"fidsweep/cmd/fidsweep/ui"
	"fidsweep/internal/store"

	"github.com/spf13/cobra"
)

// showHistory lists recorded runs or the invocations of one run.
func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer ledger.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()

	if len(args) == 0 {
		runs, err := ledger.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, styles.Muted.Render("No sweeps recorded in "+ledger.Path()))
			return nil
		}
		fmt.Fprint(out, renderRuns(runs, styles))
		return nil
	}

	run, err := ledger.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	invs, err := ledger.Invocations(ctx, run.ID)
	if err != nil {
		return err
	}
	fmt.Fprint(out, renderRun(run, invs, styles))
	return nil
}
