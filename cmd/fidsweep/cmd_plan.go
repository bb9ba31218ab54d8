package main

import (
	"fmt"
	"strconv"
	"strings"

	"fidsweep/cmd/fidsweep/ui"
	"fidsweep/internal/sweep"

	"github.com/spf13/cobra"
)

// showPlan prints the invocation plan without running anything.
func showPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	prefix := cfg.Sweep.Program
	if cfg.Sweep.Interpreter != "" {
		prefix = cfg.Sweep.Interpreter + " " + prefix
	}

	plan := sweep.Plan(sweepParams(cfg))
	table := ui.NewSimpleTable(fmt.Sprintf("Sweep plan (%d invocations)", len(plan)),
		[]string{"#", "Stage", "Face", "Label", "Command"})
	for _, inv := range plan {
		table.AddRow(
			strconv.Itoa(inv.Seq),
			string(inv.Stage),
			strconv.Itoa(inv.Face),
			inv.Label(),
			prefix+" "+strings.Join(inv.Args, " "),
		)
	}

	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()
	fmt.Fprint(out, table.View(styles))
	if cfg.Sweep.BaseDir != "" {
		fmt.Fprintln(out, styles.Muted.Render("Returns to "+cfg.Sweep.BaseDir+" after each invocation"))
	} else {
		fmt.Fprintln(out, styles.Warning.Render("No base directory configured; set sweep.base_dir or --base-dir before running"))
	}
	return nil
}
