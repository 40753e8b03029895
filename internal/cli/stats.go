package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-runner pool, selection, and quota metrics as a table",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	out := cmd.OutOrStdout()

	poolStats := a.pool.Stats()
	fmt.Fprintf(out, "warm pool: %d/%d entries (%.0f%% utilized)\n\n", poolStats.Size, poolStats.MaxSize, poolStats.Utilization*100)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Runner", "Healthy", "P50 (ms)", "P95 (ms)", "P99 (ms)", "Load", "Failures"})

	runners := a.metrics.Runners()
	for _, name := range runners {
		snap := a.metrics.Snapshot(name)

		healthLabel := color.New(color.FgGreen).Sprint("closed")
		if !snap.Healthy {
			healthLabel = color.New(color.FgRed).Sprint("open")
		}

		tbl.AppendRow(table.Row{
			name, healthLabel,
			fmt.Sprintf("%.1f", snap.P50Ms), fmt.Sprintf("%.1f", snap.P95Ms), fmt.Sprintf("%.1f", snap.P99Ms),
			fmt.Sprintf("%.2f", snap.Load), snap.Failures,
		})
	}
	tbl.AppendFooter(table.Row{"Total", fmt.Sprintf("%d runners", len(runners))})
	tbl.Render()

	a.health.RunOnce(ctx)

	fmt.Fprintln(out)
	for _, status := range a.health.Statuses() {
		label := color.New(color.FgGreen).Sprint("ok")
		detail := ""
		if !status.Healthy {
			label = color.New(color.FgRed).Sprint("fail")
			detail = ": " + status.Error
		}
		fmt.Fprintf(out, "check %-20s %s%s\n", status.Name, label, detail)
	}

	return nil
}
