package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/infercore/infercore/internal/metricsstore"
)

var reportOutPath string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render an HTML latency chart from the metrics store's sampled history",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportOutPath, "out", "infercore-report.html", "output HTML file path")
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	page := components.NewPage()
	page.PageTitle = "infercore latency report"

	runners := a.metrics.Runners()
	if len(runners) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no runner history sampled yet")
	}

	for _, name := range runners {
		page.AddCharts(buildLatencyChart(name, a.metrics.History(name)))
	}

	f, err := os.Create(reportOutPath)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", reportOutPath)
	return nil
}

func buildLatencyChart(runnerName string, history []metricsstore.HistoryPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: runnerName + " latency (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)

	labels := make([]string, len(history))
	p50 := make([]opts.LineData, len(history))
	p95 := make([]opts.LineData, len(history))
	p99 := make([]opts.LineData, len(history))
	for i, h := range history {
		labels[i] = h.At.Format("15:04:05")
		p50[i] = opts.LineData{Value: h.P50Ms}
		p95[i] = opts.LineData{Value: h.P95Ms}
		p99[i] = opts.LineData{Value: h.P99Ms}
	}

	line.SetXAxis(labels).
		AddSeries("p50", p50).
		AddSeries("p95", p95).
		AddSeries("p99", p99).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	return line
}
