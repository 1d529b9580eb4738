package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// NewMetricsCommand renders files repeatedly and reports pipeline metrics.
func NewMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics files...",
		Short: "Render files repeatedly and report pipeline metrics",
		Long: `Render each file a number of times and report parse latency percentiles,
cache hit ratios per region, phase timings and any performance alerts.

Examples:
  gowikimark metrics --runs 50 docs/*.txt
  gowikimark metrics --no-cache --json Main.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: runMetrics,
	}
	cmd.Flags().Int("runs", 10, "Renders per file")
	cmd.Flags().Bool("no-cache", false, "Disable result caching")
	cmd.Flags().Bool("parallel-filters", false, "Run content filters concurrently")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runs, _ := cmd.Flags().GetInt("runs")
	if runs < 1 {
		return fmt.Errorf("--runs must be at least 1")
	}

	var flags engineFlags
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		flags.set("caching", false)
	}
	if parallel, _ := cmd.Flags().GetBool("parallel-filters"); parallel {
		flags.set("filters.parallelExecution", true)
	}

	inputs, err := collectInputs(cmd, args)
	if err != nil {
		return err
	}
	engine, err := newEngine(cmd, flags)
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	out := newOutput(cmd)
	out.Processing("Rendering %d files %d times each", len(inputs), runs)
	for i := 0; i < runs; i++ {
		for _, in := range inputs {
			if _, err := engine.Parse(ctx, in.content, gowikimark.ParseOptions{PageName: in.page}); err != nil {
				return err
			}
		}
	}

	m := engine.Metrics()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd, m)
	}
	printMetrics(cmd, m)
	for _, note := range engine.Notifications() {
		out.Warning("%s: %s", note.Title, note.Message)
	}
	return nil
}

func printMetrics(cmd *cobra.Command, m value.Metrics) {
	out := newOutput(cmd)
	round := func(d time.Duration) string { return d.Round(time.Microsecond).String() }

	out.Results("%d parses, %d errors, average %s", m.ParseCount, m.ErrorCount, round(m.AverageParseTime))
	out.Table([]string{"Latency", "Value"}, [][]string{
		{"p50", round(m.Latency.P50)},
		{"p95", round(m.Latency.P95)},
		{"p99", round(m.Latency.P99)},
		{"max", round(m.Latency.Max)},
	})
	out.Plain("\n")

	out.Results("cache hit ratio %.1f%% (%d hits, %d misses)", m.CacheHitRatio*100, m.CacheHits, m.CacheMisses)
	regions := make([][]string, 0, len(m.Regions))
	for _, region := range value.AllCacheRegions() {
		s, ok := m.Regions[region]
		if !ok {
			continue
		}
		regions = append(regions, []string{
			string(region),
			enabledLabel(s.Enabled),
			strconv.FormatInt(s.Hits, 10),
			strconv.FormatInt(s.Misses, 10),
			fmt.Sprintf("%.1f%%", s.HitRatio*100),
		})
	}
	out.Table([]string{"Region", "State", "Hits", "Misses", "Ratio"}, regions)
	out.Plain("\n")

	phases := make([][]string, 0, len(m.PhaseTimings))
	for _, name := range utils.SortedKeys(m.PhaseTimings) {
		phases = append(phases, []string{name, round(m.PhaseTimings[name])})
	}
	out.Table([]string{"Phase", "Total"}, phases)

	for _, alert := range m.RecentAlerts {
		out.Warning("%s: %s", alert.Type, alert.Message)
	}
}
