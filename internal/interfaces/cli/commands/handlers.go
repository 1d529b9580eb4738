package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// NewHandlersCommand lists the syntax handlers.
func NewHandlersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handlers [files...]",
		Short: "List syntax handlers in execution order",
		Long: `List the registered syntax handlers in the order they run. When files are
given they are rendered first so the statistics columns are populated.

Examples:
  gowikimark handlers
  gowikimark handlers --disable WikiStyleHandler Main.txt
  gowikimark handlers --json`,
		Args: cobra.ArbitraryArgs,
		RunE: runHandlers,
	}
	cmd.Flags().StringSlice("disable", nil, "Disable these handlers before rendering")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

// NewFiltersCommand lists the content filters.
func NewFiltersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters [files...]",
		Short: "List content filters in execution order",
		Args:  cobra.ArbitraryArgs,
		RunE:  runFilters,
	}
	cmd.Flags().StringSlice("disable", nil, "Disable these filters before rendering")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runHandlers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(cmd, engineFlags{})
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	disable, _ := cmd.Flags().GetStringSlice("disable")
	for _, id := range disable {
		if err := engine.DisableHandler(ctx, id); err != nil {
			return err
		}
	}
	if err := renderAll(cmd, engine, args); err != nil {
		return err
	}

	stats := engine.Metrics().Handlers
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd, stats)
	}

	out := newOutput(cmd)
	rows := lo.Map(stats, func(h value.HandlerStats, _ int) []string {
		return []string{
			h.ID,
			string(h.Kind),
			strconv.Itoa(h.Priority),
			enabledLabel(h.Enabled),
			strings.Join(h.Dependencies, ","),
			strconv.FormatInt(h.Executions, 10),
			h.AverageTime().Round(time.Microsecond).String(),
			strconv.FormatInt(h.ErrorCount, 10),
		}
	})
	out.Table([]string{"ID", "Kind", "Priority", "State", "Depends", "Runs", "Avg", "Errors"}, rows)
	return nil
}

func runFilters(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(cmd, engineFlags{})
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	disable, _ := cmd.Flags().GetStringSlice("disable")
	for _, id := range disable {
		if err := engine.DisableFilter(ctx, id); err != nil {
			return err
		}
	}
	if err := renderAll(cmd, engine, args); err != nil {
		return err
	}

	chain := engine.Metrics().FilterChain
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd, chain)
	}

	out := newOutput(cmd)
	rows := lo.Map(chain.Filters, func(f value.FilterStats, _ int) []string {
		return []string{
			f.ID,
			strconv.Itoa(f.Priority),
			enabledLabel(f.Enabled),
			strconv.FormatInt(f.Executions, 10),
			f.AverageTime().Round(time.Microsecond).String(),
			strconv.FormatInt(f.ErrorCount, 10),
		}
	})
	out.Table([]string{"ID", "Priority", "State", "Runs", "Avg", "Errors"}, rows)
	for _, alert := range chain.RecentAlerts {
		out.Warning("%s: %s", alert.Type, alert.Message)
	}
	return nil
}

// renderAll renders every file once, discarding the HTML.
func renderAll(cmd *cobra.Command, engine *gowikimark.Engine, files []string) error {
	if len(files) == 0 {
		return nil
	}
	inputs, err := collectInputs(cmd, files)
	if err != nil {
		return err
	}
	opts := parseOptionsFromFlags(cmd)
	for _, in := range inputs {
		pageOpts := opts
		pageOpts.PageName = in.page
		if _, err := engine.Parse(cmd.Context(), in.content, pageOpts); err != nil {
			return err
		}
	}
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
