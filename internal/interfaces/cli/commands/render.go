package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [files...]",
		Short: "Render wiki markup to HTML",
		Long: `Render one or more wiki markup files to HTML. With no files, or with "-",
markup is read from stdin.

Examples:
  gowikimark render Main.txt
  gowikimark render --pages-dir wiki --page Main --user alice --roles Admin -
  gowikimark render --format json -o main.json Main.txt
  gowikimark render --var project=Apollo --no-cache docs/*.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runRender,
	}

	cmd.Flags().String("page", "", "Page name (default: file name without extension)")
	cmd.Flags().String("user", "", "Render as this user")
	cmd.Flags().StringSlice("roles", nil, "Roles of the user")
	cmd.Flags().Bool("authenticated", false, "Treat the user as authenticated (implied by --user)")
	cmd.Flags().StringToString("var", nil, "Page variables as key=value")
	cmd.Flags().StringP("output", "o", "", "Write the result to this file")
	cmd.Flags().String("format", "html", "Output format (html, json)")
	cmd.Flags().Bool("no-cache", false, "Disable result caching")
	cmd.Flags().Bool("parallel-filters", false, "Run content filters concurrently")
	cmd.Flags().Bool("degraded", false, "Skip the syntax pipeline and render plain Markdown")
	cmd.Flags().Bool("phases", false, "Report phase timings")

	return cmd
}

type renderInput struct {
	page    string
	content string
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutput(cmd)

	format, _ := cmd.Flags().GetString("format")
	if format != "html" && format != "json" {
		return fmt.Errorf("unsupported format %q", format)
	}
	outputFile, _ := cmd.Flags().GetString("output")
	showPhases, _ := cmd.Flags().GetBool("phases")

	var flags engineFlags
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		flags.set("caching", false)
	}
	if parallel, _ := cmd.Flags().GetBool("parallel-filters"); parallel {
		flags.set("filters.parallelExecution", true)
	}
	if degraded, _ := cmd.Flags().GetBool("degraded"); degraded {
		flags.set("enabled", false)
	}

	inputs, err := collectInputs(cmd, args)
	if err != nil {
		return err
	}
	if outputFile != "" && len(inputs) > 1 {
		return fmt.Errorf("--output needs exactly one input, got %d", len(inputs))
	}

	engine, err := newEngine(cmd, flags)
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	opts := parseOptionsFromFlags(cmd)
	var buf bytes.Buffer
	for _, in := range inputs {
		pageOpts := opts
		if pageOpts.PageName == "" {
			pageOpts.PageName = in.page
		}
		res, err := engine.Parse(ctx, in.content, pageOpts)
		if err != nil {
			return err
		}
		if err := writeResult(&buf, format, pageOpts.PageName, res); err != nil {
			return err
		}
		if showPhases {
			reportPhases(cmd, pageOpts.PageName, res)
		}
	}

	if outputFile == "" {
		_, err = io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	if err := atomic.WriteFile(outputFile, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputFile, err)
	}
	out.FileSaved("Wrote %s", outputFile)
	return nil
}

func parseOptionsFromFlags(cmd *cobra.Command) gowikimark.ParseOptions {
	page, _ := cmd.Flags().GetString("page")
	user, _ := cmd.Flags().GetString("user")
	roles, _ := cmd.Flags().GetStringSlice("roles")
	authenticated, _ := cmd.Flags().GetBool("authenticated")
	vars, _ := cmd.Flags().GetStringToString("var")
	return gowikimark.ParseOptions{
		PageName:      page,
		UserName:      user,
		Roles:         roles,
		Authenticated: authenticated || user != "",
		Variables:     vars,
	}
}

func collectInputs(cmd *cobra.Command, args []string) ([]renderInput, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	inputs := make([]renderInput, 0, len(args))
	for _, arg := range args {
		if arg == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return nil, fmt.Errorf("failed to read from stdin: %w", err)
			}
			inputs = append(inputs, renderInput{page: "Main", content: string(data)})
			continue
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		base := filepath.Base(arg)
		inputs = append(inputs, renderInput{
			page:    strings.TrimSuffix(base, filepath.Ext(base)),
			content: string(data),
		})
	}
	return inputs, nil
}

type jsonResult struct {
	Page string `json:"page"`
	*gowikimark.Result
}

func writeResult(w io.Writer, format, page string, res *gowikimark.Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonResult{Page: page, Result: res})
	}
	_, err := fmt.Fprintln(w, res.HTML)
	return err
}

func reportPhases(cmd *cobra.Command, page string, res *gowikimark.Result) {
	out := newOutput(cmd).WithWriter(cmd.ErrOrStderr())
	rows := make([][]string, 0, len(res.Phases))
	for _, name := range utils.SortedKeys(res.Phases) {
		rows = append(rows, []string{name, res.Phases[name].Round(time.Microsecond).String()})
	}
	out.Info("%s rendered in %s (cache hit: %t)", page, res.Duration.Round(time.Microsecond), res.CacheHit)
	out.Table([]string{"Phase", "Duration"}, rows)
}
