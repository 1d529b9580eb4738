package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/interfaces/cli/output"
	"github.com/gowikimark/gowikimark/internal/shared/logging"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// AppName names the config file and the XDG directories.
const AppName = "gowikimark"

// NewRootCommand assembles the CLI.
func NewRootCommand(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Render JSPWiki-style wiki markup to HTML",
		Long: `gowikimark renders wiki markup with plugins, variables, wiki tags,
inter-wiki links, attachments and style blocks into sanitized HTML.`,
		Version:       fmt.Sprintf("%s (commit: %s, date: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().Bool("no-config", false, "Ignore configuration files")
	cmd.PersistentFlags().String("pages-dir", "", "Directory holding wiki pages and attachments")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().String("theme", "default", "Output theme (default, ascii, minimal)")

	cmd.AddCommand(
		NewRenderCommand(),
		NewHandlersCommand(),
		NewFiltersCommand(),
		NewMetricsCommand(),
		NewConfigCommand(),
		NewTUICommand(),
		NewVersionCommand(version, commit, date),
	)
	return cmd
}

// engineFlags are command-level overrides layered over the config file.
type engineFlags struct {
	overrides map[string]any
}

func (f *engineFlags) set(path string, v any) {
	if f.overrides == nil {
		f.overrides = make(map[string]any)
	}
	f.overrides = utils.DeepMergeConfig(f.overrides, nestPath(path, v))
}

func nestPath(path string, v any) map[string]any {
	parts := strings.Split(path, ".")
	out := map[string]any{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		out = map[string]any{parts[i]: out}
	}
	return out
}

// resolveConfigFile returns the --config path, or the first file on the XDG
// search path unless --no-config is set.
func resolveConfigFile(cmd *cobra.Command) string {
	if noConfig, _ := cmd.Flags().GetBool("no-config"); noConfig {
		return ""
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	if path, ok := utils.FindConfigFile(AppName); ok {
		return path
	}
	return ""
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := logging.New(debug)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newEngine(cmd *cobra.Command, flags engineFlags) (*gowikimark.Engine, error) {
	opts := []gowikimark.Option{gowikimark.WithLogger(newLogger(cmd))}
	if path := resolveConfigFile(cmd); path != "" {
		opts = append(opts, gowikimark.WithConfigFile(path))
	}
	if flags.overrides != nil {
		opts = append(opts, gowikimark.WithConfig(flags.overrides))
	}
	if dir, _ := cmd.Flags().GetString("pages-dir"); dir != "" {
		opts = append(opts, gowikimark.WithPagesDir(dir))
	}
	engine, err := gowikimark.New(cmd.Context(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}
	return engine, nil
}

func newOutput(cmd *cobra.Command) *output.Output {
	theme, _ := cmd.Flags().GetString("theme")
	noColor, _ := cmd.Flags().GetBool("no-color")
	out, err := output.New(theme)
	out = out.WithWriter(cmd.OutOrStdout()).WithErrorWriter(cmd.ErrOrStderr()).WithColors(!noColor && os.Getenv("NO_COLOR") == "")
	if err != nil {
		out.Warning("%v, using default", err)
	}
	return out
}
