package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gowikimark/gowikimark/internal/shared/utils"
)

// defaultConfigTemplate is written by "config init".
const defaultConfigTemplate = `# gowikimark configuration
markup:
  enabled: true
  caching: true
  cache:
    backend: memory   # memory, redis or bolt
    parseResults:
      ttl: 300
  handlers:
    plugin:
      timeout: 10000
  filters:
    spam:
      enabled: true
      threshold: 50
    validation:
      enabled: true
  policy:
    anonymousRead: true
  interwiki:
    sites:
      Wikipedia: https://en.wikipedia.org/wiki/%s
`

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  `Inspect and create gowikimark configuration files.`,
	}
	cmd.AddCommand(
		newConfigShowCommand(),
		newConfigPathCommand(),
		newConfigInitCommand(),
	)
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the configuration after merging the config file, its extends chain
and GOWIKIMARK_* environment overrides.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := newEngine(cmd, engineFlags{})
			if err != nil {
				return err
			}
			defer engine.Close(cmd.Context())

			settings := engine.Settings()
			if settings == nil {
				settings = map[string]any{}
			}
			var buf bytes.Buffer
			enc := yaml.NewEncoder(&buf)
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the configuration search path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			noColor, _ := cmd.Flags().GetBool("no-color")
			found := resolveConfigFile(cmd)
			active := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
			muted := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
			style := func(s lipgloss.Style, text string) string {
				if noColor {
					return text
				}
				return s.Render(text)
			}

			w := cmd.OutOrStdout()
			if found == "" {
				fmt.Fprintln(w, "No configuration file in use")
			} else {
				fmt.Fprintf(w, "Using %s\n", style(active, found))
			}
			fmt.Fprintln(w, "Search path:")
			for _, dir := range utils.GetXDGPaths(AppName).ConfigSearchPaths() {
				for _, name := range utils.ConfigFilenames(AppName) {
					candidate := filepath.Join(dir, name)
					marker := "  "
					if candidate == found {
						marker = "> "
					}
					fmt.Fprintln(w, marker+style(muted, candidate))
				}
			}
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Long: `Write a starter configuration file. Without a path it goes to
$XDG_CONFIG_HOME/gowikimark/config.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := filepath.Join(utils.GetXDGPaths(AppName).ConfigHome, "config.yaml")
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := atomic.WriteFile(path, bytes.NewBufferString(defaultConfigTemplate)); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			newOutput(cmd).FileSaved("Created %s", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}
