package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gowikimark/gowikimark/internal/domain/value"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3", "abc", "today")
	assert.Equal(t, AppName, cmd.Use)
	for _, name := range []string{"render", "handlers", "filters", "metrics", "config", "tui", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	for _, flag := range []string{"config", "no-config", "pages-dir", "debug", "no-color", "theme"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %s", flag)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{
		"Main.txt":      "Count: [{TotalPages}] on [{$pagename}]",
		"wiki/Main.md":  "home",
		"wiki/Other.md": "other",
		"Greeting.txt":  "Hello [{$username}] from [{$project}]",
		"Members.txt":   `<wiki:UserCheck status="authenticated">secret</wiki:UserCheck>open`,
		"Bold.txt":      "__strong__ [{TotalPages}]",
	})

	tests := []struct {
		name     string
		stdin    string
		args     []string
		contains []string
		excludes []string
		wantErr  string
	}{
		{
			name:     "file with page directory",
			args:     []string{"render", filepath.Join(dir, "Main.txt"), "--pages-dir", filepath.Join(dir, "wiki")},
			contains: []string{"Count: 2 on Main"},
		},
		{
			name:     "stdin with page flag",
			stdin:    "I am [{$pagename}]",
			args:     []string{"render", "--page", "Stdin"},
			contains: []string{"I am Stdin"},
		},
		{
			name:     "user and variables",
			args:     []string{"render", filepath.Join(dir, "Greeting.txt"), "--user", "alice", "--var", "project=Apollo"},
			contains: []string{"Hello alice from Apollo"},
		},
		{
			name:     "anonymous user check",
			args:     []string{"render", filepath.Join(dir, "Members.txt")},
			contains: []string{"open"},
			excludes: []string{"secret"},
		},
		{
			name:     "authenticated user check",
			args:     []string{"render", filepath.Join(dir, "Members.txt"), "--user", "bob"},
			contains: []string{"secret"},
		},
		{
			name:     "degraded mode skips plugins",
			args:     []string{"render", filepath.Join(dir, "Bold.txt"), "--degraded"},
			contains: []string{"<strong>strong</strong>", "[{TotalPages}]"},
		},
		{
			name:    "missing file",
			args:    []string{"render", filepath.Join(dir, "absent.txt")},
			wantErr: "failed to read",
		},
		{
			name:    "bad format",
			stdin:   "x",
			args:    []string{"render", "--format", "xml"},
			wantErr: `unsupported format "xml"`,
		},
		{
			name:    "output needs one input",
			args:    []string{"render", filepath.Join(dir, "Main.txt"), filepath.Join(dir, "Bold.txt"), "-o", filepath.Join(dir, "out.html")},
			wantErr: "--output needs exactly one input",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := executeRoot(t, tt.stdin, tt.args...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, stdout, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, stdout, unwanted)
			}
		})
	}
}

func TestRenderCommand_OutputFileAndJSON(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{"Main.txt": "Page [{$pagename}]"})
	target := filepath.Join(dir, "out", "main.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	stdout, stderr, err := executeRoot(t, "", "render", filepath.Join(dir, "Main.txt"), "--format", "json", "-o", target)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "[saved] Wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var decoded struct {
		Page string `json:"page"`
		HTML string `json:"html"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Main", decoded.Page)
	assert.Contains(t, decoded.HTML, "Page Main")
}

func TestRenderCommand_Phases(t *testing.T) {
	_, stderr, err := executeRoot(t, "hello world", "render", "--phases")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Phase")
	assert.Contains(t, stderr, "markdown-conversion")
}

func TestHandlersCommand(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{"Main.txt": "[{TotalPages}] %%note\nx\n/%"})

	stdout, _, err := executeRoot(t, "", "handlers")
	require.NoError(t, err)
	for _, kind := range value.AllHandlerKinds() {
		assert.Contains(t, stdout, kind.HandlerID())
	}
	assert.True(t, strings.HasPrefix(stdout, "ID"))

	stdout, _, err = executeRoot(t, "", "handlers", "--json", "--disable", "WikiStyleHandler", filepath.Join(dir, "Main.txt"))
	require.NoError(t, err)
	var stats []value.HandlerStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	require.NotEmpty(t, stats)
	for _, s := range stats {
		if s.ID == "WikiStyleHandler" {
			assert.False(t, s.Enabled)
		}
		if s.ID == "PluginSyntaxHandler" {
			assert.Equal(t, int64(1), s.Executions)
		}
	}

	_, _, err = executeRoot(t, "", "handlers", "--disable", "NoSuchHandler")
	assert.Error(t, err)
}

func TestFiltersCommand(t *testing.T) {
	stdout, _, err := executeRoot(t, "", "filters")
	require.NoError(t, err)
	assert.Contains(t, stdout, "SecurityFilter")
	assert.Contains(t, stdout, "SpamFilter")
	assert.Contains(t, stdout, "ValidationFilter")

	stdout, _, err = executeRoot(t, "", "filters", "--json", "--disable", "SpamFilter")
	require.NoError(t, err)
	var chain value.FilterChainStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &chain))
	for _, f := range chain.Filters {
		assert.Equal(t, f.ID != "SpamFilter", f.Enabled, f.ID)
	}
}

func TestMetricsCommand(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{
		"A.txt": "Alpha page with enough words in it",
		"B.txt": "Beta page with enough words in it",
	})

	stdout, _, err := executeRoot(t, "", "metrics", "--runs", "3", "--json", filepath.Join(dir, "A.txt"), filepath.Join(dir, "B.txt"))
	require.NoError(t, err)
	var m value.Metrics
	require.NoError(t, json.Unmarshal([]byte(stdout), &m))
	assert.Equal(t, int64(6), m.ParseCount)
	assert.Equal(t, int64(4), m.CacheHits)
	assert.Equal(t, int64(2), m.CacheMisses)

	stdout, _, err = executeRoot(t, "", "metrics", "--runs", "2", "--no-cache", filepath.Join(dir, "A.txt"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 parses")
	assert.Contains(t, stdout, "cache hit ratio 0.0%")
	assert.Contains(t, stdout, "parseResults")

	_, _, err = executeRoot(t, "", "metrics", "--runs", "0", filepath.Join(dir, "A.txt"))
	assert.ErrorContains(t, err, "--runs must be at least 1")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gowikimark.yaml")

	_, stderr, err := executeRoot(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Created "+path)

	_, _, err = executeRoot(t, "", "config", "init", path)
	assert.ErrorContains(t, err, "already exists")
	_, _, err = executeRoot(t, "", "config", "init", path, "--force")
	require.NoError(t, err)

	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Contains(t, doc, "markup")

	stdout, _, err := executeRoot(t, "", "config", "path")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No configuration file in use")
	assert.Contains(t, stdout, "Search path:")

	stdout, _, err = executeRoot(t, "", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "anonymousread")
}

func TestConfigShow_WithFile(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{
		"cfg.yaml": "markup:\n  caching: false\n",
	})
	cmd := NewRootCommand("1", "c", "d")
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "show", "--config", filepath.Join(dir, "cfg.yaml")})
	require.NoError(t, cmd.Execute())

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out.String()), &doc))
	markup, ok := doc["markup"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, markup["caching"])
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeRoot(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "gowikimark version 1.2.3")
	assert.Contains(t, stdout, "commit: abc123")
	assert.Contains(t, stdout, "library: ")
}

func TestEngineFlags(t *testing.T) {
	var f engineFlags
	f.set("caching", false)
	f.set("filters.parallelExecution", true)
	f.set("filters.spam.enabled", false)
	assert.Equal(t, map[string]any{
		"caching": false,
		"filters": map[string]any{
			"parallelExecution": true,
			"spam":              map[string]any{"enabled": false},
		},
	}, f.overrides)
}

func TestTUIModel(t *testing.T) {
	dir := createTempTestFiles(t, map[string]string{
		"wiki/Main.md":  "Main says [{$pagename}]",
		"wiki/Other.md": "Other page",
	})
	root := NewRootCommand("1", "c", "d")
	tui, _, err := root.Find([]string{"tui"})
	require.NoError(t, err)
	require.NoError(t, root.PersistentFlags().Set("pages-dir", filepath.Join(dir, "wiki")))
	require.NoError(t, root.PersistentFlags().Set("no-config", "true"))
	_ = tui.InheritedFlags()
	tui.SetContext(t.Context())

	engine, err := newEngine(tui, engineFlags{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(t.Context()) })

	m, err := newTUIModel(t.Context(), engine, tui, nil)
	require.NoError(t, err)
	require.Len(t, m.pages, 2)
	assert.Equal(t, "Initializing...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	assert.Contains(t, m.View(), "2 pages")

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.selectedPage)
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selectedPage)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, viewPreview, m.currentView)
	m.Update(cmd())
	assert.False(t, m.rendering)
	assert.Contains(t, m.preview, "Main says Main")
	assert.Contains(t, m.status, "Rendered Main")

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	assert.Equal(t, viewHandlers, m.currentView)
	first := m.handles[0]
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	assert.NotEqual(t, first.Enabled, m.handles[0].Enabled)
	assert.Contains(t, m.View(), "handlers disabled")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
