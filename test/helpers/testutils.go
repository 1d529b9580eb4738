package helpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// TestPage is a page written into a test wiki.
type TestPage struct {
	Name    string
	Content string
	// Ext defaults to ".md".
	Ext string
}

// TestWiki describes a page directory with attachments and config files.
type TestWiki struct {
	Name        string
	Pages       []TestPage
	Attachments map[string]map[string]string // page -> filename -> content
	ConfigFiles map[string]string            // config filename -> content
}

// CreateTestWiki writes wiki under a temporary directory and returns the
// page directory.
func CreateTestWiki(t testing.TB, wiki TestWiki) string {
	t.Helper()

	baseDir := t.TempDir()
	for _, page := range wiki.Pages {
		ext := page.Ext
		if ext == "" {
			ext = ".md"
		}
		path := filepath.Join(baseDir, page.Name+ext)
		require.NoError(t, os.WriteFile(path, []byte(page.Content), 0o644))
	}

	for page, files := range wiki.Attachments {
		dir := filepath.Join(baseDir, "attachments", page)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		}
	}

	for name, content := range wiki.ConfigFiles {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, name), []byte(content), 0o644))
	}

	return baseDir
}

// WikiPages provides common page templates.
var WikiPages = struct {
	Plain      string
	Variables  string
	Plugins    string
	Conditions string
	Styles     string
	InterWiki  string
	Escaped    string
	Mixed      string
}{
	Plain: `!!! Welcome

This page has ''italic'' and __bold__ text.
`,

	Variables: `Page [{$pagename}] rendered for [{$username}] by [{$applicationname}].
`,

	Plugins: `There are [{TotalPages}] pages. This is [{PageName}].
`,

	Conditions: `<wiki:If test="authenticated">Welcome back.</wiki:If>
<wiki:UserCheck status="anonymous">Please log in.</wiki:UserCheck>
`,

	Styles: `%%information Remember to save. /%
`,

	InterWiki: `See [Wikipedia:Go_(programming_language)|Go on Wikipedia].
`,

	Escaped: `Write [[{TotalPages}] to count pages.
`,

	Mixed: `!! Overview

Hello [{$username}], this is [{$pagename}].

<wiki:If test="authenticated">
%%commentbox Members can edit. /%
</wiki:If>

* [{TotalPages}] pages
* [[literal]

` + "```go\nfmt.Println(\"[{NotAPlugin}]\")\n```\n",
}

// ConfigFiles provides common configuration file templates.
var ConfigFiles = struct {
	Basic     string
	NoCache   string
	Degraded  string
	Strict    string
	Extending string
}{
	Basic: `markup:
  enabled: true
  caching: true
`,

	NoCache: `markup:
  caching: false
`,

	Degraded: `markup:
  enabled: false
`,

	Strict: `markup:
  filters:
    spam:
      enabled: true
      autoBlock: true
    validation:
      enabled: true
      failOnValidationError: true
`,

	Extending: `extends: base.yaml
markup:
  cacheTTL: 30
`,
}

// QuietConfig disables the spam and validation filters so short pages come
// back without warning comments.
func QuietConfig() map[string]any {
	return map[string]any{
		"filters": map[string]any{
			"spam":       map[string]any{"enabled": false},
			"validation": map[string]any{"enabled": false},
		},
	}
}

// PluginCall records one invocation seen by StaticPlugins.
type PluginCall struct {
	Name   string
	Page   string
	Params map[string]any
	Body   *string
}

// StaticPlugins is a plugin executor with canned outputs. Plugins listed in
// Delay sleep for the given duration or until the context ends.
type StaticPlugins struct {
	Outputs map[string]string
	Delay   map[string]time.Duration

	mu    sync.Mutex
	calls []PluginCall
}

// NewStaticPlugins creates an executor answering name with output.
func NewStaticPlugins(outputs map[string]string) *StaticPlugins {
	return &StaticPlugins{Outputs: outputs, Delay: map[string]time.Duration{}}
}

// Execute implements provider.PluginExecutor.
func (p *StaticPlugins) Execute(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, PluginCall{Name: name, Page: pageName, Params: params, Body: exec.Body})
	p.mu.Unlock()

	if d, ok := p.Delay[name]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	out, ok := p.Outputs[name]
	if !ok {
		return "", fmt.Errorf("plugin %s not found", name)
	}
	return out, nil
}

// Calls returns the recorded invocations.
func (p *StaticPlugins) Calls() []PluginCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PluginCall(nil), p.calls...)
}

// CallCount counts invocations of name.
func (p *StaticPlugins) CallCount(name string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// RecordingNotifier keeps every notification.
type RecordingNotifier struct {
	mu    sync.Mutex
	notes []provider.Notification
}

// AddNotification implements provider.Notifier.
func (n *RecordingNotifier) AddNotification(note provider.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

// Notifications returns what was received so far.
func (n *RecordingNotifier) Notifications() []provider.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]provider.Notification(nil), n.notes...)
}

// PolicyFunc adapts a function to provider.Policy.
type PolicyFunc func(user *provider.User, permission, resource string) bool

// CheckPermission implements provider.Policy.
func (f PolicyFunc) CheckPermission(_ context.Context, user *provider.User, permission, resource string) (bool, error) {
	return f(user, permission, resource), nil
}

// AllowAll grants every permission.
var AllowAll = PolicyFunc(func(*provider.User, string, string) bool { return true })

// DenyAll refuses every permission.
var DenyAll = PolicyFunc(func(*provider.User, string, string) bool { return false })

// MapVariables resolves variables from a fixed map.
type MapVariables map[string]string

// ResolveVariable implements provider.VariableResolver.
func (m MapVariables) ResolveVariable(_ context.Context, name, _ string, _ *provider.User) (string, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

// MapPages is an in-memory page store.
type MapPages map[string]string

// GetPage implements provider.PageStore.
func (m MapPages) GetPage(_ context.Context, name string) (*provider.Page, error) {
	content, ok := m[name]
	if !ok {
		return nil, nil
	}
	return &provider.Page{Name: name, Content: content}, nil
}

// ContentOptions controls GenerateWikiContent.
type ContentOptions struct {
	Paragraphs int
	Headings   int
	Variables  int
	Plugins    int
	Styles     int
	Escapes    int
}

// DefaultContentOptions returns a small mixed page.
func DefaultContentOptions() ContentOptions {
	return ContentOptions{
		Paragraphs: 5,
		Headings:   2,
		Variables:  2,
		Plugins:    1,
		Styles:     1,
		Escapes:    1,
	}
}

// GenerateWikiContent builds a page exercising every handler family.
func GenerateWikiContent(options ContentOptions) string {
	var b strings.Builder

	for i := 0; i < options.Headings; i++ {
		fmt.Fprintf(&b, "!! Section %d\n\n", i+1)
		for j := 0; j < options.Paragraphs; j++ {
			fmt.Fprintf(&b, "Paragraph %d of section %d with ''some'' __text__.\n\n", j+1, i+1)
		}
	}
	for i := 0; i < options.Variables; i++ {
		b.WriteString("Viewing [{$pagename}] as [{$username}].\n\n")
	}
	for i := 0; i < options.Plugins; i++ {
		b.WriteString("Total: [{TotalPages}]\n\n")
	}
	for i := 0; i < options.Styles; i++ {
		fmt.Fprintf(&b, "%%%%information Note %d /%%\n\n", i+1)
	}
	for i := 0; i < options.Escapes; i++ {
		b.WriteString("Literal [[{Plugin}] syntax.\n\n")
	}
	return b.String()
}
