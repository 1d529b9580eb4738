package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/app/service/handlers"
	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

type pluginFunc func(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error)

func (f pluginFunc) Execute(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error) {
	return f(ctx, name, pageName, params, exec)
}

func testPlugins() pluginFunc {
	return func(ctx context.Context, name, pageName string, _ map[string]any, exec provider.ExecutionContext) (string, error) {
		switch name {
		case "TotalPages":
			return "42", nil
		case "Slow":
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		case "Fragment":
			return exec.Renderer.RenderFragment(ctx, "on [{$pagename}]", pageName)
		}
		return "", errors.New("unknown plugin")
	}
}

func testParserConfig() value.MarkupConfig {
	cfg := value.DefaultMarkupConfig()
	cfg.Spam.Enabled = false
	cfg.Validation.Enabled = false
	return cfg
}

func createTestParser(t testing.TB, cfg value.MarkupConfig, opts ...ParserOption) (*MarkupParser, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	services := provider.Services{Plugins: testPlugins(), Notifier: notifier}
	opts = append([]ParserOption{WithServices(services), WithVersion("1.0.0")}, opts...)
	p, err := NewMarkupParser(context.Background(), cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, notifier
}

func mainPage() entity.ContextOptions {
	return entity.ContextOptions{PageName: "Main", UserName: "alice"}
}

func TestMarkupParser_Render(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())

	tests := []struct {
		name     string
		content  string
		contains []string
		excludes []string
	}{
		{
			name:     "plugin and variable",
			content:  "Count: [{TotalPages}] pages on [{$pagename}]",
			contains: []string{"<p>Count: 42 pages on Main</p>"},
		},
		{
			name:     "wiki heading and emphasis",
			content:  "!! Intro\n__bold__ and ''soft''",
			contains: []string{`<h2 id="intro">Intro</h2>`, "<strong>bold</strong>", "<em>soft</em>"},
		},
		{
			name:     "escaped syntax stays literal",
			content:  "Write [[{$pagename}] to show the name",
			contains: []string{"{$pagename}"},
			excludes: []string{"Main"},
		},
		{
			name:     "code keeps markup",
			content:  "Use `[{TotalPages}]` here",
			contains: []string{"<code>[{TotalPages}]</code>"},
		},
		{
			name:     "plugin error is isolated",
			content:  "[{Broken}] and [{TotalPages}]",
			contains: []string{"<!-- Plugin Error: Broken - unknown plugin -->", "and 42"},
		},
		{
			name:     "style block",
			content:  "%%information\nHeads up\n/%",
			contains: []string{`class="information"`, "Heads up"},
		},
		{
			name:     "interwiki link",
			content:  "See [Wikipedia:Go]",
			contains: []string{`href="https://en.wikipedia.org/wiki/Go"`},
		},
		{
			name:     "wiki table",
			content:  "|| Name || Size\n| a | 1",
			contains: []string{"<th>Name</th>", "<td>1</td>"},
		},
		{
			name:     "script removed",
			content:  "hello <script>alert(1)</script> world",
			excludes: []string{"<script", "alert(1)"},
		},
		{
			name:     "plugin fragment rendering",
			content:  "[{Fragment}]",
			contains: []string{"on Main"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html, err := p.Parse(context.Background(), tt.content, mainPage())
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, html, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, html, unwanted)
			}
		})
	}
}

func TestMarkupParser_EmptyContent(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	res, err := p.Render(context.Background(), "", mainPage())
	require.NoError(t, err)
	assert.Empty(t, res.HTML)
	assert.Zero(t, p.Metrics().ParseCount)
}

func TestMarkupParser_Phases(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	res, err := p.Render(context.Background(), "hello [{$username}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "hello alice")

	for _, name := range []string{
		PhaseDOMPreparse, PhasePreprocessing, PhaseSyntaxRecognition, PhaseContextResolution,
		PhaseContentTransformation, PhaseFilterPipeline, PhaseMarkdownConversion, PhasePostProcessing,
	} {
		assert.Contains(t, res.Phases, name)
		assert.Contains(t, p.Metrics().PhaseTimings, name)
	}
}

func TestMarkupParser_FrontMatter(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	res, err := p.Render(context.Background(), "---\ntitle: Hello\n---\n# [{$title}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "Hello</h1>")
	assert.NotContains(t, res.HTML, "title:")
	assert.Equal(t, "Hello", res.FrontMatter["title"])
}

func TestMarkupParser_Caching(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	ctx := context.Background()

	first, err := p.Render(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := p.Render(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.HTML, second.HTML)

	other, err := p.Render(ctx, "Count: [{TotalPages}]", entity.ContextOptions{PageName: "Other"})
	require.NoError(t, err)
	assert.False(t, other.CacheHit)

	m := p.Metrics()
	assert.Equal(t, int64(3), m.ParseCount)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(2), m.CacheMisses)
	assert.InDelta(t, 1.0/3.0, m.CacheHitRatio, 1e-9)
	assert.Equal(t, int64(1), m.Regions[value.RegionParseResults].Hits)
	assert.True(t, m.Regions[value.RegionPatterns].Enabled)

	require.NoError(t, p.ClearCache(ctx))
	again, err := p.Render(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	assert.Equal(t, first.HTML, again.HTML)
}

func TestMarkupParser_CachingDisabled(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig().WithCaching(false))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := p.Render(ctx, "x [{TotalPages}]", mainPage())
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	m := p.Metrics()
	assert.Zero(t, m.CacheHits)
	assert.Zero(t, m.CacheMisses)
	assert.False(t, m.Regions[value.RegionParseResults].Enabled)
}

func TestMarkupParser_DisableHandler(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	ctx := context.Background()
	id := value.KindPlugin.HandlerID()

	html, err := p.Parse(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "Count: 42")

	require.NoError(t, p.DisableHandler(ctx, id))
	html, err = p.Parse(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "Count: [{TotalPages}]")

	require.NoError(t, p.EnableHandler(ctx, id))
	html, err = p.Parse(ctx, "Count: [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "Count: 42")

	assert.ErrorIs(t, p.DisableHandler(ctx, "Missing"), ErrHandlerNotFound)
}

func TestMarkupParser_DisableFilter(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	ctx := context.Background()

	require.NoError(t, p.DisableFilter(ctx, "SecurityFilter"))
	html, err := p.Parse(ctx, `<span onclick="x()">hi</span>`, mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "onclick")

	require.NoError(t, p.EnableFilter(ctx, "SecurityFilter"))
	html, err = p.Parse(ctx, `<span onclick="x()">hi</span>`, mainPage())
	require.NoError(t, err)
	assert.NotContains(t, html, "onclick")
}

func TestMarkupParser_PluginTimeout(t *testing.T) {
	cfg := testParserConfig()
	plugin := cfg.HandlerSettingsFor(value.KindPlugin)
	plugin.Timeout = 20 * time.Millisecond
	p, _ := createTestParser(t, cfg.WithHandler(value.KindPlugin, plugin))

	html, err := p.Parse(context.Background(), "a [{Slow}] b", mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "<!-- Plugin Error: Slow - execution timed out after 20ms -->")
	assert.Contains(t, html, " b")
}

func TestMarkupParser_SlowPluginInsideWikiTag(t *testing.T) {
	cfg := testParserConfig().WithCaching(false)
	plugin := cfg.HandlerSettingsFor(value.KindPlugin)
	plugin.Timeout = 100 * time.Millisecond
	wikitag := cfg.HandlerSettingsFor(value.KindWikiTag)
	wikitag.Timeout = 20 * time.Millisecond
	cfg = cfg.WithHandler(value.KindPlugin, plugin).WithHandler(value.KindWikiTag, wikitag)

	var mu sync.Mutex
	calls := 0
	slow := pluginFunc(func(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return testPlugins()(ctx, name, pageName, params, exec)
	})
	p, _ := createTestParser(t, cfg, WithServices(provider.Services{Plugins: slow}))

	editor := entity.ContextOptions{
		PageName: "Main",
		User:     &provider.User{Name: "bob", Roles: []string{"editor"}, Authenticated: true},
	}
	html, err := p.Parse(context.Background(),
		`<wiki:If test="authenticated">[{Slow}]</wiki:If> <wiki:UserCheck role="admin">TOP SECRET</wiki:UserCheck>`, editor)
	require.NoError(t, err)

	assert.NotContains(t, html, "TOP SECRET")
	assert.NotContains(t, html, "wiki:")
	assert.Contains(t, html, "<!-- Plugin Error: Slow - execution timed out after 100ms -->")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestMarkupParser_DegradedMode(t *testing.T) {
	cfg := testParserConfig()
	cfg.Enabled = false
	p, _ := createTestParser(t, cfg)

	html, err := p.Parse(context.Background(), "**b** [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.Equal(t, "<p><strong>b</strong> [{TotalPages}]</p>", html)
	assert.Equal(t, int64(1), p.Metrics().ParseCount)
}

func TestMarkupParser_FilterFailureAbortsParse(t *testing.T) {
	cfg := testParserConfig()
	cfg.Filters.FailOnError = true
	p, _ := createTestParser(t, cfg)
	addChainFilter(t, p.FilterChain(), "Reject", 50, failFilter("rejected"))

	_, err := p.Parse(context.Background(), "some content", mainPage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Contains(t, err.Error(), "Main")
	assert.Equal(t, int64(1), p.Metrics().ErrorCount)
}

func TestMarkupParser_HandlerPanicKeepsContent(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	h, err := entity.NewHandler(entity.HandlerSpec{
		ID:       "PanicHandler",
		Kind:     "custom",
		Priority: 60,
		Pattern:  regexp.MustCompile(`@@`),
		Enabled:  true,
	}, entity.ProcessorFunc(func(context.Context, string, *entity.ParseContext) string {
		panic("boom")
	})).Value()
	require.NoError(t, err)
	require.NoError(t, p.RegisterHandler(context.Background(), h))

	html, err := p.Parse(context.Background(), "still [{TotalPages}]", mainPage())
	require.NoError(t, err)
	assert.Contains(t, html, "still 42")
	assert.Equal(t, int64(1), h.Stats().ErrorCount)
}

func TestMarkupParser_RenderFragment(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())

	out, err := p.RenderFragment(context.Background(), "[{$pagename}] `[{$pagename}]`", "Other")
	require.NoError(t, err)
	assert.Equal(t, "Other `[{$pagename}]`", out)

	deep := context.WithValue(context.Background(), fragmentDepthKey{}, handlers.MaxNestingDepth)
	_, err = p.RenderFragment(deep, "x", "Other")
	assert.ErrorIs(t, err, handlers.ErrNestingTooDeep)
}

func TestMarkupParser_RenderNestedDepth(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	pctx := entity.NewParseContext("x", mainPage())
	for i := 0; i <= handlers.MaxNestingDepth; i++ {
		pctx = pctx.Clone(entity.CloneOptions{Content: "x"})
	}
	_, err := p.RenderNested(context.Background(), "x", pctx)
	assert.ErrorIs(t, err, handlers.ErrNestingTooDeep)
}

func TestMarkupParser_ConcurrentRenders(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())

	var wg sync.WaitGroup
	results := make([]string, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Parse(context.Background(), "!! Same\n[{TotalPages}] for [{$username}]", mainPage())
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Contains(t, results[0], "42 for alice")
}

func TestMarkupParser_SlowParsingAlert(t *testing.T) {
	cfg := testParserConfig()
	cfg.Performance.ParseTimeThreshold = time.Nanosecond
	cfg.Performance.CheckInterval = 0
	p, notifier := createTestParser(t, cfg)

	_, err := p.Parse(context.Background(), "hello", mainPage())
	require.NoError(t, err)

	alerts := p.Metrics().RecentAlerts
	require.NotEmpty(t, alerts)
	assert.Equal(t, value.AlertSlowParsing, alerts[0].Type)

	titles := make([]string, 0)
	for _, n := range notifier.all() {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "MarkupParser Performance Alert: SLOW_PARSING")
}

func TestMarkupParser_ResetMetrics(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	_, err := p.Parse(context.Background(), "[{TotalPages}]", mainPage())
	require.NoError(t, err)
	require.NotZero(t, p.Metrics().ParseCount)

	p.ResetMetrics()
	m := p.Metrics()
	assert.Zero(t, m.ParseCount)
	assert.Zero(t, m.Latency.Count)
	assert.Empty(t, m.PhaseTimings)
	for _, h := range m.Handlers {
		assert.Zero(t, h.Executions, h.ID)
	}
}

func TestMarkupParser_Introspection(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())

	ids := make([]string, 0)
	for _, d := range p.Handlers() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{
		"EscapedSyntaxHandler", "VariableSyntaxHandler", "WikiTagHandler", "PluginSyntaxHandler",
		"WikiFormHandler", "InterWikiLinkHandler", "AttachmentHandler", "WikiStyleHandler",
	}, ids)

	filterIDs := make([]string, 0)
	for _, d := range p.Filters() {
		filterIDs = append(filterIDs, d.ID)
	}
	assert.Equal(t, []string{"SecurityFilter", "SpamFilter", "ValidationFilter"}, filterIDs)
}

func TestMarkupParser_Shutdown(t *testing.T) {
	p, _ := createTestParser(t, testParserConfig())
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))

	_, err := p.Parse(context.Background(), "x", mainPage())
	assert.ErrorIs(t, err, ErrParserClosed)
}

func TestMergeServices(t *testing.T) {
	base := provider.Services{Plugins: testPlugins(), Notifier: &recordingNotifier{}}
	override := &recordingNotifier{}
	merged := mergeServices(base, provider.Services{Notifier: override})
	assert.Same(t, override, merged.Notifier)
	assert.NotNil(t, merged.Plugins)
	assert.Len(t, newNonce(), 32)
}
