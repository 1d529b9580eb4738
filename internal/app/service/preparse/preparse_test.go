package preparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

func TestConvertHeadings(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"!!! Title", "# Title"},
		{"!! Section", "## Section"},
		{"! Sub", "### Sub"},
		{"!Tight", "### Tight"},
		{"![image](a.png)", "![image](a.png)"},
		{"!!!! four", "!!!! four"},
		{"text !!! inline", "text !!! inline"},
		{"a\n!!! Top\nb", "a\n# Top\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertHeadings(tt.in))
		})
	}
}

func TestPreparser_Preparse(t *testing.T) {
	pctx := entity.NewParseContext("", entity.ContextOptions{PageName: "Main"})
	p := New(nil)

	in := "!! Usage\n''quiet'' and __loud__\n\n```go\nx := `[{$pagename}]`\n```\n\nrun `[{TotalPages}]` or [[{TotalPages}] here"
	out, err := p.Preparse(context.Background(), in, pctx)
	require.NoError(t, err)

	assert.Contains(t, out, "## Usage\n*quiet* and **loud**")
	assert.NotContains(t, out, "[{")
	assert.Equal(t, 3, pctx.Protected().Len())

	restored := pctx.Protected().Restore(out, entity.SpanCode)
	assert.Contains(t, restored, "```go\nx := `[{$pagename}]`\n```")
	assert.Contains(t, restored, "run `[{TotalPages}]` or ")
	assert.NotContains(t, restored, "[[{TotalPages}]")

	final := pctx.Protected().Restore(restored, entity.SpanLiteral)
	assert.Contains(t, final, "or &#91;{TotalPages}&#93; here")
}

func TestPreparser_TildeFence(t *testing.T) {
	pctx := entity.NewParseContext("", entity.ContextOptions{PageName: "Main"})

	out, err := New(nil).Preparse(context.Background(), "~~~\n!!! not a heading\n~~~\n!!! heading", pctx)
	require.NoError(t, err)
	assert.Contains(t, out, "# heading")
	assert.Equal(t, "~~~\n!!! not a heading\n~~~\n# heading", pctx.Protected().Restore(out, entity.SpanCode))
}

func TestPreparser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Preparse(ctx, "x", entity.NewParseContext("", entity.ContextOptions{}))
	assert.ErrorIs(t, err, context.Canceled)
}

type pageSet map[string]bool

func (p pageSet) GetPage(_ context.Context, name string) (*provider.Page, error) {
	if !p[name] {
		return nil, nil
	}
	return &provider.Page{Name: name}, nil
}

type recordedLinks struct {
	pages map[string][]string
}

func (r *recordedLinks) Snapshot() map[string][]string { return r.pages }

func (r *recordedLinks) RecordLinks(pageName string, targets []string) {
	r.pages[pageName] = targets
}

func TestFindLinks(t *testing.T) {
	tests := []struct {
		in   string
		want []Link
	}{
		{"See [Main].", []Link{{Text: "Main", Target: "Main", Start: 4, End: 10}}},
		{"[the home|HomePage]", []Link{{Text: "the home", Target: "HomePage", Start: 0, End: 19}}},
		{"[ spaced | Home Page ]", []Link{{Text: "spaced", Target: "Home Page", Start: 0, End: 22}}},
		{"[text](https://example.com)", nil},
		{"![alt](a.png)", nil},
		{"[ref]: https://example.com", nil},
		{"[a][b]", nil},
		{"[Wikipedia:Go|Go on Wikipedia]", nil},
		{"[{TotalPages}] [{$pagename}]", nil},
		{"[^note] [1] [../etc]", nil},
		{"- [x] done\n- [ ] open", nil},
		{"pick [x] here", []Link{{Text: "x", Target: "x", Start: 5, End: 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FindLinks(tt.in))
		})
	}
}

func TestLinkTargets(t *testing.T) {
	in := "[B] [a|A] [B]\n```\n[InFence]\n```\n`[Inline]` [[Escaped]"
	assert.Equal(t, []string{"A", "B"}, LinkTargets(in))
}

func TestPreparser_PageLinks(t *testing.T) {
	tests := []struct {
		name     string
		services provider.Services
		opts     []Option
		want     string
	}{
		{
			name:     "existing and missing pages",
			services: provider.Services{Pages: pageSet{"Main": true}},
			want: `See <a href="/wiki/Main" class="wikipage">Main</a> and ` +
				`<a href="/wiki/HomePage" class="createpage" title="Create page HomePage">the home</a>.`,
		},
		{
			name: "no page store",
			want: `See <a href="/wiki/Main" class="wikipage">Main</a> and ` +
				`<a href="/wiki/HomePage" class="wikipage">the home</a>.`,
		},
		{
			name:     "configured page url",
			services: provider.Services{Pages: pageSet{"Main": true, "HomePage": true}},
			opts:     []Option{WithPageURL("Wiki.jsp?page=%s")},
			want: `See <a href="Wiki.jsp?page=Main" class="wikipage">Main</a> and ` +
				`<a href="Wiki.jsp?page=HomePage" class="wikipage">the home</a>.`,
		},
		{
			name:     "malformed page url keeps the default",
			services: provider.Services{Pages: pageSet{"Main": true, "HomePage": true}},
			opts:     []Option{WithPageURL("/wiki/")},
			want: `See <a href="/wiki/Main" class="wikipage">Main</a> and ` +
				`<a href="/wiki/HomePage" class="wikipage">the home</a>.`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pctx := entity.NewParseContext("", entity.ContextOptions{PageName: "Main", Services: tt.services})
			out, err := New(nil, tt.opts...).Preparse(context.Background(), "See [Main] and [the home|HomePage].", pctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestPreparser_PageLinksEscapeTextAndTarget(t *testing.T) {
	pctx := entity.NewParseContext("", entity.ContextOptions{PageName: "Main"})
	out, err := New(nil).Preparse(context.Background(), `[<b>"x"</b>|Home Page]`, pctx)
	require.NoError(t, err)
	assert.Equal(t, `<a href="/wiki/Home%20Page" class="wikipage">&lt;b&gt;&#34;x&#34;&lt;/b&gt;</a>`, out)
}

func TestPreparser_RecordsLinks(t *testing.T) {
	links := &recordedLinks{pages: map[string][]string{}}
	services := provider.Services{Pages: pageSet{"B": true}, Links: links}

	pctx := entity.NewParseContext("", entity.ContextOptions{PageName: "Main", Services: services})
	_, err := New(nil).Preparse(context.Background(), "[C] [b|B] `[Code]` [[Lit] [B]", pctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"Main": {"B", "C"}}, links.pages)

	nested := pctx.Clone(entity.CloneOptions{PageName: "Other"})
	_, err = New(nil).Preparse(context.Background(), "[D]", nested)
	require.NoError(t, err)
	assert.NotContains(t, links.pages, "Other")
}
