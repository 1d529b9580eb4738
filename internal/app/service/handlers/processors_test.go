package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

type resolverFunc func(name string) (string, bool, error)

func (f resolverFunc) ResolveVariable(_ context.Context, name, _ string, _ *provider.User) (string, bool, error) {
	return f(name)
}

func TestVariableHandler(t *testing.T) {
	env := testEnv(t)
	vars := newMemoryResults()
	env.Variables = vars
	h := NewVariableHandler(env)

	resolver := resolverFunc(func(name string) (string, bool, error) {
		switch name {
		case "totalpages":
			return "12", true, nil
		case "broken":
			return "", false, errors.New("backend down")
		}
		return "", false, nil
	})
	pctx := newContext("Main", authenticatedUser("alice"), provider.Services{Variables: resolver})
	pctx.SetVariable("pagename", "Overridden")
	pctx.SetVariable("color", "blue")

	tests := []struct {
		in   string
		want string
	}{
		{"[{$color}]", "blue"},
		{"[{$pagename}]", "Overridden"},
		{"[{$username}] / [{$USERNAME}]", "alice / alice"},
		{"[{$applicationname}] [{$version}]", "gowikimark 1.2.3"},
		{"[{$authenticated}]", "true"},
		{"[{$date}] [{$timestamp}]", "2024-03-01 2024-03-01T12:00:00Z"},
		{"[{$totalpages}]", "12"},
		{"[{$nosuch}]", "<!-- Unknown variable: nosuch -->"},
		{"[{$broken}]", "<!-- Unknown variable: broken -->"},
		{"[{$ color}] [{Plugin}]", "[{$ color}] [{Plugin}]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Process(context.Background(), tt.in, pctx))
		})
	}

	assert.Contains(t, vars.data, "builtin:username:Main:alice")
	assert.NotContains(t, vars.data, "builtin:date:Main:alice")
}

func TestEscapedHandler(t *testing.T) {
	h := NewEscapedHandler(testEnv(t))
	pctx := newContext("Main", nil, provider.Services{})

	assert.Equal(t, "show &#91;{TotalPages}&#93; literally", h.Process(context.Background(), "show [[{TotalPages}] literally", pctx))
	assert.Equal(t, "&#91;text&#93;", h.Process(context.Background(), "[[text]", pctx))
	assert.Equal(t, "[{TotalPages}]", h.Process(context.Background(), "[{TotalPages}]", pctx))

	// The escaped form is invisible to the plugin pattern.
	assert.False(t, pluginPattern.MatchString(h.Process(context.Background(), "[[{TotalPages}]", pctx)))
}

func TestInterWikiHandler(t *testing.T) {
	env := testEnv(t)
	env.Config.InterWiki.Sites["Local"] = value.InterWikiSite{URL: "http://localhost/%s"}
	env.Config.InterWiki.Sites["Script"] = value.InterWikiSite{URL: "javascript:alert('%s')"}
	results := newMemoryResults()
	env.Results = results
	h := NewInterWikiHandler(env)
	pctx := newContext("Main", nil, provider.Services{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "page with display text",
			in:   "see [Wikipedia:Go (language)|Go] now",
			want: `see <a href="https://en.wikipedia.org/wiki/Go%20%28language%29" class="interwiki-link interwiki-wikipedia" target="_blank" rel="noopener noreferrer" title="Wikipedia: Go">Go</a> now`,
		},
		{
			name: "site lookup ignores case",
			in:   "[jspwiki:Main]",
			want: `<a href="https://jspwiki-wiki.apache.org/Wiki.jsp?page=Main" class="interwiki-link interwiki-jspwiki" target="_blank" rel="noopener noreferrer" title="JSPWiki: jspwiki:Main">jspwiki:Main</a>`,
		},
		{
			name: "unknown site",
			in:   "[Nowhere:Page] and [https://example.com]",
			want: "[Nowhere:Page] and [https://example.com]",
		},
		{
			name: "local host",
			in:   "[Local:x]",
			want: "<!-- InterWiki Error: Local - unsafe URL host -->",
		},
		{
			name: "script scheme",
			in:   "[Script:x]",
			want: `<!-- InterWiki Error: Script - unsafe URL scheme "javascript" -->`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Process(context.Background(), tt.in, pctx))
		})
	}
	assert.NotEmpty(t, results.data)
}

func TestInterWikiHandler_SitesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Go:\n  url: https://pkg.go.dev/%s\n  description: Go packages\n"), 0o600))

	env := testEnv(t)
	env.Config.InterWiki.SitesFile = path
	h := NewInterWikiHandler(env)
	require.NoError(t, h.Initialize(context.Background()))
	assert.Contains(t, h.Sites(), "go")

	out := h.Process(context.Background(), "[Go:net/http]", newContext("Main", nil, provider.Services{}))
	assert.Contains(t, out, `href="https://pkg.go.dev/net%2Fhttp"`)

	env.Config.InterWiki.SitesFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, NewInterWikiHandler(env).Initialize(context.Background()))
}

func TestStyleHandler(t *testing.T) {
	env := testEnv(t)
	env.Config.Style.CustomClasses = []string{"brand", "bad<class"}
	h := NewStyleHandler(env)
	pctx := newContext("Main", nil, provider.Services{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline class", "a %%text-danger red /% b", `a <span class="text-danger">red</span> b`},
		{"block class", "%%information note /%", `<div class="information">note</div>`},
		{"multi-line content", "%%small line one\nline two /%", "<div class=\"small\">line one\nline two</div>"},
		{"custom class", "%%brand logo /%", `<span class="brand">logo</span>`},
		{"unknown class", "%%unknown text /%", "text"},
		{"nested", "%%information outer %%text-danger inner /% tail /%", `<div class="information">outer <span class="text-danger">inner</span> tail</div>`},
		{"inline css disabled", "%%(color:red) text /%", "text"},
		{"no blocks", "100% sure", "100% sure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Process(context.Background(), tt.in, pctx))
		})
	}
}

func TestStyleHandler_InlineCSS(t *testing.T) {
	env := testEnv(t)
	env.Config.Style.AllowInlineCSS = true
	h := NewStyleHandler(env)
	pctx := newContext("Main", nil, provider.Services{})

	out := h.Process(context.Background(), "%%(color:red; position:absolute) hot /%", pctx)
	assert.Equal(t, `<span style="color: red">hot</span>`, out)

	out = h.Process(context.Background(), "%%(color:javascript:alert) x /%", pctx)
	assert.Equal(t, "x", out)

	out = h.Process(context.Background(), "%%(font-weight:bold;font-style:italic) text /%", pctx)
	assert.Equal(t, `<span style="font-weight: bold; font-style: italic">text</span>`, out)
}

func TestFormHandler(t *testing.T) {
	env := testEnv(t)
	env.Config.Form.Secret = "s3cret"
	h := NewFormHandler(env)
	require.NoError(t, h.Initialize(context.Background()))
	pctx := newContext("Main", authenticatedUser("alice"), provider.Services{})

	in := strings.Join([]string{
		"[{FormOpen name='contact' action='/submit'}]",
		"[{FormInput name='email' type='email' required=true placeholder='you@example.com'}]",
		"[{FormSelect name='topic' options='Sales, Support' selected='Support'}]",
		"[{FormTextarea name='message' rows=5}]",
		"[{FormButton type='submit' value='Send'}]",
		"[{FormClose}]",
	}, "\n")
	out := h.Process(context.Background(), in, pctx)

	formID := regexp.MustCompile(`<form id="(wikiForm_\w+)" name="contact" action="/submit" method="POST" class="wiki-form">`).FindStringSubmatch(out)
	require.NotNil(t, formID, out)
	token := regexp.MustCompile(`name="_csrfToken" value="(\w+)"`).FindStringSubmatch(out)
	require.NotNil(t, token)
	assert.True(t, h.VerifyToken("Main", "alice", formID[1], token[1]))
	assert.False(t, h.VerifyToken("Other", "alice", formID[1], token[1]))

	assert.Contains(t, out, `<input type="email" id="input_email" name="email" class="form-control" placeholder="you@example.com" required>`)
	assert.Contains(t, out, `<option value="Support" selected>Support</option>`)
	assert.Contains(t, out, `<option value="">-- Select Topic --</option>`)
	assert.Contains(t, out, `<textarea id="textarea_message" name="message" class="form-control" rows="5">`)
	assert.Contains(t, out, `<button type="submit" class="btn btn-primary">Send</button>`)
	assert.True(t, strings.HasSuffix(out, "</form>"))
	assert.NotContains(t, out, "Form Error")
}

func TestFormHandler_Errors(t *testing.T) {
	h := NewFormHandler(testEnv(t))
	require.NoError(t, h.Initialize(context.Background()))
	pctx := newContext("Main", nil, provider.Services{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"close without open", "[{FormClose}]", "<!-- Form Error: Close - FormClose without FormOpen -->"},
		{"input outside form", "[{FormInput name=x}]", "<!-- Form Error: Input - FormInput outside a form -->"},
		{"bad input type", "[{FormOpen}][{FormInput name=x type=color}][{FormClose}]", "<!-- Form Error: Input - invalid input type: color -->"},
		{"missing name", "[{FormOpen}][{FormTextarea}][{FormClose}]", `<!-- Form Error: Textarea - FormTextarea requires "name" parameter -->`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, h.Process(context.Background(), tt.in, pctx), tt.want)
		})
	}

	out := h.Process(context.Background(), "[{FormOpen}] dangling", pctx)
	assert.True(t, strings.HasSuffix(out, " dangling</form>"))
}

func TestAttachmentHandler(t *testing.T) {
	store := attachmentMap{
		"Main/logo.png":   {Name: "logo.png", Page: "Main", Size: 2048, ContentType: "image/png"},
		"Main/report.pdf": {Name: "report.pdf", Page: "Main", Size: 1536, ContentType: "application/pdf"},
		"Docs/setup.exe":  {Name: "setup.exe", Page: "Docs", Size: 10},
	}
	h := NewAttachmentHandler(testEnv(t))
	anon := newContext("Main", nil, provider.Services{Attachments: store})
	alice := newContext("Main", authenticatedUser("alice"), provider.Services{Attachments: store})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "image",
			in:   "[{ATTACH logo.png|Our logo|width=120}]",
			want: `<div class="attachment-image-container"><a href="/attachments/Main/logo.png" class="attachment-image-link"><img src="/attachments/Main/logo.png" alt="Our logo" class="attachment-image" width="120"></a></div>`,
		},
		{
			name: "file",
			in:   "[{ATTACH report.pdf}]",
			want: `<div class="attachment-file-container"><a href="/attachments/Main/report.pdf" class="attachment-file-link" data-filename="report.pdf">report.pdf</a> <span class="attachment-size">1.5 KB</span></div>`,
		},
		{
			name: "missing",
			in:   "[{ATTACH nope.txt}]",
			want: "<!-- Attachment Error: nope.txt - attachment not found: nope.txt -->",
		},
		{
			name: "executable for anonymous",
			in:   "[{ATTACH Docs/setup.exe}]",
			want: "<!-- Attachment Error: Docs/setup.exe - access denied to attachment: setup.exe -->",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Process(context.Background(), tt.in, anon))
		})
	}

	out := h.Process(context.Background(), "[{ATTACH Docs/setup.exe}]", alice)
	assert.Contains(t, out, `href="/attachments/Docs/setup.exe"`)

	denied := newContext("Main", nil, provider.Services{Attachments: store, Policy: policyFunc(func(*provider.User, string, string) bool { return false })})
	assert.Contains(t, h.Process(context.Background(), "[{ATTACH logo.png}]", denied), "access denied")
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatFileSize(0))
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2 MB", FormatFileSize(2*1024*1024))
}
