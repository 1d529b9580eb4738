// Package preparse is the default DOM pre-parse stage. It shields code and
// escapes from the syntax handlers and rewrites JSPWiki text markup, page
// links included, into Markdown and HTML.
package preparse

import (
	"context"
	"html"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
)

var (
	fencedBacktick = regexp.MustCompile("(?ms)^[ \t]{0,3}```[^\n]*\n.*?^[ \t]{0,3}```[ \t]*$")
	fencedTilde    = regexp.MustCompile(`(?ms)^[ \t]{0,3}~~~[^\n]*\n.*?^[ \t]{0,3}~~~[ \t]*$`)
	inlineCode     = regexp.MustCompile("`[^`\n]+`")
	escapeSpan     = regexp.MustCompile(`\[\[([^\[\]]+)\]`)
	wikiHeading    = regexp.MustCompile(`(?m)^(!{1,3})([^!\[\n][^\n]*)$`)
	wikiItalic     = regexp.MustCompile(`''([^'\n]+?)''`)
	wikiBold       = regexp.MustCompile(`__([^_\n]+?)__`)
)

// DefaultPageURL is the link format used when none is configured.
const DefaultPageURL = "/wiki/%s"

// Preparser is the built-in pre-parse stage.
type Preparser struct {
	logger  *zap.Logger
	pageURL string
}

// Option configures a Preparser.
type Option func(*Preparser)

// WithPageURL sets the href format of page links. format holds one %s.
func WithPageURL(format string) Option {
	return func(p *Preparser) {
		if strings.Count(format, "%s") == 1 {
			p.pageURL = format
		}
	}
}

// New creates a Preparser.
func New(logger *zap.Logger, opts ...Option) *Preparser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Preparser{logger: logger, pageURL: DefaultPageURL}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preparse protects code and escapes in pctx before rewriting headings,
// emphasis and page links.
func (p *Preparser) Preparse(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	spans := pctx.Protected()
	before := spans.Len()

	for _, re := range []*regexp.Regexp{fencedBacktick, fencedTilde, inlineCode} {
		content = re.ReplaceAllStringFunc(content, func(code string) string {
			return spans.Add(entity.SpanCode, code)
		})
	}
	content = escapeSpan.ReplaceAllStringFunc(content, func(s string) string {
		inner := escapeSpan.FindStringSubmatch(s)[1]
		return spans.Add(entity.SpanLiteral, "&#91;"+html.EscapeString(inner)+"&#93;")
	})

	content = ConvertHeadings(content)
	content = wikiItalic.ReplaceAllString(content, "*$1*")
	content = wikiBold.ReplaceAllString(content, "**$1**")
	content = p.renderLinks(ctx, content, pctx)

	if n := spans.Len() - before; n > 0 {
		p.logger.Debug("spans protected", zap.String("page", pctx.PageName()), zap.Int("spans", n))
	}
	return content, nil
}

// ConvertHeadings rewrites !!! , !! and ! headings as Markdown headings of
// level 1, 2 and 3.
func ConvertHeadings(content string) string {
	return wikiHeading.ReplaceAllStringFunc(content, func(line string) string {
		m := wikiHeading.FindStringSubmatch(line)
		level := 4 - len(m[1])
		return strings.Repeat("#", level) + " " + strings.TrimSpace(m[2])
	})
}
