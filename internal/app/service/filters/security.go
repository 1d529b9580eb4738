package filters

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// RemovedMarker replaces every stripped fragment.
const RemovedMarker = "<!-- Dangerous content removed by SecurityFilter -->"

var (
	basePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b.*?</script\s*>`),
		regexp.MustCompile(`(?is)<script\b[^>]*>`),
		regexp.MustCompile(`(?is)<iframe\b.*?</iframe\s*>`),
		regexp.MustCompile(`(?is)<object\b.*?</object\s*>`),
		regexp.MustCompile(`(?is)<embed\b[^>]*>`),
		regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`),
		regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:`),
		regexp.MustCompile(`(?i)expression\s*\(`),
	}
	dataURIPattern = regexp.MustCompile(`(?i)\bdata:[^\s"'>]*`)
)

// SecurityFilter strips script vectors from the document before Markdown
// conversion and sanitizes the rendered HTML afterwards.
type SecurityFilter struct {
	config   value.SecurityConfig
	patterns []*regexp.Regexp
	policy   *bluemonday.Policy
	logger   *zap.Logger
}

// NewSecurityFilter creates the security filter.
func NewSecurityFilter(config value.SecurityConfig, logger *zap.Logger) *SecurityFilter {
	patterns := append([]*regexp.Regexp(nil), basePatterns...)
	if !config.AllowDataURIs {
		patterns = append(patterns, dataURIPattern)
	}
	return &SecurityFilter{
		config:   config,
		patterns: patterns,
		policy:   htmlPolicy(),
		logger:   logger,
	}
}

// htmlPolicy extends the user-content policy with what handlers emit.
func htmlPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowComments()
	p.AllowDataAttributes()
	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowStyles("color", "background-color", "font-weight", "font-style", "text-align", "text-decoration").
		OnElements("span", "div")
	p.AllowElements("form", "label", "select", "option", "textarea", "button")
	p.AllowAttrs("action").Matching(regexp.MustCompile(`^(/|https?://)`)).OnElements("form")
	p.AllowAttrs("method").Matching(regexp.MustCompile(`(?i)^(get|post)$`)).OnElements("form")
	p.AllowAttrs("name").OnElements("form", "input", "select", "textarea", "button")
	p.AllowAttrs("type", "value", "placeholder", "required", "min", "max", "step").OnElements("input")
	p.AllowAttrs("value", "selected").OnElements("option")
	p.AllowAttrs("rows", "cols", "placeholder", "required").OnElements("textarea")
	p.AllowAttrs("type", "disabled").OnElements("button")
	p.AllowAttrs("required").OnElements("select")
	p.AllowAttrs("for").OnElements("label")
	p.AllowElements("input")
	return p
}

// Process truncates oversized documents and replaces dangerous fragments.
func (f *SecurityFilter) Process(_ context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if limit := f.config.MaxContentLength; limit > 0 && len(content) > limit {
		f.logger.Warn("content truncated",
			zap.String("filter", SecurityFilterID),
			zap.String("page", pctx.PageName()),
			zap.Int("length", len(content)),
			zap.Int("max", limit))
		content = strings.ToValidUTF8(content[:limit], "") +
			fmt.Sprintf("\n<!-- Content truncated by SecurityFilter: exceeded %d bytes -->", limit)
	}

	removed := 0
	for _, p := range f.patterns {
		content = p.ReplaceAllStringFunc(content, func(string) string {
			removed++
			return RemovedMarker
		})
	}
	if removed > 0 {
		f.logger.Warn("dangerous content removed",
			zap.String("filter", SecurityFilterID),
			zap.String("page", pctx.PageName()),
			zap.Int("fragments", removed))
	}
	return content, nil
}

// PostProcessHTML sanitizes the rendered document.
func (f *SecurityFilter) PostProcessHTML(_ context.Context, html string, _ *entity.ParseContext) (string, error) {
	if !f.config.SanitizeHTML {
		return html, nil
	}
	return strings.TrimSpace(f.policy.Sanitize(html)), nil
}
