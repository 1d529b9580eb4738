package filters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// ErrValidationFailed is returned when FailOnValidationError is set and a
// rule of error severity fails.
var ErrValidationFailed = errors.New("content validation failed")

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one failed validation rule.
type Issue struct {
	Rule     string
	Message  string
	Severity Severity
}

// ValidationReport collects the issues found in one document.
type ValidationReport struct {
	Issues []Issue
}

// Errors returns the issues of error severity.
func (r ValidationReport) Errors() []Issue {
	return lo.Filter(r.Issues, func(i Issue, _ int) bool { return i.Severity == SeverityError })
}

// Warnings returns the issues of warning severity.
func (r ValidationReport) Warnings() []Issue {
	return lo.Filter(r.Issues, func(i Issue, _ int) bool { return i.Severity == SeverityWarning })
}

// Valid reports whether no error was found.
func (r ValidationReport) Valid() bool { return len(r.Errors()) == 0 }

var (
	commentPattern      = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagPattern          = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)(\s[^<>]*?)?(/?)>`)
	markdownLinkPattern = regexp.MustCompile(`(^|[^!])\[([^\]]*)\]\(\s*\)`)
	markdownImgPattern  = regexp.MustCompile(`!\[\s*\]\([^)]+\)`)
	voidElements        = []string{"area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta", "source", "track", "wbr"}
	safeLinkSchemes     = []string{"", "http", "https", "mailto", "ftp"}
)

// ValidationFilter checks document structure and reports problems as
// trailing comments. It never changes the document body.
type ValidationFilter struct {
	config value.ValidationConfig
	logger *zap.Logger
}

// NewValidationFilter creates the validation filter.
func NewValidationFilter(config value.ValidationConfig, logger *zap.Logger) *ValidationFilter {
	return &ValidationFilter{config: config, logger: logger}
}

// Process validates content and appends the report.
func (f *ValidationFilter) Process(_ context.Context, content string, pctx *entity.ParseContext) (string, error) {
	report := f.Validate(content)
	if len(report.Issues) == 0 {
		return content, nil
	}

	errs := report.Errors()
	f.logger.Debug("validation issues",
		zap.String("filter", ValidationFilterID),
		zap.String("page", pctx.PageName()),
		zap.Int("errors", len(errs)),
		zap.Int("warnings", len(report.Issues)-len(errs)))

	if len(errs) > 0 {
		if n := pctx.Services().Notifier; n != nil {
			n.AddNotification(provider.Notification{
				Type:     "validation",
				Title:    "Content Validation Errors: " + pctx.PageName(),
				Message:  fmt.Sprintf("%d validation errors found", len(errs)),
				Priority: "medium",
				Source:   ValidationFilterID,
			})
		}
		if f.config.FailOnValidationError {
			return content, fmt.Errorf("%w: %s", ErrValidationFailed, errs[0].Message)
		}
	}

	if !f.config.ReportErrors {
		return content, nil
	}
	var b strings.Builder
	b.WriteString(content)
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "\n<!-- Validation %s [%s]: %s -->", issue.Severity, issue.Rule,
			strings.ReplaceAll(issue.Message, "--", "- -"))
	}
	return b.String(), nil
}

// Validate runs every rule over content.
func (f *ValidationFilter) Validate(content string) ValidationReport {
	var report ValidationReport
	add := func(rule string, severity Severity, format string, args ...any) {
		report.Issues = append(report.Issues, Issue{Rule: rule, Severity: severity, Message: fmt.Sprintf(format, args...)})
	}

	if limit := f.config.MaxContentLength; limit > 0 && len(content) > limit {
		add("contentLength", SeverityError, "Content exceeds maximum length: %d/%d", len(content), limit)
	}
	if limit := f.config.MaxLineLength; limit > 0 {
		for i, line := range strings.Split(content, "\n") {
			if len(line) > limit {
				add("lineLength", SeverityWarning, "Line %d exceeds maximum length: %d/%d", i+1, len(line), limit)
				break
			}
		}
	}

	text := content
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err == nil {
		text = doc.Text()
	}
	if words := len(strings.Fields(text)); words < f.config.MinWordCount {
		add("wordCount", SeverityWarning, "Content has too few words: %d/%d", words, f.config.MinWordCount)
	}

	for _, msg := range markupProblems(content) {
		add("markupSyntax", SeverityError, "%s", msg)
	}

	if doc != nil {
		doc.Find("a").Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			switch {
			case !ok && s.AttrOr("name", "") == "" && s.AttrOr("id", "") == "":
				add("links", SeverityWarning, "Link without href: %q", strings.TrimSpace(s.Text()))
			case ok && strings.TrimSpace(href) == "":
				add("links", SeverityWarning, "Link with empty href: %q", strings.TrimSpace(s.Text()))
			case ok && !safeHref(href):
				add("links", SeverityWarning, "Unsafe link target: %s", href)
			}
		})
		doc.Find("img").Each(func(_ int, s *goquery.Selection) {
			if strings.TrimSpace(s.AttrOr("alt", "")) == "" {
				add("images", SeverityWarning, "Image without alt text: %s", s.AttrOr("src", ""))
			}
		})
	}
	for _, m := range markdownLinkPattern.FindAllStringSubmatch(content, -1) {
		add("links", SeverityWarning, "Link with empty href: %q", m[2])
	}
	for _, m := range markdownImgPattern.FindAllString(content, -1) {
		add("images", SeverityWarning, "Image without alt text: %s", m)
	}
	return report
}

func safeHref(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	return lo.Contains(safeLinkSchemes, strings.ToLower(u.Scheme))
}

// markupProblems finds unbalanced wiki delimiters and HTML tags.
func markupProblems(content string) []string {
	content = commentPattern.ReplaceAllString(content, "")
	var problems []string

	if open, closed := strings.Count(content, "[{"), strings.Count(content, "}]"); open != closed {
		problems = append(problems, fmt.Sprintf("Unbalanced plugin brackets: %d [{ and %d }]", open, closed))
	}
	if open, closed := strings.Count(content, "%%"), strings.Count(content, "/%"); open != closed {
		problems = append(problems, fmt.Sprintf("Unbalanced style blocks: %d %%%% and %d /%%", open, closed))
	}

	var stack []string
	for _, m := range tagPattern.FindAllStringSubmatch(content, -1) {
		name := strings.ToLower(m[2])
		if m[4] == "/" || lo.Contains(voidElements, name) {
			continue
		}
		if m[1] == "" {
			stack = append(stack, name)
			continue
		}
		i := lo.LastIndexOf(stack, name)
		if i < 0 {
			problems = append(problems, fmt.Sprintf("Unexpected closing tag: </%s>", name))
			continue
		}
		for _, unclosed := range stack[i+1:] {
			problems = append(problems, fmt.Sprintf("Unclosed HTML tag: <%s>", unclosed))
		}
		stack = stack[:i]
	}
	for _, unclosed := range stack {
		problems = append(problems, fmt.Sprintf("Unclosed HTML tag: <%s>", unclosed))
	}
	return problems
}
