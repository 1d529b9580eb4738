package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

const maxStylePasses = 20

var (
	stylePattern      = regexp.MustCompile(`%%(\([^)]*\)|[^%\s]+)\s+((?:[^%]|%[^%])*?)\s*/%`)
	classNamePattern  = regexp.MustCompile(`^[a-zA-Z][\w-]*$`)
	dangerousClass    = regexp.MustCompile(`(?i)[<>]|javascript:|on\w+=|style\s*=|expression`)
	dangerousCSSValue = regexp.MustCompile(`(?i)javascript:|expression\s*\(|url\s*\(|@import|behavior\s*:|-moz-binding`)
)

var predefinedClasses = []string{
	"text-primary", "text-secondary", "text-success", "text-danger", "text-warning", "text-info",
	"text-muted", "text-white", "text-dark",
	"bg-primary", "bg-secondary", "bg-success", "bg-danger", "bg-warning", "bg-info",
	"bg-light", "bg-dark", "bg-white",
	"text-center", "text-left", "text-right", "text-justify",
	"float-left", "float-right", "clearfix",
	"fw-bold", "fw-normal", "fw-light", "fst-italic", "fst-normal",
	"text-decoration-underline", "text-decoration-line-through",
	"sortable", "table-filter", "zebra-table", "table-striped", "table-hover",
	"table-fit", "table-bordered", "table-sm", "table-responsive",
	"collapse", "collapsebox", "columns", "quote", "information", "warning", "error",
	"commentbox", "ltr", "rtl", "small", "sub", "sup", "strike", "center",
}

var blockClasses = []string{
	"information", "warning", "error", "quote", "commentbox",
	"collapse", "collapsebox", "columns", "center",
	"sortable", "table-filter", "zebra-table", "table-striped", "table-hover",
	"table-fit", "table-bordered", "table-sm", "table-responsive",
}

var allowedCSSProperties = []string{
	"color", "background-color", "font-weight", "font-style", "text-align", "text-decoration",
}

// StyleHandler renders %%class content /% and %%(prop:value) content /% blocks.
// Nested blocks are rendered innermost first. Unknown classes are dropped.
type StyleHandler struct {
	env     Env
	id      string
	classes map[string]bool
}

// NewStyleHandler creates the style processor.
func NewStyleHandler(env Env) *StyleHandler {
	classes := make(map[string]bool, len(predefinedClasses))
	for _, c := range predefinedClasses {
		classes[c] = true
	}
	for _, c := range env.Config.Style.CustomClasses {
		if classNamePattern.MatchString(c) && !dangerousClass.MatchString(c) {
			classes[c] = true
		}
	}
	return &StyleHandler{env: env, id: value.KindStyle.HandlerID(), classes: classes}
}

// Pattern matches one style block.
func (h *StyleHandler) Pattern() *regexp.Regexp { return stylePattern }

// Process renders style blocks until none remain or the pass limit is reached.
func (h *StyleHandler) Process(_ context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "%%") {
		return content
	}
	for pass := 0; pass < maxStylePasses; pass++ {
		locs := stylePattern.FindAllStringSubmatchIndex(content, -1)
		if len(locs) == 0 {
			return content
		}
		matches := make([]value.Match, 0, len(locs))
		for _, loc := range locs {
			matches = append(matches, value.Match{
				Text:   content[loc[0]:loc[1]],
				Params: content[loc[2]:loc[3]],
				Body:   content[loc[4]:loc[5]],
				Start:  loc[0],
				End:    loc[1],
			})
		}
		changed := false
		content = value.Splice(content, matches, func(m value.Match) string {
			out, err := h.handle(m)
			if err != nil {
				h.env.logger().Warn("style block failed",
					zap.String("handler", h.id),
					zap.String("page", pctx.PageName()),
					zap.Error(err))
				out = comment("WikiStyle Error: %s", err) + m.Body
			}
			if out != m.Text {
				changed = true
			}
			return out
		})
		if !changed {
			return content
		}
	}
	h.env.logger().Warn("style pass limit reached", zap.String("page", pctx.PageName()), zap.Int("passes", maxStylePasses))
	return content
}

func (h *StyleHandler) handle(m value.Match) (string, error) {
	info := strings.TrimSpace(m.Params)
	if strings.HasPrefix(info, "(") {
		return h.inlineStyle(info, m.Body)
	}
	return h.classStyle(info, m.Body), nil
}

func (h *StyleHandler) classStyle(info, body string) string {
	valid := lo.Filter(strings.Fields(info), func(c string, _ int) bool {
		if dangerousClass.MatchString(c) {
			return false
		}
		return h.classes[c]
	})
	if len(valid) == 0 {
		return body
	}
	class := escape(strings.Join(valid, " "))
	if strings.Contains(body, "\n") || lo.Some(valid, blockClasses) {
		return fmt.Sprintf(`<div class="%s">%s</div>`, class, body)
	}
	return fmt.Sprintf(`<span class="%s">%s</span>`, class, body)
}

func (h *StyleHandler) inlineStyle(info, body string) (string, error) {
	if !h.env.Config.Style.AllowInlineCSS {
		return body, nil
	}
	if !strings.HasSuffix(info, ")") {
		return "", errors.New("invalid inline style format, expected: (property:value)")
	}

	var declarations []string
	for _, decl := range strings.Split(info[1:len(info)-1], ";") {
		prop, val, ok := strings.Cut(decl, ":")
		prop, val = strings.ToLower(strings.TrimSpace(prop)), strings.TrimSpace(val)
		if !ok || prop == "" || val == "" {
			continue
		}
		if !lo.Contains(allowedCSSProperties, prop) || dangerousCSSValue.MatchString(val) {
			h.env.logger().Debug("css declaration rejected", zap.String("property", prop))
			continue
		}
		declarations = append(declarations, prop+": "+val)
	}
	if len(declarations) == 0 {
		return body, nil
	}
	return fmt.Sprintf(`<span style="%s">%s</span>`, escape(strings.Join(declarations, "; ")), body), nil
}
