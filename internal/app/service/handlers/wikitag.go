package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

var (
	wikiTagPattern   = regexp.MustCompile(`<wiki:(\w+)([^>]*?)(/?)>`)
	conditionSplit   = regexp.MustCompile(`\s*(&&|\|\|)\s*`)
	comparePattern   = regexp.MustCompile(`^\$(\w+)\s*(==|!=)\s*(?:"([^"]*)"|'([^']*)'|(\S+))$`)
	headingPattern   = regexp.MustCompile(`^(#{1,6}|!{1,3})\s*(.+?)\s*#*$`)
	errNoPageStore   = errors.New("page store not available")
)

// WikiTagHandler renders <wiki:If>, <wiki:Include> and <wiki:UserCheck>.
type WikiTagHandler struct {
	env Env
	id  string
}

// NewWikiTagHandler creates the wiki tag processor.
func NewWikiTagHandler(env Env) *WikiTagHandler {
	return &WikiTagHandler{env: env, id: value.KindWikiTag.HandlerID()}
}

// Pattern matches an opening or self-closing tag.
func (h *WikiTagHandler) Pattern() *regexp.Regexp { return wikiTagPattern }

// Process renders every wiki tag in content. A tag without its closing
// counterpart is left as it is.
func (h *WikiTagHandler) Process(ctx context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "<wiki:") {
		return content
	}
	return value.Splice(content, h.findMatches(content), func(m value.Match) string {
		out, err := h.handle(ctx, m, pctx)
		if err != nil {
			h.env.logger().Warn("wiki tag failed",
				zap.String("handler", h.id),
				zap.String("tag", m.Name),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
			return comment("WikiTag Error: %s - %s", m.Name, err)
		}
		return out
	})
}

func (h *WikiTagHandler) findMatches(content string) []value.Match {
	var matches []value.Match
	offset := 0
	for offset < len(content) {
		loc := wikiTagPattern.FindStringSubmatchIndex(content[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[0], offset+loc[1]
		m := value.Match{
			Name:   content[offset+loc[2] : offset+loc[3]],
			Params: content[offset+loc[4] : offset+loc[5]],
			Start:  start,
			End:    end,
		}
		if loc[7] > loc[6] {
			m.Text = content[start:end]
			matches = append(matches, m)
			offset = end
			continue
		}

		name := regexp.QuoteMeta(m.Name)
		pair, err := h.env.compile(`<wiki:` + name + `\b[^>]*?>|</wiki:` + name + `>`)
		if err != nil {
			offset = end
			continue
		}
		closeStart, closeEnd := findClosing(content, end, pair, func(tag string) int {
			switch {
			case strings.HasPrefix(tag, "</"):
				return -1
			case strings.HasSuffix(tag, "/>"):
				return 0
			default:
				return 1
			}
		})
		if closeStart < 0 {
			offset = end
			continue
		}
		m.Body = content[end:closeStart]
		m.HasBody = true
		m.End = closeEnd
		m.Text = content[start:closeEnd]
		matches = append(matches, m)
		offset = closeEnd
	}
	return matches
}

func (h *WikiTagHandler) handle(ctx context.Context, m value.Match, pctx *entity.ParseContext) (string, error) {
	attrs := parseAttributes(m.Params)
	switch m.Name {
	case "If":
		return h.handleIf(ctx, attrs, m.Body, pctx)
	case "Include":
		return h.handleInclude(ctx, attrs, pctx)
	case "UserCheck":
		return h.handleUserCheck(ctx, attrs, m.Body, pctx)
	default:
		return "", fmt.Errorf("Unsupported WikiTag: %s", m.Name)
	}
}

func (h *WikiTagHandler) handleIf(ctx context.Context, attrs map[string]string, body string, pctx *entity.ParseContext) (string, error) {
	test, ok := attrs["test"]
	if !ok {
		return "", errors.New(`wiki:If tag requires "test" attribute`)
	}
	if !h.evaluate(ctx, test, pctx) {
		return "", nil
	}
	return h.env.renderNested(ctx, body, pctx.Clone(entity.CloneOptions{Content: body}))
}

// evaluate chains && and || strictly left to right: "a || b && c" is
// "(a || b) && c". Terms that cannot change the result are not evaluated.
func (h *WikiTagHandler) evaluate(ctx context.Context, test string, pctx *entity.ParseContext) bool {
	test = strings.TrimSpace(test)
	terms := conditionSplit.Split(test, -1)
	ops := conditionSplit.FindAllStringSubmatch(test, -1)

	result := h.term(ctx, terms[0], pctx)
	for i, op := range ops {
		switch op[1] {
		case "&&":
			if result {
				result = h.term(ctx, terms[i+1], pctx)
			}
		case "||":
			if !result {
				result = h.term(ctx, terms[i+1], pctx)
			}
		}
	}
	return result
}

func (h *WikiTagHandler) term(ctx context.Context, term string, pctx *entity.ParseContext) bool {
	term = strings.TrimSpace(term)
	if rest, ok := strings.CutPrefix(term, "!"); ok && !strings.HasPrefix(rest, "=") {
		return !h.term(ctx, rest, pctx)
	}

	switch strings.ToLower(term) {
	case "true":
		return true
	case "false", "":
		return false
	case "authenticated":
		return pctx.IsAuthenticated()
	case "anonymous":
		return !pctx.IsAuthenticated()
	}

	if perm, ok := strings.CutPrefix(term, "hasPermission:"); ok {
		return pctx.HasPermission(ctx, strings.TrimSpace(perm), pctx.PageName())
	}
	if role, ok := strings.CutPrefix(term, "hasRole:"); ok {
		return pctx.HasRole(strings.TrimSpace(role))
	}
	if page, ok := strings.CutPrefix(term, "exists:"); ok {
		store := pctx.Services().Pages
		if store == nil {
			return false
		}
		p, err := store.GetPage(ctx, strings.TrimSpace(page))
		return err == nil && p != nil
	}
	if m := comparePattern.FindStringSubmatch(term); m != nil {
		want := m[3] + m[4] + m[5]
		got, _ := lookupVariable(ctx, h.env, m[1], pctx)
		if m[2] == "==" {
			return got == want
		}
		return got != want
	}

	h.env.logger().Debug("unknown wiki:If condition", zap.String("condition", term))
	return false
}

func (h *WikiTagHandler) handleInclude(ctx context.Context, attrs map[string]string, pctx *entity.ParseContext) (string, error) {
	page := strings.TrimSpace(attrs["page"])
	if page == "" {
		return "", errors.New(`wiki:Include tag requires "page" attribute`)
	}

	stack := pctx.InclusionStack()
	if page == pctx.PageName() || containsFold(stack, page) {
		return "", fmt.Errorf("%w for page: %s", ErrRecursiveInclude, page)
	}

	if !h.canRead(ctx, page, pctx) {
		return "", fmt.Errorf("Access denied to page: %s", page)
	}

	store := pctx.Services().Pages
	if store == nil {
		return "", errNoPageStore
	}
	p, err := store.GetPage(ctx, page)
	if err != nil {
		return "", fmt.Errorf("failed to load page %s: %w", page, err)
	}
	if p == nil {
		return comment("Page not found: %s", page), nil
	}

	content := p.Content
	if section := strings.TrimSpace(attrs["section"]); section != "" {
		var found bool
		if content, found = extractSection(content, section); !found {
			return comment("Section %q not found", section), nil
		}
	}

	child := pctx.Clone(entity.CloneOptions{Content: content, PageName: page, Include: page})
	return h.env.renderNested(ctx, content, child)
}

// canRead asks the policy when there is one. Without a policy, anonymous
// users are denied and authenticated users need the read permission.
func (h *WikiTagHandler) canRead(ctx context.Context, page string, pctx *entity.ParseContext) bool {
	if policy := pctx.Services().Policy; policy != nil {
		ok, err := policy.CheckPermission(ctx, pctx.User(), "read", page)
		if err != nil {
			h.env.logger().Warn("permission check failed", zap.String("page", page), zap.Error(err))
			return false
		}
		return ok
	}
	if !pctx.IsAuthenticated() {
		return false
	}
	return pctx.HasPermission(ctx, "read", page)
}

// extractSection returns the lines from the heading named section up to the
// next heading of the same or a higher level. Headings match
// case-insensitively; both # and ! heading styles are recognized.
func extractSection(content, section string) (string, bool) {
	lines := strings.Split(content, "\n")
	start, level := -1, 0
	for i, line := range lines {
		m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		l := headingLevel(m[1])
		if start < 0 {
			if strings.EqualFold(m[2], section) {
				start, level = i, l
			}
			continue
		}
		if l <= level {
			return strings.Join(lines[start:i], "\n"), true
		}
	}
	if start < 0 {
		return "", false
	}
	return strings.Join(lines[start:], "\n"), true
}

// headingLevel maps "#".."######" to 1..6 and "!!!", "!!", "!" to 1, 2, 3.
func headingLevel(marker string) int {
	if strings.HasPrefix(marker, "!") {
		return 4 - len(marker)
	}
	return len(marker)
}

func (h *WikiTagHandler) handleUserCheck(ctx context.Context, attrs map[string]string, body string, pctx *entity.ParseContext) (string, error) {
	if status, ok := attrs["status"]; ok {
		switch strings.ToLower(status) {
		case "authenticated", "known":
			if !pctx.IsAuthenticated() {
				return "", nil
			}
		case "anonymous", "unknown":
			if pctx.IsAuthenticated() {
				return "", nil
			}
		default:
			return "", fmt.Errorf("unknown status %q", status)
		}
	}
	if role, ok := attrs["role"]; ok && !pctx.HasRole(role) {
		return "", nil
	}
	if group, ok := attrs["group"]; ok && !pctx.HasRole(group) {
		return "", nil
	}
	if user, ok := attrs["user"]; ok && (!pctx.IsAuthenticated() || pctx.UserName() != user) {
		return "", nil
	}
	return h.env.renderNested(ctx, body, pctx.Clone(entity.CloneOptions{Content: body}))
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
