package preparse

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// Link classes, as JSPWiki themes expect them.
const (
	ClassWikiPage   = "wikipage"
	ClassCreatePage = "createpage"
)

var (
	wikiLink     = regexp.MustCompile(`\[([^\[\]{}|\n]+)(?:\|([^\[\]{}|\n]+))?\]`)
	linkTarget   = regexp.MustCompile(`^[\pL\pN][\pL\pN _.-]*$`)
	numericLink  = regexp.MustCompile(`^\d+$`)
	listItemHead = regexp.MustCompile(`^[ \t]*(?:[-*+]|\d+[.)])[ \t]+$`)
)

// Link is one [Page] or [Text|Page] reference in a document.
type Link struct {
	Text   string
	Target string
	Start  int
	End    int
}

// FindLinks returns the wiki links in content in order. Markdown links,
// reference definitions, footnotes, inter-wiki links and task list
// checkboxes are not wiki links.
func FindLinks(content string) []Link {
	var links []Link
	for _, loc := range wikiLink.FindAllStringSubmatchIndex(content, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && strings.IndexByte("[]!", content[start-1]) >= 0 {
			continue
		}
		if end < len(content) && strings.IndexByte("([:", content[end]) >= 0 {
			continue
		}

		first := strings.TrimSpace(content[loc[2]:loc[3]])
		if strings.Contains(first, ":") {
			continue
		}
		l := Link{Text: first, Target: first, Start: start, End: end}
		if loc[4] >= 0 {
			l.Target = strings.TrimSpace(content[loc[4]:loc[5]])
		}
		if !linkTarget.MatchString(l.Target) || strings.Contains(l.Target, "..") || numericLink.MatchString(l.Target) {
			continue
		}
		if isTaskBox(content, start, l.Target) {
			continue
		}
		links = append(links, l)
	}
	return links
}

func isTaskBox(content string, start int, target string) bool {
	if target != "x" && target != "X" {
		return false
	}
	lineStart := strings.LastIndexByte(content[:start], '\n') + 1
	return listItemHead.MatchString(content[lineStart:start])
}

// LinkTargets lists the unique link targets of raw page content, sorted.
// Links inside code and escapes are ignored.
func LinkTargets(content string) []string {
	for _, re := range []*regexp.Regexp{fencedBacktick, fencedTilde, inlineCode, escapeSpan} {
		content = re.ReplaceAllString(content, "")
	}
	targets := lo.Uniq(lo.Map(FindLinks(content), func(l Link, _ int) string { return l.Target }))
	sort.Strings(targets)
	return targets
}

// renderLinks turns wiki links into anchors. Targets unknown to the page
// store get the create-page class. At the top level the targets are handed
// to the link graph when it records links.
func (p *Preparser) renderLinks(ctx context.Context, content string, pctx *entity.ParseContext) string {
	links := FindLinks(content)
	if len(links) == 0 {
		return content
	}
	services := pctx.Services()

	exists := make(map[string]bool)
	var b strings.Builder
	last := 0
	for _, l := range links {
		found, seen := exists[l.Target]
		if !seen {
			found = p.pageExists(ctx, services.Pages, l.Target, pctx)
			exists[l.Target] = found
		}
		b.WriteString(content[last:l.Start])
		b.WriteString(p.anchor(l, found))
		last = l.End
	}
	b.WriteString(content[last:])

	if pctx.Depth() == 0 {
		if recorder, ok := services.Links.(provider.LinkRecorder); ok {
			targets := lo.Keys(exists)
			sort.Strings(targets)
			recorder.RecordLinks(pctx.PageName(), targets)
		}
	}
	return b.String()
}

// pageExists treats every page as present when no store is configured or
// the lookup fails.
func (p *Preparser) pageExists(ctx context.Context, pages provider.PageStore, name string, pctx *entity.ParseContext) bool {
	if pages == nil {
		return true
	}
	page, err := pages.GetPage(ctx, name)
	if err != nil {
		p.logger.Warn("page lookup failed",
			zap.String("page", pctx.PageName()),
			zap.String("target", name),
			zap.Error(err))
		return true
	}
	return page != nil
}

func (p *Preparser) anchor(l Link, exists bool) string {
	href := html.EscapeString(fmt.Sprintf(p.pageURL, url.PathEscape(l.Target)))
	text := html.EscapeString(l.Text)
	if exists {
		return fmt.Sprintf(`<a href="%s" class="%s">%s</a>`, href, ClassWikiPage, text)
	}
	return fmt.Sprintf(`<a href="%s" class="%s" title="Create page %s">%s</a>`,
		href, ClassCreatePage, html.EscapeString(l.Target), text)
}
