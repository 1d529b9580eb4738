package filters

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

const defaultSpamThreshold = 50

var (
	linkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`),
		regexp.MustCompile(`https?://[^\s]+`),
		regexp.MustCompile(`(?i)<a\s+[^>]*href`),
		regexp.MustCompile(`\[[^\]]+\]`),
	}
	imagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`),
		regexp.MustCompile(`(?i)<img\s+[^>]*src`),
		regexp.MustCompile(`(?i)\[\{Image\s+[^}]+\}\]`),
	}
	domainPattern = regexp.MustCompile(`(?i)https?://([^/\s"'<>?#:]+)`)
)

// SpamAnalysis is the scored verdict for one document.
type SpamAnalysis struct {
	Score             int
	Threshold         int
	Reasons           []string
	LinkCount         int
	ImageCount        int
	Blacklisted       []string
	SuspiciousDomains []string
}

// IsSpam reports whether the score reached the threshold.
func (a SpamAnalysis) IsSpam() bool { return a.Score >= a.Threshold }

// SpamFilter scores documents on link density, blacklisted words and
// unknown external domains. Spam is flagged with a comment or, with
// AutoBlock, replaced by one.
type SpamFilter struct {
	config    value.SpamConfig
	whitelist []glob.Glob
	logger    *zap.Logger
}

// NewSpamFilter creates the spam filter. Whitelist entries are glob
// patterns such as *.wikipedia.org; invalid ones are logged and skipped.
func NewSpamFilter(config value.SpamConfig, logger *zap.Logger) *SpamFilter {
	f := &SpamFilter{config: config, logger: logger}
	for _, pattern := range config.Whitelist {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			logger.Warn("invalid whitelist pattern", zap.String("filter", SpamFilterID), zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		f.whitelist = append(f.whitelist, g)
	}
	return f
}

// Process flags or blocks spam.
func (f *SpamFilter) Process(_ context.Context, content string, pctx *entity.ParseContext) (string, error) {
	analysis := f.Analyze(content)
	if !analysis.IsSpam() {
		return content, nil
	}

	reasons := strings.ReplaceAll(strings.Join(analysis.Reasons, ", "), "--", "- -")
	f.logger.Warn("spam detected",
		zap.String("filter", SpamFilterID),
		zap.String("page", pctx.PageName()),
		zap.String("user", pctx.UserName()),
		zap.Int("score", analysis.Score),
		zap.Strings("reasons", analysis.Reasons))

	if f.config.AutoBlock {
		return fmt.Sprintf("<!-- SPAM BLOCKED: %s -->", reasons), nil
	}
	return fmt.Sprintf("<!-- SPAM WARNING: %s -->\n%s", reasons, content), nil
}

// Analyze scores content without changing it.
func (f *SpamFilter) Analyze(content string) SpamAnalysis {
	a := SpamAnalysis{Threshold: f.config.Threshold}
	if a.Threshold <= 0 {
		a.Threshold = defaultSpamThreshold
	}

	a.LinkCount = countMatches(content, linkPatterns)
	if a.LinkCount > f.config.MaxLinks {
		a.Reasons = append(a.Reasons, fmt.Sprintf("Too many links: %d/%d", a.LinkCount, f.config.MaxLinks))
		a.Score += 30
	}

	a.ImageCount = countMatches(content, imagePatterns)
	if a.ImageCount > f.config.MaxImages {
		a.Reasons = append(a.Reasons, fmt.Sprintf("Too many images: %d/%d", a.ImageCount, f.config.MaxImages))
		a.Score += 20
	}

	lower := strings.ToLower(content)
	a.Blacklisted = lo.Filter(f.config.Blacklist, func(word string, _ int) bool {
		return word != "" && strings.Contains(lower, strings.ToLower(word))
	})
	if len(a.Blacklisted) > 0 {
		a.Reasons = append(a.Reasons, "Blacklisted words: "+strings.Join(a.Blacklisted, ", "))
		a.Score += 25 * len(a.Blacklisted)
	}

	if len(content) < f.config.MinContentLength {
		a.Reasons = append(a.Reasons, fmt.Sprintf("Content too short: %d characters", len(content)))
		a.Score += 15
	}

	a.SuspiciousDomains = f.suspiciousDomains(content)
	if len(a.SuspiciousDomains) > 0 {
		a.Reasons = append(a.Reasons, "Suspicious domains: "+strings.Join(a.SuspiciousDomains, ", "))
		a.Score += 20 * len(a.SuspiciousDomains)
	}
	return a
}

func countMatches(content string, patterns []*regexp.Regexp) int {
	return lo.SumBy(patterns, func(p *regexp.Regexp) int {
		return len(p.FindAllStringIndex(content, -1))
	})
}

func (f *SpamFilter) suspiciousDomains(content string) []string {
	var domains []string
	for _, m := range domainPattern.FindAllStringSubmatch(content, -1) {
		domains = append(domains, strings.ToLower(m[1]))
	}
	return lo.Filter(lo.Uniq(domains), func(domain string, _ int) bool {
		return !f.Whitelisted(domain)
	})
}

// Whitelisted reports whether domain matches a whitelist pattern.
func (f *SpamFilter) Whitelisted(domain string) bool {
	domain = strings.ToLower(domain)
	return lo.SomeBy(f.whitelist, func(g glob.Glob) bool { return g.Match(domain) })
}
