// Package handlers holds the syntax processors of the markup pipeline, one
// per handler kind. Processors never fail: an error at a match is rendered as
// an HTML comment in place of that match.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/app/service/cache"
	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// MaxNestingDepth bounds recursive rendering through If, UserCheck and Include.
const MaxNestingDepth = 16

// TimeBucket is the width of the time window folded into context hashes.
const TimeBucket = 5 * time.Minute

var (
	// ErrRecursiveInclude is returned when a page includes itself.
	ErrRecursiveInclude = errors.New("Recursive inclusion detected")
	// ErrNestingTooDeep is returned past MaxNestingDepth nested renders.
	ErrNestingTooDeep = errors.New("maximum nesting depth exceeded")
)

// Recognizer is a processor with the pattern it is registered under.
type Recognizer interface {
	entity.Processor
	Pattern() *regexp.Regexp
}

// Initializer is implemented by processors that load configuration or
// resources before their first use.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Renderer runs nested markup back through the pipeline.
type Renderer interface {
	provider.Renderer
	RenderNested(ctx context.Context, content string, pctx *entity.ParseContext) (string, error)
}

// ResultCache is a cache region as seen by a processor. Implementations
// swallow backend errors and report them as misses.
type ResultCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Env carries what processors need from the pipeline that owns them.
type Env struct {
	Config value.MarkupConfig
	Logger *zap.Logger

	// Results is the handlerResults region, Variables the variables region.
	// Either may be nil.
	Results   ResultCache
	Variables ResultCache

	// Patterns caches compiled closing-tag expressions.
	Patterns   *cache.Memory[*regexp.Regexp]
	PatternTTL time.Duration

	Renderer Renderer
	Version  string
	Now      func() time.Time
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// compile returns the expression for expr, through the pattern cache when
// one is configured.
func (e Env) compile(expr string) (*regexp.Regexp, error) {
	if e.Patterns != nil {
		if re, ok := e.Patterns.Load(expr); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if e.Patterns != nil {
		e.Patterns.Store(expr, re, e.PatternTTL)
	}
	return re, nil
}

// renderNested renders content for child, a context derived from the
// current one.
func (e Env) renderNested(ctx context.Context, content string, child *entity.ParseContext) (string, error) {
	if child.Depth() > MaxNestingDepth {
		return "", fmt.Errorf("%w (%d)", ErrNestingTooDeep, MaxNestingDepth)
	}
	if e.Renderer == nil || content == "" {
		return content, nil
	}
	return e.Renderer.RenderNested(ctx, content, child)
}

// ContextHash identifies the parts of a context that change handler output:
// page, user, authentication, roles and the current time bucket.
func ContextHash(pctx *entity.ParseContext, now time.Time) string {
	return utils.HashValue(struct {
		Page          string   `json:"page"`
		User          string   `json:"user"`
		Authenticated bool     `json:"authenticated"`
		Roles         []string `json:"roles"`
		Bucket        int64    `json:"bucket"`
	}{
		Page:          pctx.PageName(),
		User:          pctx.UserName(),
		Authenticated: pctx.IsAuthenticated(),
		Roles:         pctx.UserRoles(),
		Bucket:        now.Unix() / int64(TimeBucket/time.Second),
	})
}

// ResultKey is the cache key of one handler result.
func ResultKey(handlerID, contentHash, contextHash string) string {
	return handlerID + ":" + contentHash + ":" + contextHash
}

// comment renders an HTML comment that cannot terminate early.
func comment(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	msg = strings.ReplaceAll(msg, "--", "- -")
	return "<!-- " + msg + " -->"
}

var escape = html.EscapeString

// findClosing scans content from offset for the tag that balances an already
// consumed opener. step classifies each tag found by pair: +1 opens, -1 closes,
// 0 is neutral. It returns the closing tag's span, or -1, -1.
func findClosing(content string, offset int, pair *regexp.Regexp, step func(tag string) int) (int, int) {
	depth := 1
	for _, loc := range pair.FindAllStringIndex(content[offset:], -1) {
		start, end := offset+loc[0], offset+loc[1]
		depth += step(content[start:end])
		if depth == 0 {
			return start, end
		}
	}
	return -1, -1
}

var attributePattern = regexp.MustCompile(`([\w:-]+)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// parseAttributes reads name="value" pairs from a tag.
func parseAttributes(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attributePattern.FindAllStringSubmatch(raw, -1) {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		attrs[m[1]] = v
	}
	return attrs
}
