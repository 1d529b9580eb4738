package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/gowikimark/gowikimark/internal/app/service/cache"
	"github.com/gowikimark/gowikimark/internal/app/service/filters"
	"github.com/gowikimark/gowikimark/internal/app/service/handlers"
	"github.com/gowikimark/gowikimark/internal/app/service/markdown"
	"github.com/gowikimark/gowikimark/internal/app/service/preparse"
	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// Phase names, in execution order.
const (
	PhaseDOMPreparse           = "dom-preparse"
	PhasePreprocessing         = "preprocessing"
	PhaseSyntaxRecognition     = "syntax-recognition"
	PhaseContextResolution     = "context-resolution"
	PhaseContentTransformation = "content-transformation"
	PhaseFilterPipeline        = "filter-pipeline"
	PhaseMarkdownConversion    = "markdown-conversion"
	PhasePostProcessing        = "post-processing"
)

// MonitorSource names the parser in notifications.
const MonitorSource = "MarkupParser"

// ErrParserClosed is returned by Render after Shutdown.
var ErrParserClosed = errors.New("markup parser is shut down")

// DOMPreparser isolates escaped spans and normalizes primitive markup before
// the syntax handlers run.
type DOMPreparser interface {
	Preparse(ctx context.Context, content string, pctx *entity.ParseContext) (string, error)
}

// MarkdownConverter renders the transformed document to HTML.
type MarkdownConverter interface {
	Convert(ctx context.Context, content string) (markdown.Document, error)
}

// ParseResult is the outcome of one Render call.
type ParseResult struct {
	HTML        string
	CacheHit    bool
	Shared      bool
	Duration    time.Duration
	Phases      map[string]time.Duration
	FrontMatter map[string]any
}

// ParserOption customizes a MarkupParser.
type ParserOption func(*MarkupParser)

// WithServices sets the default collaborators for every parse.
func WithServices(s provider.Services) ParserOption {
	return func(p *MarkupParser) { p.services = s }
}

// WithPreparser replaces the built-in pre-parse stage. A nil preparser skips
// the phase.
func WithPreparser(d DOMPreparser) ParserOption {
	return func(p *MarkupParser) { p.preparser = d }
}

// WithConverter replaces the goldmark converter.
func WithConverter(c MarkdownConverter) ParserOption {
	return func(p *MarkupParser) { p.converter = c }
}

// WithCacheManager uses m for the cache regions. The parser does not close it.
func WithCacheManager(m *cache.Manager) ParserOption {
	return func(p *MarkupParser) { p.cacheManager = m }
}

// WithClock sets the time source for cache buckets and the monitor.
func WithClock(now func() time.Time) ParserOption {
	return func(p *MarkupParser) { p.now = now }
}

// WithVersion sets the value of the [{$version}] variable.
func WithVersion(v string) ParserOption {
	return func(p *MarkupParser) { p.version = v }
}

type phase struct {
	name string
	run  func(ctx context.Context, content string, pctx *entity.ParseContext) (string, error)
}

// MarkupParser is the pipeline orchestrator. It is safe for concurrent use;
// each Render owns its ParseContext.
type MarkupParser struct {
	config   value.MarkupConfig
	services provider.Services
	logger   *zap.Logger
	version  string
	now      func() time.Time

	registry  *HandlerRegistry
	chain     *FilterChain
	monitor   *PerformanceMonitor
	preparser DOMPreparser
	converter MarkdownConverter

	cacheManager *cache.Manager
	ownsCache    bool
	regions      map[value.CacheRegion]*regionCache
	patterns     *cache.Memory[*regexp.Regexp]
	group        singleflight.Group

	phases         []phase
	fragmentPhases []phase

	parseCount     atomic.Int64
	errorCount     atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	totalParseTime atomic.Int64

	phaseMutex   sync.Mutex
	phaseTimings map[string]time.Duration

	closed atomic.Bool
}

// NewMarkupParser builds a parser for config, registers the built-in handlers
// and filters and, when configured, warms the caches.
func NewMarkupParser(ctx context.Context, config value.MarkupConfig, logger *zap.Logger, opts ...ParserOption) (*MarkupParser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &MarkupParser{
		config:       config,
		logger:       logger,
		version:      "dev",
		now:          time.Now,
		regions:      make(map[value.CacheRegion]*regionCache),
		phaseTimings: make(map[string]time.Duration),
	}
	p.preparser = preparse.New(logger, preparse.WithPageURL(config.Links.PageURL))
	for _, opt := range opts {
		opt(p)
	}
	if p.converter == nil {
		p.converter = markdown.NewConverter(config.Markdown, logger)
	}

	p.openCaches()
	p.registry = NewHandlerRegistry(config.Registry, logger)
	p.chain = NewFilterChain(config.Filters, p.services.Notifier, logger)
	p.monitor = p.newMonitor()
	p.phases = []phase{
		{PhaseDOMPreparse, p.domPreparse},
		{PhasePreprocessing, p.preprocess},
		{PhaseSyntaxRecognition, p.recognizeSyntax},
		{PhaseContextResolution, p.resolveContext},
		{PhaseContentTransformation, p.transformContent},
		{PhaseFilterPipeline, p.runFilters},
		{PhaseMarkdownConversion, p.convertMarkdown},
		{PhasePostProcessing, p.postProcess},
	}
	p.fragmentPhases = []phase{
		{PhaseDOMPreparse, p.domPreparse},
		{PhaseSyntaxRecognition, p.recognizeSyntax},
		{PhaseContextResolution, p.resolveContext},
	}

	if err := p.registerHandlers(ctx); err != nil {
		p.closeCaches()
		return nil, err
	}
	fs, err := filters.Defaults(config, logger)
	if err != nil {
		p.closeCaches()
		return nil, err
	}
	for _, f := range fs {
		if err := p.chain.AddFilter(f); err != nil {
			p.closeCaches()
			return nil, fmt.Errorf("failed to add filter %s: %w", f.ID(), err)
		}
	}

	if config.Enabled && config.Caching && config.Cache.EnableWarmup {
		p.warmup(ctx)
	}

	logger.Debug("markup parser ready",
		zap.Int("handlers", p.registry.Len()),
		zap.Int("filters", len(p.chain.Filters())),
		zap.String("cache", p.cacheBackend()),
		zap.Bool("enabled", config.Enabled))
	return p, nil
}

func (p *MarkupParser) openCaches() {
	if !p.config.Caching {
		return
	}
	if p.cacheManager == nil {
		m, err := cache.NewManager(p.config.Cache, p.logger)
		if err != nil {
			p.logger.Warn("cache backend unavailable, using memory",
				zap.String("backend", p.config.Cache.Backend), zap.Error(err))
			fallback := p.config.Cache
			fallback.Backend = cache.BackendMemory
			m, _ = cache.NewManager(fallback, p.logger)
		}
		p.cacheManager = m
		p.ownsCache = true
	}
	counted := p.config.Cache.MetricsEnabled
	for _, r := range []value.CacheRegion{value.RegionParseResults, value.RegionHandlerResults, value.RegionVariables} {
		p.regions[r] = newRegionCache(r, p.cacheManager.Region(r), p.config.Region(r), counted, p.logger)
	}
	if rc := p.config.Region(value.RegionPatterns); rc.Enabled {
		p.patterns = cache.NewMemory[*regexp.Regexp](rc.MaxSize).WithClock(p.now)
	}
}

func (p *MarkupParser) closeCaches() {
	if p.ownsCache && p.cacheManager != nil {
		if err := p.cacheManager.Close(); err != nil {
			p.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
}

func (p *MarkupParser) cacheBackend() string {
	if p.cacheManager == nil {
		return "none"
	}
	return p.cacheManager.Backend()
}

// resultCache returns region r as a handler cache, or nil when disabled.
func (p *MarkupParser) resultCache(r value.CacheRegion) handlers.ResultCache {
	rc, ok := p.regions[r]
	if !ok || !rc.enabled {
		return nil
	}
	return rc
}

func (p *MarkupParser) newMonitor() *PerformanceMonitor {
	perf := p.config.Performance
	var rules []AlertRule
	if perf.Monitoring {
		rules = []AlertRule{
			SlowAverageRule(value.AlertSlowParsing, perf.ParseTimeThreshold),
			CacheHitRatioRule(value.AlertLowCacheHitRatio, perf.CacheHitRatioThreshold, perf.MinCacheSamples),
			ErrorRateRule(value.AlertHighErrorRate, perf.ErrorRateThreshold),
		}
	}
	return NewPerformanceMonitor(MonitorConfig{
		Source:        MonitorSource,
		TitlePrefix:   MonitorSource + " Performance Alert",
		MaxSamples:    perf.MaxRecentSamples,
		MinSamples:    1,
		Window:        perf.MaxRecentSamples,
		CheckInterval: perf.CheckInterval,
		MaxAlerts:     perf.MaxAlerts,
	}, rules, p.services.Notifier, p.logger).WithClock(p.now)
}

func (p *MarkupParser) handlerEnv() handlers.Env {
	return handlers.Env{
		Config:     p.config,
		Logger:     p.logger,
		Results:    p.resultCache(value.RegionHandlerResults),
		Variables:  p.resultCache(value.RegionVariables),
		Patterns:   p.patterns,
		PatternTTL: p.config.Region(value.RegionPatterns).TTL,
		Renderer:   p,
		Version:    p.version,
		Now:        p.now,
	}
}

func newProcessor(kind value.HandlerKind, env handlers.Env) handlers.Recognizer {
	switch kind {
	case value.KindEscaped:
		return handlers.NewEscapedHandler(env)
	case value.KindVariable:
		return handlers.NewVariableHandler(env)
	case value.KindWikiTag:
		return handlers.NewWikiTagHandler(env)
	case value.KindPlugin:
		return handlers.NewPluginHandler(env)
	case value.KindForm:
		return handlers.NewFormHandler(env)
	case value.KindInterWiki:
		return handlers.NewInterWikiHandler(env)
	case value.KindAttachment:
		return handlers.NewAttachmentHandler(env)
	case value.KindStyle:
		return handlers.NewStyleHandler(env)
	}
	return nil
}

func (p *MarkupParser) registerHandlers(ctx context.Context) error {
	env := p.handlerEnv()
	for _, kind := range value.AllHandlerKinds() {
		proc := newProcessor(kind, env)
		if proc == nil {
			continue
		}
		if init, ok := proc.(handlers.Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				p.logger.Warn("handler initialization failed, handler skipped",
					zap.String("handler", kind.HandlerID()), zap.Error(err))
				continue
			}
		}

		settings := p.config.HandlerSettingsFor(kind)
		spec := entity.HandlerSpec{
			ID:       kind.HandlerID(),
			Kind:     kind,
			Priority: settings.Priority,
			Pattern:  proc.Pattern(),
			Timeout:  settings.Timeout,
			Enabled:  settings.Enabled,
		}
		switch kind {
		case value.KindPlugin:
			// Plugins are timed one invocation at a time.
			spec.Timeout = 0
		case value.KindWikiTag:
			// A pass abandoned half way would leave gated bodies in the page.
			// Nested plugin calls carry their own timers.
			spec.Timeout = 0
			spec.Dependencies = []string{value.KindVariable.HandlerID()}
		}

		h, err := entity.NewHandler(spec, proc).Value()
		if err != nil {
			return err
		}
		if err := p.registry.Register(h); err != nil {
			return fmt.Errorf("failed to register %s: %w", spec.ID, err)
		}
	}
	if _, err := p.registry.ResolveOrder(); err != nil {
		return err
	}
	return nil
}

// RegisterHandler adds a custom handler and drops cached output.
func (p *MarkupParser) RegisterHandler(ctx context.Context, h *entity.Handler) error {
	if err := p.registry.Register(h); err != nil {
		return err
	}
	if _, err := p.registry.ResolveOrder(); err != nil {
		_ = p.registry.Unregister(h.ID())
		return err
	}
	p.invalidate(ctx)
	return nil
}

func (p *MarkupParser) warmup(ctx context.Context) {
	start := time.Now()
	if p.patterns != nil {
		ttl := p.config.Region(value.RegionPatterns).TTL
		for _, h := range p.registry.Handlers() {
			p.patterns.Store(h.Pattern().String(), h.Pattern(), ttl)
		}
	}
	vars, ok := p.registry.Handler(value.KindVariable.HandlerID()).Get()
	if ok && vars.Enabled() {
		pctx := entity.NewParseContext("", entity.ContextOptions{
			PageName: "warmup",
			UserName: "system",
			Services: p.services,
		})
		if _, err := vars.Execute(ctx, "[{$applicationname}] [{$version}]", pctx); err != nil {
			p.logger.Warn("cache warmup failed", zap.Error(err))
			return
		}
	}
	p.logger.Debug("cache warmed", zap.Duration("elapsed", time.Since(start)))
}

// Render runs content through every phase for the page and user in opts.
func (p *MarkupParser) Render(ctx context.Context, content string, opts entity.ContextOptions) (ParseResult, error) {
	if p.closed.Load() {
		return ParseResult{}, ErrParserClosed
	}
	if content == "" {
		return ParseResult{}, nil
	}
	start := time.Now()
	if !p.config.Enabled {
		return p.renderDegraded(ctx, content, start)
	}

	opts.Services = mergeServices(p.services, opts.Services)
	opts.Protected = entity.NewProtectedSpans(newNonce())
	pctx := entity.NewParseContext(content, opts)

	var parseCache *regionCache
	if rc := p.regions[value.RegionParseResults]; rc != nil && rc.enabled {
		parseCache = rc
	}
	key := p.parseKey(content, pctx)
	if parseCache != nil {
		if raw, ok := parseCache.Get(ctx, key); ok {
			var cached cachedParse
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				elapsed := time.Since(start)
				p.cacheHits.Add(1)
				p.finish(elapsed, true, true)
				return ParseResult{HTML: cached.HTML, CacheHit: true, Duration: elapsed, FrontMatter: cached.FrontMatter}, nil
			}
		}
		p.cacheMisses.Add(1)
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		res, err := p.renderFull(ctx, content, pctx)
		if err != nil {
			return res, err
		}
		if parseCache != nil {
			if raw, err := json.Marshal(cachedParse{HTML: res.HTML, FrontMatter: res.FrontMatter}); err == nil {
				parseCache.Set(ctx, key, string(raw))
			}
		}
		return res, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		p.errorCount.Add(1)
		p.finish(elapsed, false, false)
		p.logger.Warn("parse failed",
			zap.String("page", pctx.PageName()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return ParseResult{}, fmt.Errorf("failed to render %s: %w", pctx.PageName(), err)
	}
	res := v.(ParseResult)
	res.Shared = shared
	res.Duration = elapsed
	p.finish(elapsed, true, false)
	return res, nil
}

// Parse renders content and returns only the HTML.
func (p *MarkupParser) Parse(ctx context.Context, content string, opts entity.ContextOptions) (string, error) {
	res, err := p.Render(ctx, content, opts)
	return res.HTML, err
}

type cachedParse struct {
	HTML        string         `json:"html"`
	FrontMatter map[string]any `json:"frontMatter,omitempty"`
}

func (p *MarkupParser) finish(elapsed time.Duration, success, cacheHit bool) {
	p.parseCount.Add(1)
	p.totalParseTime.Add(int64(elapsed))
	p.monitor.Record(value.Sample{Duration: elapsed, Success: success, CacheHit: cacheHit, Timestamp: p.now()})
}

func (p *MarkupParser) renderDegraded(ctx context.Context, content string, start time.Time) (ParseResult, error) {
	doc, err := p.converter.Convert(ctx, content)
	elapsed := time.Since(start)
	if err != nil {
		p.errorCount.Add(1)
		p.finish(elapsed, false, false)
		return ParseResult{}, fmt.Errorf("failed to convert markdown: %w", err)
	}
	p.finish(elapsed, true, false)
	return ParseResult{HTML: strings.TrimSpace(doc.HTML), Duration: elapsed, FrontMatter: doc.FrontMatter}, nil
}

// parseKey identifies a render: content, context, variables and the active
// handler and filter sets.
func (p *MarkupParser) parseKey(content string, pctx *entity.ParseContext) string {
	active := make([]string, 0, 16)
	for _, h := range p.registry.ActiveHandlers() {
		active = append(active, h.ID())
	}
	if p.chain.IsEnabled() {
		for _, f := range p.chain.ActiveFilters() {
			active = append(active, f.ID())
		}
	}
	return "parse:" + utils.HashValue(struct {
		Content   string            `json:"content"`
		Context   string            `json:"context"`
		Variables map[string]string `json:"variables"`
		Active    []string          `json:"active"`
	}{
		Content:   content,
		Context:   handlers.ContextHash(pctx, p.now()),
		Variables: pctx.Variables(),
		Active:    active,
	})
}

func (p *MarkupParser) renderFull(ctx context.Context, content string, pctx *entity.ParseContext) (res ParseResult, err error) {
	html, err := p.runPhases(ctx, content, pctx, p.phases, true)
	if err != nil {
		return ParseResult{}, err
	}
	res = ParseResult{HTML: html, Phases: pctx.PhaseTimings()}
	if fm, ok := pctx.Metadata(entity.MetaFrontMatter); ok {
		res.FrontMatter, _ = fm.(map[string]any)
	}
	return res, nil
}

func (p *MarkupParser) runPhases(ctx context.Context, content string, pctx *entity.ParseContext, phases []phase, top bool) (out string, err error) {
	current := ""
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while rendering",
				zap.String("page", pctx.PageName()),
				zap.String("phase", current),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out, err = "", fmt.Errorf("phase %s panicked: %v", current, r)
		}
	}()

	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		current = ph.name
		start := time.Now()
		content, err = ph.run(ctx, content, pctx)
		elapsed := time.Since(start)
		pctx.RecordPhase(ph.name, elapsed)
		if top {
			p.recordPhase(ph.name, elapsed)
		}
		if err != nil {
			return "", fmt.Errorf("phase %s failed: %w", ph.name, err)
		}
	}
	return content, nil
}

func (p *MarkupParser) recordPhase(name string, d time.Duration) {
	p.phaseMutex.Lock()
	p.phaseTimings[name] += d
	p.phaseMutex.Unlock()
}

func (p *MarkupParser) domPreparse(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if p.preparser == nil {
		return content, nil
	}
	out, err := p.preparser.Preparse(ctx, content, pctx)
	if err != nil {
		p.logger.Warn("pre-parse failed, continuing with raw content",
			zap.String("page", pctx.PageName()), zap.Error(err))
		return content, nil
	}
	return out, nil
}

var frontMatterPattern = regexp.MustCompile(`(?s)\A---\n(.*?)\n---[ \t]*(?:\n|\z)`)

func (p *MarkupParser) preprocess(_ context.Context, content string, pctx *entity.ParseContext) (string, error) {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	m := frontMatterPattern.FindStringSubmatch(content)
	if m == nil {
		return content, nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
		p.logger.Debug("front matter ignored", zap.String("page", pctx.PageName()), zap.Error(err))
		return content, nil
	}
	for k, v := range fm {
		if _, exists := pctx.Variable(k); exists {
			continue
		}
		switch v.(type) {
		case string, int, float64, bool:
			pctx.SetVariable(k, fmt.Sprint(v))
		}
	}
	return content, nil
}

func (p *MarkupParser) recognizeSyntax(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	for _, h := range p.registry.ActiveHandlers() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := h.Execute(ctx, content, pctx)
		if err != nil {
			p.logger.Warn("handler failed, content left unchanged",
				zap.String("handler", h.ID()),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
		}
		content = out
	}
	return content, nil
}

// resolveContext resolves variable references emitted by plugins and tags.
func (p *MarkupParser) resolveContext(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if !strings.Contains(content, "[{$") {
		return content, nil
	}
	h, ok := p.registry.Handler(value.KindVariable.HandlerID()).Get()
	if !ok || !h.Enabled() {
		return content, nil
	}
	out, err := h.Execute(ctx, content, pctx)
	if err != nil {
		p.logger.Warn("variable resolution failed", zap.String("page", pctx.PageName()), zap.Error(err))
	}
	return out, nil
}

func (p *MarkupParser) transformContent(_ context.Context, content string, _ *entity.ParseContext) (string, error) {
	return preparse.Transform(content), nil
}

func (p *MarkupParser) runFilters(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if !p.chain.IsEnabled() {
		return content, nil
	}
	return p.chain.Process(ctx, content, pctx)
}

func (p *MarkupParser) convertMarkdown(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	content = pctx.Protected().Restore(content, entity.SpanCode)
	doc, err := p.converter.Convert(ctx, content)
	if err != nil {
		return "", err
	}
	if doc.FrontMatter != nil {
		pctx.SetMetadata(entity.MetaFrontMatter, doc.FrontMatter)
	}
	return doc.HTML, nil
}

func (p *MarkupParser) postProcess(ctx context.Context, html string, pctx *entity.ParseContext) (string, error) {
	html = p.chain.PostProcessHTML(ctx, html, pctx)
	// Literal spans are already escaped; the sanitizer would decode them.
	html = pctx.Protected().Restore(html, entity.SpanLiteral)
	return strings.TrimSpace(html), nil
}

// RenderNested runs the fragment phases for a context derived from an
// ongoing render. Protected spans stay in place for the outer render.
func (p *MarkupParser) RenderNested(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if pctx.Depth() > handlers.MaxNestingDepth {
		return "", fmt.Errorf("%w (%d)", handlers.ErrNestingTooDeep, handlers.MaxNestingDepth)
	}
	return p.runPhases(ctx, content, pctx, p.fragmentPhases, false)
}

type fragmentDepthKey struct{}

// RenderFragment renders wiki markup for a plugin. The result is markup with
// every syntax form resolved, ready to be spliced into the calling page.
func (p *MarkupParser) RenderFragment(ctx context.Context, content, pageName string) (string, error) {
	depth, _ := ctx.Value(fragmentDepthKey{}).(int)
	if depth >= handlers.MaxNestingDepth {
		return "", fmt.Errorf("%w (%d)", handlers.ErrNestingTooDeep, handlers.MaxNestingDepth)
	}
	if content == "" {
		return "", nil
	}
	ctx = context.WithValue(ctx, fragmentDepthKey{}, depth+1)
	pctx := entity.NewParseContext(content, entity.ContextOptions{
		PageName:  pageName,
		Services:  p.services,
		Protected: entity.NewProtectedSpans(newNonce()),
	})
	out, err := p.runPhases(ctx, content, pctx, p.fragmentPhases, false)
	if err != nil {
		return "", err
	}
	out = pctx.Protected().Restore(out, entity.SpanCode)
	return pctx.Protected().Restore(out, entity.SpanLiteral), nil
}

// CachedHandlerResult looks up a cached handler output.
func (p *MarkupParser) CachedHandlerResult(ctx context.Context, handlerID, contentHash, contextHash string) (string, bool) {
	rc := p.regions[value.RegionHandlerResults]
	if rc == nil {
		return "", false
	}
	return rc.Get(ctx, handlers.ResultKey(handlerID, contentHash, contextHash))
}

// Handlers describes the registered handlers in execution order.
func (p *MarkupParser) Handlers() []value.HandlerDescriptor { return p.registry.Descriptors() }

// Filters describes the registered filters in execution order.
func (p *MarkupParser) Filters() []value.FilterDescriptor { return p.chain.Descriptors() }

// Registry exposes the handler registry.
func (p *MarkupParser) Registry() *HandlerRegistry { return p.registry }

// FilterChain exposes the filter chain.
func (p *MarkupParser) FilterChain() *FilterChain { return p.chain }

// Monitor exposes the performance monitor.
func (p *MarkupParser) Monitor() *PerformanceMonitor { return p.monitor }

// EnableHandler switches a handler on and drops cached output.
func (p *MarkupParser) EnableHandler(ctx context.Context, id string) error {
	if err := p.registry.Enable(id); err != nil {
		return err
	}
	p.invalidate(ctx)
	return nil
}

// DisableHandler switches a handler off and drops cached output.
func (p *MarkupParser) DisableHandler(ctx context.Context, id string) error {
	if err := p.registry.Disable(id); err != nil {
		return err
	}
	p.invalidate(ctx)
	return nil
}

// EnableFilter switches a filter on and drops cached output.
func (p *MarkupParser) EnableFilter(ctx context.Context, id string) error {
	if err := p.chain.EnableFilter(id); err != nil {
		return err
	}
	p.invalidate(ctx)
	return nil
}

// DisableFilter switches a filter off and drops cached output.
func (p *MarkupParser) DisableFilter(ctx context.Context, id string) error {
	if err := p.chain.DisableFilter(id); err != nil {
		return err
	}
	p.invalidate(ctx)
	return nil
}

func (p *MarkupParser) invalidate(ctx context.Context) {
	for _, r := range []value.CacheRegion{value.RegionParseResults, value.RegionHandlerResults} {
		if rc := p.regions[r]; rc != nil {
			if err := rc.Clear(ctx); err != nil {
				p.logger.Warn("failed to clear cache", zap.String("region", string(r)), zap.Error(err))
			}
		}
	}
}

// ClearCache empties every cache region.
func (p *MarkupParser) ClearCache(ctx context.Context) error {
	var errs []error
	for r, rc := range p.regions {
		if err := rc.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r, err))
		}
	}
	if p.patterns != nil {
		p.patterns.Purge()
	}
	return errors.Join(errs...)
}

// ResetMetrics zeroes parser, region, handler, filter and monitor statistics.
func (p *MarkupParser) ResetMetrics() {
	p.parseCount.Store(0)
	p.errorCount.Store(0)
	p.cacheHits.Store(0)
	p.cacheMisses.Store(0)
	p.totalParseTime.Store(0)
	p.phaseMutex.Lock()
	p.phaseTimings = make(map[string]time.Duration)
	p.phaseMutex.Unlock()
	for _, rc := range p.regions {
		rc.ResetStats()
	}
	for _, h := range p.registry.Handlers() {
		h.ResetStats()
	}
	p.chain.ResetStats()
	p.monitor.Reset()
}

// Metrics snapshots the parser statistics.
func (p *MarkupParser) Metrics() value.Metrics {
	m := value.Metrics{
		ParseCount:     p.parseCount.Load(),
		TotalParseTime: time.Duration(p.totalParseTime.Load()),
		ErrorCount:     p.errorCount.Load(),
		CacheHits:      p.cacheHits.Load(),
		CacheMisses:    p.cacheMisses.Load(),
		Regions:        make(map[value.CacheRegion]value.RegionStats, len(value.AllCacheRegions())),
		Latency:        p.monitor.Latency(),
		Handlers:       p.registry.HandlerStats(),
		FilterChain:    p.chain.Stats(),
		RecentAlerts:   p.monitor.RecentAlerts(10),
	}
	if m.ParseCount > 0 {
		m.AverageParseTime = m.TotalParseTime / time.Duration(m.ParseCount)
	}
	if lookups := m.CacheHits + m.CacheMisses; lookups > 0 {
		m.CacheHitRatio = float64(m.CacheHits) / float64(lookups)
	}
	for _, r := range value.AllCacheRegions() {
		if rc, ok := p.regions[r]; ok {
			m.Regions[r] = rc.Stats()
			continue
		}
		stats := value.RegionStats{}
		if r == value.RegionPatterns && p.patterns != nil {
			stats.Enabled = true
			stats.Sets = int64(p.patterns.Len())
		}
		m.Regions[r] = stats
	}
	p.phaseMutex.Lock()
	m.PhaseTimings = make(map[string]time.Duration, len(p.phaseTimings))
	for k, v := range p.phaseTimings {
		m.PhaseTimings[k] = v
	}
	p.phaseMutex.Unlock()
	return m
}

// Shutdown stops the filter chain and closes an owned cache backend. Later
// renders fail with ErrParserClosed.
func (p *MarkupParser) Shutdown(context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.chain.Shutdown()
	if p.patterns != nil {
		p.patterns.Purge()
	}
	if p.ownsCache && p.cacheManager != nil {
		if err := p.cacheManager.Close(); err != nil {
			return fmt.Errorf("failed to close cache: %w", err)
		}
	}
	p.logger.Debug("markup parser shut down", zap.Int64("parses", p.parseCount.Load()))
	return nil
}

func mergeServices(base, over provider.Services) provider.Services {
	if over.Plugins != nil {
		base.Plugins = over.Plugins
	}
	if over.Policy != nil {
		base.Policy = over.Policy
	}
	if over.Pages != nil {
		base.Pages = over.Pages
	}
	if over.Attachments != nil {
		base.Attachments = over.Attachments
	}
	if over.Variables != nil {
		base.Variables = over.Variables
	}
	if over.Notifier != nil {
		base.Notifier = over.Notifier
	}
	if over.Links != nil {
		base.Links = over.Links
	}
	return base
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
