package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// KeyPrefix is prepended to every configuration key.
const KeyPrefix = "markup."

// PropertyReader reads typed properties from a ConfigSource. Read errors and
// type mismatches are logged and answered with the supplied default.
type PropertyReader struct {
	source provider.ConfigSource
	logger *zap.Logger
}

// NewPropertyReader wraps source. A nil source always yields defaults.
func NewPropertyReader(source provider.ConfigSource, logger *zap.Logger) *PropertyReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PropertyReader{source: source, logger: logger}
}

func (r *PropertyReader) raw(key string, def any) (any, bool) {
	if r.source == nil {
		return def, false
	}
	v, err := r.source.GetProperty(KeyPrefix+key, def)
	if err != nil {
		r.logger.Warn("config read failed, using default", zap.String("key", KeyPrefix+key), zap.Error(err))
		return def, false
	}
	if v == nil {
		return def, false
	}
	return v, true
}

func (r *PropertyReader) mismatch(key string, v any, def any) {
	r.logger.Warn("config value has wrong type, using default",
		zap.String("key", KeyPrefix+key),
		zap.String("value", fmt.Sprint(v)),
		zap.Any("default", def))
}

// Bool reads a boolean.
func (r *PropertyReader) Bool(key string, def bool) bool {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	r.mismatch(key, v, def)
	return def
}

// Int reads an integer.
func (r *PropertyReader) Int(key string, def int) int {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	if n, ok := toFloat(v); ok {
		return int(n)
	}
	r.mismatch(key, v, def)
	return def
}

// Float reads a floating point number.
func (r *PropertyReader) Float(key string, def float64) float64 {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	if n, ok := toFloat(v); ok {
		return n
	}
	r.mismatch(key, v, def)
	return def
}

// String reads a string.
func (r *PropertyReader) String(key, def string) string {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings reads a list, accepting a slice or a comma separated string.
func (r *PropertyReader) Strings(key string, def []string) []string {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	r.mismatch(key, v, def)
	return def
}

// Millis reads a duration expressed in milliseconds. Go duration strings such
// as "250ms" are accepted too.
func (r *PropertyReader) Millis(key string, def time.Duration) time.Duration {
	return r.duration(key, def, time.Millisecond)
}

// Seconds reads a duration expressed in seconds.
func (r *PropertyReader) Seconds(key string, def time.Duration) time.Duration {
	return r.duration(key, def, time.Second)
}

func (r *PropertyReader) duration(key string, def, unit time.Duration) time.Duration {
	v, ok := r.raw(key, def)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	}
	if n, ok := toFloat(v); ok {
		return time.Duration(n * float64(unit))
	}
	r.mismatch(key, v, def)
	return def
}

// Map reads a nested map.
func (r *PropertyReader) Map(key string) map[string]any {
	v, ok := r.raw(key, nil)
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	r.mismatch(key, v, nil)
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// LoadMarkupConfig resolves every tunable through source, falling back to
// DefaultMarkupConfig for anything missing or unreadable.
func LoadMarkupConfig(source provider.ConfigSource, logger *zap.Logger) MarkupConfig {
	r := NewPropertyReader(source, logger)
	cfg := DefaultMarkupConfig()

	cfg.Enabled = r.Bool("enabled", cfg.Enabled)
	cfg.Caching = r.Bool("caching", cfg.Caching)
	cfg.CacheTTL = r.Seconds("cacheTTL", cfg.CacheTTL)

	cfg.Registry.MaxHandlers = r.Int("handlerRegistry.maxHandlers", cfg.Registry.MaxHandlers)
	cfg.Registry.EnableConflictDetection = r.Bool("handlerRegistry.enableConflictDetection", cfg.Registry.EnableConflictDetection)
	cfg.Registry.DefaultTimeout = r.Millis("handlerRegistry.defaultTimeout", cfg.Registry.DefaultTimeout)

	for _, kind := range AllHandlerKinds() {
		s := cfg.Handlers[kind]
		base := "handlers." + string(kind)
		s.Enabled = r.Bool(base+".enabled", s.Enabled)
		s.Priority = r.Int(base+".priority", s.Priority)
		s.Timeout = r.Millis(base+".timeout", s.Timeout)
		cfg.Handlers[kind] = s
	}

	f := &cfg.Filters
	f.Enabled = r.Bool("filters.enabled", f.Enabled)
	f.MaxFilters = r.Int("filters.maxFilters", f.MaxFilters)
	f.Timeout = r.Millis("filters.timeout", f.Timeout)
	f.EnableProfiling = r.Bool("filters.enableProfiling", f.EnableProfiling)
	f.FailOnError = r.Bool("filters.failOnError", f.FailOnError)
	f.ParallelExecution = r.Bool("filters.parallelExecution", f.ParallelExecution)
	f.MaxConcurrentFilters = r.Int("filters.maxConcurrentFilters", f.MaxConcurrentFilters)
	f.SlowExecutionThreshold = r.Millis("filters.alertThresholds.slowExecution", f.SlowExecutionThreshold)
	f.ErrorRateThreshold = r.Float("filters.alertThresholds.errorRate", f.ErrorRateThreshold)
	f.AlertWindow = r.Int("filters.alertThresholds.window", f.AlertWindow)

	c := &cfg.Cache
	c.Backend = r.String("cache.backend", c.Backend)
	c.Redis.Addr = r.String("cache.redis.addr", c.Redis.Addr)
	c.Redis.DB = r.Int("cache.redis.db", c.Redis.DB)
	c.Redis.Prefix = r.String("cache.redis.prefix", c.Redis.Prefix)
	c.Bolt.Path = r.String("cache.bolt.path", c.Bolt.Path)
	c.EnableWarmup = r.Bool("cache.enableWarmup", c.EnableWarmup)
	c.MetricsEnabled = r.Bool("cache.metricsEnabled", c.MetricsEnabled)
	for _, region := range AllCacheRegions() {
		rc := c.Regions[region]
		base := "cache." + string(region)
		rc.Enabled = r.Bool(base+".enabled", rc.Enabled)
		rc.TTL = r.Seconds(base+".ttl", rc.TTL)
		rc.MaxSize = r.Int(base+".maxSize", rc.MaxSize)
		c.Regions[region] = rc
	}

	p := &cfg.Performance
	p.Monitoring = r.Bool("performance.monitoring", p.Monitoring)
	p.ParseTimeThreshold = r.Millis("performance.alertThresholds.parseTime", p.ParseTimeThreshold)
	p.CacheHitRatioThreshold = r.Float("performance.alertThresholds.cacheHitRatio", p.CacheHitRatioThreshold)
	p.ErrorRateThreshold = r.Float("performance.alertThresholds.errorRate", p.ErrorRateThreshold)
	p.MinCacheSamples = r.Int("performance.alertThresholds.minCacheSamples", p.MinCacheSamples)
	p.CheckInterval = r.Millis("performance.checkInterval", p.CheckInterval)

	if sites := r.Map("interwiki.sites"); len(sites) > 0 {
		for name, raw := range sites {
			switch site := raw.(type) {
			case string:
				cfg.InterWiki.Sites[name] = InterWikiSite{URL: site, Description: name}
			case map[string]any:
				cfg.InterWiki.Sites[name] = InterWikiSite{URL: fmt.Sprint(site["url"]), Description: fmt.Sprint(site["description"])}
			}
		}
	}
	cfg.InterWiki.SitesFile = r.String("interwiki.sitesFile", cfg.InterWiki.SitesFile)

	cfg.Links.PageURL = r.String("links.pageURL", cfg.Links.PageURL)
	cfg.Style.AllowInlineCSS = r.Bool("style.allowInlineCSS", cfg.Style.AllowInlineCSS)
	cfg.Style.CustomClasses = r.Strings("style.customClasses", cfg.Style.CustomClasses)
	cfg.Form.Secret = r.String("form.secret", cfg.Form.Secret)
	cfg.Markdown.HighlightStyle = r.String("markdown.highlightStyle", cfg.Markdown.HighlightStyle)
	cfg.Markdown.AutoHeadingID = r.Bool("markdown.autoHeadingID", cfg.Markdown.AutoHeadingID)

	sec := &cfg.Security
	loadFilterSettings(r, "security", &sec.FilterSettings)
	sec.MaxContentLength = r.Int("filters.security.maxContentLength", sec.MaxContentLength)
	sec.AllowDataURIs = r.Bool("filters.security.allowDataURIs", sec.AllowDataURIs)
	sec.SanitizeHTML = r.Bool("filters.security.sanitizeHTML", sec.SanitizeHTML)

	spam := &cfg.Spam
	loadFilterSettings(r, "spam", &spam.FilterSettings)
	spam.MaxLinks = r.Int("filters.spam.maxLinks", spam.MaxLinks)
	spam.MaxImages = r.Int("filters.spam.maxImages", spam.MaxImages)
	spam.MinContentLength = r.Int("filters.spam.minContentLength", spam.MinContentLength)
	spam.Threshold = r.Int("filters.spam.threshold", spam.Threshold)
	spam.AutoBlock = r.Bool("filters.spam.autoBlock", spam.AutoBlock)
	spam.Blacklist = r.Strings("filters.spam.blacklist", spam.Blacklist)
	spam.Whitelist = r.Strings("filters.spam.whitelist", spam.Whitelist)

	val := &cfg.Validation
	loadFilterSettings(r, "validation", &val.FilterSettings)
	val.MaxContentLength = r.Int("filters.validation.maxContentLength", val.MaxContentLength)
	val.MaxLineLength = r.Int("filters.validation.maxLineLength", val.MaxLineLength)
	val.MinWordCount = r.Int("filters.validation.minWordCount", val.MinWordCount)
	val.ReportErrors = r.Bool("filters.validation.reportErrors", val.ReportErrors)
	val.FailOnValidationError = r.Bool("filters.validation.failOnValidationError", val.FailOnValidationError)

	return cfg
}

func loadFilterSettings(r *PropertyReader, name string, s *FilterSettings) {
	s.Enabled = r.Bool("filters."+name+".enabled", s.Enabled)
	s.Priority = r.Int("filters."+name+".priority", s.Priority)
}
