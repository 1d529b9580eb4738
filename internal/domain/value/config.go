package value

import "time"

// MarkupConfig is the fully resolved configuration of one pipeline instance.
type MarkupConfig struct {
	Enabled  bool
	Caching  bool
	CacheTTL time.Duration

	Registry RegistryConfig
	Handlers map[HandlerKind]HandlerSettings
	Filters  FilterChainConfig

	Cache       CacheConfig
	Performance PerformanceConfig

	InterWiki  InterWikiConfig
	Links      LinkConfig
	Style      StyleConfig
	Form       FormConfig
	Markdown   MarkdownConfig
	Security   SecurityConfig
	Spam       SpamConfig
	Validation ValidationConfig
}

// RegistryConfig bounds the handler registry.
type RegistryConfig struct {
	MaxHandlers             int
	EnableConflictDetection bool
	DefaultTimeout          time.Duration
}

// HandlerSettings is the per-kind payload handed to a handler at construction.
type HandlerSettings struct {
	Enabled  bool
	Priority int
	Timeout  time.Duration
}

// FilterChainConfig configures the filter chain.
type FilterChainConfig struct {
	Enabled              bool
	MaxFilters           int
	Timeout              time.Duration
	EnableProfiling      bool
	FailOnError          bool
	ParallelExecution    bool
	MaxConcurrentFilters int

	// Alert thresholds for the chain's performance monitor.
	SlowExecutionThreshold time.Duration
	ErrorRateThreshold     float64
	AlertWindow            int
}

// FilterSettings is shared by every filter.
type FilterSettings struct {
	Enabled  bool
	Priority int
}

// RegionConfig configures one cache region.
type RegionConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

// CacheConfig selects the cache backend and region settings.
type CacheConfig struct {
	Backend        string
	Redis          RedisConfig
	Bolt           BoltConfig
	EnableWarmup   bool
	MetricsEnabled bool
	Regions        map[CacheRegion]RegionConfig
}

// RedisConfig addresses a redis cache backend.
type RedisConfig struct {
	Addr   string
	DB     int
	Prefix string
}

// BoltConfig locates a bolt cache file. An empty path uses the XDG cache dir.
type BoltConfig struct {
	Path string
}

// PerformanceConfig holds the alert thresholds of the pipeline monitor.
type PerformanceConfig struct {
	Monitoring             bool
	ParseTimeThreshold     time.Duration
	CacheHitRatioThreshold float64
	ErrorRateThreshold     float64
	MinCacheSamples        int
	CheckInterval          time.Duration
	MaxRecentSamples       int
	MaxAlerts              int
}

// InterWikiSite is a link target template; %s receives the escaped page name.
type InterWikiSite struct {
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description"`
}

// InterWikiConfig configures inter-wiki link targets.
type InterWikiConfig struct {
	Sites     map[string]InterWikiSite
	SitesFile string
}

// LinkConfig configures [Page] links. PageURL holds one %s for the
// escaped page name.
type LinkConfig struct {
	PageURL string
}

// StyleConfig configures %%class ... /% blocks.
type StyleConfig struct {
	AllowInlineCSS bool
	CustomClasses  []string
}

// FormConfig configures generated forms. An empty Secret is replaced at startup.
type FormConfig struct {
	Secret string
}

// MarkdownConfig configures the Markdown converter.
type MarkdownConfig struct {
	HighlightStyle string
	AutoHeadingID  bool
}

// SecurityConfig configures the security filter.
type SecurityConfig struct {
	FilterSettings
	MaxContentLength int
	AllowDataURIs    bool
	SanitizeHTML     bool
}

// SpamConfig configures the spam filter.
type SpamConfig struct {
	FilterSettings
	MaxLinks         int
	MaxImages        int
	MinContentLength int
	Threshold        int
	AutoBlock        bool
	Blacklist        []string
	Whitelist        []string
}

// ValidationConfig configures the validation filter.
type ValidationConfig struct {
	FilterSettings
	MaxContentLength      int
	MaxLineLength         int
	MinWordCount          int
	ReportErrors          bool
	FailOnValidationError bool
}

// DefaultMarkupConfig returns the built-in defaults.
func DefaultMarkupConfig() MarkupConfig {
	handlers := make(map[HandlerKind]HandlerSettings)
	for _, k := range AllHandlerKinds() {
		handlers[k] = HandlerSettings{Enabled: true, Priority: k.DefaultPriority(), Timeout: 5 * time.Second}
	}
	plugin := handlers[KindPlugin]
	plugin.Timeout = 10 * time.Second
	handlers[KindPlugin] = plugin
	wikitag := handlers[KindWikiTag]
	wikitag.Timeout = 8 * time.Second
	handlers[KindWikiTag] = wikitag

	return MarkupConfig{
		Enabled:  true,
		Caching:  true,
		CacheTTL: 300 * time.Second,
		Registry: RegistryConfig{
			MaxHandlers:             100,
			EnableConflictDetection: true,
			DefaultTimeout:          5 * time.Second,
		},
		Handlers: handlers,
		Filters: FilterChainConfig{
			Enabled:              true,
			MaxFilters:           50,
			Timeout:              10 * time.Second,
			EnableProfiling:      true,
			MaxConcurrentFilters: 3,

			SlowExecutionThreshold: time.Second,
			ErrorRateThreshold:     0.1,
			AlertWindow:            20,
		},
		Cache: CacheConfig{
			Backend:        "memory",
			Redis:          RedisConfig{Addr: "localhost:6379", Prefix: "gowikimark"},
			EnableWarmup:   true,
			MetricsEnabled: true,
			Regions: map[CacheRegion]RegionConfig{
				RegionParseResults:   {Enabled: true, TTL: 300 * time.Second, MaxSize: 1000},
				RegionHandlerResults: {Enabled: true, TTL: 600 * time.Second, MaxSize: 2000},
				RegionPatterns:       {Enabled: true, TTL: 3600 * time.Second, MaxSize: 100},
				RegionVariables:      {Enabled: true, TTL: 900 * time.Second, MaxSize: 500},
			},
		},
		Performance: PerformanceConfig{
			Monitoring:             true,
			ParseTimeThreshold:     100 * time.Millisecond,
			CacheHitRatioThreshold: 0.2,
			ErrorRateThreshold:     0.05,
			MinCacheSamples:        50,
			CheckInterval:          60 * time.Second,
			MaxRecentSamples:       100,
			MaxAlerts:              100,
		},
		InterWiki: InterWikiConfig{Sites: DefaultInterWikiSites()},
		Links:     LinkConfig{PageURL: "/wiki/%s"},
		Markdown:  MarkdownConfig{HighlightStyle: "github", AutoHeadingID: true},
		Security: SecurityConfig{
			FilterSettings:   FilterSettings{Enabled: true, Priority: 110},
			MaxContentLength: 1 << 20,
			SanitizeHTML:     true,
		},
		Spam: SpamConfig{
			FilterSettings:   FilterSettings{Enabled: true, Priority: 100},
			MaxLinks:         10,
			MaxImages:        5,
			MinContentLength: 10,
			Threshold:        50,
			Blacklist:        []string{"spam", "casino", "pharmacy", "viagra", "cialis", "lottery", "winner"},
			Whitelist:        []string{"wikipedia.org", "*.wikipedia.org", "github.com", "*.github.com", "stackoverflow.com", "mozilla.org", "*.mozilla.org"},
		},
		Validation: ValidationConfig{
			FilterSettings:   FilterSettings{Enabled: true, Priority: 90},
			MaxContentLength: 1 << 20,
			MaxLineLength:    10000,
			MinWordCount:     5,
			ReportErrors:     true,
		},
	}
}

// DefaultInterWikiSites returns the built-in link targets.
func DefaultInterWikiSites() map[string]InterWikiSite {
	return map[string]InterWikiSite{
		"Wikipedia": {URL: "https://en.wikipedia.org/wiki/%s", Description: "Wikipedia"},
		"JSPWiki":   {URL: "https://jspwiki-wiki.apache.org/Wiki.jsp?page=%s", Description: "JSPWiki"},
		"MeatBall":  {URL: "http://www.usemod.com/cgi-bin/mb.pl?%s", Description: "MeatBall Wiki"},
	}
}

// HandlerSettingsFor returns the settings for kind, or enabled defaults.
func (c MarkupConfig) HandlerSettingsFor(kind HandlerKind) HandlerSettings {
	if s, ok := c.Handlers[kind]; ok {
		return s
	}
	return HandlerSettings{Enabled: true, Priority: kind.DefaultPriority(), Timeout: c.Registry.DefaultTimeout}
}

// Region returns the settings for region r; unknown regions are disabled.
func (c MarkupConfig) Region(r CacheRegion) RegionConfig {
	rc, ok := c.Cache.Regions[r]
	if !ok || !c.Caching {
		return RegionConfig{}
	}
	return rc
}

// WithHandler returns a copy with the settings for kind replaced.
func (c MarkupConfig) WithHandler(kind HandlerKind, s HandlerSettings) MarkupConfig {
	handlers := make(map[HandlerKind]HandlerSettings, len(c.Handlers))
	for k, v := range c.Handlers {
		handlers[k] = v
	}
	handlers[kind] = s
	c.Handlers = handlers
	return c
}

// WithCaching returns a copy with caching switched on or off.
func (c MarkupConfig) WithCaching(enabled bool) MarkupConfig {
	c.Caching = enabled
	return c
}
