// Package gowikimark renders JSPWiki-compatible wiki markup to HTML.
//
// An Engine owns one rendering pipeline: syntax handlers for plugins, wiki
// tags, variables, forms, inter-wiki links, attachments and style blocks, a
// security/spam/validation filter chain, and a goldmark Markdown converter.
// Engines are safe for concurrent use.
package gowikimark

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/app/service"
	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/logging"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// Version is the library version, reported by [{$version}].
const Version = "1.0.0"

type (
	// Metrics is a snapshot of the pipeline statistics.
	Metrics = value.Metrics
	// HandlerDescriptor describes a registered syntax handler.
	HandlerDescriptor = value.HandlerDescriptor
	// FilterDescriptor describes a registered content filter.
	FilterDescriptor = value.FilterDescriptor
	// PluginFunc implements a plugin registered with RegisterPlugin.
	PluginFunc = service.PluginFunc
	// PluginCall is one plugin invocation.
	PluginCall = service.PluginCall
)

// Options configures an Engine.
type Options struct {
	// Config holds nested properties under the "markup" key, applied over
	// ConfigFile.
	Config map[string]any
	// ConfigFile is a YAML or JSON document, optionally using extends.
	ConfigFile string
	// Source replaces Config and ConfigFile entirely.
	Source provider.ConfigSource

	// Services overrides the default collaborators field by field.
	Services provider.Services
	// PagesDir serves pages, attachments and the link graph from a directory.
	PagesDir string

	Logger *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithConfig sets nested configuration properties.
func WithConfig(cfg map[string]any) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithConfigFile reads configuration from path.
func WithConfigFile(path string) Option {
	return func(o *Options) { o.ConfigFile = path }
}

// WithConfigSource reads configuration from source.
func WithConfigSource(source provider.ConfigSource) Option {
	return func(o *Options) { o.Source = source }
}

// WithServices overrides collaborators.
func WithServices(s provider.Services) Option {
	return func(o *Options) { o.Services = s }
}

// WithPagesDir serves pages from dir.
func WithPagesDir(dir string) Option {
	return func(o *Options) { o.PagesDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// ParseOptions identifies the page and user of one render.
type ParseOptions struct {
	PageName      string
	UserName      string
	Roles         []string
	Permissions   []string
	Authenticated bool
	Variables     map[string]string

	// Services overrides the engine collaborators for this call only.
	Services provider.Services
}

// Result is a rendered page.
type Result struct {
	HTML        string                   `json:"html"`
	CacheHit    bool                     `json:"cacheHit"`
	Duration    time.Duration            `json:"duration"`
	Phases      map[string]time.Duration `json:"phases,omitempty"`
	FrontMatter map[string]any           `json:"frontMatter,omitempty"`
}

// Engine renders wiki markup.
type Engine struct {
	parser   *service.MarkupParser
	config   value.MarkupConfig
	plugins  *service.PluginRegistry
	pages    *service.DirectoryPageStore
	notifier *service.LogNotifier
	source   provider.ConfigSource
	logger   *zap.Logger
}

// New builds an Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.Logger)

	source := o.Source
	if source == nil {
		var err error
		if source, err = resolveSource(ctx, o); err != nil {
			return nil, err
		}
	}
	config := value.LoadMarkupConfig(source, logger)

	e := &Engine{config: config, source: source, logger: logger}
	services, err := e.defaultServices(source, o)
	if err != nil {
		return nil, err
	}

	e.parser, err = service.NewMarkupParser(ctx, config, logger,
		service.WithServices(services),
		service.WithVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to create markup parser: %w", err)
	}
	return e, nil
}

func resolveSource(ctx context.Context, o Options) (*service.ViperSource, error) {
	layers := make([]map[string]any, 0, 2)
	if o.ConfigFile != "" {
		doc, err := service.NewConfigResolver().ResolveConfig(ctx, o.ConfigFile).Value()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		layers = append(layers, doc)
	}
	if o.Config != nil {
		layers = append(layers, map[string]any{"markup": o.Config})
	}
	v, err := service.NewViper(utils.DeepMergeConfig(layers...))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return service.NewViperSource(v), nil
}

func (e *Engine) defaultServices(source provider.ConfigSource, o Options) (provider.Services, error) {
	reader := value.NewPropertyReader(source, e.logger)
	s := provider.Services{}

	if o.PagesDir != "" {
		store, err := service.NewDirectoryPageStore(o.PagesDir)
		if err != nil {
			return s, err
		}
		e.pages = store
		s.Pages = store
		s.Attachments = store
		s.Links = store
	}

	e.plugins = service.NewPluginRegistry()
	var lister service.PageLister
	if e.pages != nil {
		lister = e.pages
	}
	if err := e.plugins.RegisterDefaults(lister, nil); err != nil {
		return s, err
	}
	s.Plugins = e.plugins

	roles := make(map[string][]string)
	for role := range reader.Map("policy.roles") {
		roles[role] = reader.Strings("policy.roles."+role, nil)
	}
	s.Policy = service.NewRolePolicy(roles, reader.Bool("policy.anonymousRead", true), e.logger)

	e.notifier = service.NewLogNotifier(e.logger, 50)
	s.Notifier = e.notifier

	return mergeServices(s, o.Services), nil
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

// Parse renders content.
func (e *Engine) Parse(ctx context.Context, content string, opts ParseOptions) (*Result, error) {
	ctxOpts := entity.ContextOptions{
		PageName:  opts.PageName,
		UserName:  opts.UserName,
		Variables: opts.Variables,
		Services:  opts.Services,
	}
	if opts.UserName != "" || opts.Authenticated || len(opts.Roles) > 0 {
		ctxOpts.User = &provider.User{
			Name:          opts.UserName,
			Roles:         opts.Roles,
			Permissions:   opts.Permissions,
			Authenticated: opts.Authenticated,
		}
	}
	res, err := e.parser.Render(ctx, content, ctxOpts)
	if err != nil {
		return nil, err
	}
	return &Result{
		HTML:        res.HTML,
		CacheHit:    res.CacheHit,
		Duration:    res.Duration,
		Phases:      res.Phases,
		FrontMatter: res.FrontMatter,
	}, nil
}

// ParseString renders content for pageName as an anonymous user.
func (e *Engine) ParseString(ctx context.Context, content, pageName string) (string, error) {
	res, err := e.Parse(ctx, content, ParseOptions{PageName: pageName})
	if err != nil {
		return "", err
	}
	return res.HTML, nil
}

// ParsePage loads pageName from the page directory and renders it.
func (e *Engine) ParsePage(ctx context.Context, pageName string, opts ParseOptions) (*Result, error) {
	if e.pages == nil {
		return nil, fmt.Errorf("no page directory configured")
	}
	page, err := e.pages.GetPage(ctx, pageName)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("page %s not found", pageName)
	}
	opts.PageName = pageName
	return e.Parse(ctx, page.Content, opts)
}

// RegisterPlugin adds a plugin to the built-in plugin registry.
func (e *Engine) RegisterPlugin(name string, fn PluginFunc) error {
	return e.plugins.Register(name, fn)
}

// Plugins lists the registered plugin names.
func (e *Engine) Plugins() []string { return e.plugins.Names() }

// Pages lists the pages of the page directory.
func (e *Engine) Pages(ctx context.Context) ([]string, error) {
	if e.pages == nil {
		return nil, nil
	}
	return e.pages.ListPages(ctx)
}

// Config returns the resolved configuration.
func (e *Engine) Config() value.MarkupConfig { return e.config }

// Settings returns the raw configuration properties as a nested map, or nil
// when the engine was built from a source that cannot enumerate them.
func (e *Engine) Settings() map[string]any {
	if s, ok := e.source.(interface{ Settings() map[string]any }); ok {
		return s.Settings()
	}
	return nil
}

// Metrics snapshots the pipeline statistics.
func (e *Engine) Metrics() Metrics { return e.parser.Metrics() }

// Handlers describes the syntax handlers in execution order.
func (e *Engine) Handlers() []HandlerDescriptor { return e.parser.Handlers() }

// Filters describes the content filters in execution order.
func (e *Engine) Filters() []FilterDescriptor { return e.parser.Filters() }

// EnableHandler switches a handler on.
func (e *Engine) EnableHandler(ctx context.Context, id string) error {
	return e.parser.EnableHandler(ctx, id)
}

// DisableHandler switches a handler off.
func (e *Engine) DisableHandler(ctx context.Context, id string) error {
	return e.parser.DisableHandler(ctx, id)
}

// EnableFilter switches a filter on.
func (e *Engine) EnableFilter(ctx context.Context, id string) error {
	return e.parser.EnableFilter(ctx, id)
}

// DisableFilter switches a filter off.
func (e *Engine) DisableFilter(ctx context.Context, id string) error {
	return e.parser.DisableFilter(ctx, id)
}

// Notifications returns the most recent operational notifications.
func (e *Engine) Notifications() []provider.Notification { return e.notifier.Recent() }

// ClearCache empties every cache region.
func (e *Engine) ClearCache(ctx context.Context) error { return e.parser.ClearCache(ctx) }

// ResetMetrics zeroes every statistic.
func (e *Engine) ResetMetrics() { e.parser.ResetMetrics() }

// Close releases the cache backend.
func (e *Engine) Close(ctx context.Context) error { return e.parser.Shutdown(ctx) }

// GetVersion returns the library version.
func GetVersion() string {
	return Version
}
