package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/async"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// ErrFilterNotFound is returned for unknown filter ids.
var ErrFilterNotFound = errors.New("filter not found")

// HTMLPostProcessor is implemented by filters that also inspect the final
// HTML after Markdown conversion.
type HTMLPostProcessor interface {
	PostProcessHTML(ctx context.Context, html string, pctx *entity.ParseContext) (string, error)
}

// FilterChain runs whole-document filters in priority order, either one
// after another or concurrently within a priority tier.
type FilterChain struct {
	// Filters
	filters map[string]*entity.Filter
	sorted  []*entity.Filter

	// Configuration
	config  value.FilterChainConfig
	enabled atomic.Bool

	// Execution
	workers *semaphore.Weighted
	monitor *PerformanceMonitor

	// Statistics
	executions atomic.Int64
	errorCount atomic.Int64
	totalTime  atomic.Int64

	logger *zap.Logger
	mutex  sync.RWMutex
}

// NewFilterChain creates an empty chain.
func NewFilterChain(config value.FilterChainConfig, notifier provider.Notifier, logger *zap.Logger) *FilterChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrentFilters <= 0 {
		config.MaxConcurrentFilters = 1
	}
	if config.SlowExecutionThreshold <= 0 {
		config.SlowExecutionThreshold = time.Second
	}
	if config.ErrorRateThreshold <= 0 {
		config.ErrorRateThreshold = 0.1
	}
	if config.AlertWindow <= 0 {
		config.AlertWindow = 20
	}

	fc := &FilterChain{
		filters: make(map[string]*entity.Filter),
		config:  config,
		workers: semaphore.NewWeighted(int64(config.MaxConcurrentFilters)),
		logger:  logger,
	}
	fc.enabled.Store(config.Enabled)

	if config.EnableProfiling {
		fc.monitor = NewPerformanceMonitor(MonitorConfig{
			Source:      "FilterChain",
			TitlePrefix: "FilterChain Alert",
			MaxSamples:  100,
			MinSamples:  10,
			Window:      config.AlertWindow,
		}, []AlertRule{
			SlowAverageRule(value.AlertSlowFilterExecution, config.SlowExecutionThreshold),
			ErrorRateRule(value.AlertHighFilterErrorRate, config.ErrorRateThreshold),
		}, notifier, logger)
	}
	return fc
}

// AddFilter appends f to the chain.
func (fc *FilterChain) AddFilter(f *entity.Filter) error {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()

	if fc.config.MaxFilters > 0 && len(fc.filters) >= fc.config.MaxFilters {
		return fmt.Errorf("filter chain is full (max %d filters)", fc.config.MaxFilters)
	}
	if _, exists := fc.filters[f.ID()]; exists {
		return fmt.Errorf("filter %s already registered", f.ID())
	}
	fc.filters[f.ID()] = f
	fc.rebuildLocked()
	fc.logger.Debug("filter added", zap.String("filter", f.ID()), zap.Int("priority", f.Priority()))
	return nil
}

// RemoveFilter drops id from the chain.
func (fc *FilterChain) RemoveFilter(id string) error {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	if _, exists := fc.filters[id]; !exists {
		return fmt.Errorf("%w: %s", ErrFilterNotFound, id)
	}
	delete(fc.filters, id)
	fc.rebuildLocked()
	return nil
}

// EnableFilter turns id on.
func (fc *FilterChain) EnableFilter(id string) error { return fc.setFilterEnabled(id, true) }

// DisableFilter turns id off.
func (fc *FilterChain) DisableFilter(id string) error { return fc.setFilterEnabled(id, false) }

func (fc *FilterChain) setFilterEnabled(id string, enabled bool) error {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	f, exists := fc.filters[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrFilterNotFound, id)
	}
	f.SetEnabled(enabled)
	fc.rebuildLocked()
	return nil
}

func (fc *FilterChain) rebuildLocked() {
	all := lo.Values(fc.filters)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority() != all[j].Priority() {
			return all[i].Priority() > all[j].Priority()
		}
		return all[i].ID() < all[j].ID()
	})
	fc.sorted = all
}

// Filters returns every filter in execution order.
func (fc *FilterChain) Filters() []*entity.Filter {
	fc.mutex.RLock()
	defer fc.mutex.RUnlock()
	out := make([]*entity.Filter, len(fc.sorted))
	copy(out, fc.sorted)
	return out
}

// ActiveFilters returns the enabled filters in execution order.
func (fc *FilterChain) ActiveFilters() []*entity.Filter {
	return lo.Filter(fc.Filters(), func(f *entity.Filter, _ int) bool { return f.Enabled() })
}

// Descriptors snapshots every filter.
func (fc *FilterChain) Descriptors() []value.FilterDescriptor {
	return lo.Map(fc.Filters(), func(f *entity.Filter, _ int) value.FilterDescriptor { return f.Descriptor() })
}

// Enable switches the whole chain on.
func (fc *FilterChain) Enable() { fc.enabled.Store(true) }

// Disable makes Process a pass-through.
func (fc *FilterChain) Disable() { fc.enabled.Store(false) }

// IsEnabled reports the chain switch.
func (fc *FilterChain) IsEnabled() bool { return fc.enabled.Load() }

// Process runs content through every active filter. Filter failures are
// logged and skipped unless FailOnError is set.
func (fc *FilterChain) Process(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	if !fc.IsEnabled() {
		return content, nil
	}
	active := fc.ActiveFilters()
	if len(active) == 0 {
		return content, nil
	}

	start := time.Now()
	var (
		out string
		err error
	)
	if fc.config.ParallelExecution {
		out, err = fc.processParallel(ctx, content, pctx, active)
	} else {
		out, err = fc.processSequential(ctx, content, pctx, active)
	}
	fc.executions.Add(1)
	fc.totalTime.Add(int64(time.Since(start)))
	return out, err
}

func (fc *FilterChain) processSequential(ctx context.Context, content string, pctx *entity.ParseContext, filters []*entity.Filter) (string, error) {
	current := content
	for _, f := range filters {
		out, err := fc.run(ctx, f, current, pctx)
		if err != nil {
			if fc.config.FailOnError {
				return current, fmt.Errorf("filter %s failed: %w", f.ID(), err)
			}
			continue
		}
		current = out
	}
	return current, nil
}

type tierResult struct {
	content string
	err     error
}

// processParallel runs filters of equal priority concurrently on the same
// input and keeps the first successful output of each tier. A tier where
// every filter fails passes its input through.
func (fc *FilterChain) processParallel(ctx context.Context, content string, pctx *entity.ParseContext, filters []*entity.Filter) (string, error) {
	current := content
	for _, tier := range priorityTiers(filters) {
		if len(tier) == 1 {
			out, err := fc.run(ctx, tier[0], current, pctx)
			if err != nil {
				if fc.config.FailOnError {
					return current, fmt.Errorf("filter %s failed: %w", tier[0].ID(), err)
				}
				continue
			}
			current = out
			continue
		}

		tierCtx, cancel := context.WithCancel(ctx)
		results := make(chan tierResult, len(tier))
		for _, f := range tier {
			go func(f *entity.Filter, input string) {
				if err := fc.workers.Acquire(tierCtx, 1); err != nil {
					results <- tierResult{err: err}
					return
				}
				defer fc.workers.Release(1)
				out, err := fc.run(tierCtx, f, input, pctx)
				results <- tierResult{content: out, err: err}
			}(f, current)
		}

		var errs []error
		won := false
		for range tier {
			r := <-results
			if r.err == nil {
				current = r.content
				won = true
				break
			}
			errs = append(errs, r.err)
		}
		cancel()

		if !won && fc.config.FailOnError {
			return current, fmt.Errorf("all filters at priority %d failed: %w", tier[0].Priority(), errors.Join(errs...))
		}
	}
	return current, nil
}

// priorityTiers groups filters already sorted by descending priority.
func priorityTiers(filters []*entity.Filter) [][]*entity.Filter {
	var tiers [][]*entity.Filter
	for _, f := range filters {
		if n := len(tiers); n > 0 && tiers[n-1][0].Priority() == f.Priority() {
			tiers[n-1] = append(tiers[n-1], f)
			continue
		}
		tiers = append(tiers, []*entity.Filter{f})
	}
	return tiers
}

// run executes one filter raced against its timeout and records statistics.
func (fc *FilterChain) run(ctx context.Context, f *entity.Filter, content string, pctx *entity.ParseContext) (string, error) {
	timeout := f.Timeout()
	if timeout <= 0 {
		timeout = fc.config.Timeout
	}

	start := time.Now()
	out, err := async.WithTimeout(ctx, timeout, func(ctx context.Context) (string, error) {
		return f.Execute(ctx, content, pctx)
	})
	elapsed := time.Since(start)

	f.Record(elapsed, err)
	if fc.monitor != nil {
		fc.monitor.Record(value.Sample{Duration: elapsed, Success: err == nil})
	}
	if err != nil {
		fc.errorCount.Add(1)
		fc.logger.Warn("filter failed",
			zap.String("filter", f.ID()),
			zap.String("page", pctx.PageName()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return content, err
	}
	return out, nil
}

// PostProcessHTML gives filters implementing HTMLPostProcessor a pass over
// the rendered HTML. Failures keep the previous HTML.
func (fc *FilterChain) PostProcessHTML(ctx context.Context, html string, pctx *entity.ParseContext) string {
	if !fc.IsEnabled() {
		return html
	}
	for _, f := range fc.ActiveFilters() {
		pp, ok := f.Processor().(HTMLPostProcessor)
		if !ok {
			continue
		}
		out, err := pp.PostProcessHTML(ctx, html, pctx)
		if err != nil {
			fc.logger.Warn("filter post-processing failed", zap.String("filter", f.ID()), zap.Error(err))
			continue
		}
		html = out
	}
	return html
}

// Stats summarizes the chain and each filter.
func (fc *FilterChain) Stats() value.FilterChainStats {
	executions := fc.executions.Load()
	total := time.Duration(fc.totalTime.Load())
	stats := value.FilterChainStats{
		Enabled:    fc.IsEnabled(),
		Executions: executions,
		TotalTime:  total,
		ErrorCount: fc.errorCount.Load(),
		Filters: lo.Map(fc.Filters(), func(f *entity.Filter, _ int) value.FilterStats {
			return value.FilterStats{FilterDescriptor: f.Descriptor(), ExecutionStats: f.Stats()}
		}),
	}
	if executions > 0 {
		stats.AverageTime = total / time.Duration(executions)
	}
	if fc.monitor != nil {
		stats.RecentAlerts = fc.monitor.RecentAlerts(10)
	}
	return stats
}

// ResetStats zeroes chain, filter and monitor statistics.
func (fc *FilterChain) ResetStats() {
	fc.executions.Store(0)
	fc.errorCount.Store(0)
	fc.totalTime.Store(0)
	for _, f := range fc.Filters() {
		f.ResetStats()
	}
	if fc.monitor != nil {
		fc.monitor.Reset()
	}
}

// FilterChainState is an exportable snapshot of the chain.
type FilterChainState struct {
	Config     value.FilterChainConfig `json:"config"`
	Stats      value.FilterChainStats  `json:"stats"`
	ExportedAt time.Time               `json:"exportedAt"`
}

// ExportState snapshots configuration and statistics.
func (fc *FilterChain) ExportState() FilterChainState {
	return FilterChainState{Config: fc.config, Stats: fc.Stats(), ExportedAt: time.Now()}
}

// Clear drops every filter and its statistics.
func (fc *FilterChain) Clear() {
	fc.mutex.Lock()
	fc.filters = make(map[string]*entity.Filter)
	fc.sorted = nil
	fc.mutex.Unlock()
	fc.ResetStats()
}

// Shutdown disables the chain and drops its filters.
func (fc *FilterChain) Shutdown() {
	fc.Disable()
	fc.Clear()
	fc.logger.Debug("filter chain shut down")
}
