package entity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/functional"
)

// Priority bounds shared by handlers and filters.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// FilterProcessor transforms a whole document.
type FilterProcessor interface {
	Process(ctx context.Context, content string, pctx *ParseContext) (string, error)
}

// FilterSpec describes a filter before it joins a chain.
type FilterSpec struct {
	ID       string
	Priority int
	Timeout  time.Duration
	Enabled  bool
}

// Filter is a whole-document stage of the filter chain.
type Filter struct {
	id        string
	priority  int
	timeout   time.Duration
	processor FilterProcessor
	enabled   atomic.Bool

	stats      value.ExecutionStats
	statsMutex sync.Mutex
}

// NewFilter validates spec and binds it to processor.
func NewFilter(spec FilterSpec, processor FilterProcessor) functional.Result[*Filter] {
	if spec.ID == "" {
		return functional.Err[*Filter](fmt.Errorf("filter must have an id"))
	}
	if processor == nil {
		return functional.Err[*Filter](fmt.Errorf("filter %s must have a processor", spec.ID))
	}
	if spec.Priority < MinPriority || spec.Priority > MaxPriority {
		return functional.Err[*Filter](fmt.Errorf("filter %s priority %d outside %d..%d", spec.ID, spec.Priority, MinPriority, MaxPriority))
	}

	f := &Filter{
		id:        spec.ID,
		priority:  spec.Priority,
		timeout:   spec.Timeout,
		processor: processor,
	}
	f.enabled.Store(spec.Enabled)
	return functional.Ok(f)
}

// ID is the unique chain id.
func (f *Filter) ID() string { return f.id }

// Priority orders execution; higher runs first.
func (f *Filter) Priority() int { return f.priority }

// Timeout is the filter's own budget; zero defers to the chain.
func (f *Filter) Timeout() time.Duration { return f.timeout }

// Processor exposes the bound processor for optional hooks.
func (f *Filter) Processor() FilterProcessor { return f.processor }

// Enabled reports the runtime flag.
func (f *Filter) Enabled() bool { return f.enabled.Load() }

// SetEnabled flips the runtime flag.
func (f *Filter) SetEnabled(enabled bool) { f.enabled.Store(enabled) }

// Descriptor snapshots the filter.
func (f *Filter) Descriptor() value.FilterDescriptor {
	return value.FilterDescriptor{ID: f.id, Priority: f.priority, Enabled: f.Enabled(), Timeout: f.timeout}
}

// Execute runs the processor, recovering panics. On error the original
// content is returned alongside it. Statistics are left to the caller, which
// also sees executions abandoned on timeout.
func (f *Filter) Execute(ctx context.Context, content string, pctx *ParseContext) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = content, fmt.Errorf("filter %s panicked: %v", f.id, r)
		}
	}()

	out, err = f.processor.Process(ctx, content, pctx)
	if err != nil {
		return content, err
	}
	return out, nil
}

// Record adds one execution to the statistics.
func (f *Filter) Record(d time.Duration, err error) {
	f.statsMutex.Lock()
	defer f.statsMutex.Unlock()
	f.stats.Executions++
	f.stats.TotalTime += d
	f.stats.LastExecuted = time.Now()
	if err != nil {
		f.stats.ErrorCount++
	}
}

// Stats returns a copy of the execution statistics.
func (f *Filter) Stats() value.ExecutionStats {
	f.statsMutex.Lock()
	defer f.statsMutex.Unlock()
	return f.stats
}

// ResetStats zeroes the execution statistics.
func (f *Filter) ResetStats() {
	f.statsMutex.Lock()
	defer f.statsMutex.Unlock()
	f.stats = value.ExecutionStats{}
}
