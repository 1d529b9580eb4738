package entity

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/async"
	"github.com/gowikimark/gowikimark/internal/shared/functional"
)

// Processor transforms the working string for one syntax family. It must not
// fail: errors at a match become inline HTML comments at that match.
type Processor interface {
	Process(ctx context.Context, content string, pctx *ParseContext) string
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, content string, pctx *ParseContext) string

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, content string, pctx *ParseContext) string {
	return f(ctx, content, pctx)
}

// HandlerSpec describes a handler before registration.
type HandlerSpec struct {
	ID           string
	Kind         value.HandlerKind
	Priority     int
	Pattern      *regexp.Regexp
	Dependencies []string
	Timeout      time.Duration
	Enabled      bool
}

// Handler is a registered syntax handler. Everything but the enabled flag is
// fixed at construction.
type Handler struct {
	// Descriptor
	id           string
	kind         value.HandlerKind
	priority     int
	pattern      *regexp.Regexp
	dependencies []string
	timeout      time.Duration

	processor Processor
	enabled   atomic.Bool

	// Statistics
	stats      value.ExecutionStats
	statsMutex sync.Mutex
}

// NewHandler validates spec and binds it to processor.
func NewHandler(spec HandlerSpec, processor Processor) functional.Result[*Handler] {
	if spec.ID == "" {
		return functional.Err[*Handler](fmt.Errorf("handler must have an id"))
	}
	if processor == nil {
		return functional.Err[*Handler](fmt.Errorf("handler %s must have a processor", spec.ID))
	}
	if spec.Kind == "" {
		return functional.Err[*Handler](fmt.Errorf("handler %s must have a kind", spec.ID))
	}

	h := &Handler{
		id:           spec.ID,
		kind:         spec.Kind,
		priority:     spec.Priority,
		pattern:      spec.Pattern,
		dependencies: slices.Clone(spec.Dependencies),
		timeout:      spec.Timeout,
		processor:    processor,
	}
	h.enabled.Store(spec.Enabled)
	return functional.Ok(h)
}

// ID is the unique registry id.
func (h *Handler) ID() string { return h.id }

// Kind is the syntax family.
func (h *Handler) Kind() value.HandlerKind { return h.kind }

// Priority orders execution; higher runs first.
func (h *Handler) Priority() int { return h.priority }

// Pattern is the recognition pattern, nil for handlers that scan manually.
func (h *Handler) Pattern() *regexp.Regexp { return h.pattern }

// Dependencies lists the ids of handlers this one requires.
func (h *Handler) Dependencies() []string { return slices.Clone(h.dependencies) }

// Timeout is the budget for one full pass over a document.
func (h *Handler) Timeout() time.Duration { return h.timeout }

// Processor exposes the bound processor for lifecycle hooks.
func (h *Handler) Processor() Processor { return h.processor }

// Enabled reports the runtime flag.
func (h *Handler) Enabled() bool { return h.enabled.Load() }

// SetEnabled flips the runtime flag. Callers go through the registry so the
// active ordering is rebuilt.
func (h *Handler) SetEnabled(enabled bool) { h.enabled.Store(enabled) }

// Descriptor snapshots the handler.
func (h *Handler) Descriptor() value.HandlerDescriptor {
	pattern := ""
	if h.pattern != nil {
		pattern = h.pattern.String()
	}
	return value.HandlerDescriptor{
		ID:           h.id,
		Kind:         h.kind,
		Priority:     h.priority,
		Enabled:      h.Enabled(),
		Pattern:      pattern,
		Dependencies: h.Dependencies(),
		Timeout:      h.timeout,
	}
}

// Execute runs one pass over content within the handler's timeout. On panic
// or timeout the content comes back unchanged together with the error.
func (h *Handler) Execute(ctx context.Context, content string, pctx *ParseContext) (string, error) {
	start := time.Now()
	out, err := async.WithTimeout(ctx, h.timeout, func(ctx context.Context) (string, error) {
		return h.processor.Process(ctx, content, pctx), nil
	})
	h.record(time.Since(start), err)
	if err != nil {
		return content, fmt.Errorf("handler %s: %w", h.id, err)
	}
	return out, nil
}

func (h *Handler) record(d time.Duration, err error) {
	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()
	h.stats.Executions++
	h.stats.TotalTime += d
	h.stats.LastExecuted = time.Now()
	if err != nil {
		h.stats.ErrorCount++
	}
}

// Stats returns a copy of the execution statistics.
func (h *Handler) Stats() value.ExecutionStats {
	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()
	return h.stats
}

// ResetStats zeroes the execution statistics.
func (h *Handler) ResetStats() {
	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()
	h.stats = value.ExecutionStats{}
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("Handler{id: %s, kind: %s, priority: %d, enabled: %t}", h.id, h.kind, h.priority, h.Enabled())
}
