package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/functional"
)

// RegistryErrorCode classifies registry failures.
type RegistryErrorCode string

const (
	CodeDuplicateID        RegistryErrorCode = "DUPLICATE_ID"
	CodeLimitExceeded      RegistryErrorCode = "LIMIT_EXCEEDED"
	CodeConflictDetected   RegistryErrorCode = "CONFLICT_DETECTED"
	CodeInvalidPriority    RegistryErrorCode = "INVALID_PRIORITY"
	CodeInvalidPattern     RegistryErrorCode = "INVALID_PATTERN"
	CodeHasDependents      RegistryErrorCode = "HAS_DEPENDENTS"
	CodeNotFound           RegistryErrorCode = "NOT_FOUND"
	CodeCircularDependency RegistryErrorCode = "CIRCULAR_DEPENDENCY"
)

// ErrHandlerNotFound matches registry errors for unknown handler ids.
var ErrHandlerNotFound = errors.New("handler not found")

// RegistryError is returned by every failing registry operation.
type RegistryError struct {
	Code    RegistryErrorCode
	ID      string
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrHandlerNotFound) match NOT_FOUND errors.
func (e *RegistryError) Is(target error) bool {
	return target == ErrHandlerNotFound && e.Code == CodeNotFound
}

func registryError(code RegistryErrorCode, id, format string, args ...any) error {
	return &RegistryError{Code: code, ID: id, Message: fmt.Sprintf(format, args...)}
}

// HandlerRegistry orders and looks up syntax handlers. It never executes
// them. The sorted views are rebuilt on mutation only, so dispatch reads take
// a read lock and copy a slice.
type HandlerRegistry struct {
	// Registry
	handlers map[string]*entity.Handler
	sorted   []*entity.Handler
	active   []*entity.Handler

	// Configuration
	config value.RegistryConfig
	logger *zap.Logger

	mutex sync.RWMutex
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry(config value.RegistryConfig, logger *zap.Logger) *HandlerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerRegistry{
		handlers: make(map[string]*entity.Handler),
		config:   config,
		logger:   logger,
	}
}

// Register adds h. It rejects duplicate ids, registrations beyond the
// configured maximum, out-of-range priorities, missing patterns and, with
// conflict detection on, a pattern identical to an enabled handler's.
func (hr *HandlerRegistry) Register(h *entity.Handler) error {
	if h == nil {
		return registryError(CodeInvalidPattern, "", "handler is nil")
	}
	if h.Priority() < entity.MinPriority || h.Priority() > entity.MaxPriority {
		return registryError(CodeInvalidPriority, h.ID(), "handler %s priority %d outside %d..%d",
			h.ID(), h.Priority(), entity.MinPriority, entity.MaxPriority)
	}
	if h.Pattern() == nil {
		return registryError(CodeInvalidPattern, h.ID(), "handler %s has no recognition pattern", h.ID())
	}

	hr.mutex.Lock()
	defer hr.mutex.Unlock()

	if _, exists := hr.handlers[h.ID()]; exists {
		return registryError(CodeDuplicateID, h.ID(), "handler %s already registered", h.ID())
	}
	if hr.config.MaxHandlers > 0 && len(hr.handlers) >= hr.config.MaxHandlers {
		return registryError(CodeLimitExceeded, h.ID(), "maximum of %d handlers reached", hr.config.MaxHandlers)
	}
	if hr.config.EnableConflictDetection {
		if other := hr.conflictLocked(h); other != nil {
			return registryError(CodeConflictDetected, h.ID(), "handler %s pattern conflicts with existing handler %s",
				h.ID(), other.ID())
		}
	}

	hr.handlers[h.ID()] = h
	hr.rebuildLocked()

	hr.logger.Debug("handler registered",
		zap.String("handler", h.ID()),
		zap.String("kind", string(h.Kind())),
		zap.Int("priority", h.Priority()))
	return nil
}

func (hr *HandlerRegistry) conflictLocked(h *entity.Handler) *entity.Handler {
	source := h.Pattern().String()
	for _, existing := range hr.handlers {
		if existing.Enabled() && existing.Pattern() != nil && existing.Pattern().String() == source {
			return existing
		}
	}
	return nil
}

// Unregister removes id. A handler another handler depends on stays.
func (hr *HandlerRegistry) Unregister(id string) error {
	hr.mutex.Lock()
	defer hr.mutex.Unlock()

	if _, exists := hr.handlers[id]; !exists {
		return registryError(CodeNotFound, id, "handler %s not found", id)
	}
	dependents := lo.FilterMap(lo.Values(hr.handlers), func(h *entity.Handler, _ int) (string, bool) {
		return h.ID(), lo.Contains(h.Dependencies(), id)
	})
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return registryError(CodeHasDependents, id, "handler %s is required by %s", id, strings.Join(dependents, ", "))
	}

	delete(hr.handlers, id)
	hr.rebuildLocked()
	return nil
}

// Enable turns id back on.
func (hr *HandlerRegistry) Enable(id string) error {
	return hr.setEnabled(id, true)
}

// Disable turns id off without unregistering it.
func (hr *HandlerRegistry) Disable(id string) error {
	return hr.setEnabled(id, false)
}

func (hr *HandlerRegistry) setEnabled(id string, enabled bool) error {
	hr.mutex.Lock()
	defer hr.mutex.Unlock()

	h, exists := hr.handlers[id]
	if !exists {
		return registryError(CodeNotFound, id, "handler %s not found", id)
	}
	h.SetEnabled(enabled)
	hr.rebuildLocked()
	hr.logger.Info("handler state changed", zap.String("handler", id), zap.Bool("enabled", enabled))
	return nil
}

// rebuildLocked sorts by descending priority, ties broken by id.
func (hr *HandlerRegistry) rebuildLocked() {
	all := lo.Values(hr.handlers)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority() != all[j].Priority() {
			return all[i].Priority() > all[j].Priority()
		}
		return all[i].ID() < all[j].ID()
	})
	hr.sorted = all
	hr.active = lo.Filter(all, func(h *entity.Handler, _ int) bool { return h.Enabled() })
}

// ActiveHandlers returns the enabled handlers in execution order.
func (hr *HandlerRegistry) ActiveHandlers() []*entity.Handler {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()
	out := make([]*entity.Handler, len(hr.active))
	copy(out, hr.active)
	return out
}

// Handlers returns every handler in execution order.
func (hr *HandlerRegistry) Handlers() []*entity.Handler {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()
	out := make([]*entity.Handler, len(hr.sorted))
	copy(out, hr.sorted)
	return out
}

// Handler looks up id.
func (hr *HandlerRegistry) Handler(id string) functional.Option[*entity.Handler] {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()
	if h, ok := hr.handlers[id]; ok {
		return functional.Some(h)
	}
	return functional.None[*entity.Handler]()
}

// Descriptors snapshots every handler in execution order.
func (hr *HandlerRegistry) Descriptors() []value.HandlerDescriptor {
	return lo.Map(hr.Handlers(), func(h *entity.Handler, _ int) value.HandlerDescriptor {
		return h.Descriptor()
	})
}

// Len is the number of registered handlers.
func (hr *HandlerRegistry) Len() int {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()
	return len(hr.handlers)
}

// ResolveOrder returns handler ids ordered so each comes after the handlers
// it depends on. Dependencies naming something other than a registered
// handler are external collaborators and are ignored.
func (hr *HandlerRegistry) ResolveOrder() ([]string, error) {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()

	visited := make(map[string]bool)
	var order, stack []string

	var visit func(id string) error
	visit = func(id string) error {
		if lo.Contains(stack, id) {
			cycle := append(append([]string{}, stack[lo.IndexOf(stack, id):]...), id)
			return registryError(CodeCircularDependency, id, "circular dependency detected: %s", strings.Join(cycle, " -> "))
		}
		if visited[id] {
			return nil
		}
		stack = append(stack, id)
		deps := hr.handlers[id].Dependencies()
		sort.Strings(deps)
		for _, dep := range deps {
			if _, registered := hr.handlers[dep]; !registered {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		visited[id] = true
		order = append(order, id)
		return nil
	}

	for _, h := range hr.sorted {
		if err := visit(h.ID()); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Stats summarizes the registry.
func (hr *HandlerRegistry) Stats() map[string]interface{} {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()

	var executions, errs int64
	var total time.Duration
	for _, h := range hr.sorted {
		s := h.Stats()
		executions += s.Executions
		errs += s.ErrorCount
		total += s.TotalTime
	}
	return map[string]interface{}{
		"total_handlers":   len(hr.handlers),
		"enabled_handlers": len(hr.active),
		"max_handlers":     hr.config.MaxHandlers,
		"executions":       executions,
		"errors":           errs,
		"total_time":       total,
	}
}

// HandlerStats pairs every descriptor with its statistics.
func (hr *HandlerRegistry) HandlerStats() []value.HandlerStats {
	return lo.Map(hr.Handlers(), func(h *entity.Handler, _ int) value.HandlerStats {
		return value.HandlerStats{HandlerDescriptor: h.Descriptor(), ExecutionStats: h.Stats()}
	})
}

// RegistryState is an exportable snapshot of the registry.
type RegistryState struct {
	Config     value.RegistryConfig `json:"config"`
	Handlers   []value.HandlerStats `json:"handlers"`
	ExportedAt time.Time            `json:"exportedAt"`
}

// ExportState snapshots configuration and handler statistics.
func (hr *HandlerRegistry) ExportState() RegistryState {
	return RegistryState{
		Config:     hr.config,
		Handlers:   hr.HandlerStats(),
		ExportedAt: time.Now(),
	}
}

// Clear drops every handler.
func (hr *HandlerRegistry) Clear() {
	hr.mutex.Lock()
	defer hr.mutex.Unlock()
	hr.handlers = make(map[string]*entity.Handler)
	hr.sorted = nil
	hr.active = nil
}
