package service

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// PluginCall is one plugin invocation.
type PluginCall struct {
	Name     string
	PageName string
	Params   map[string]any
	Exec     provider.ExecutionContext
}

// PluginFunc implements a plugin.
type PluginFunc func(ctx context.Context, call PluginCall) (string, error)

// PluginStatus counts the invocations of one plugin.
type PluginStatus struct {
	Name       string
	Calls      int64
	Errors     int64
	LastError  string
	LastCalled time.Time
}

// PageLister lists page names.
type PageLister interface {
	ListPages(ctx context.Context) ([]string, error)
}

// PluginRegistry is a name to function PluginExecutor. Names match
// case-insensitively.
type PluginRegistry struct {
	plugins map[string]PluginFunc
	names   map[string]string
	status  map[string]*PluginStatus
	mutex   sync.RWMutex
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]PluginFunc),
		names:   make(map[string]string),
		status:  make(map[string]*PluginStatus),
	}
}

// Register adds fn under name.
func (pr *PluginRegistry) Register(name string, fn PluginFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("plugin must have a name and a function")
	}
	key := strings.ToLower(name)

	pr.mutex.Lock()
	defer pr.mutex.Unlock()
	if _, exists := pr.plugins[key]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}
	pr.plugins[key] = fn
	pr.names[key] = name
	pr.status[key] = &PluginStatus{Name: name}
	return nil
}

// Unregister removes name.
func (pr *PluginRegistry) Unregister(name string) error {
	key := strings.ToLower(name)
	pr.mutex.Lock()
	defer pr.mutex.Unlock()
	if _, exists := pr.plugins[key]; !exists {
		return fmt.Errorf("plugin %s not found", name)
	}
	delete(pr.plugins, key)
	delete(pr.names, key)
	delete(pr.status, key)
	return nil
}

// Names lists the registered plugins in lexical order.
func (pr *PluginRegistry) Names() []string {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	names := make([]string, 0, len(pr.names))
	for _, key := range utils.SortedKeys(pr.names) {
		names = append(names, pr.names[key])
	}
	return names
}

// Execute implements provider.PluginExecutor.
func (pr *PluginRegistry) Execute(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error) {
	key := strings.ToLower(name)
	pr.mutex.RLock()
	fn, ok := pr.plugins[key]
	pr.mutex.RUnlock()
	if !ok {
		return "", fmt.Errorf("plugin %s not found", name)
	}

	out, err := fn(ctx, PluginCall{Name: name, PageName: pageName, Params: params, Exec: exec})

	pr.mutex.Lock()
	if st, ok := pr.status[key]; ok {
		st.Calls++
		st.LastCalled = time.Now()
		if err != nil {
			st.Errors++
			st.LastError = err.Error()
		}
	}
	pr.mutex.Unlock()
	return out, err
}

// Status returns a copy of the invocation counters.
func (pr *PluginRegistry) Status() map[string]PluginStatus {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	out := make(map[string]PluginStatus, len(pr.status))
	for _, st := range pr.status {
		out[st.Name] = *st
	}
	return out
}

// RegisterDefaults adds TotalPages, CurrentTime and PageName. pages may be
// nil, in which case TotalPages counts the link graph.
func (pr *PluginRegistry) RegisterDefaults(pages PageLister, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	defaults := map[string]PluginFunc{
		"TotalPages":  totalPagesPlugin(pages),
		"CurrentTime": currentTimePlugin(now),
		"PageName": func(_ context.Context, call PluginCall) (string, error) {
			return html.EscapeString(call.PageName), nil
		},
	}
	for _, name := range utils.SortedKeys(defaults) {
		if err := pr.Register(name, defaults[name]); err != nil {
			return err
		}
	}
	return nil
}

func totalPagesPlugin(pages PageLister) PluginFunc {
	return func(ctx context.Context, call PluginCall) (string, error) {
		if pages == nil {
			return strconv.Itoa(len(call.Exec.LinkGraph)), nil
		}
		names, err := pages.ListPages(ctx)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(len(names)), nil
	}
}

// currentTimePlugin formats the current time with the Go layout in the
// format parameter.
func currentTimePlugin(now func() time.Time) PluginFunc {
	return func(_ context.Context, call PluginCall) (string, error) {
		layout := time.DateTime
		if f, ok := call.Params["format"].(string); ok && f != "" {
			layout = f
		}
		return html.EscapeString(now().Format(layout)), nil
	}
}
