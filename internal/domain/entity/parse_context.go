package entity

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

const (
	// DefaultPageName is used when a parse names no page.
	DefaultPageName = "unknown"

	// DefaultUserName is used for anonymous requests.
	DefaultUserName = "anonymous"

	// MetaInclusionStack holds the []string of pages being included.
	MetaInclusionStack = "inclusionStack"

	// MetaFrontMatter holds front matter decoded by the Markdown converter.
	MetaFrontMatter = "frontMatter"
)

// ParseContext carries the state of one render. It is created per parse call
// and owned by that call; the mutex only guards the parallel filter tier.
type ParseContext struct {
	// Identity
	originalContent string
	pageName        string
	userName        string
	user            *provider.User

	// Collaborators
	services provider.Services

	// Side channels
	variables      map[string]string
	handlerResults map[string]string
	metadata       map[string]any
	phaseTimings   map[string]time.Duration
	protected      *ProtectedSpans

	startTime time.Time
	depth     int
	mutex     sync.RWMutex
}

// ContextOptions describes the request a ParseContext is built for.
type ContextOptions struct {
	PageName  string
	UserName  string
	User      *provider.User
	Services  provider.Services
	Variables map[string]string
	Metadata  map[string]any
	Protected *ProtectedSpans
	StartTime time.Time
}

// NewParseContext builds the context for rendering content.
func NewParseContext(content string, opts ContextOptions) *ParseContext {
	pageName := opts.PageName
	if pageName == "" {
		pageName = DefaultPageName
	}

	userName := opts.UserName
	if userName == "" && opts.User != nil {
		userName = opts.User.Name
	}
	if userName == "" {
		userName = DefaultUserName
	}

	start := opts.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	protected := opts.Protected
	if protected == nil {
		protected = NewProtectedSpans("")
	}

	pc := &ParseContext{
		originalContent: content,
		pageName:        pageName,
		userName:        userName,
		services:        opts.Services,
		variables:       make(map[string]string, len(opts.Variables)),
		handlerResults:  make(map[string]string),
		metadata:        make(map[string]any, len(opts.Metadata)),
		phaseTimings:    make(map[string]time.Duration),
		protected:       protected,
		startTime:       start,
	}
	if opts.User != nil {
		u := copyUser(*opts.User)
		pc.user = &u
	}
	maps.Copy(pc.variables, opts.Variables)
	maps.Copy(pc.metadata, opts.Metadata)
	return pc
}

func copyUser(u provider.User) provider.User {
	u.Roles = slices.Clone(u.Roles)
	u.Permissions = slices.Clone(u.Permissions)
	return u
}

// OriginalContent is the content this context was created for.
func (pc *ParseContext) OriginalContent() string { return pc.originalContent }

// PageName is never empty.
func (pc *ParseContext) PageName() string { return pc.pageName }

// UserName is never empty.
func (pc *ParseContext) UserName() string { return pc.userName }

// User returns a copy of the requesting user, nil when anonymous.
func (pc *ParseContext) User() *provider.User {
	if pc.user == nil {
		return nil
	}
	u := copyUser(*pc.user)
	return &u
}

// Services returns the collaborators available to this render.
func (pc *ParseContext) Services() provider.Services { return pc.services }

// Protected returns the placeholder store shared by this render and its clones.
func (pc *ParseContext) Protected() *ProtectedSpans { return pc.protected }

// Depth counts nested renders: 0 for the top-level parse.
func (pc *ParseContext) Depth() int { return pc.depth }

// StartTime is when the top-level parse started.
func (pc *ParseContext) StartTime() time.Time { return pc.startTime }

// IsAuthenticated reports whether an authenticated user is attached.
func (pc *ParseContext) IsAuthenticated() bool {
	return pc.user != nil && pc.user.Authenticated
}

// UserRoles returns the user's roles, empty for anonymous requests.
func (pc *ParseContext) UserRoles() []string {
	if pc.user == nil {
		return []string{}
	}
	return slices.Clone(pc.user.Roles)
}

// HasRole reports role membership.
func (pc *ParseContext) HasRole(role string) bool {
	return pc.user != nil && lo.Contains(pc.user.Roles, role)
}

// HasPermission asks the policy collaborator, or the user's own permission
// list when there is no policy. It fails closed: no user, a policy error, or
// no answer all yield false.
func (pc *ParseContext) HasPermission(ctx context.Context, permission, resource string) bool {
	if pc.user == nil {
		return false
	}
	if pc.services.Policy != nil {
		ok, err := pc.services.Policy.CheckPermission(ctx, pc.User(), permission, resource)
		return err == nil && ok
	}
	return lo.Contains(pc.user.Permissions, permission)
}

// SetVariable stores a page variable.
func (pc *ParseContext) SetVariable(name, val string) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.variables[name] = val
}

// Variable looks up a page variable.
func (pc *ParseContext) Variable(name string) (string, bool) {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	v, ok := pc.variables[name]
	return v, ok
}

// Variables returns a copy of all page variables.
func (pc *ParseContext) Variables() map[string]string {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	return maps.Clone(pc.variables)
}

// SetHandlerResult caches a handler output for the rest of this render.
func (pc *ParseContext) SetHandlerResult(key, result string) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.handlerResults[key] = result
}

// HandlerResult returns a result stored by SetHandlerResult.
func (pc *ParseContext) HandlerResult(key string) (string, bool) {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	v, ok := pc.handlerResults[key]
	return v, ok
}

// SetMetadata stores free-form metadata.
func (pc *ParseContext) SetMetadata(key string, val any) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.metadata[key] = val
}

// Metadata returns the metadata stored under key.
func (pc *ParseContext) Metadata(key string) (any, bool) {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	v, ok := pc.metadata[key]
	return v, ok
}

// InclusionStack lists the pages currently being included, outermost first.
func (pc *ParseContext) InclusionStack() []string {
	v, _ := pc.Metadata(MetaInclusionStack)
	stack, _ := v.([]string)
	return slices.Clone(stack)
}

// RecordPhase adds d to the timing of phase.
func (pc *ParseContext) RecordPhase(phase string, d time.Duration) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.phaseTimings[phase] += d
}

// PhaseTimings returns a copy of the recorded phase timings.
func (pc *ParseContext) PhaseTimings() map[string]time.Duration {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	return maps.Clone(pc.phaseTimings)
}

// Elapsed is the time since the parse started.
func (pc *ParseContext) Elapsed() time.Duration { return time.Since(pc.startTime) }

// CloneOptions rebinds parts of a cloned context.
type CloneOptions struct {
	Content string
	// PageName rebinds the page; empty keeps the current one.
	PageName string
	// Include pushes a page onto the inclusion stack. The first include also
	// records the page it started from.
	Include string
}

// Clone derives the context for a nested render. Variables and metadata are
// copied; user, collaborators and protected spans are shared.
func (pc *ParseContext) Clone(opts CloneOptions) *ParseContext {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()

	clone := &ParseContext{
		originalContent: opts.Content,
		pageName:        pc.pageName,
		userName:        pc.userName,
		user:            pc.user,
		services:        pc.services,
		variables:       maps.Clone(pc.variables),
		handlerResults:  make(map[string]string),
		metadata:        maps.Clone(pc.metadata),
		phaseTimings:    make(map[string]time.Duration),
		protected:       pc.protected,
		startTime:       pc.startTime,
		depth:           pc.depth + 1,
	}
	if opts.PageName != "" {
		clone.pageName = opts.PageName
	}
	if opts.Include != "" {
		stack, _ := pc.metadata[MetaInclusionStack].([]string)
		if len(stack) == 0 {
			stack = []string{pc.pageName}
		}
		next := make([]string, 0, len(stack)+1)
		next = append(next, stack...)
		clone.metadata[MetaInclusionStack] = append(next, opts.Include)
	}
	return clone
}

// Summary describes the context for logs and debugging output.
func (pc *ParseContext) Summary() map[string]any {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	return map[string]any{
		"pageName":       pc.pageName,
		"userName":       pc.userName,
		"authenticated":  pc.user != nil && pc.user.Authenticated,
		"variables":      len(pc.variables),
		"handlerResults": len(pc.handlerResults),
		"depth":          pc.depth,
		"elapsed":        time.Since(pc.startTime).String(),
	}
}
