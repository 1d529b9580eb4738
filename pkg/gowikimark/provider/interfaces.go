// Package provider declares the collaborators the markup pipeline consumes.
// Implementations live outside the pipeline: page storage, plugin execution,
// permission policy, configuration and notification delivery.
package provider

import (
	"context"
	"time"
)

// User identifies the requesting user. A nil *User means an anonymous request.
type User struct {
	Name          string
	Roles         []string
	Permissions   []string
	Authenticated bool
}

// Page is a stored wiki page.
type Page struct {
	Name     string
	Content  string
	Modified time.Time
}

// Attachment describes a file attached to a page.
type Attachment struct {
	Name        string
	Page        string
	Size        int64
	ContentType string
	Modified    time.Time
}

// Notification is an operational message forwarded to the notifier.
type Notification struct {
	Type     string
	Title    string
	Message  string
	Priority string
	Source   string
}

// ExecutionContext is handed to a plugin when it runs.
type ExecutionContext struct {
	PageName      string
	UserName      string
	Authenticated bool
	Roles         []string
	Params        map[string]any

	// Body is nil for the simple invocation form.
	Body *string

	LinkGraph map[string][]string
	Renderer  Renderer
}

// Renderer gives plugins a handle back into the pipeline.
type Renderer interface {
	// CachedHandlerResult looks up a previously stored handler result.
	CachedHandlerResult(ctx context.Context, handlerID, contentHash, contextHash string) (string, bool)

	// RenderFragment runs nested markup through the syntax phases for pageName.
	RenderFragment(ctx context.Context, content, pageName string) (string, error)
}

// PluginExecutor runs named plugins.
type PluginExecutor interface {
	Execute(ctx context.Context, name, pageName string, params map[string]any, exec ExecutionContext) (string, error)
}

// Policy decides whether user may perform permission on resource.
// user is nil for anonymous requests.
type Policy interface {
	CheckPermission(ctx context.Context, user *User, permission, resource string) (bool, error)
}

// PageStore loads pages. A missing page is reported as (nil, nil).
type PageStore interface {
	GetPage(ctx context.Context, name string) (*Page, error)
}

// AttachmentStore looks up attachment metadata. A missing attachment is (nil, nil).
type AttachmentStore interface {
	GetAttachment(ctx context.Context, pageName, filename string) (*Attachment, error)
}

// VariableResolver resolves [{$name}] references the pipeline cannot answer itself.
type VariableResolver interface {
	ResolveVariable(ctx context.Context, name, pageName string, user *User) (string, bool, error)
}

// Notifier receives alerts. Delivery is fire-and-forget.
type Notifier interface {
	AddNotification(n Notification)
}

// ConfigSource supplies configuration properties.
type ConfigSource interface {
	GetProperty(key string, defaultValue any) (any, error)
}

// LinkGraph exposes the page reference graph to plugins.
type LinkGraph interface {
	Snapshot() map[string][]string
}

// LinkRecorder is implemented by link graphs that accept the [Page] targets
// found while rendering pageName. targets are sorted and unique.
type LinkRecorder interface {
	RecordLinks(pageName string, targets []string)
}

// Services bundles the optional collaborators of one pipeline instance.
// Any field may be nil; callers fall back to the documented default.
type Services struct {
	Plugins     PluginExecutor
	Policy      Policy
	Pages       PageStore
	Attachments AttachmentStore
	Variables   VariableResolver
	Notifier    Notifier
	Links       LinkGraph
}
