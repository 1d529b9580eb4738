package handlers

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gowikimark/gowikimark/internal/app/service/cache"
	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockPlugins struct {
	mock.Mock
}

func (m *mockPlugins) Execute(ctx context.Context, name, pageName string, params map[string]any, exec provider.ExecutionContext) (string, error) {
	args := m.Called(ctx, name, pageName, params, exec)
	return args.String(0), args.Error(1)
}

type memoryResults struct {
	mutex sync.Mutex
	data  map[string]string
}

func newMemoryResults() *memoryResults {
	return &memoryResults{data: make(map[string]string)}
}

func (r *memoryResults) Get(_ context.Context, key string) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	v, ok := r.data[key]
	return v, ok
}

func (r *memoryResults) Set(_ context.Context, key, value string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.data[key] = value
}

type pageMap struct {
	pages map[string]string
	calls int
}

func (p *pageMap) GetPage(_ context.Context, name string) (*provider.Page, error) {
	p.calls++
	content, ok := p.pages[name]
	if !ok {
		return nil, nil
	}
	return &provider.Page{Name: name, Content: content}, nil
}

type policyFunc func(user *provider.User, permission, resource string) bool

func (f policyFunc) CheckPermission(_ context.Context, user *provider.User, permission, resource string) (bool, error) {
	return f(user, permission, resource), nil
}

type attachmentMap map[string]*provider.Attachment

func (a attachmentMap) GetAttachment(_ context.Context, page, file string) (*provider.Attachment, error) {
	return a[page+"/"+file], nil
}

// chainRenderer renders nested content by running processors in order, the
// way the parser does for fragments.
type chainRenderer struct {
	processors []entity.Processor
}

func (r *chainRenderer) RenderNested(ctx context.Context, content string, pctx *entity.ParseContext) (string, error) {
	for _, p := range r.processors {
		content = p.Process(ctx, content, pctx)
	}
	return content, nil
}

func (r *chainRenderer) CachedHandlerResult(context.Context, string, string, string) (string, bool) {
	return "", false
}

func (r *chainRenderer) RenderFragment(ctx context.Context, content, pageName string) (string, error) {
	return r.RenderNested(ctx, content, entity.NewParseContext(content, entity.ContextOptions{PageName: pageName}))
}

func testEnv(t testing.TB) Env {
	t.Helper()
	return Env{
		Config:   value.DefaultMarkupConfig(),
		Patterns: cache.NewMemory[*regexp.Regexp](16),
		Now:      func() time.Time { return fixedNow },
		Version:  "1.2.3",
	}
}

func authenticatedUser(name string, roles ...string) *provider.User {
	return &provider.User{Name: name, Roles: roles, Authenticated: true}
}

func newContext(page string, user *provider.User, services provider.Services) *entity.ParseContext {
	return entity.NewParseContext("", entity.ContextOptions{PageName: page, User: user, Services: services})
}
