package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

type stubPolicy struct {
	allow bool
	err   error
	calls []string
}

func (p *stubPolicy) CheckPermission(_ context.Context, user *provider.User, permission, resource string) (bool, error) {
	name := "<nil>"
	if user != nil {
		name = user.Name
	}
	p.calls = append(p.calls, name+":"+permission+":"+resource)
	return p.allow, p.err
}

func createTestContext(t testing.TB, user *provider.User, policy provider.Policy) *ParseContext {
	t.Helper()
	return NewParseContext("content", ContextOptions{
		PageName: "Main",
		User:     user,
		Services: provider.Services{Policy: policy},
	})
}

func TestNewParseContext_Defaults(t *testing.T) {
	pc := NewParseContext("hello", ContextOptions{})

	assert.Equal(t, "hello", pc.OriginalContent())
	assert.Equal(t, DefaultPageName, pc.PageName())
	assert.Equal(t, DefaultUserName, pc.UserName())
	assert.False(t, pc.IsAuthenticated())
	assert.Empty(t, pc.UserRoles())
	assert.Nil(t, pc.User())
	assert.Equal(t, 0, pc.Depth())
	assert.NotNil(t, pc.Protected())
}

func TestNewParseContext_UserNameFromUser(t *testing.T) {
	pc := NewParseContext("", ContextOptions{User: &provider.User{Name: "alice", Authenticated: true, Roles: []string{"admin"}}})

	assert.Equal(t, "alice", pc.UserName())
	assert.True(t, pc.IsAuthenticated())
	assert.True(t, pc.HasRole("admin"))
	assert.False(t, pc.HasRole("editor"))

	roles := pc.UserRoles()
	roles[0] = "mutated"
	assert.True(t, pc.HasRole("admin"))
}

func TestParseContext_HasPermission(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous fails closed", func(t *testing.T) {
		policy := &stubPolicy{allow: true}
		pc := createTestContext(t, nil, policy)
		assert.False(t, pc.HasPermission(ctx, "view", "Main"))
		assert.Empty(t, policy.calls)
	})

	t.Run("policy decides", func(t *testing.T) {
		policy := &stubPolicy{allow: true}
		pc := createTestContext(t, &provider.User{Name: "bob", Authenticated: true}, policy)
		assert.True(t, pc.HasPermission(ctx, "view", "Main"))
		assert.Equal(t, []string{"bob:view:Main"}, policy.calls)
	})

	t.Run("policy error fails closed", func(t *testing.T) {
		policy := &stubPolicy{allow: true, err: errors.New("down")}
		pc := createTestContext(t, &provider.User{Name: "bob"}, policy)
		assert.False(t, pc.HasPermission(ctx, "view", "Main"))
	})

	t.Run("no policy uses user permissions", func(t *testing.T) {
		pc := createTestContext(t, &provider.User{Name: "bob", Permissions: []string{"edit"}}, nil)
		assert.True(t, pc.HasPermission(ctx, "edit", "Main"))
		assert.False(t, pc.HasPermission(ctx, "delete", "Main"))
	})
}

func TestParseContext_SideChannels(t *testing.T) {
	pc := NewParseContext("", ContextOptions{Variables: map[string]string{"a": "1"}})

	pc.SetVariable("b", "2")
	v, ok := pc.Variable("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, pc.Variables())

	pc.SetHandlerResult("k", "cached")
	r, ok := pc.HandlerResult("k")
	assert.True(t, ok)
	assert.Equal(t, "cached", r)

	pc.SetMetadata("m", 3)
	m, ok := pc.Metadata("m")
	assert.True(t, ok)
	assert.Equal(t, 3, m)

	pc.RecordPhase("handlers", time.Millisecond)
	pc.RecordPhase("handlers", time.Millisecond)
	assert.Equal(t, 2*time.Millisecond, pc.PhaseTimings()["handlers"])

	summary := pc.Summary()
	assert.Equal(t, "unknown", summary["pageName"])
	assert.Equal(t, 2, summary["variables"])
}

func TestParseContext_Clone(t *testing.T) {
	user := &provider.User{Name: "carol", Authenticated: true}
	pc := NewParseContext("outer", ContextOptions{PageName: "A", User: user})
	pc.SetVariable("x", "1")

	child := pc.Clone(CloneOptions{Content: "inner", PageName: "B", Include: "B"})
	assert.Equal(t, "inner", child.OriginalContent())
	assert.Equal(t, "B", child.PageName())
	assert.Equal(t, "carol", child.UserName())
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, []string{"A", "B"}, child.InclusionStack())
	assert.Same(t, pc.Protected(), child.Protected())

	grandchild := child.Clone(CloneOptions{Include: "C"})
	assert.Equal(t, "B", grandchild.PageName())
	assert.Equal(t, []string{"A", "B", "C"}, grandchild.InclusionStack())
	assert.Equal(t, []string{"A", "B"}, child.InclusionStack())
	assert.Empty(t, pc.InclusionStack())

	child.SetVariable("x", "2")
	v, _ := pc.Variable("x")
	assert.Equal(t, "1", v)
}

func TestProtectedSpans(t *testing.T) {
	spans := NewProtectedSpans("3F2A-9c")
	code := spans.Add(SpanCode, "```go\nx := 1\n```")
	lit := spans.Add(SpanLiteral, "&#91;raw&#93;")
	require.Equal(t, 2, spans.Len())
	assert.Regexp(t, `^WMP3f2a9cX\d+Z$`, code)

	text := "a " + code + " b " + lit
	afterCode := spans.Restore(text, SpanCode)
	assert.Equal(t, "a ```go\nx := 1\n``` b "+lit, afterCode)
	assert.Equal(t, "a ```go\nx := 1\n``` b &#91;raw&#93;", spans.Restore(afterCode, SpanLiteral))

	assert.Equal(t, "untouched", NewProtectedSpans("").Restore("untouched", SpanCode))
}
