package entity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/async"
)

func upperProcessor() Processor {
	return ProcessorFunc(func(_ context.Context, content string, _ *ParseContext) string {
		return strings.ToUpper(content)
	})
}

func createTestHandler(t testing.TB, spec HandlerSpec, p Processor) *Handler {
	t.Helper()
	result := NewHandler(spec, p)
	require.True(t, result.IsOk(), "handler construction failed: %v", result.Error())
	return result.Unwrap()
}

func TestNewHandler_Validation(t *testing.T) {
	tests := []struct {
		name      string
		spec      HandlerSpec
		processor Processor
		errText   string
	}{
		{"missing id", HandlerSpec{Kind: value.KindPlugin}, upperProcessor(), "must have an id"},
		{"missing processor", HandlerSpec{ID: "x", Kind: value.KindPlugin}, nil, "must have a processor"},
		{"missing kind", HandlerSpec{ID: "x"}, upperProcessor(), "must have a kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewHandler(tt.spec, tt.processor)
			require.True(t, result.IsErr())
			assert.Contains(t, result.Error().Error(), tt.errText)
		})
	}
}

func TestHandler_Descriptor(t *testing.T) {
	deps := []string{"PageStore"}
	h := createTestHandler(t, HandlerSpec{
		ID:           "PluginSyntaxHandler",
		Kind:         value.KindPlugin,
		Priority:     90,
		Pattern:      regexp.MustCompile(`\[\{(\w+)\}\]`),
		Dependencies: deps,
		Timeout:      time.Second,
		Enabled:      true,
	}, upperProcessor())

	deps[0] = "mutated"
	d := h.Descriptor()
	assert.Equal(t, "PluginSyntaxHandler", d.ID)
	assert.Equal(t, value.KindPlugin, d.Kind)
	assert.Equal(t, 90, d.Priority)
	assert.True(t, d.Enabled)
	assert.Equal(t, `\[\{(\w+)\}\]`, d.Pattern)
	assert.Equal(t, []string{"PageStore"}, d.Dependencies)

	h.SetEnabled(false)
	assert.False(t, h.Descriptor().Enabled)
	assert.Contains(t, h.String(), "enabled: false")
}

func TestHandler_Execute(t *testing.T) {
	h := createTestHandler(t, HandlerSpec{ID: "upper", Kind: value.KindStyle, Timeout: time.Second, Enabled: true}, upperProcessor())

	out, err := h.Execute(context.Background(), "abc", NewParseContext("abc", ContextOptions{}))
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Executions)
	assert.Zero(t, stats.ErrorCount)
	assert.False(t, stats.LastExecuted.IsZero())

	h.ResetStats()
	assert.Zero(t, h.Stats().Executions)
}

func TestHandler_ExecuteTimeoutKeepsContent(t *testing.T) {
	slow := ProcessorFunc(func(ctx context.Context, content string, _ *ParseContext) string {
		<-ctx.Done()
		return "late"
	})
	h := createTestHandler(t, HandlerSpec{ID: "slow", Kind: value.KindPlugin, Timeout: 10 * time.Millisecond}, slow)

	out, err := h.Execute(context.Background(), "keep", NewParseContext("keep", ContextOptions{}))
	assert.True(t, errors.Is(err, async.ErrTimeout))
	assert.Equal(t, "keep", out)
	assert.Equal(t, int64(1), h.Stats().ErrorCount)
}

func TestHandler_ExecuteRecoversPanic(t *testing.T) {
	boom := ProcessorFunc(func(context.Context, string, *ParseContext) string { panic("boom") })
	h := createTestHandler(t, HandlerSpec{ID: "boom", Kind: value.KindPlugin, Timeout: time.Second}, boom)

	out, err := h.Execute(context.Background(), "keep", NewParseContext("keep", ContextOptions{}))
	require.Error(t, err)
	assert.Equal(t, "keep", out)
}
