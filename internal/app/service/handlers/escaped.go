package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
)

var escapedPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]`)

// EscapedHandler turns [[text] into literal brackets that no later handler
// matches, so [[{Plugin}] displays as [{Plugin}].
type EscapedHandler struct{}

// NewEscapedHandler creates the escape processor.
func NewEscapedHandler(Env) *EscapedHandler { return &EscapedHandler{} }

// Pattern matches a double-bracket escape.
func (h *EscapedHandler) Pattern() *regexp.Regexp { return escapedPattern }

// Process rewrites every escape.
func (h *EscapedHandler) Process(_ context.Context, content string, _ *entity.ParseContext) string {
	if !strings.Contains(content, "[[") {
		return content
	}
	return escapedPattern.ReplaceAllString(content, "&#91;$1&#93;")
}
