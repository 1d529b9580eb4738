package handlers

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// ApplicationName is reported by [{$applicationname}].
const ApplicationName = "gowikimark"

var variablePattern = regexp.MustCompile(`\[\{\$(\w+)\}\]`)

// VariableHandler resolves [{$name}] references.
type VariableHandler struct {
	env Env
}

// NewVariableHandler creates the variable processor.
func NewVariableHandler(env Env) *VariableHandler {
	return &VariableHandler{env: env}
}

// Pattern matches a variable reference.
func (h *VariableHandler) Pattern() *regexp.Regexp { return variablePattern }

// Process substitutes every variable reference. Unknown names become a comment.
func (h *VariableHandler) Process(ctx context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "[{$") {
		return content
	}
	var matches []value.Match
	for _, loc := range variablePattern.FindAllStringSubmatchIndex(content, -1) {
		matches = append(matches, value.Match{
			Text:  content[loc[0]:loc[1]],
			Name:  content[loc[2]:loc[3]],
			Start: loc[0],
			End:   loc[1],
		})
	}
	return value.Splice(content, matches, func(m value.Match) string {
		if v, ok := lookupVariable(ctx, h.env, m.Name, pctx); ok {
			return v
		}
		return comment("Unknown variable: %s", m.Name)
	})
}

// lookupVariable resolves name from the page variables, then the built-in
// variables, then the resolver collaborator.
func lookupVariable(ctx context.Context, env Env, name string, pctx *entity.ParseContext) (string, bool) {
	if v, ok := pctx.Variable(name); ok {
		return v, true
	}
	if v, ok := builtinVariable(ctx, env, name, pctx); ok {
		return v, true
	}
	resolver := pctx.Services().Variables
	if resolver == nil {
		return "", false
	}
	v, ok, err := resolver.ResolveVariable(ctx, name, pctx.PageName(), pctx.User())
	if err != nil {
		env.logger().Warn("variable resolution failed",
			zap.String("variable", name),
			zap.String("page", pctx.PageName()),
			zap.Error(err))
		return "", false
	}
	return v, ok
}

// builtinVariable answers the variables every page has. Values that do not
// depend on the clock go through the variables cache region.
func builtinVariable(ctx context.Context, env Env, name string, pctx *entity.ParseContext) (string, bool) {
	lower := strings.ToLower(name)
	switch lower {
	case "timestamp":
		return env.now().Format(time.RFC3339), true
	case "date":
		return env.now().Format(time.DateOnly), true
	}

	key := "builtin:" + lower + ":" + pctx.PageName() + ":" + pctx.UserName()
	if env.Variables != nil {
		if v, ok := env.Variables.Get(ctx, key); ok {
			return v, true
		}
	}

	var v string
	switch lower {
	case "pagename":
		v = pctx.PageName()
	case "username":
		v = pctx.UserName()
	case "applicationname":
		v = ApplicationName
	case "version":
		v = env.Version
		if v == "" {
			v = "dev"
		}
	case "authenticated":
		v = strconv.FormatBool(pctx.IsAuthenticated())
	default:
		return "", false
	}

	if env.Variables != nil {
		env.Variables.Set(ctx, key, v)
	}
	return v, true
}
