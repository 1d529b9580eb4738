package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/async"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

var pluginPattern = regexp.MustCompile(`\[\{(\w+)\s*([^}]*)\}\]`)

// ReservedPluginNames are [{Name}] forms owned by other handlers.
var ReservedPluginNames = append([]string{"ATTACH"}, formElements...)

// PluginHandler executes [{Name params}] and [{Name params}]body[{/Name}].
type PluginHandler struct {
	env      Env
	settings value.HandlerSettings
	id       string
}

// NewPluginHandler creates the plugin processor.
func NewPluginHandler(env Env) *PluginHandler {
	return &PluginHandler{
		env:      env,
		settings: env.Config.HandlerSettingsFor(value.KindPlugin),
		id:       value.KindPlugin.HandlerID(),
	}
}

// Pattern is the simple invocation form.
func (h *PluginHandler) Pattern() *regexp.Regexp { return pluginPattern }

// Process executes every plugin invocation in content.
func (h *PluginHandler) Process(ctx context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "[{") {
		return content
	}
	matches := h.findMatches(content)
	return value.Splice(content, matches, func(m value.Match) string {
		out, err := h.handle(ctx, m, pctx)
		if err != nil {
			h.env.logger().Warn("plugin failed",
				zap.String("handler", h.id),
				zap.String("plugin", m.Name),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
			if m.HasBody {
				return comment("Body Plugin Error: %s - %s", m.Name, err)
			}
			return comment("Plugin Error: %s - %s", m.Name, err)
		}
		return out
	})
}

// findMatches scans openers left to right. An opener followed by a
// [{/Name}] becomes a body match ending at the nearest closing tag, and
// scanning resumes after it, so the body is never matched on its own.
func (h *PluginHandler) findMatches(content string) []value.Match {
	var matches []value.Match
	offset := 0
	for offset < len(content) {
		loc := pluginPattern.FindStringSubmatchIndex(content[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[0], offset+loc[1]
		name := content[offset+loc[2] : offset+loc[3]]
		params := strings.TrimSpace(content[offset+loc[4] : offset+loc[5]])

		if lo.Contains(ReservedPluginNames, name) {
			offset = end
			continue
		}

		m := value.Match{Text: content[start:end], Name: name, Params: params, Start: start, End: end}
		if closer, err := h.env.compile(`\[\{/` + regexp.QuoteMeta(name) + `\}\]`); err == nil {
			if c := closer.FindStringIndex(content[end:]); c != nil {
				closeStart, closeEnd := end+c[0], end+c[1]
				m.Body = content[end:closeStart]
				m.HasBody = true
				m.End = closeEnd
				m.Text = content[start:closeEnd]
			}
		}
		matches = append(matches, m)
		offset = m.End
	}
	return matches
}

func (h *PluginHandler) handle(ctx context.Context, m value.Match, pctx *entity.ParseContext) (string, error) {
	params, err := value.ParseParams(m.Params)
	if err != nil {
		return "", fmt.Errorf("invalid parameters for %s: %w", m.Name, err)
	}

	services := pctx.Services()
	if services.Plugins == nil {
		return "", errors.New("plugin executor not available")
	}

	key := ResultKey(h.id, utils.HashString(m.Text), ContextHash(pctx, h.env.now()))
	if cached, ok := pctx.HandlerResult(key); ok {
		return cached, nil
	}
	if h.env.Results != nil {
		if cached, ok := h.env.Results.Get(ctx, key); ok {
			pctx.SetHandlerResult(key, cached)
			return cached, nil
		}
	}

	exec := provider.ExecutionContext{
		PageName:      pctx.PageName(),
		UserName:      pctx.UserName(),
		Authenticated: pctx.IsAuthenticated(),
		Roles:         pctx.UserRoles(),
		Params:        params,
	}
	if m.HasBody {
		body := m.Body
		exec.Body = &body
	}
	if services.Links != nil {
		exec.LinkGraph = services.Links.Snapshot()
	}
	if h.env.Renderer != nil {
		exec.Renderer = h.env.Renderer
	}

	out, err := async.WithTimeout(ctx, h.settings.Timeout, func(ctx context.Context) (string, error) {
		return services.Plugins.Execute(ctx, m.Name, pctx.PageName(), params, exec)
	})
	if err != nil {
		if errors.Is(err, async.ErrTimeout) {
			return "", fmt.Errorf("execution timed out after %s", h.settings.Timeout.Round(time.Millisecond))
		}
		return "", err
	}

	pctx.SetHandlerResult(key, out)
	if h.env.Results != nil {
		h.env.Results.Set(ctx, key, out)
	}
	return out, nil
}
