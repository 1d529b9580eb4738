package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
)

var interWikiPattern = regexp.MustCompile(`\[([A-Za-z0-9]+):([^|\]]+)(?:\|([^\]]+))?\]`)

// InterWikiHandler renders [Site:Page] and [Site:Page|Text] links.
type InterWikiHandler struct {
	env   Env
	id    string
	sites map[string]value.InterWikiSite
	mutex sync.RWMutex
}

// NewInterWikiHandler creates the inter-wiki processor with the configured sites.
func NewInterWikiHandler(env Env) *InterWikiHandler {
	sites := make(map[string]value.InterWikiSite, len(env.Config.InterWiki.Sites))
	for name, site := range env.Config.InterWiki.Sites {
		sites[strings.ToLower(name)] = site
	}
	return &InterWikiHandler{env: env, id: value.KindInterWiki.HandlerID(), sites: sites}
}

// Initialize merges the sites file, when configured, over the configured sites.
func (h *InterWikiHandler) Initialize(context.Context) error {
	path := h.env.Config.InterWiki.SitesFile
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read interwiki sites file %s: %w", path, err)
	}
	var loaded map[string]value.InterWikiSite
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse interwiki sites file %s: %w", path, err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for name, site := range loaded {
		h.sites[strings.ToLower(name)] = site
	}
	h.env.logger().Debug("interwiki sites loaded", zap.String("file", path), zap.Int("sites", len(loaded)))
	return nil
}

// Pattern matches an inter-wiki link.
func (h *InterWikiHandler) Pattern() *regexp.Regexp { return interWikiPattern }

// Sites lists the known site names.
func (h *InterWikiHandler) Sites() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return utils.SortedKeys(h.sites)
}

// Process renders every link to a known site. Links to unknown sites are
// left untouched.
func (h *InterWikiHandler) Process(ctx context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, ":") {
		return content
	}
	var matches []value.Match
	for _, loc := range interWikiPattern.FindAllStringSubmatchIndex(content, -1) {
		m := value.Match{
			Text:   content[loc[0]:loc[1]],
			Name:   content[loc[2]:loc[3]],
			Params: strings.TrimSpace(content[loc[4]:loc[5]]),
			Start:  loc[0],
			End:    loc[1],
		}
		if loc[6] >= 0 {
			m.Body = strings.TrimSpace(content[loc[6]:loc[7]])
		}
		matches = append(matches, m)
	}
	return value.Splice(content, matches, func(m value.Match) string {
		out, err := h.handle(ctx, m)
		if err != nil {
			h.env.logger().Warn("interwiki link failed",
				zap.String("handler", h.id),
				zap.String("site", m.Name),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
			return comment("InterWiki Error: %s - %s", m.Name, err)
		}
		return out
	})
}

func (h *InterWikiHandler) handle(ctx context.Context, m value.Match) (string, error) {
	h.mutex.RLock()
	site, ok := h.sites[strings.ToLower(m.Name)]
	h.mutex.RUnlock()
	if !ok {
		return m.Text, nil
	}

	key := ResultKey(h.id, utils.HashString(m.Text), "static")
	if h.env.Results != nil {
		if cached, ok := h.env.Results.Get(ctx, key); ok {
			return cached, nil
		}
	}

	target := strings.ReplaceAll(site.URL, "%s", strings.ReplaceAll(url.QueryEscape(m.Params), "+", "%20"))
	if err := checkExternalURL(target); err != nil {
		return "", err
	}

	text := m.Body
	if text == "" {
		text = m.Name + ":" + m.Params
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<a href="%s" class="interwiki-link interwiki-%s" target="_blank" rel="noopener noreferrer"`,
		escape(target), escape(strings.ToLower(m.Name)))
	if site.Description != "" {
		fmt.Fprintf(&b, ` title="%s: %s"`, escape(site.Description), escape(text))
	}
	fmt.Fprintf(&b, ">%s</a>", escape(text))

	out := b.String()
	if h.env.Results != nil {
		h.env.Results.Set(ctx, key, out)
	}
	return out, nil
}

// checkExternalURL accepts only http and https links to non-local hosts.
func checkExternalURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsafe URL scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || strings.Contains(host, "..") || strings.Contains(host, "localhost") {
		return errors.New("unsafe URL host")
	}
	return nil
}
