package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

var (
	attachmentPattern   = regexp.MustCompile(`\[\{ATTACH\s+([^|}\]]+)(?:\|([^|}\]]+))?(?:\|([^}\]]+))?\}\]`)
	imageExtensions     = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".bmp"}
	executableExtension = []string{".exe", ".bat", ".sh", ".cmd", ".scr"}
)

// AttachmentHandler renders [{ATTACH file|text|params}] references.
type AttachmentHandler struct {
	env Env
	id  string
}

// NewAttachmentHandler creates the attachment processor.
func NewAttachmentHandler(env Env) *AttachmentHandler {
	return &AttachmentHandler{env: env, id: value.KindAttachment.HandlerID()}
}

// Pattern matches an attachment reference.
func (h *AttachmentHandler) Pattern() *regexp.Regexp { return attachmentPattern }

// Process renders every attachment reference.
func (h *AttachmentHandler) Process(ctx context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "[{ATTACH") {
		return content
	}
	var matches []value.Match
	for _, loc := range attachmentPattern.FindAllStringSubmatchIndex(content, -1) {
		m := value.Match{
			Text:  content[loc[0]:loc[1]],
			Name:  strings.TrimSpace(content[loc[2]:loc[3]]),
			Start: loc[0],
			End:   loc[1],
		}
		if loc[4] >= 0 {
			m.Body = strings.TrimSpace(content[loc[4]:loc[5]])
		}
		if loc[6] >= 0 {
			m.Params = strings.TrimSpace(content[loc[6]:loc[7]])
		}
		matches = append(matches, m)
	}
	return value.Splice(content, matches, func(m value.Match) string {
		out, err := h.handle(ctx, m, pctx)
		if err != nil {
			h.env.logger().Warn("attachment failed",
				zap.String("handler", h.id),
				zap.String("attachment", m.Name),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
			return comment("Attachment Error: %s - %s", m.Name, err)
		}
		return out
	})
}

func (h *AttachmentHandler) handle(ctx context.Context, m value.Match, pctx *entity.ParseContext) (string, error) {
	page, file := pctx.PageName(), m.Name
	if p, f, ok := strings.Cut(m.Name, "/"); ok {
		page, file = p, f
	}

	params, err := value.ParseParams(m.Params)
	if err != nil {
		return "", err
	}

	key := ResultKey(h.id, utils.HashString(page+"/"+m.Text), ContextHash(pctx, h.env.now()))
	if h.env.Results != nil {
		if cached, ok := h.env.Results.Get(ctx, key); ok {
			return cached, nil
		}
	}

	if !h.canRead(ctx, file, pctx) {
		return "", fmt.Errorf("access denied to attachment: %s", file)
	}

	store := pctx.Services().Attachments
	if store == nil {
		return "", errors.New("attachment store not available")
	}
	att, err := store.GetAttachment(ctx, page, file)
	if err != nil {
		return "", fmt.Errorf("failed to load attachment: %w", err)
	}
	if att == nil {
		return "", fmt.Errorf("attachment not found: %s", file)
	}

	out := renderAttachment(page, file, m.Body, params, att)
	if h.env.Results != nil {
		h.env.Results.Set(ctx, key, out)
	}
	return out, nil
}

// canRead denies executables to anonymous users, then defers to the policy.
// Without a policy other attachments are readable.
func (h *AttachmentHandler) canRead(ctx context.Context, file string, pctx *entity.ParseContext) bool {
	ext := strings.ToLower(path.Ext(file))
	if lo.Contains(executableExtension, ext) && !pctx.IsAuthenticated() {
		return false
	}
	policy := pctx.Services().Policy
	if policy == nil {
		return true
	}
	ok, err := policy.CheckPermission(ctx, pctx.User(), "attachment:read", file)
	if err != nil {
		h.env.logger().Warn("permission check failed", zap.String("attachment", file), zap.Error(err))
		return false
	}
	return ok
}

func isImage(file string, att *provider.Attachment) bool {
	if strings.HasPrefix(att.ContentType, "image/") {
		return true
	}
	return lo.Contains(imageExtensions, strings.ToLower(path.Ext(file)))
}

func renderAttachment(page, file, text string, params value.Params, att *provider.Attachment) string {
	href := "/attachments/" + url.PathEscape(page) + "/" + url.PathEscape(file)
	if text == "" {
		text = file
	}
	target := ""
	if t := params.String("target", ""); t != "" {
		target = fmt.Sprintf(` target="%s"`, escape(t))
	}

	if isImage(file, att) {
		size := ""
		if w := params.Int("width", 0); w > 0 {
			size = fmt.Sprintf(` width="%d"`, w)
		}
		return fmt.Sprintf(`<div class="attachment-image-container"><a href="%s" class="attachment-image-link"%s><img src="%s" alt="%s" class="attachment-image"%s></a></div>`,
			escape(href), target, escape(href), escape(text), size)
	}
	return fmt.Sprintf(`<div class="attachment-file-container"><a href="%s" class="attachment-file-link" data-filename="%s"%s>%s</a> <span class="attachment-size">%s</span></div>`,
		escape(href), escape(file), target, escape(text), FormatFileSize(att.Size))
}

// FormatFileSize renders a byte count with binary units: 1536 is "1.5 KB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + units[i]
}
