package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// MetaOpenForms holds the ids of forms opened but not yet closed.
const MetaOpenForms = "openForms"

var (
	formPattern  = regexp.MustCompile(`\[\{Form(Open|Input|Select|Textarea|Button|Close)\s*([^}]*)\}\]`)
	formElements = []string{"FormOpen", "FormInput", "FormSelect", "FormTextarea", "FormButton", "FormClose"}
	inputTypes   = []string{"text", "password", "email", "number", "date", "hidden", "checkbox", "radio", "file"}
)

// FormHandler renders [{FormOpen}] ... [{FormClose}] forms. Every form
// carries a CSRF token bound to page, user and form id.
type FormHandler struct {
	env    Env
	id     string
	secret []byte
	mutex  sync.RWMutex
}

// NewFormHandler creates the form processor.
func NewFormHandler(env Env) *FormHandler {
	return &FormHandler{env: env, id: value.KindForm.HandlerID(), secret: []byte(env.Config.Form.Secret)}
}

// Initialize picks a random secret when none is configured.
func (h *FormHandler) Initialize(context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(h.secret) == 0 {
		h.secret = []byte(uuid.NewString())
		h.env.logger().Debug("form secret generated")
	}
	return nil
}

// Pattern matches any form element.
func (h *FormHandler) Pattern() *regexp.Regexp { return formPattern }

// Process renders form elements in source order, since an element belongs
// to the form most recently opened before it. Forms left open are closed at
// the end of the content.
func (h *FormHandler) Process(_ context.Context, content string, pctx *entity.ParseContext) string {
	if !strings.Contains(content, "[{Form") {
		return content
	}

	open := openForms(pctx)
	locs := formPattern.FindAllStringSubmatchIndex(content, -1)
	rendered := make(map[int]string, len(locs))
	matches := make([]value.Match, 0, len(locs))
	for _, loc := range locs {
		m := value.Match{
			Text:   content[loc[0]:loc[1]],
			Name:   content[loc[2]:loc[3]],
			Params: content[loc[4]:loc[5]],
			Start:  loc[0],
			End:    loc[1],
		}
		out, err := h.handle(m, pctx, &open)
		if err != nil {
			h.env.logger().Warn("form element failed",
				zap.String("handler", h.id),
				zap.String("element", m.Name),
				zap.String("page", pctx.PageName()),
				zap.Error(err))
			out = comment("Form Error: %s - %s", m.Name, err)
		}
		rendered[m.Start] = out
		matches = append(matches, m)
	}

	content = value.Splice(content, matches, func(m value.Match) string { return rendered[m.Start] })
	if len(open) > 0 && pctx.Depth() == 0 {
		h.env.logger().Warn("unclosed forms", zap.String("page", pctx.PageName()), zap.Strings("forms", open))
		content += strings.Repeat("</form>", len(open))
		open = nil
	}
	pctx.SetMetadata(MetaOpenForms, open)
	return content
}

func openForms(pctx *entity.ParseContext) []string {
	v, _ := pctx.Metadata(MetaOpenForms)
	forms, _ := v.([]string)
	return append([]string(nil), forms...)
}

func (h *FormHandler) handle(m value.Match, pctx *entity.ParseContext, open *[]string) (string, error) {
	params, err := value.ParseParams(m.Params)
	if err != nil {
		return "", err
	}
	switch m.Name {
	case "Open":
		return h.formOpen(params, pctx, open), nil
	case "Close":
		if len(*open) == 0 {
			return "", errors.New("FormClose without FormOpen")
		}
		*open = (*open)[:len(*open)-1]
		return "</form>", nil
	}

	if len(*open) == 0 {
		return "", fmt.Errorf("Form%s outside a form", m.Name)
	}
	switch m.Name {
	case "Input":
		return formInput(params)
	case "Select":
		return formSelect(params)
	case "Textarea":
		return formTextarea(params)
	case "Button":
		return formButton(params), nil
	default:
		return "", fmt.Errorf("unsupported form element: %s", m.Name)
	}
}

func (h *FormHandler) formOpen(params value.Params, pctx *entity.ParseContext, open *[]string) string {
	formID := "wikiForm_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	method := strings.ToUpper(params.String("method", "POST"))
	if method != "GET" {
		method = "POST"
	}
	*open = append(*open, formID)

	return fmt.Sprintf(`<form id="%s" name="%s" action="%s" method="%s" class="%s">
<input type="hidden" name="_formId" value="%s">
<input type="hidden" name="_csrfToken" value="%s">
<input type="hidden" name="_pageName" value="%s">`,
		formID,
		escape(params.String("name", formID)),
		escape(params.String("action", "/api/forms/submit")),
		method,
		escape(params.String("class", "wiki-form")),
		formID,
		h.Token(pctx.PageName(), pctx.UserName(), formID),
		escape(pctx.PageName()))
}

// Token is the CSRF token of one form.
func (h *FormHandler) Token(page, user, formID string) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(page + "\x00" + user + "\x00" + formID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks a submitted token.
func (h *FormHandler) VerifyToken(page, user, formID, token string) bool {
	want := h.Token(page, user, formID)
	return hmac.Equal([]byte(want), []byte(token))
}

func fieldLabel(params value.Params, name string) string {
	if label := params.String("label", ""); label != "" {
		return label
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func formInput(params value.Params) (string, error) {
	name := params.String("name", "")
	if name == "" {
		return "", errors.New(`FormInput requires "name" parameter`)
	}
	typ := params.String("type", "text")
	if !lo.Contains(inputTypes, typ) {
		return "", fmt.Errorf("invalid input type: %s", typ)
	}
	id := params.String("id", "input_"+name)

	var b strings.Builder
	b.WriteString(`<div class="mb-3">`)
	if typ != "hidden" {
		fmt.Fprintf(&b, `<label for="%s" class="form-label">%s</label>`, escape(id), escape(fieldLabel(params, name)))
	}
	fmt.Fprintf(&b, `<input type="%s" id="%s" name="%s" class="%s"`, typ, escape(id), escape(name), escape(params.String("class", "form-control")))
	if v := params.String("value", ""); v != "" {
		fmt.Fprintf(&b, ` value="%s"`, escape(v))
	}
	if v := params.String("placeholder", ""); v != "" {
		fmt.Fprintf(&b, ` placeholder="%s"`, escape(v))
	}
	if params.Bool("required", false) {
		b.WriteString(" required")
	}
	if typ == "number" {
		for _, attr := range []string{"min", "max", "step"} {
			if v := params.String(attr, ""); v != "" {
				fmt.Fprintf(&b, ` %s="%s"`, attr, escape(v))
			}
		}
	}
	b.WriteString(">")
	if typ != "hidden" {
		b.WriteString(`<div class="invalid-feedback"></div>`)
	}
	b.WriteString("</div>")
	return b.String(), nil
}

func formSelect(params value.Params) (string, error) {
	name := params.String("name", "")
	if name == "" {
		return "", errors.New(`FormSelect requires "name" parameter`)
	}
	id := params.String("id", "select_"+name)
	label := fieldLabel(params, name)
	required := params.Bool("required", false)
	selected := params.String("selected", "")

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="mb-3"><label for="%s" class="form-label">%s</label><select id="%s" name="%s" class="%s"`,
		escape(id), escape(label), escape(id), escape(name), escape(params.String("class", "form-select")))
	if required {
		b.WriteString(" required")
	}
	b.WriteString(">")
	if !required {
		fmt.Fprintf(&b, `<option value="">-- Select %s --</option>`, escape(label))
	}
	for _, opt := range lo.Compact(lo.Map(strings.Split(params.String("options", ""), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})) {
		attr := ""
		if opt == selected {
			attr = " selected"
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, escape(opt), attr, escape(opt))
	}
	b.WriteString(`</select><div class="invalid-feedback"></div></div>`)
	return b.String(), nil
}

func formTextarea(params value.Params) (string, error) {
	name := params.String("name", "")
	if name == "" {
		return "", errors.New(`FormTextarea requires "name" parameter`)
	}
	id := params.String("id", "textarea_"+name)

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="mb-3"><label for="%s" class="form-label">%s</label><textarea id="%s" name="%s" class="%s" rows="%d"`,
		escape(id), escape(fieldLabel(params, name)), escape(id), escape(name),
		escape(params.String("class", "form-control")), params.Int("rows", 3))
	if cols := params.Int("cols", 0); cols > 0 {
		fmt.Fprintf(&b, ` cols="%d"`, cols)
	}
	if v := params.String("placeholder", ""); v != "" {
		fmt.Fprintf(&b, ` placeholder="%s"`, escape(v))
	}
	if params.Bool("required", false) {
		b.WriteString(" required")
	}
	fmt.Fprintf(&b, `>%s</textarea><div class="invalid-feedback"></div></div>`, escape(params.String("value", "")))
	return b.String(), nil
}

func formButton(params value.Params) string {
	typ := params.String("type", "button")
	if typ != "submit" && typ != "reset" {
		typ = "button"
	}
	class := "btn btn-secondary"
	if typ == "submit" {
		class = "btn btn-primary"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<button type="%s" class="%s"`, typ, escape(params.String("class", class)))
	if id := params.String("id", ""); id != "" {
		fmt.Fprintf(&b, ` id="%s"`, escape(id))
	}
	if params.Bool("disabled", false) {
		b.WriteString(" disabled")
	}
	fmt.Fprintf(&b, ">%s</button>", escape(params.String("value", "Button")))
	return b.String()
}
