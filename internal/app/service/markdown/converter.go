// Package markdown converts the transformed document to HTML with goldmark.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// Document is one converted page.
type Document struct {
	HTML        string
	FrontMatter map[string]any
}

// Converter renders GitHub flavored Markdown. Raw HTML produced by the
// syntax handlers passes through untouched; sanitizing happens afterwards.
type Converter struct {
	md     goldmark.Markdown
	style  string
	logger *zap.Logger
}

// NewConverter builds a converter for config.
func NewConverter(config value.MarkdownConfig, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	style := config.HighlightStyle
	if _, ok := styles.Registry[style]; !ok {
		if style != "" {
			logger.Warn("unknown highlight style, using github", zap.String("style", style))
		}
		style = "github"
	}

	var parserOptions []parser.Option
	if config.AutoHeadingID {
		parserOptions = append(parserOptions, parser.WithAutoHeadingID())
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			meta.Meta,
			highlighting.NewHighlighting(
				highlighting.WithStyle(style),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(parserOptions...),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
	return &Converter{md: md, style: style, logger: logger}
}

// Convert renders content. Front matter at the top of the document is
// removed from the output and returned separately.
func (c *Converter) Convert(ctx context.Context, content string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	pctx := parser.NewContext()
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(content), &buf, parser.WithContext(pctx)); err != nil {
		return Document{}, fmt.Errorf("markdown conversion failed: %w", err)
	}

	doc := Document{HTML: buf.String()}
	if fm, err := meta.TryGet(pctx); err != nil {
		c.logger.Warn("invalid front matter", zap.Error(err))
	} else if len(fm) > 0 {
		doc.FrontMatter = fm
	}
	return doc, nil
}

// StyleSheet returns the CSS for highlighted code blocks.
func (c *Converter) StyleSheet() (string, error) {
	var b strings.Builder
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&b, styles.Get(c.style)); err != nil {
		return "", fmt.Errorf("failed to write highlight css: %w", err)
	}
	return b.String(), nil
}

// Style is the highlight style in use.
func (c *Converter) Style() string { return c.style }
