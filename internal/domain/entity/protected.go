package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// SpanKind says when a protected span is put back.
type SpanKind int

const (
	// SpanCode is restored before Markdown conversion.
	SpanCode SpanKind = iota
	// SpanLiteral is restored after Markdown conversion.
	SpanLiteral
)

type protectedSpan struct {
	kind SpanKind
	text string
}

// ProtectedSpans stores content that later phases must not reinterpret.
// Each span is replaced in the working string by an opaque alphanumeric token.
type ProtectedSpans struct {
	prefix string
	token  *regexp.Regexp
	spans  []protectedSpan
	mutex  sync.Mutex
}

// NewProtectedSpans creates a store whose tokens embed nonce.
func NewProtectedSpans(nonce string) *ProtectedSpans {
	nonce = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.ToLower(nonce))
	prefix := "WMP" + nonce + "X"
	return &ProtectedSpans{
		prefix: prefix,
		token:  regexp.MustCompile(prefix + `(\d+)Z`),
	}
}

// Add stores text and returns the token that stands in for it.
func (p *ProtectedSpans) Add(kind SpanKind, text string) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.spans = append(p.spans, protectedSpan{kind: kind, text: text})
	return fmt.Sprintf("%s%dZ", p.prefix, len(p.spans)-1)
}

// Len is the number of stored spans.
func (p *ProtectedSpans) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.spans)
}

// Restore replaces the tokens of the given kind with their stored text.
func (p *ProtectedSpans) Restore(content string, kind SpanKind) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.spans) == 0 {
		return content
	}
	return p.token.ReplaceAllStringFunc(content, func(tok string) string {
		idx, err := strconv.Atoi(tok[len(p.prefix) : len(tok)-1])
		if err != nil || idx >= len(p.spans) || p.spans[idx].kind != kind {
			return tok
		}
		return p.spans[idx].text
	})
}
