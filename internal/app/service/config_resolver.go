package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gowikimark/gowikimark/internal/shared/functional"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
)

// ExtendsKey lists the documents a configuration document builds on.
const ExtendsKey = "extends"

// DocumentLoader reads one configuration document into a nested map.
type DocumentLoader interface {
	LoadDocument(ctx context.Context, path string) functional.Result[map[string]any]
	SupportsPath(path string) bool
}

// ConfigResolver loads configuration documents and resolves their extends
// chains. Extended documents merge first, in order; the document itself
// merges last and wins.
type ConfigResolver struct {
	loaders      []DocumentLoader
	cache        map[string]map[string]any
	resolveStack []string
	mutex        sync.Mutex
}

// NewConfigResolver creates a resolver. Without loaders it reads YAML and JSON.
func NewConfigResolver(loaders ...DocumentLoader) *ConfigResolver {
	if len(loaders) == 0 {
		loaders = []DocumentLoader{NewYAMLDocumentLoader(), NewJSONDocumentLoader()}
	}
	return &ConfigResolver{
		loaders: loaders,
		cache:   make(map[string]map[string]any),
	}
}

// ResolveConfig returns the merged document at path.
func (cr *ConfigResolver) ResolveConfig(ctx context.Context, path string) functional.Result[map[string]any] {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	return cr.resolveLocked(ctx, filepath.Clean(path))
}

func (cr *ConfigResolver) resolveLocked(ctx context.Context, path string) functional.Result[map[string]any] {
	for _, p := range cr.resolveStack {
		if p == path {
			chain := append(append([]string(nil), cr.resolveStack...), path)
			return functional.Err[map[string]any](
				fmt.Errorf("circular dependency detected: %s", strings.Join(chain, " -> ")),
			)
		}
	}
	if cached, ok := cr.cache[path]; ok {
		return functional.Ok(cached)
	}

	cr.resolveStack = append(cr.resolveStack, path)
	defer func() { cr.resolveStack = cr.resolveStack[:len(cr.resolveStack)-1] }()

	loader := cr.loaderFor(path)
	if loader == nil {
		return functional.Err[map[string]any](fmt.Errorf("unsupported config format: %s", path))
	}
	base, err := loader.LoadDocument(ctx, path).Value()
	if err != nil {
		return functional.Err[map[string]any](err)
	}

	extends := extendsList(base[ExtendsKey])
	delete(base, ExtendsKey)

	layers := make([]map[string]any, 0, len(extends)+1)
	for _, ext := range extends {
		if !filepath.IsAbs(ext) {
			ext = filepath.Join(filepath.Dir(path), ext)
		}
		resolved, err := cr.resolveLocked(ctx, filepath.Clean(ext)).Value()
		if err != nil {
			return functional.Err[map[string]any](fmt.Errorf("failed to resolve extension %s: %w", ext, err))
		}
		layers = append(layers, resolved)
	}
	layers = append(layers, base)

	merged := utils.DeepMergeConfig(layers...)
	cr.cache[path] = merged
	return functional.Ok(merged)
}

func (cr *ConfigResolver) loaderFor(path string) DocumentLoader {
	for _, l := range cr.loaders {
		if l.SupportsPath(path) {
			return l
		}
	}
	return nil
}

func extendsList(v any) []string {
	switch ext := v.(type) {
	case string:
		return []string{ext}
	case []any:
		out := make([]string, 0, len(ext))
		for _, item := range ext {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ClearCache forgets every resolved document.
func (cr *ConfigResolver) ClearCache() {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	cr.cache = make(map[string]map[string]any)
}

// GetCacheStats returns cache statistics.
func (cr *ConfigResolver) GetCacheStats() map[string]interface{} {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	return map[string]interface{}{
		"cached_configs": len(cr.cache),
		"resolve_depth":  len(cr.resolveStack),
	}
}

func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return data, nil
}

// YAMLDocumentLoader reads .yaml and .yml documents.
type YAMLDocumentLoader struct{}

// NewYAMLDocumentLoader creates a YAML loader.
func NewYAMLDocumentLoader() *YAMLDocumentLoader {
	return &YAMLDocumentLoader{}
}

// LoadDocument parses the YAML document at path.
func (l *YAMLDocumentLoader) LoadDocument(_ context.Context, path string) functional.Result[map[string]any] {
	data, err := readDocument(path)
	if err != nil {
		return functional.Err[map[string]any](err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return functional.Err[map[string]any](fmt.Errorf("failed to parse YAML config %s: %w", path, err))
	}
	return functional.Ok(doc)
}

// SupportsPath reports whether path has a YAML extension.
func (l *YAMLDocumentLoader) SupportsPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// JSONDocumentLoader reads .json documents.
type JSONDocumentLoader struct{}

// NewJSONDocumentLoader creates a JSON loader.
func NewJSONDocumentLoader() *JSONDocumentLoader {
	return &JSONDocumentLoader{}
}

// LoadDocument parses the JSON document at path.
func (l *JSONDocumentLoader) LoadDocument(_ context.Context, path string) functional.Result[map[string]any] {
	data, err := readDocument(path)
	if err != nil {
		return functional.Err[map[string]any](err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(data, &doc); err != nil {
		return functional.Err[map[string]any](fmt.Errorf("failed to parse JSON config %s: %w", path, err))
	}
	return functional.Ok(doc)
}

// SupportsPath reports whether path has a JSON extension.
func (l *JSONDocumentLoader) SupportsPath(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}
