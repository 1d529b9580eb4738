package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/domain/value"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigResolver_Extends(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
markup:
  caching: false
  cache:
    backend: memory
    parseResults:
      ttl: 60
  filters:
    spam:
      blacklist: [casino]
`)
	writeConfigFile(t, dir, "team.json", `{"markup": {"cache": {"parseResults": {"maxSize": 10}}}}`)
	path := writeConfigFile(t, dir, "site.yml", `
extends: [base.yaml, team.json]
markup:
  caching: true
  filters:
    spam:
      threshold: 70
`)

	resolver := NewConfigResolver()
	doc, err := resolver.ResolveConfig(context.Background(), path).Value()
	require.NoError(t, err)
	assert.NotContains(t, doc, ExtendsKey)

	source := NewMapSource(doc)
	cfg := value.LoadMarkupConfig(source, nil)
	assert.True(t, cfg.Caching)
	assert.Equal(t, 60*time.Second, cfg.Cache.Regions[value.RegionParseResults].TTL)
	assert.Equal(t, 10, cfg.Cache.Regions[value.RegionParseResults].MaxSize)
	assert.Equal(t, []string{"casino"}, cfg.Spam.Blacklist)
	assert.Equal(t, 70, cfg.Spam.Threshold)

	assert.Equal(t, 3, resolver.GetCacheStats()["cached_configs"])
	resolver.ClearCache()
	assert.Equal(t, 0, resolver.GetCacheStats()["cached_configs"])
}

func TestConfigResolver_Errors(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "extends: b.yaml\n")
	writeConfigFile(t, dir, "b.yaml", "extends: a.yaml\n")
	writeConfigFile(t, dir, "broken.yaml", "markup: [\n")
	writeConfigFile(t, dir, "conf.toml", "x = 1\n")

	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{"circular", "a.yaml", "circular dependency detected"},
		{"missing", "nope.yaml", "config file not found"},
		{"invalid yaml", "broken.yaml", "failed to parse YAML config"},
		{"unsupported", "conf.toml", "unsupported config format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigResolver().ResolveConfig(context.Background(), filepath.Join(dir, tt.file)).Value()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMapSource_GetProperty(t *testing.T) {
	source := NewMapSource(map[string]any{
		"markup": map[string]any{
			"enabled": false,
			"interwiki": map[string]any{
				"sites": map[string]any{"Go": "https://pkg.go.dev/%s"},
			},
		},
	})

	v, err := source.GetProperty("markup.enabled", true)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = source.GetProperty("markup.missing.key", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	v, err = source.GetProperty("markup.enabled.deeper", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	cfg := value.LoadMarkupConfig(source, nil)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "https://pkg.go.dev/%s", cfg.InterWiki.Sites["Go"].URL)
	assert.Equal(t, []string{"markup.enabled", "markup.interwiki.sites.Go"}, source.Keys())
}

func TestViperSource(t *testing.T) {
	t.Setenv("GOWIKIMARK_MARKUP_CACHING", "false")
	v, err := NewViper(map[string]any{
		"markup": map[string]any{"filters": map[string]any{"spam": map[string]any{"threshold": 80}}},
	})
	require.NoError(t, err)

	source := NewViperSource(v)
	cfg := value.LoadMarkupConfig(source, nil)
	assert.False(t, cfg.Caching)
	assert.Equal(t, 80, cfg.Spam.Threshold)
	assert.True(t, cfg.Enabled)

	def, err := source.GetProperty("markup.unset", "d")
	require.NoError(t, err)
	assert.Equal(t, "d", def)
	assert.Contains(t, source.Settings(), "markup")
}
