package service

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/gowikimark/gowikimark/internal/shared/utils"
)

// MapSource serves properties from a nested map using dotted keys.
type MapSource struct {
	values map[string]any
}

// NewMapSource wraps values. The map is copied.
func NewMapSource(values map[string]any) *MapSource {
	return &MapSource{values: utils.DeepMergeConfig(values)}
}

// GetProperty walks key one segment at a time. Missing keys yield def.
func (s *MapSource) GetProperty(key string, def any) (any, error) {
	var cur any = s.values
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def, nil
		}
		if cur, ok = m[part]; !ok {
			return def, nil
		}
	}
	return cur, nil
}

// Keys lists every leaf key in lexical order.
func (s *MapSource) Keys() []string {
	return utils.SortedKeys(utils.FlattenConfig(s.values))
}

// ViperSource serves properties from a viper instance: config file, then
// GOWIKIMARK_* environment variables, then bound flags.
type ViperSource struct {
	v *viper.Viper
}

// NewViperSource wraps v.
func NewViperSource(v *viper.Viper) *ViperSource {
	return &ViperSource{v: v}
}

// NewViper creates a viper instance seeded with values and reading
// GOWIKIMARK_MARKUP_CACHING style overrides from the environment.
func NewViper(values map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("gowikimark")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if len(values) > 0 {
		if err := v.MergeConfigMap(values); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// GetProperty returns the value at key, or def when it is not set.
func (s *ViperSource) GetProperty(key string, def any) (any, error) {
	if !s.v.IsSet(key) {
		return def, nil
	}
	return s.v.Get(key), nil
}

// Settings returns every setting as a nested map.
func (s *ViperSource) Settings() map[string]any {
	return s.v.AllSettings()
}
