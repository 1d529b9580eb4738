package utils

import (
	"fmt"
	"sort"
	"strings"
)

// DeepMergeConfig merges configuration maps left to right. Nested maps merge
// recursively; any other value in a later map replaces the earlier one.
func DeepMergeConfig(configs ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, cfg := range configs {
		if cfg != nil {
			result = mergeMap(result, cfg)
		}
	}
	return result
}

func mergeMap(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = copyValue(v)
	}
	for k, v := range override {
		baseMap, baseIsMap := asMap(result[k])
		overrideMap, overrideIsMap := asMap(v)
		if baseIsMap && overrideIsMap {
			result[k] = mergeMap(baseMap, overrideMap)
			continue
		}
		result[k] = copyValue(v)
	}
	return result
}

// asMap also accepts the map[any]any shape some YAML decoders emit.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func copyValue(v any) any {
	if m, ok := asMap(v); ok {
		return mergeMap(nil, m)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i := range s {
			out[i] = copyValue(s[i])
		}
		return out
	}
	return v
}

// FlattenConfig turns nested maps into dotted keys: {"a":{"b":1}} -> {"a.b":1}.
func FlattenConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", cfg)
	return out
}

func flattenInto(out map[string]any, prefix string, cfg map[string]any) {
	for k, v := range cfg {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := asMap(v); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SplitList splits a comma separated list and trims the entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
