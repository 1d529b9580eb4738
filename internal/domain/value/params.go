package value

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	paramPattern  = regexp.MustCompile(`([\w-]+)=(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)"|(\S+))`)
	numberPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
	escapePattern = regexp.MustCompile(`\\(['"\\])`)
)

// Params are typed plugin parameters.
type Params map[string]any

// UnsafeParamError reports a parameter value carrying script content.
type UnsafeParamError struct {
	Key string
}

func (e *UnsafeParamError) Error() string {
	return fmt.Sprintf("parameter %q contains unsafe content", e.Key)
}

// ParseParams decodes `key=value key='quoted \'value\'' key="x"` strings.
// Quoted values are unescaped, values are coerced with CoerceParam, and any
// value containing <script or javascript: is rejected.
func ParseParams(raw string) (Params, error) {
	params := make(Params)
	for _, m := range paramPattern.FindAllStringSubmatchIndex(raw, -1) {
		key := raw[m[2]:m[3]]

		var rawValue string
		quoted := true
		switch {
		case m[4] >= 0:
			rawValue = raw[m[4]:m[5]]
		case m[6] >= 0:
			rawValue = raw[m[6]:m[7]]
		default:
			rawValue = raw[m[8]:m[9]]
			quoted = false
		}
		if quoted {
			rawValue = escapePattern.ReplaceAllString(rawValue, "$1")
		}
		if IsUnsafeValue(rawValue) {
			return nil, &UnsafeParamError{Key: key}
		}
		params[key] = CoerceParam(rawValue)
	}
	return params, nil
}

// IsUnsafeValue reports whether s carries a script marker.
func IsUnsafeValue(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:")
}

// CoerceParam converts booleans, unsigned numbers, and JSON objects or arrays
// to typed values. Anything else stays a string.
func CoerceParam(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if numberPattern.MatchString(s) {
		if !strings.Contains(s, ".") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded
		}
	}
	return s
}

// String returns key as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns key as an int, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns key as a bool, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
