// Package args reads loosely typed method-call arguments.
//
// Arguments arrive either from Go callers (native types, []byte) or
// from JSON bodies decoded into map[string]any (float64 numbers, base64
// strings for binary data).  The helpers accept both shapes.
package args

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strings"
)

// Map is a method-call argument map.
type Map = map[string]any

// Int returns key as an int, or def when absent or not numeric.
func Int(m Map, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	}
	return def
}

// Float32 returns key as a float32, or def when absent or not numeric.
func Float32(m Map, key string, def float32) float32 {
	switch v := m[key].(type) {
	case float32:
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return def
		}
		return float32(v)
	case int:
		return float32(v)
	case int64:
		return float32(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return float32(f)
		}
	}
	return def
}

// String returns key as a string with surrounding blanks preserved, or
// "" when absent, not a string, or blank.
func String(m Map, key string) string {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// Bytes returns key as raw bytes.  Strings are decoded as standard
// base64, which is how encoding/json carries []byte.
func Bytes(m Map, key string) ([]byte, bool) {
	switch v := m[key].(type) {
	case []byte:
		return v, true
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// Strings returns key as a list of strings, skipping non-string items.
func Strings(m Map, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Sub returns key as a nested argument map.
func Sub(m Map, key string) (Map, bool) {
	sub, ok := m[key].(map[string]any)
	return sub, ok
}
