// Package config provides the file-backed run configuration: a loosely
// typed key map loaded from YAML or JSON, and the resolved Settings the
// engine runs with.
package config

import "time"

// Config is the raw key-value form of a config file. Accessors are
// fallback-typed: a missing key or a value of the wrong shape yields the
// caller's fallback, never an error, so a partial file merges cleanly
// over defaults.
type Config map[string]any

// typed returns the value at key when it is exactly a T.
func typed[T any](c Config, key string) (T, bool) {
	v, ok := c[key]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// String returns the string at key, or fallback.
func (c Config) String(key, fallback string) string {
	if s, ok := typed[string](c, key); ok {
		return s
	}
	return fallback
}

// Bool returns the bool at key, or fallback.
func (c Config) Bool(key string, fallback bool) bool {
	if b, ok := typed[bool](c, key); ok {
		return b
	}
	return fallback
}

// Int returns the integer at key, or fallback. YAML delivers integers as
// int, JSON as float64; whole floats convert, fractional ones do not.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return fallback
}

// Float returns the float at key, or fallback. Integer values convert.
func (c Config) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Duration returns the duration at key, or fallback. Strings parse with
// time.ParseDuration; bare numbers are seconds.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return fallback
}

// StringSlice returns the string list at key, or fallback. YAML lists
// arrive as []any; a non-string element rejects the whole list.
func (c Config) StringSlice(key string, fallback []string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fallback
			}
			out = append(out, s)
		}
		return out
	}
	return fallback
}

// StringMap returns the string-to-string map at key, or fallback. Nested
// YAML maps arrive as map[string]any; a non-string value rejects the
// whole map.
func (c Config) StringMap(key string, fallback map[string]string) map[string]string {
	switch v := c[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return fallback
			}
			out[k] = s
		}
		return out
	}
	return fallback
}
