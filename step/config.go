package step

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the opaque per-step configuration from the workflow
// definition. Values arrive from JSON, YAML or SQL, so the accessors
// accept the numeric and string forms each decoder produces.
type Config map[string]any

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the value of key as a string, or def.
func (c Config) String(key, def string) string {
	switch v := c[key].(type) {
	case string:
		if v == "" {
			return def
		}
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the value of key as a float64, or def.
func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the value of key as an int, or def.
func (c Config) Int(key string, def int) int {
	if !c.Has(key) {
		return def
	}
	return int(c.Float(key, float64(def)))
}

// Bool returns the value of key as a bool, or def.
func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the value of key as a duration. Strings are parsed
// with time.ParseDuration; numbers are milliseconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		return def
	case nil:
		return def
	default:
		ms := c.Float(key, -1)
		if ms < 0 {
			return def
		}
		return time.Duration(ms * float64(time.Millisecond))
	}
}

// Strings returns the value of key as a string slice. A single string is
// split on commas, semicolons and whitespace.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
		})
	}
	return nil
}

// StringMap returns the value of key as a map of strings.
func (c Config) StringMap(key string) map[string]string {
	switch v := c[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[k] = fmt.Sprint(e)
		}
		return out
	}
	return nil
}

// Map returns the value of key as a nested object.
func (c Config) Map(key string) map[string]any {
	if v, ok := c[key].(map[string]any); ok {
		return v
	}
	return nil
}

// List returns the value of key as a list of objects. Elements that are
// not objects are dropped.
func (c Config) List(key string) []map[string]any {
	switch v := c[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
