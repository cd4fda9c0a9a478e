// Package rules normalizes behavior-rule configuration into ordered rule lists.
//
// Rules are stored in several shapes: a plain string, a JSON-encoded string, an
// array, or an object with a "rules" key. Parse accepts all of them and never fails;
// input it cannot interpret as a list becomes a single literal rule.
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parse converts raw rule configuration into an ordered list of non-blank rules.
// Order is preserved and duplicates are kept.
func Parse(raw any) []string {
	return compact(parse(raw))
}

func parse(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return parseString(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := element(item); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		if inner, ok := v["rules"]; ok {
			return parseList(inner)
		}
		return nil
	case json.RawMessage:
		return parseBytes(v)
	case []byte:
		return parseBytes(v)
	case bool, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return []string{fmt.Sprint(v)}
	}

	// Structs, typed slices and maps: go through their JSON form.
	data, err := json.Marshal(raw)
	if err != nil {
		return []string{fmt.Sprint(raw)}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return []string{fmt.Sprint(raw)}
	}
	return parse(decoded)
}

// parseList handles the value under a "rules" key.
func parseList(v any) []string {
	switch v.(type) {
	case []any, []string, string, nil:
		return parse(v)
	}
	if s, ok := element(v); ok {
		return []string{s}
	}
	return nil
}

func parseString(s string) []string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] == '[' || trimmed[0] == '{' || trimmed[0] == '"' {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			switch d := decoded.(type) {
			case []any:
				return parse(d)
			case map[string]any:
				if _, ok := d["rules"]; ok {
					return parse(d)
				}
			case string:
				// Doubly encoded value.
				if d != s {
					return parseString(d)
				}
			}
		}
	}
	return []string{s}
}

func parseBytes(b []byte) []string {
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return parseString(string(b))
	}
	return parse(decoded)
}

// element renders one list entry. Nested containers are kept as their JSON text.
func element(item any) (string, bool) {
	switch v := item.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprint(item), true
	}
	return string(data), true
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Format renders rules under header as "<index>. <rule>" lines. Returns "" for no rules.
func Format(header string, rules []string) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(header)
	for i, r := range rules {
		b.WriteByte('\n')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r)
	}
	return b.String()
}
