package agent

import "encoding/json"

// argString reads an optional string argument, returning "" when absent or
// not a string.
func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argInt reads an optional integer argument. JSON decoding yields float64 for
// numbers; some providers hand through typed ints.
func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

// argStrings reads an optional array-of-strings argument; non-string elements
// are skipped. Returns nil when the key is absent, an empty non-nil slice
// when the model passed an explicit empty list.
func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// applyListEdit resolves the final value of a list-valued attribute from a
// full-replace value and incremental add/remove lists. Full-replace wins when
// both are supplied.
func applyListEdit(current, replace, add, remove []string) []string {
	if replace != nil {
		return replace
	}
	out := append([]string(nil), current...)
	for _, a := range add {
		found := false
		for _, existing := range out {
			if existing == a {
				found = true
				break
			}
		}
		if !found {
			out = append(out, a)
		}
	}
	if len(remove) > 0 {
		kept := out[:0]
		for _, v := range out {
			drop := false
			for _, r := range remove {
				if v == r {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, v)
			}
		}
		out = kept
	}
	return out
}

// entityMap converts an entity struct to the generic map form carried inside
// a PendingChange.
func entityMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
