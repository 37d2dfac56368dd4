package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// splitPath converts "rooms/abc/life" into its segments. Leading and
// trailing slashes and empty segments are dropped, so "/rooms//abc/"
// and "rooms/abc" name the same node. An empty path names the root.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// JoinPath builds a store path from segments.
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// pathsRelated reports whether a write at b must be visible to a
// subscriber of a: true when either path is a prefix of the other.
func pathsRelated(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize forces an arbitrary Go value into JSON shape
// (map[string]any, []any, string, float64, bool, nil) so that tree
// merging and equality behave uniformly regardless of what type the
// caller wrote.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: value not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: value round-trip failed: %w", err)
	}
	return out, nil
}

// deepCopy clones a normalized JSON value so callers cannot mutate the
// store's tree through a Read result.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
