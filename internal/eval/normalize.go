package eval

import (
	"encoding/json"
	"math"
	"strconv"
)

// Normalize maps engine- and decoder-specific value types onto one model:
// integers become int64, floats float64 (int64 when integral), and nested
// maps/slices are normalized recursively. Unknown types pass through.
func Normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		if uint64(val) > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		if n, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Normalize(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if ks, ok := k.(string); ok {
				out[ks] = Normalize(elem)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = elem
		}
		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
