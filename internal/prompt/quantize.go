package prompt

import "math"

const defaultPrecision = 3

// precisionOverrides narrows the precision for metrics where extra digits
// are noise (currency amounts round to cents).
var precisionOverrides = map[string]int{
	"net_profit": 2,
}

// Quantize recursively rounds every float reachable from v to three decimal
// places (or a per-metric override keyed by the enclosing map key).
// Integers, strings and booleans pass through. Idempotent.
func Quantize(v any) any {
	return quantizeValue("", v)
}

func quantizeValue(key string, v any) any {
	switch t := v.(type) {
	case float64:
		return roundTo(t, precisionFor(key))
	case float32:
		return roundTo(float64(t), precisionFor(key))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = quantizeValue(k, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = quantizeValue(key, val)
		}
		return out
	default:
		return v
	}
}

func precisionFor(key string) int {
	if p, ok := precisionOverrides[key]; ok {
		return p
	}
	return defaultPrecision
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
