package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Params carries command arguments. Values are primitives: numbers,
// strings, booleans.
type Params map[string]any

// Float reads a numeric parameter. ok is false when the key is absent;
// err is set when it is present but not a number.
func (p Params) Float(key string) (v float64, ok bool, err error) {
	raw, present := p[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	v, err = toFloat(raw)
	if err != nil {
		return 0, true, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, true, nil
}

// FloatOr returns the numeric parameter or def when it is absent.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	v, ok, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Canonicalize rewrites every number in p as float64, in place, so params
// compare equal whichever codec carried them.
func (p Params) Canonicalize() Params {
	canonicalMap(p)
	return p
}

func canonicalMap(m map[string]any) {
	for k, v := range m {
		m[k] = canonicalValue(v)
	}
}

func canonicalValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		canonicalMap(n)
		return n
	case Params:
		canonicalMap(n)
		return n
	case []any:
		for i := range n {
			n[i] = canonicalValue(n[i])
		}
		return n
	case float64, bool, string, nil:
		return v
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return v
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := toFloat(n)
		return f
	default:
		return v
	}
}

// Clone returns a shallow copy, never nil.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toFloat(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}
