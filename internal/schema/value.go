package schema

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultDateLayout is used when a step does not configure its own layout.
const DefaultDateLayout = "2006-01-02"

// truthy/falsy are the boolean vocabularies accepted by Parse.
var (
	truthy = map[string]struct{}{"true": {}, "t": {}, "yes": {}, "y": {}, "1": {}, "ano": {}, "on": {}}
	falsy  = map[string]struct{}{"false": {}, "f": {}, "no": {}, "n": {}, "0": {}, "ne": {}, "off": {}}
)

// Parse converts s into the Go representation used for t:
//
//	TypeString  -> string
//	TypeInteger -> int64
//	TypeNumber  -> float64
//	TypeBoolean -> bool
//	TypeDate    -> time.Time (layout, then RFC 3339)
//	TypeBinary  -> []byte (hex)
//
// An empty string yields nil for every type but TypeString.
func Parse(t Type, s, layout string) (any, error) {
	if t == TypeString || t == TypeNone {
		return s, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch t {
	case TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return n, nil
	case TypeNumber:
		f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		return f, nil
	case TypeBoolean:
		l := strings.ToLower(s)
		if _, ok := truthy[l]; ok {
			return true, nil
		}
		if _, ok := falsy[l]; ok {
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean: %q", s)
	case TypeDate:
		if layout == "" {
			layout = DefaultDateLayout
		}
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
		if d, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return d, nil
		}
		return nil, fmt.Errorf("not a date (layout %s): %q", layout, s)
	case TypeBinary:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("not hex binary: %q", s)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

// Normalize maps a decoded value onto the canonical Go type for t. Decoders
// (CBOR, msgpack, database drivers) hand back a zoo of integer widths and
// time encodings; Normalize folds them into the set Parse produces.
func Normalize(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			if n > math.MaxInt64 {
				return nil, fmt.Errorf("integer overflow: %d", n)
			}
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			return Parse(t, n, "")
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			return Parse(t, n, "")
		}
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return Parse(t, b, "")
		}
	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			return Parse(t, d, time.RFC3339Nano)
		}
	case TypeBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	default:
		return Format(v), nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

// Format renders v for logs, keys and string fields.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return hex.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
