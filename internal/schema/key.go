package schema

import (
	"encoding/binary"
	"math"
	"time"
)

// Value tags. Each encoded value starts with one, and variable-length values
// carry their length, so ("ab","c") and ("a","bc") never collide.
const (
	tagNil byte = iota
	tagString
	tagInt
	tagFloat
	tagBool
	tagTime
	tagBytes
	tagOther
)

// AppendKey appends a stable binary encoding of the values at idx to dst.
// Equal values always encode to equal bytes, so the result can be hashed to
// group or route rows by key.
func AppendKey(dst []byte, row Row, idx []int) []byte {
	for _, i := range idx {
		dst = appendValue(dst, row[i])
	}
	return dst
}

func appendValue(dst []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(dst, tagNil)
	case string:
		dst = append(dst, tagString)
		dst = binary.AppendUvarint(dst, uint64(len(x)))
		return append(dst, x...)
	case int64:
		dst = append(dst, tagInt)
		return binary.BigEndian.AppendUint64(dst, uint64(x))
	case int:
		dst = append(dst, tagInt)
		return binary.BigEndian.AppendUint64(dst, uint64(int64(x)))
	case float64:
		dst = append(dst, tagFloat)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(x))
	case bool:
		if x {
			return append(dst, tagBool, 1)
		}
		return append(dst, tagBool, 0)
	case time.Time:
		dst = append(dst, tagTime)
		return binary.BigEndian.AppendUint64(dst, uint64(x.UnixNano()))
	case []byte:
		dst = append(dst, tagBytes)
		dst = binary.AppendUvarint(dst, uint64(len(x)))
		return append(dst, x...)
	default:
		s := Format(v)
		dst = append(dst, tagOther)
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...)
	}
}
