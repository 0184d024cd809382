// Package utils provides small internal helpers shared across the zenq engine.
package utils

import (
	"fmt"
	"math"
	"strconv"
)

// NormalizeValue converts a key part to its canonical string form.
// Numeric values that represent the same number must normalize to the same
// string regardless of their Go type, so int(1), int64(1) and float64(1.0)
// all become "1".
func NormalizeValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func normalizeFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
