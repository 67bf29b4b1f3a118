// Package jsonutil coerces loosely typed JSON feed values.
package jsonutil

import (
	"encoding/json"
	"math"
	"strconv"
)

// CellString converts a decoded JSON feed cell to its text form. The feeds
// are exported from spreadsheets, so identifiers and text fields arrive as
// numbers or booleans as often as strings. Returns "" for null.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		// Arrays and objects have no sensible cell form.
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
