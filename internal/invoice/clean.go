package invoice

import (
	"strconv"
	"strings"
)

var amountReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

// ParseAmount is the reference cleaning recipe for the amount field. It accepts
// numbers and strings carrying currency symbols or thousands separators, and
// reports false for null, empty and non-numeric values.
func ParseAmount(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		cleaned := amountReplacer.Replace(strings.TrimSpace(t))
		if cleaned == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
