package extractor

import (
	"encoding/json"
	"strconv"
	"strings"
)

// normalizeAssetCost coerces the asset cost from whatever shape the model
// returned (number, numeric string with currency symbols or grouping
// commas, or null) into an integer rupee amount.
func normalizeAssetCost(v interface{}) *int64 {
	switch c := v.(type) {
	case nil:
		return nil
	case float64:
		n := int64(c)
		return &n
	case int64:
		return &c
	case json.Number:
		if f, err := c.Float64(); err == nil {
			n := int64(f)
			return &n
		}
		return nil
	case string:
		var digits strings.Builder
		for _, r := range c {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		if digits.Len() == 0 {
			return nil
		}
		n, err := strconv.ParseInt(digits.String(), 10, 64)
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}
