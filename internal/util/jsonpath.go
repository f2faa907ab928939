package util

import (
	"encoding/json"
	"strconv"
)

// LookupString walks nested JSON objects decoded into map[string]any and
// returns the leaf as a string. Numbers are accepted when decoded with UseNumber.
func LookupString(doc any, path ...string) (string, bool) {
	cur := doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[key]; !ok {
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}
