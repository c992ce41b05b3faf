// balance.go - tolerant balance extraction.
//
// Historical wallet deployments placed the balance in three different
// spots depending on endpoint and version: top level, under data, or
// under message. Extraction lives here, once, with an explicit priority
// order; call sites never special-case shapes.
package credits

import (
	"encoding/json"
	"strconv"
)

// balanceFields are the keys a balance may hide behind at any level.
var balanceFields = []string{"remaining_credits", "balance"}

// ExtractBalance pulls a credit balance out of a wallet response body.
// Priority: top level, then data, then message. Returns (0, false) when
// no recognizable balance is present.
func ExtractBalance(body []byte) (int64, bool) {
	var root map[string]json.RawMessage
	if json.Unmarshal(body, &root) != nil {
		return 0, false
	}

	if v, ok := extractFrom(root); ok {
		return v, true
	}
	for _, nested := range []string{"data", "message"} {
		raw, ok := root[nested]
		if !ok {
			continue
		}
		var child map[string]json.RawMessage
		if json.Unmarshal(raw, &child) != nil {
			continue
		}
		if v, ok := extractFrom(child); ok {
			return v, true
		}
	}
	return 0, false
}

// extractFrom tries each known balance key at one level of a response.
func extractFrom(m map[string]json.RawMessage) (int64, bool) {
	for _, field := range balanceFields {
		raw, ok := m[field]
		if !ok {
			continue
		}
		var n int64
		if json.Unmarshal(raw, &n) == nil {
			return n, true
		}
		// Some deployments stringify numbers.
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}
