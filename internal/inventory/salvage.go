package inventory

import (
	"bytes"
	"encoding/json"
)

// salvage makes one bounded attempt to recover a corrupt inventory payload.
//
// The common damage modes are garbage appended after a valid object (a
// crashed writer, or two writers interleaving) and a truncated tail. The
// first is handled by decoding the leading value and ignoring trailing bytes;
// the second by cutting the payload back to the last top-level closing brace
// and closing the root object.
func salvage(data []byte) (Inventory, bool) {
	// Leading valid object with trailing garbage.
	decoder := json.NewDecoder(bytes.NewReader(data))
	var inv Inventory
	if err := decoder.Decode(&inv); err == nil && inv != nil {
		return inv, true
	}

	// Truncated tail: drop the last partial entry and close the root.
	trimmed := bytes.TrimRight(data, " \t\r\n")
	if idx := bytes.LastIndexByte(trimmed, '}'); idx > 0 {
		candidate := append(append([]byte{}, trimmed[:idx+1]...), '}')
		var rec Inventory
		if err := json.Unmarshal(candidate, &rec); err == nil && rec != nil {
			return rec, true
		}
		// The cut may have landed after the record's own closing brace;
		// retry once, dropping back to the previous record boundary.
		if comma := bytes.LastIndexByte(trimmed[:idx], ','); comma > 0 {
			candidate = append(append([]byte{}, trimmed[:comma]...), '\n', '}')
			if err := json.Unmarshal(candidate, &rec); err == nil && rec != nil {
				return rec, true
			}
		}
	}

	return nil, false
}
