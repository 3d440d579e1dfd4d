package file

import (
	"encoding/json"
	"strconv"
	"strings"
)

// coerceCell turns a trimmed text cell into the value the classifier sees:
// empty is NULL, numeric text becomes json.Number, anything else stays a
// string. Numbers written with a leading zero ("0022300001", "007") stay
// text since they are identifiers, not quantities.
func coerceCell(s string, keepText bool) any {
	if s == "" {
		return nil
	}
	if keepText || !looksNumeric(s) {
		return s
	}
	return json.Number(s)
}

func looksNumeric(s string) bool {
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return false
	}
	// ParseFloat also accepts Inf, NaN and hex forms the stores cannot take.
	return !strings.ContainsAny(s, "xXnNiIpP_")
}
