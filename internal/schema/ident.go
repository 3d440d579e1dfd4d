package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentLen is the shortest identifier limit among supported stores
// (Postgres NAMEDATALEN-1).
const MaxIdentLen = 63

var tableNameRE = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\.)?[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTableName accepts a plain identifier or a single schema-qualified
// one ("stats.games_raw"). Table names are interpolated into SQL text, so
// anything else is rejected.
func ValidateTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("schema: table name %q is not a safe identifier", name)
	}
	for _, part := range strings.Split(name, ".") {
		if len(part) > MaxIdentLen {
			return fmt.Errorf("schema: table name part %q exceeds %d bytes", part, MaxIdentLen)
		}
	}
	return nil
}

// SplitQualified splits "schema.table" into its parts. Unqualified names
// return an empty schema.
func SplitQualified(name string) (schemaName, table string) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) != 2 {
		return "", strings.TrimSpace(name)
	}
	return parts[0], parts[1]
}

// foldMarks strips combining marks after canonical decomposition, so
// "Dončić" becomes "Doncic". Chained transformers carry state; build one per
// call.
func foldMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeIdentifier turns an arbitrary header or label into a lowercase
// [a-z0-9_] identifier no longer than MaxIdentLen.
//
// Separators (space, '-', '.', '/', '\', ':', ';') collapse into a single
// underscore and '%' becomes "_pct"; other characters are dropped after
// diacritics are folded. A result starting with a digit is prefixed with
// "c_". An input with nothing usable yields "".
func NormalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(foldMarks(), s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == '%':
			if !lastUnderscore {
				b.WriteByte('_')
			}
			b.WriteString("pct")
			lastUnderscore = false
		case strings.ContainsRune(" -./\\:;", r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "c_" + out
	}
	return truncateIdent(out)
}

func truncateIdent(s string) string {
	if len(s) <= MaxIdentLen {
		return s
	}
	cut := MaxIdentLen
	for cut > 0 && !utf8.ValidString(s[:cut]) {
		cut--
	}
	return s[:cut]
}
