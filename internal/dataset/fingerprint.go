package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Fingerprint returns a lowercase hex SHA-256 over d's columns and rows.
//
// Canonical form:
//   - columns, then each row, in order
//   - fields separated by 0x1f, records by 0x1e
//   - nil is a single NUL byte, so NULL differs from ""
//   - every other value uses the same rendering as Bind for Text columns,
//     so json.Number("7") and int64(7) hash alike
//
// Two loads of the same table with equal fingerprints carried the same data.
func (d Dataset) Fingerprint() string {
	h := sha256.New()
	writeRecord(h, len(d.Columns), func(i int) any { return d.Columns[i] })
	for _, r := range d.Rows {
		writeRecord(h, len(r), func(i int) any { return r[i] })
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeRecord(h hash.Hash, n int, at func(int) any) {
	for i := 0; i < n; i++ {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		v := at(i)
		if v == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte(bindText(v)))
	}
	h.Write([]byte{0x1e})
}
