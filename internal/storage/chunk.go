package storage

// RowsPerStatement returns how many rows of width columns fit under a
// backend's bind-parameter limit. It never returns less than 1.
func RowsPerStatement(columns, maxParams int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if n < 1 {
		return 1
	}
	return n
}

// Chunks splits rows into consecutive slices of at most size rows. The
// returned slices share rows' backing array.
func Chunks(rows [][]any, size int) [][][]any {
	if size < 1 {
		size = 1
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
