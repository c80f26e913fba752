package aq

import "strings"

// RawTable is the flat, stringly-typed shape every vendor fetch resolves to
// before normalization. Vendor APIs return stringified numbers, so values stay
// strings until the normalizers coerce them.
type RawTable struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of a named column, or -1.
func (t RawTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the named cell of a row. The second return is false when the
// column does not exist.
func (t RawTable) Value(row int, name string) (string, bool) {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return "", false
	}
	return t.Rows[row][i], true
}

// Renamed returns a copy of the table with columns renamed per the mapping.
// Columns not in the mapping keep their raw names.
func (t RawTable) Renamed(renames map[string]string) RawTable {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if canonical, ok := renames[c]; ok {
			cols[i] = canonical
		} else {
			cols[i] = c
		}
	}
	return RawTable{Columns: cols, Rows: t.Rows}
}

// ConcatTables stacks chunk tables into one, aligning columns by name. The
// output column set is the union of all chunk columns, in first-seen order;
// cells absent from a chunk are empty strings.
func ConcatTables(chunks []RawTable) RawTable {
	var out RawTable
	seen := make(map[string]int)
	for _, c := range chunks {
		for _, col := range c.Columns {
			if _, ok := seen[col]; !ok {
				seen[col] = len(out.Columns)
				out.Columns = append(out.Columns, col)
			}
		}
	}
	for _, c := range chunks {
		idx := make([]int, len(c.Columns))
		for i, col := range c.Columns {
			idx[i] = seen[col]
		}
		for _, row := range c.Rows {
			aligned := make([]string, len(out.Columns))
			for i, v := range row {
				if i < len(idx) {
					aligned[idx[i]] = v
				}
			}
			out.Rows = append(out.Rows, aligned)
		}
	}
	return out
}

// rowKey is used for exact-duplicate detection across chunk boundaries.
func rowKey(row []string) string {
	return strings.Join(row, "\x1f")
}
