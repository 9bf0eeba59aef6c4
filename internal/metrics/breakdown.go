package metrics

import "sort"

// ErrorRow is the aggregated count of one error kind.
type ErrorRow struct {
	Kind  string
	Count int
}

// FlattenErrors converts an error-kind map into rows sorted by descending
// count, then by kind for stability.
func FlattenErrors(errs map[string]int) []ErrorRow {
	if len(errs) == 0 {
		return nil
	}
	rows := make([]ErrorRow, 0, len(errs))
	for kind, count := range errs {
		rows = append(rows, ErrorRow{Kind: kind, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
