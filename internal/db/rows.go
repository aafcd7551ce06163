package db

import (
	"database/sql"
	"fmt"
	"time"
)

// scanRows drains rows into column-keyed maps. []byte values are copied
// to strings since the driver may reuse its buffers between scans.
func scanRows(rs *sql.Rows) ([]Row, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rs.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func rowString(r Row, col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func rowInt64(r Row, col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Timestamp layouts seen across dialects: SQLite's datetime('now') and
// Postgres TIMESTAMPTZ scanned as time.Time or text.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

func rowTime(r Row, col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
