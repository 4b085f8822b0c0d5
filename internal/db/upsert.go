package db

import (
	"fmt"
	"strings"
)

// UpsertSQL builds an INSERT ... ON CONFLICT statement for an idempotent
// keyed upsert. updateCols nil means update all non-conflict columns;
// empty means DO NOTHING.
func UpsertSQL(table string, columns, conflictKeys, updateCols []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	if len(conflictKeys) == 0 {
		return sql
	}

	if updateCols == nil {
		conflictSet := make(map[string]bool, len(conflictKeys))
		for _, k := range conflictKeys {
			conflictSet[k] = true
		}
		for _, c := range columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	if len(updateCols) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", sql, strings.Join(conflictKeys, ", "))
	}

	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		sql, strings.Join(conflictKeys, ", "), strings.Join(setClauses, ", "))
}
