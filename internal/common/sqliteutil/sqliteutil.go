// Package sqliteutil holds small helpers for SQLite schema migrations: idempotent
// column checks/additions and Go-bool <-> SQLite-integer conversion. The store
// package does not import it; its schema setup runs no column migrations.
package sqliteutil

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// BoolToInt converts a Go bool to the 0/1 SQLite stores it as.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IntToBool converts a SQLite 0/1 column value back to a Go bool.
func IntToBool(i int) bool {
	return i != 0
}

// ColumnExists reports whether table has a column named column.
func ColumnExists(db *sqlx.DB, table, column string) (bool, error) {
	rows, err := db.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("querying table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  interface{}
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scanning table_info(%s): %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// EnsureColumn adds column to table (with the given SQL type/default clause)
// if it does not already exist, making schema migrations safe to re-run.
func EnsureColumn(db *sqlx.DB, table, column, ddl string) error {
	exists, err := ColumnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl))
	if err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}
