package writer

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// TableName is the SQLite table holding the exclusion records.
const TableName = "exclude"

// SQLiteWriter stores the table in a standalone SQLite file.
type SQLiteWriter struct{}

func (w *SQLiteWriter) Write(path string, records []models.ExclusionRecord) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close database %s: %w", path, cerr)
		}
	}()

	schema := `
	DROP TABLE IF EXISTS exclude;
	CREATE TABLE exclude (
		expnum INTEGER NOT NULL,
		ccdnum INTEGER NOT NULL,
		reason TEXT NOT NULL,
		analyst TEXT NOT NULL
	);
	CREATE INDEX idx_exclude_expnum ON exclude (expnum);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("error creating %s table: %w", TableName, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO exclude (expnum, ccdnum, reason, analyst) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.ExpNum, r.CCDNum, r.Reason, r.Analyst); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record %+v: %w", r, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

func ReadSQLite(path string) ([]models.ExclusionRecord, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT expnum, ccdnum, reason, analyst FROM exclude ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}
	defer rows.Close()

	var records []models.ExclusionRecord
	for rows.Next() {
		var r models.ExclusionRecord
		if err := rows.Scan(&r.ExpNum, &r.CCDNum, &r.Reason, &r.Analyst); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
