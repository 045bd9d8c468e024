package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chart-gateway/src/models"
)

// -----------------------------------------------------------------------------
// Shared row scanning between the SQLite and Postgres backends.
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -----------------------------------------------------------------------------

func scanSessionRow(row rowScanner) (models.MSessionRecord, error) {
	var rec models.MSessionRecord
	var capturedAt int64
	var fieldsJSON string

	if err := row.Scan(&rec.Platform, &rec.ID, &rec.UserEmail, &capturedAt, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return models.MSessionRecord{}, err
		}
		return models.MSessionRecord{}, fmt.Errorf("failed to scan session record: %w", err)
	}

	rec.CapturedAt = time.Unix(capturedAt, 0).UTC()
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return models.MSessionRecord{}, fmt.Errorf("corrupt credential fields for %s/%s: %w", rec.Platform, rec.ID, err)
	}
	return rec, nil
}

// -----------------------------------------------------------------------------

func collectSessionRows(rows *sql.Rows) ([]models.MSessionRecord, error) {
	var records []models.MSessionRecord
	for rows.Next() {
		rec, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
