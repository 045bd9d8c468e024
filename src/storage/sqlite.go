package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chart-gateway/src/logger"
	"chart-gateway/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteSessionStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteSessionStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteSessionStore, error) {
	return &SQLiteSessionStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	// Session records outlive the process; never drop the table.
	// SQLite types: INTEGER for int64, TEXT for strings and the JSON field map
	query := `
		CREATE TABLE IF NOT EXISTS session_records (
			platform TEXT NOT NULL,
			id TEXT NOT NULL,
			user_email TEXT NOT NULL,
			captured_at INTEGER NOT NULL,
			fields TEXT NOT NULL,
			PRIMARY KEY (platform, id)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create session_records: %w", err)
	}

	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_session_platform_captured
		ON session_records (platform, captured_at DESC);`); err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) SaveSession(record models.MSessionRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("failed to serialize credential fields: %w", err)
	}

	_, err = d.DB.Exec(`
		INSERT OR REPLACE INTO session_records (platform, id, user_email, captured_at, fields)
		VALUES (?, ?, ?, ?, ?)`,
		record.Platform, record.ID, record.UserEmail, record.CapturedAt.Unix(), string(fields))
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) GetSession(platform, id string) (models.MSessionRecord, error) {
	row := d.DB.QueryRow(`
		SELECT platform, id, user_email, captured_at, fields
		FROM session_records WHERE platform = ? AND id = ?`, platform, id)
	return scanSessionRow(row)
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) ListSessions(platform string) ([]models.MSessionRecord, error) {
	rows, err := d.DB.Query(`
		SELECT platform, id, user_email, captured_at, fields
		FROM session_records WHERE platform = ?
		ORDER BY captured_at DESC, id DESC`, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	return collectSessionRows(rows)
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) CleanupOldSessions(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := d.DB.Exec(`DELETE FROM session_records WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup session records: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		d.Logger.Info("Removed %d stale session records", removed)
	}
	return removed, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSessionStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
