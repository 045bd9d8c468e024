package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chart-gateway/src/logger"
	"chart-gateway/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresSessionStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresSessionStore(cfg *models.MConfig, log *logger.Logger) (*PostgresSessionStore, error) {
	return &PostgresSessionStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSessionStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// Session records outlive the process; never drop the table.
	query := `
		CREATE TABLE IF NOT EXISTS session_records (
			platform TEXT NOT NULL,
			id TEXT NOT NULL,
			user_email TEXT NOT NULL,
			captured_at BIGINT NOT NULL,
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

	d.Logger.Info("PostgresSessionStore initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSessionStore) SaveSession(record models.MSessionRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("failed to serialize credential fields: %w", err)
	}

	_, err = d.DB.Exec(`
		INSERT INTO session_records (platform, id, user_email, captured_at, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, id) DO UPDATE SET
			user_email = EXCLUDED.user_email,
			captured_at = EXCLUDED.captured_at,
			fields = EXCLUDED.fields`,
		record.Platform, record.ID, record.UserEmail, record.CapturedAt.Unix(), string(fields))
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSessionStore) GetSession(platform, id string) (models.MSessionRecord, error) {
	row := d.DB.QueryRow(`
		SELECT platform, id, user_email, captured_at, fields
		FROM session_records WHERE platform = $1 AND id = $2`, platform, id)
	return scanSessionRow(row)
}

// -----------------------------------------------------------------------------

func (d *PostgresSessionStore) ListSessions(platform string) ([]models.MSessionRecord, error) {
	rows, err := d.DB.Query(`
		SELECT platform, id, user_email, captured_at, fields
		FROM session_records WHERE platform = $1
		ORDER BY captured_at DESC, id DESC`, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	return collectSessionRows(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresSessionStore) CleanupOldSessions(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := d.DB.Exec(`DELETE FROM session_records WHERE captured_at < $1`, cutoff)
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

func (d *PostgresSessionStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
