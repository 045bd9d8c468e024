package interfaces

import (
	"time"

	"chart-gateway/src/models"
)

// -----------------------------------------------------------------------------
// ISessionStore defines the contract for the persistent session-record store.
// Records are written by the external capture flow; the gateway mostly reads.
// -----------------------------------------------------------------------------

type ISessionStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the schema. Existing records are preserved: the
	// gateway cannot recreate what the capture flow produced.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveSession inserts or replaces a session record keyed by (platform, id).
	SaveSession(record models.MSessionRecord) error

	// -----------------------------------------------------------------------------

	// GetSession returns a single record, or an error if absent.
	GetSession(platform, id string) (models.MSessionRecord, error)

	// -----------------------------------------------------------------------------

	// ListSessions returns all records for a platform, newest first.
	ListSessions(platform string) ([]models.MSessionRecord, error)

	// -----------------------------------------------------------------------------

	// CleanupOldSessions removes records captured longer than maxAge ago.
	// Returns the number of rows removed.
	CleanupOldSessions(maxAge time.Duration) (int64, error)

	// -----------------------------------------------------------------------------

	// Close the store connection
	Close() error
}
