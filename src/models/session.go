package models

import "time"

// -----------------------------------------------------------------------------
// Platform identifiers
// -----------------------------------------------------------------------------

const (
	PlatformPrimaryBroker   = "primary-broker"
	PlatformChartingService = "charting-service"
)

// -----------------------------------------------------------------------------

// MSessionRecord is a captured authentication artifact for one platform/user.
// Records are produced externally (browser capture) and only read here; a
// record stays usable only while its token remains valid server-side.
type MSessionRecord struct {
	Platform   string            `json:"platform"`
	ID         string            `json:"id"`
	Fields     map[string]string `json:"fields"`
	UserEmail  string            `json:"user_email"`
	CapturedAt time.Time         `json:"captured_at"`
}

// -----------------------------------------------------------------------------

// MChartingCredentials are the cookie pair the charting service authenticates with.
// SessionIDSign is optional; older captures carry only the session id.
type MChartingCredentials struct {
	SessionID     string `json:"session_id"`
	SessionIDSign string `json:"session_id_sign"`
}

// -----------------------------------------------------------------------------

// MPrimaryBrokerCredentials hold the broker's dynamically named session cookie.
type MPrimaryBrokerCredentials struct {
	CookieName  string `json:"cookie_name"`
	CookieValue string `json:"cookie_value"`
}
