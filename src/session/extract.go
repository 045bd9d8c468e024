package session

import (
	"fmt"
	"regexp"

	"chart-gateway/src/helpers"
	"chart-gateway/src/models"
)

// -----------------------------------------------------------------------------
// Platform-specific credential extraction. The capture flow stores raw cookie
// maps; these turn the loose field map into typed credentials or a specific
// MissingCredentialField error.
// -----------------------------------------------------------------------------

// The broker appends a numeric discriminator to its session cookie name
// per login shard, so the key is matched by pattern rather than literally.
var brokerCookiePattern = regexp.MustCompile(`(?i)^sessionid[0-9]*$`)

const (
	chartingSessionField     = "sessionid"
	chartingSessionSignField = "sessionid_sign"
)

// -----------------------------------------------------------------------------

// ExtractPrimaryBrokerSession pulls the broker's dynamically named session
// cookie out of a record.
func ExtractPrimaryBrokerSession(record models.MSessionRecord) (models.MPrimaryBrokerCredentials, error) {
	for name, value := range record.Fields {
		if brokerCookiePattern.MatchString(name) && value != "" {
			return models.MPrimaryBrokerCredentials{
				CookieName:  name,
				CookieValue: value,
			}, nil
		}
	}
	return models.MPrimaryBrokerCredentials{}, helpers.NewMissingCredentialFieldError(
		fmt.Sprintf("record %s has no cookie matching the broker session pattern", record.ID))
}

// -----------------------------------------------------------------------------

// ExtractChartingServiceSession pulls the charting service's session id and
// its optional signed companion out of a record.
func ExtractChartingServiceSession(record models.MSessionRecord) (models.MChartingCredentials, error) {
	sessionID := record.Fields[chartingSessionField]
	if sessionID == "" {
		return models.MChartingCredentials{}, helpers.NewMissingCredentialFieldError(
			fmt.Sprintf("record %s has no %q field", record.ID, chartingSessionField))
	}
	return models.MChartingCredentials{
		SessionID:     sessionID,
		SessionIDSign: record.Fields[chartingSessionSignField],
	}, nil
}
