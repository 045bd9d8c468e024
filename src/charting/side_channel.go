package charting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"chart-gateway/src/helpers"
	"chart-gateway/src/interfaces"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
	"chart-gateway/src/network"
)

// -----------------------------------------------------------------------------
// SideChannel is the HTTP client for the charting service's non-streaming
// endpoints: the bearer token the websocket handshake needs, the encrypted
// indicator config blob, and watchlist management.
// -----------------------------------------------------------------------------

// AnonymousToken is accepted by the streaming handshake when no user
// session is available; it serves only public data.
const AnonymousToken = "unauthorized_user_token"

type configCacheEntry struct {
	config    models.MIndicatorConfig
	expiresAt time.Time
}

type tokenCacheEntry struct {
	token     string
	expiresAt time.Time
}

// -----------------------------------------------------------------------------

type SideChannel struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	TTL     time.Duration

	mu      sync.Mutex
	configs map[string]configCacheEntry
	tokens  map[string]tokenCacheEntry
}

// -----------------------------------------------------------------------------

func NewSideChannel(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger, ttl time.Duration) *SideChannel {
	return &SideChannel{
		Config:  cfg,
		Network: netMgr,
		Logger:  log,
		TTL:     ttl,
		configs: make(map[string]configCacheEntry),
		tokens:  make(map[string]tokenCacheEntry),
	}
}

// -----------------------------------------------------------------------------

// cookieHeader builds the session cookie pair the service authenticates with.
func cookieHeader(creds models.MChartingCredentials) map[string]string {
	cookie := "sessionid=" + creds.SessionID
	if creds.SessionIDSign != "" {
		cookie += "; sessionid_sign=" + creds.SessionIDSign
	}
	return map[string]string{"Cookie": cookie}
}

func (sc *SideChannel) endpoint(path string) string {
	return strings.TrimRight(sc.Config.Charting.SideChannelURL, "/") + path
}

// -----------------------------------------------------------------------------

// GetIndicatorConfig returns the session-scoped encrypted script and feature
// list required to compute the derived volume indicator. The fetch is bounded
// by the config timeout, strictly below the main fetch timeout, so a hanging
// config endpoint cannot stall a bars fetch. Failure means the indicator is
// unavailable, not that the fetch fails.
func (sc *SideChannel) GetIndicatorConfig(ctx context.Context, creds models.MChartingCredentials) (models.MIndicatorConfig, error) {
	sc.mu.Lock()
	entry, ok := sc.configs[creds.SessionID]
	sc.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.config, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(sc.Config.Charting.ConfigTimeoutSeconds)*time.Second)
	defer cancel()

	body, err := sc.Network.Get(fetchCtx, sc.endpoint("/indicator/cvd/config"), nil, cookieHeader(creds))
	if err != nil {
		return models.MIndicatorConfig{}, helpers.NewConfigUnavailableError("indicator config fetch failed", err)
	}

	var payload struct {
		Script   string   `json:"script"`
		Features []string `json:"features"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.MIndicatorConfig{}, helpers.NewConfigUnavailableError("indicator config response is not valid JSON", err)
	}
	if payload.Script == "" {
		return models.MIndicatorConfig{}, helpers.NewConfigUnavailableError("indicator config response carries no script", nil)
	}

	config := models.MIndicatorConfig{
		ScriptText: payload.Script,
		Features:   payload.Features,
	}

	sc.mu.Lock()
	sc.configs[creds.SessionID] = configCacheEntry{config: config, expiresAt: time.Now().Add(sc.TTL)}
	sc.mu.Unlock()

	sc.Logger.Debug("Cached indicator config for session %s (%d features)", creds.SessionID, len(payload.Features))
	return config, nil
}

// -----------------------------------------------------------------------------

// GetAuthToken obtains the bearer token the streaming handshake's
// set_auth_token call expects. Without a session the anonymous token is
// returned; with one, the token is fetched through the side channel and
// cached per session identity.
func (sc *SideChannel) GetAuthToken(ctx context.Context, creds models.MChartingCredentials) (string, error) {
	if creds.SessionID == "" {
		return AnonymousToken, nil
	}

	sc.mu.Lock()
	entry, ok := sc.tokens[creds.SessionID]
	sc.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	body, err := sc.Network.Get(ctx, sc.endpoint("/auth/token"), nil, cookieHeader(creds))
	if err != nil {
		var statusErr *network.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden) {
			return "", helpers.NewSessionInvalidError("stored charting session was rejected; re-capture credentials")
		}
		return "", fmt.Errorf("auth token fetch failed: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Token == "" {
		return "", fmt.Errorf("auth token response unusable: %v", err)
	}

	sc.mu.Lock()
	sc.tokens[creds.SessionID] = tokenCacheEntry{token: payload.Token, expiresAt: time.Now().Add(sc.TTL)}
	sc.mu.Unlock()

	return payload.Token, nil
}

// -----------------------------------------------------------------------------

// DeleteWatchlist removes a remote watchlist. A 404 means the list is
// already gone and counts as success; 401/403 surface as SessionInvalid so
// the caller can prompt for re-capture instead of retrying a dead token.
func (sc *SideChannel) DeleteWatchlist(ctx context.Context, creds models.MChartingCredentials, watchlistID string) error {
	status, _, err := sc.Network.Delete(ctx, sc.endpoint("/watchlists/"+watchlistID), cookieHeader(creds))
	if err != nil {
		return fmt.Errorf("watchlist delete failed: %w", err)
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		// Idempotent delete: already absent is the desired end state.
		sc.Logger.Debug("Watchlist %s already absent", watchlistID)
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return helpers.NewSessionInvalidError("stored charting session was rejected; re-capture credentials")
	default:
		return fmt.Errorf("watchlist delete failed with status %d", status)
	}
}

// -----------------------------------------------------------------------------

// ClearCache drops cached configs and tokens.
func (sc *SideChannel) ClearCache() {
	sc.mu.Lock()
	sc.configs = make(map[string]configCacheEntry)
	sc.tokens = make(map[string]tokenCacheEntry)
	sc.mu.Unlock()
}

// -----------------------------------------------------------------------------

// SweepExpired removes entries past their TTL.
func (sc *SideChannel) SweepExpired() int {
	now := time.Now()
	removed := 0

	sc.mu.Lock()
	for key, entry := range sc.configs {
		if now.After(entry.expiresAt) {
			delete(sc.configs, key)
			removed++
		}
	}
	for key, entry := range sc.tokens {
		if now.After(entry.expiresAt) {
			delete(sc.tokens, key)
			removed++
		}
	}
	sc.mu.Unlock()

	return removed
}
