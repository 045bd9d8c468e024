package session

import (
	"fmt"
	"sync"
	"time"

	"chart-gateway/src/helpers"
	"chart-gateway/src/interfaces"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
)

// -----------------------------------------------------------------------------

// cacheEntry wraps a resolved record with its expiry.
type cacheEntry struct {
	record    models.MSessionRecord
	expiresAt time.Time
}

// -----------------------------------------------------------------------------

// Resolver locates session records in the store and caches them for a short
// TTL so repeated high-frequency fetches (e.g. sequential symbol switching)
// cost at most one store round-trip per key per window.
type Resolver struct {
	Store  interfaces.ISessionStore
	Logger *logger.Logger
	TTL    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// -----------------------------------------------------------------------------

func NewResolver(store interfaces.ISessionStore, ttl time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		Store:  store,
		Logger: log,
		TTL:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// -----------------------------------------------------------------------------

// GetLatestSession returns the most recently captured record for the
// platform across all users. Single-tenant and dev flows use this.
func (r *Resolver) GetLatestSession(platform string) (models.MSessionRecord, error) {
	return r.resolve(platform, "", func() (models.MSessionRecord, bool, error) {
		records, err := r.Store.ListSessions(platform)
		if err != nil {
			return models.MSessionRecord{}, false, err
		}
		if len(records) == 0 {
			return models.MSessionRecord{}, false, nil
		}
		// Store orders newest first; ties break by id for determinism.
		return records[0], true, nil
	})
}

// -----------------------------------------------------------------------------

// GetSessionForUser returns the record captured by the given user,
// matched by stored owner email.
func (r *Resolver) GetSessionForUser(platform, userEmail string) (models.MSessionRecord, error) {
	return r.resolve(platform, userEmail, func() (models.MSessionRecord, bool, error) {
		records, err := r.Store.ListSessions(platform)
		if err != nil {
			return models.MSessionRecord{}, false, err
		}
		for _, rec := range records {
			if rec.UserEmail == userEmail {
				return rec, true, nil
			}
		}
		return models.MSessionRecord{}, false, nil
	})
}

// -----------------------------------------------------------------------------

// resolve serves from cache when fresh, otherwise runs lookup and caches the
// result under the composite (platform, user) key.
func (r *Resolver) resolve(platform, userEmail string, lookup func() (models.MSessionRecord, bool, error)) (models.MSessionRecord, error) {
	key := platform + "|" + userEmail

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.record, nil
	}

	record, found, err := lookup()
	if err != nil {
		return models.MSessionRecord{}, fmt.Errorf("session store lookup failed: %w", err)
	}
	if !found {
		if userEmail != "" {
			return models.MSessionRecord{}, helpers.NewSessionNotFoundError(
				fmt.Sprintf("no %s session captured by %s", platform, userEmail))
		}
		return models.MSessionRecord{}, helpers.NewSessionNotFoundError(
			fmt.Sprintf("no %s session captured", platform))
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{record: record, expiresAt: time.Now().Add(r.TTL)}
	r.mu.Unlock()

	r.Logger.Debug("Resolved %s session %s (user %s)", platform, record.ID, record.UserEmail)
	return record, nil
}

// -----------------------------------------------------------------------------

// ClearCache drops all cached entries.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// -----------------------------------------------------------------------------

// SweepExpired removes entries past their TTL. Expired entries are also
// ignored on read; the sweep only keeps the stats honest between lookups.
func (r *Resolver) SweepExpired() int {
	now := time.Now()
	removed := 0

	r.mu.Lock()
	for key, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, key)
			removed++
		}
	}
	r.mu.Unlock()

	return removed
}

// -----------------------------------------------------------------------------

// ResolverStats describe the cache for observability endpoints.
type ResolverStats struct {
	CachedEntries int     `json:"cached_entries"`
	TTLSeconds    float64 `json:"ttl_seconds"`
}

// GetStats returns the cached entry count and configured TTL.
func (r *Resolver) GetStats() ResolverStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ResolverStats{
		CachedEntries: len(r.cache),
		TTLSeconds:    r.TTL.Seconds(),
	}
}
