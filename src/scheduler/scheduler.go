package scheduler

import (
	"time"

	"chart-gateway/src/charting"
	"chart-gateway/src/config"
	"chart-gateway/src/interfaces"
	"chart-gateway/src/logger"
	"chart-gateway/src/session"

	"github.com/go-co-op/gocron"
)

// -----------------------------------------------------------------------------
// Scheduler runs the background maintenance jobs: idle connection eviction,
// cache sweeps and session record retention.
// -----------------------------------------------------------------------------

type Scheduler struct {
	Config      *config.Config
	Logger      *logger.Logger
	Fetcher     interfaces.IDataFetcher
	Resolver    *session.Resolver
	SideChannel *charting.SideChannel
	Store       interfaces.ISessionStore

	cron *gocron.Scheduler
}

// -----------------------------------------------------------------------------

func NewScheduler(cfg *config.Config, fetcher interfaces.IDataFetcher, resolver *session.Resolver, sideChannel *charting.SideChannel, store interfaces.ISessionStore, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Config:      cfg,
		Logger:      log,
		Fetcher:     fetcher,
		Resolver:    resolver,
		SideChannel: sideChannel,
		Store:       store,
		cron:        gocron.NewScheduler(time.UTC),
	}
}

// -----------------------------------------------------------------------------

// Start registers all jobs and runs them asynchronously.
func (s *Scheduler) Start() {
	s.Logger.Info("Starting scheduler")

	// Evict idle streaming connections every minute
	s.cron.Every(1).Minute().Do(func() {
		if n := s.Fetcher.EvictIdle(); n > 0 {
			s.Logger.Info("Evicted %d idle connections", n)
		}
	})

	// Sweep expired cache entries every 5 minutes
	s.cron.Every(5).Minutes().Do(func() {
		sessions := s.Resolver.SweepExpired()
		configs := s.SideChannel.SweepExpired()
		if sessions+configs > 0 {
			s.Logger.Debug("Swept %d expired session entries, %d expired charting entries", sessions, configs)
		}
	})

	// Drop session records past retention daily at 03:00 UTC
	s.cron.Every(1).Day().At("03:00").Do(func() {
		maxAge := time.Duration(s.Config.Storage.RetentionDays) * 24 * time.Hour
		removed, err := s.Store.CleanupOldSessions(maxAge)
		if err != nil {
			s.Logger.Error("Session record cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			s.Logger.Info("Removed %d session records older than %d days", removed, s.Config.Storage.RetentionDays)
		}
	})

	s.cron.StartAsync()
	s.Logger.Info("Scheduler started")
}

// -----------------------------------------------------------------------------

// Stop halts all jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.Logger.Info("Scheduler stopped")
}
