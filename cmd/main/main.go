package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chart-gateway/src/charting"
	"chart-gateway/src/config"
	"chart-gateway/src/interfaces"
	"chart-gateway/src/logger"
	"chart-gateway/src/network"
	"chart-gateway/src/pool"
	"chart-gateway/src/scheduler"
	"chart-gateway/src/server"
	"chart-gateway/src/session"
	"chart-gateway/src/storage"
	"chart-gateway/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// Session store
	var store interfaces.ISessionStore

	switch cfg.Storage.DBType {
	case "postgres":
		store, err = storage.NewPostgresSessionStore(cfg.MConfig, appLogger)
	default:
		// Default to SQLite
		store, err = storage.NewSQLiteSessionStore(cfg.MConfig, appLogger)
	}

	if err != nil {
		appLogger.Critical("Failed to init session store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate session store: %v", err)
	}
	defer store.Close()

	// Components
	var networkManager interfaces.INetworkManager = network.NewAsyncNetworkManager(cfg.MConfig, appLogger)

	resolver := session.NewResolver(store, cfg.SessionTTL(), appLogger)
	sideChannel := charting.NewSideChannel(cfg.MConfig, networkManager, appLogger, cfg.IndicatorTTL())
	calendar := utils.NewMarketCalendar()

	var fetcher interfaces.IDataFetcher = pool.NewConnectionPool(cfg, sideChannel, calendar, appLogger)
	defer fetcher.Shutdown()

	// Background maintenance
	jobs := scheduler.NewScheduler(cfg, fetcher, resolver, sideChannel, store, appLogger)
	jobs.Start()
	defer jobs.Stop()

	// API server
	srv := server.NewAPIServer(cfg.MConfig, resolver, sideChannel, fetcher, appLogger)
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	appLogger.Info("%s ready on %s:%d", cfg.Name, cfg.Host, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
}
