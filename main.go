package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prism-server/work/catalog"
	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/database"
	"prism-server/work/epg"
	"prism-server/work/handlers"
	"prism-server/work/logger"
	"prism-server/work/middleware"
	"prism-server/work/playback"
	"prism-server/work/proxy"
	"prism-server/work/remote"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// Initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// Initialize worker pool for segment prefetch and background tasks
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Open the channel catalog database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Initialize services
	epgService := epg.New(cfg, httpClient)
	catalogService := catalog.New(cfg, httpClient, db)
	proxyInstance := proxy.New(cfg, httpClient)

	// Remote relay and the playback session it drives
	hub := remote.NewHub()
	engineFactory := playback.NewHLSEngineFactory(cfg, httpClient, workerPool)
	remote.NewPlayerSession(hub, playback.DefaultEngineConfig(), engineFactory)

	// Setup HTTP routes
	router := mux.NewRouter()

	// Program guide
	router.HandleFunc("/api/epg", handlers.HandleEPG(epgService)).Methods("GET")

	// Channel catalog
	router.HandleFunc("/api/channels", handlers.HandleChannels(db)).Methods("GET")
	router.HandleFunc("/api/channels/favorites", handlers.HandleFavorites(db)).Methods("GET")
	router.HandleFunc("/api/channels/sync", handlers.HandleChannelSync(catalogService)).Methods("POST")
	router.HandleFunc("/api/channels/{id}/favorite", handlers.HandleSetFavorite(db)).Methods("PUT")

	// Resource proxy and status
	router.HandleFunc("/api/proxy", proxyInstance.HandleProxy).Methods("GET")
	router.HandleFunc("/api/status", proxyInstance.HandleStatus).Methods("GET")

	// Remote-control relay
	router.HandleFunc("/ws", hub.ServeWS)

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// show info
	logger.Info("Starting Prism Server %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - EPG Cache TTL: %s", cfg.EPGCacheTTL)
	logger.Info("  - EPG Channel Limit: %d", cfg.EPGChannelLimit)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Fetch Rate Limit: %d/s", cfg.FetchRateLimit)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(cfg.ListenAddr, middleware.Gzip(router)); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
