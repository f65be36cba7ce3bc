package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drmtv-proxy/work/cache"
	"drmtv-proxy/work/client"
	"drmtv-proxy/work/config"
	"drmtv-proxy/work/database"
	"drmtv-proxy/work/handlers"
	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/middleware"
	"drmtv-proxy/work/proxy"
	"drmtv-proxy/work/refresher"
)

var (
	Version = "v0.1.0" // default version
)

func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	} else {
		logger.SetLogLevel(cfg.LogLevel)
	}

	// open the catalog repository
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open catalog database: %v", err)
	}
	defer db.Close()

	// initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// initialize cache
	cacheInstance := cache.New(cfg.CacheDuration)
	defer cacheInstance.Close()

	// create the gateway
	gateway := proxy.New(cfg, db, cacheInstance, httpClient, workerPool)

	// start the source refresher
	sourceRefresher := refresher.New(cfg, db, workerPool)
	go sourceRefresher.Start()

	// setup HTTP routes
	router := mux.NewRouter()

	// playlist surface
	router.HandleFunc("/playlist/{playlistId}", middleware.GzipMiddleware(handlers.HandlePlaylist(gateway))).Methods("GET")
	router.HandleFunc("/playlist/{playlistId}/meta", middleware.GzipMiddleware(handlers.HandlePlaylistMeta(gateway))).Methods("GET")
	router.HandleFunc("/playlists", middleware.GzipMiddleware(handlers.HandleListPlaylists(gateway))).Methods("GET")

	// stream relay routes
	router.HandleFunc("/proxy/redirect/{channelId}", handlers.HandleRedirect(gateway)).Methods("GET")
	router.HandleFunc("/proxy/stream/{channelId}", handlers.HandlePipe(gateway)).Methods("GET")

	// DRM gateway routes
	router.HandleFunc("/proxy/drm/{channelId}", handlers.HandleDrm(gateway)).Methods("GET")
	router.HandleFunc("/proxy/drm-license/{drmConfigId}", handlers.HandleLicense(gateway)).Methods("POST")

	// cross-origin relay for the management UI
	router.HandleFunc("/proxy/cors", handlers.HandleCors(gateway)).Methods("GET")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, gateway, sourceRefresher, cacheInstance)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: router}

	// show info
	logger.Info("Starting DRMTV Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Catalog DB: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Refresh Tick: %s", cfg.RefreshTickInterval)
	logger.Info("  - Source Fetch Timeout: %s", cfg.SourceFetchTimeout)
	logger.Info("  - CORS Timeout: %s", cfg.CorsTimeout)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// shut down cleanly on SIGINT/SIGTERM
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutdown requested...")
		sourceRefresher.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
