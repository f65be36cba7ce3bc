package proxy

import (
	"net/http"

	"drmtv-proxy/work/cache"
	"drmtv-proxy/work/client"
	"drmtv-proxy/work/config"
	"drmtv-proxy/work/database"
	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/metrics"
	"drmtv-proxy/work/playlist"
	"drmtv-proxy/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Gateway is the playlist and DRM proxy core. It renders catalog channels
// into playlists that reference only gateway-owned endpoints, relays or
// redirects stream requests under per-channel header profiles, rewrites DRM
// signaling in manifests, brokers license exchanges, and relays cross-origin
// fetches for the management UI.
//
// Every handler loads the catalog fresh from the repository; the gateway
// itself keeps no channel state beyond caches and counters.
type Gateway struct {
	Config     *config.Config              // application configuration
	Repo       database.Repository         // whole-document catalog store
	Cache      *cache.Cache                // rendered playlist cache
	HttpClient *client.HeaderSettingClient // upstream client with header-profile support
	WorkerPool *ants.Pool                  // bounded goroutine pool for background tasks
	Classify   playlist.Classifier         // external channel-classification capability

	activeClients *xsync.MapOf[string, *xsync.Counter] // per-channel relayed-client counts
	corsClient    *http.Client                         // bounded client for the cross-origin relay
}

// New wires the gateway together. The CORS relay gets its own client because
// it is the one endpoint with an overall timeout; media relays deliberately
// run unbounded on the shared header-setting client.
func New(cfg *config.Config, repo database.Repository, cacheInstance *cache.Cache, httpClient *client.HeaderSettingClient, workerPool *ants.Pool) *Gateway {
	logger.Debug("{proxy/proxy - New} initializing gateway")

	return &Gateway{
		Config:        cfg,
		Repo:          repo,
		Cache:         cacheInstance,
		HttpClient:    httpClient,
		WorkerPool:    workerPool,
		Classify:      playlist.TagClassifier,
		activeClients: xsync.NewMapOf[string, *xsync.Counter](),
		corsClient: &http.Client{
			Timeout: cfg.CorsTimeout,
		},
	}
}

// loadCatalog fetches the catalog, mapping repository failures to a 500 at
// the HTTP boundary. Returns nil when the response has already been written.
func (g *Gateway) loadCatalog(w http.ResponseWriter) *types.Catalog {
	catalog, err := g.Repo.LoadCatalog()
	if err != nil {
		logger.Error("{proxy/proxy - loadCatalog} repository read failed: %v", err)
		http.Error(w, "Catalog unavailable", http.StatusInternalServerError)
		return nil
	}
	return catalog
}

// trackClient bumps the active-client count for a channel and returns the
// matching decrement. Feeds both the stats endpoint and the metrics gauge.
func (g *Gateway) trackClient(channelName string) func() {
	counter, _ := g.activeClients.LoadOrStore(channelName, xsync.NewCounter())
	counter.Inc()
	metrics.ActiveClients.WithLabelValues(channelName).Inc()

	return func() {
		counter.Dec()
		metrics.ActiveClients.WithLabelValues(channelName).Dec()
	}
}

// ActiveClientCount reports how many clients are currently relayed for a
// channel.
func (g *Gateway) ActiveClientCount(channelName string) int64 {
	if counter, ok := g.activeClients.Load(channelName); ok {
		return counter.Value()
	}
	return 0
}

// TotalActiveClients reports the relayed-client count across all channels.
func (g *Gateway) TotalActiveClients() int64 {
	var total int64
	g.activeClients.Range(func(_ string, counter *xsync.Counter) bool {
		total += counter.Value()
		return true
	})
	return total
}
