package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"drmtv-proxy/work/cache"
	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/middleware"
	"drmtv-proxy/work/proxy"
	"drmtv-proxy/work/refresher"
	"drmtv-proxy/work/types"

	"github.com/gorilla/mux"
)

// StatsResponse carries operational counters for the admin dashboard.
type StatsResponse struct {
	TotalChannels  int    `json:"totalChannels"`
	ActiveChannels int    `json:"activeChannels"`
	DrmChannels    int    `json:"drmChannels"`
	TotalPlaylists int    `json:"totalPlaylists"`
	TotalSources   int    `json:"totalSources"`
	RelayedClients int64  `json:"relayedClients"`
	Uptime         string `json:"uptime"`
	MemoryUsage    string `json:"memoryUsage"`
}

// adminStartTime records process start for uptime reporting.
var adminStartTime = time.Now()

// newID generates a random identifier for records created without one.
func newID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// corsMiddleware adds permissive cross-origin headers for the management UI
// and answers preflight requests directly.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// setupAdminRoutes registers the admin CRUD surface and the bulk sync
// endpoint. The admin surface is an ordinary catalog mutator: every write is
// load-whole-document, change, save-whole-document, then drop the rendered
// playlist cache.
func setupAdminRoutes(router *mux.Router, g *proxy.Gateway, rf *refresher.Refresher, cacheInstance *cache.Cache) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(g)))).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/channels", corsMiddleware(middleware.GzipMiddleware(handleGetChannels(g)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/channels", corsMiddleware(handleSaveChannel(g, cacheInstance))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/channels/{id}", corsMiddleware(handleDeleteChannel(g, cacheInstance))).Methods("DELETE", "OPTIONS")

	router.HandleFunc("/api/playlists", corsMiddleware(middleware.GzipMiddleware(handleGetPlaylists(g)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/playlists", corsMiddleware(handleSavePlaylist(g, cacheInstance))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/playlists/{id}", corsMiddleware(handleDeletePlaylist(g, cacheInstance))).Methods("DELETE", "OPTIONS")

	router.HandleFunc("/api/drm", corsMiddleware(middleware.GzipMiddleware(handleGetDrmProxies(g)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/drm", corsMiddleware(handleSaveDrmProxy(g, cacheInstance))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/drm/{id}", corsMiddleware(handleDeleteDrmProxy(g, cacheInstance))).Methods("DELETE", "OPTIONS")

	router.HandleFunc("/api/sources", corsMiddleware(middleware.GzipMiddleware(handleGetSources(g)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sources", corsMiddleware(handleSaveSource(g, cacheInstance))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sources/{id}", corsMiddleware(handleDeleteSource(g, cacheInstance))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/sources/{id}/refresh", corsMiddleware(handleRefreshSource(rf))).Methods("POST", "OPTIONS")

	router.HandleFunc("/api/sync", corsMiddleware(handleSync(g, cacheInstance))).Methods("POST", "OPTIONS")
}

// loadForAdmin wraps the catalog load with the admin error convention.
func loadForAdmin(g *proxy.Gateway, w http.ResponseWriter) *types.Catalog {
	catalog, err := g.Repo.LoadCatalog()
	if err != nil {
		logger.Error("{admin - loadForAdmin} catalog load failed: %v", err)
		http.Error(w, "Failed to load catalog", http.StatusInternalServerError)
		return nil
	}
	return catalog
}

// saveForAdmin persists the catalog and invalidates rendered playlists.
func saveForAdmin(g *proxy.Gateway, cacheInstance *cache.Cache, w http.ResponseWriter, catalog *types.Catalog) bool {
	if err := g.Repo.SaveCatalog(catalog); err != nil {
		logger.Error("{admin - saveForAdmin} catalog save failed: %v", err)
		http.Error(w, "Failed to save catalog", http.StatusInternalServerError)
		return false
	}
	cacheInstance.Invalidate()
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func handleGetStats(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		active, drmCount := 0, 0
		for _, ch := range catalog.Channels {
			if ch.IsActive {
				active++
			}
			if ch.IsDrm {
				drmCount++
			}
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeJSON(w, StatsResponse{
			TotalChannels:  len(catalog.Channels),
			ActiveChannels: active,
			DrmChannels:    drmCount,
			TotalPlaylists: len(catalog.Playlists),
			TotalSources:   len(catalog.Sources),
			RelayedClients: g.TotalActiveClients(),
			Uptime:         time.Since(adminStartTime).Round(time.Second).String(),
			MemoryUsage:    fmt.Sprintf("%d MB", mem.Alloc/1024/1024),
		})
	}
}

func handleGetChannels(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog := loadForAdmin(g, w); catalog != nil {
			writeJSON(w, catalog.Channels)
		}
	}
}

func handleSaveChannel(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ch types.Channel
		if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
			http.Error(w, "Invalid channel payload", http.StatusBadRequest)
			return
		}

		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		if ch.ID == "" {
			ch.ID = newID()
		}

		replaced := false
		for i := range catalog.Channels {
			if catalog.Channels[i].ID == ch.ID {
				catalog.Channels[i] = ch
				replaced = true
				break
			}
		}
		if !replaced {
			catalog.Channels = append(catalog.Channels, ch)
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			writeJSON(w, ch)
		}
	}
}

func handleDeleteChannel(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		// deleting a channel cascades to its DRM configs
		if !catalog.RemoveChannel(mux.Vars(r)["id"]) {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleGetPlaylists(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog := loadForAdmin(g, w); catalog != nil {
			writeJSON(w, catalog.Playlists)
		}
	}
}

func handleSavePlaylist(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p types.Playlist
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "Invalid playlist payload", http.StatusBadRequest)
			return
		}

		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		if p.ID == "" {
			p.ID = newID()
		}

		replaced := false
		for i := range catalog.Playlists {
			if catalog.Playlists[i].ID == p.ID {
				catalog.Playlists[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			catalog.Playlists = append(catalog.Playlists, p)
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			writeJSON(w, p)
		}
	}
}

func handleDeletePlaylist(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		id := mux.Vars(r)["id"]
		kept := catalog.Playlists[:0]
		found := false
		for _, p := range catalog.Playlists {
			if p.ID == id {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		catalog.Playlists = kept

		if !found {
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleGetDrmProxies(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog := loadForAdmin(g, w); catalog != nil {
			writeJSON(w, catalog.DrmProxies)
		}
	}
}

func handleSaveDrmProxy(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p types.DrmProxy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "Invalid DRM config payload", http.StatusBadRequest)
			return
		}

		p.LicenseType = types.ParseDrmKind(string(p.LicenseType))
		if !p.LicenseType.Valid() {
			http.Error(w, fmt.Sprintf("Unsupported DRM type: %s", p.LicenseType), http.StatusBadRequest)
			return
		}

		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		if catalog.ChannelByID(p.ChannelID) == nil {
			http.Error(w, "Owning channel not found", http.StatusBadRequest)
			return
		}

		if p.ID == "" {
			p.ID = newID()
		}

		replaced := false
		for i := range catalog.DrmProxies {
			if catalog.DrmProxies[i].ID == p.ID {
				catalog.DrmProxies[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			catalog.DrmProxies = append(catalog.DrmProxies, p)
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			writeJSON(w, p)
		}
	}
}

func handleDeleteDrmProxy(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		id := mux.Vars(r)["id"]
		kept := catalog.DrmProxies[:0]
		found := false
		for _, p := range catalog.DrmProxies {
			if p.ID == id {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		catalog.DrmProxies = kept

		if !found {
			http.Error(w, "DRM config not found", http.StatusNotFound)
			return
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleGetSources(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog := loadForAdmin(g, w); catalog != nil {
			writeJSON(w, catalog.Sources)
		}
	}
}

func handleSaveSource(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src types.Source
		if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
			http.Error(w, "Invalid source payload", http.StatusBadRequest)
			return
		}

		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		if src.ID == "" {
			src.ID = newID()
		}
		if src.Status == "" {
			src.Status = types.SourceIdle
		}

		replaced := false
		for i := range catalog.Sources {
			if catalog.Sources[i].ID == src.ID {
				catalog.Sources[i] = src
				replaced = true
				break
			}
		}
		if !replaced {
			catalog.Sources = append(catalog.Sources, src)
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			writeJSON(w, src)
		}
	}
}

func handleDeleteSource(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := loadForAdmin(g, w)
		if catalog == nil {
			return
		}

		id := mux.Vars(r)["id"]
		kept := catalog.Sources[:0]
		found := false
		for _, src := range catalog.Sources {
			if src.ID == id {
				found = true
				continue
			}
			kept = append(kept, src)
		}
		catalog.Sources = kept

		if !found {
			http.Error(w, "Source not found", http.StatusNotFound)
			return
		}

		if saveForAdmin(g, cacheInstance, w, catalog) {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleRefreshSource(rf *refresher.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := rf.RefreshSourceByID(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, src)
	}
}

// handleSync replaces the entire catalog in one write. This is the bulk
// mutation path the management UI uses after editing offline.
func handleSync(g *proxy.Gateway, cacheInstance *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var catalog types.Catalog
		if err := json.NewDecoder(r.Body).Decode(&catalog); err != nil {
			http.Error(w, "Invalid catalog payload", http.StatusBadRequest)
			return
		}

		if saveForAdmin(g, cacheInstance, w, &catalog) {
			logger.Info("{admin - handleSync} catalog replaced: %d channels, %d playlists, %d sources",
				len(catalog.Channels), len(catalog.Playlists), len(catalog.Sources))
			writeJSON(w, map[string]string{"status": "ok"})
		}
	}
}
