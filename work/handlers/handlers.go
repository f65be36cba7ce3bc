package handlers

import (
	"net/http"

	"drmtv-proxy/work/proxy"
)

// HandlePlaylist serves a rendered playlist by id.
func HandlePlaylist(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleGetPlaylist(w, r)
	}
}

// HandlePlaylistMeta serves one playlist's metadata and derived counts.
func HandlePlaylistMeta(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandlePlaylistMeta(w, r)
	}
}

// HandleListPlaylists serves all playlists with absolute URLs and counts.
func HandleListPlaylists(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleListPlaylists(w, r)
	}
}

// HandleRedirect serves the redirect-preferring stream relay route.
func HandleRedirect(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleRedirect(w, r)
	}
}

// HandlePipe serves the pipe-only stream relay route.
func HandlePipe(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandlePipe(w, r)
	}
}

// HandleDrm serves the DRM-aware manifest/stream route.
func HandleDrm(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleDrmManifest(w, r)
	}
}

// HandleLicense serves the DRM license broker.
func HandleLicense(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleLicense(w, r)
	}
}

// HandleCors serves the cross-origin relay for the management UI.
func HandleCors(g *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.HandleCors(w, r)
	}
}
