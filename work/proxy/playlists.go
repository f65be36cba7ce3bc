package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/playlist"
	"drmtv-proxy/work/types"

	"github.com/gorilla/mux"
)

// notFoundPlaylist is the placeholder document served for unknown playlist
// ids: still a valid M3U so players fail cleanly instead of choking on an
// HTML error page.
const notFoundPlaylist = "#EXTM3U\n# Playlist not found\n"

// PlaylistMeta is the JSON shape for playlist metadata endpoints: the stored
// record plus counts derived from the current catalog.
type PlaylistMeta struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TamilOnly     bool     `json:"tamilOnly"`
	IncludeGroups []string `json:"includeGroups,omitempty"`
	ExcludeGroups []string `json:"excludeGroups,omitempty"`
	URL           string   `json:"url"`
	ChannelCount  int      `json:"channelCount"`
	AudienceCount int      `json:"audienceCount"`
}

// playlistMeta derives the metadata view for one playlist.
func (g *Gateway) playlistMeta(p *types.Playlist, catalog *types.Catalog) PlaylistMeta {
	channels := playlist.Filter(p, catalog.Channels, g.Classify)

	audience := 0
	for _, ch := range channels {
		if g.Classify(ch) {
			audience++
		}
	}

	return PlaylistMeta{
		ID:            p.ID,
		Name:          p.Name,
		TamilOnly:     p.TamilOnly,
		IncludeGroups: p.IncludeGroups,
		ExcludeGroups: p.ExcludeGroups,
		URL:           fmt.Sprintf("%s/playlist/%s", g.Config.BaseURL, p.ID),
		ChannelCount:  len(channels),
		AudienceCount: audience,
	}
}

// HandleGetPlaylist renders a playlist as M3U text. Unknown ids get a 404
// with the placeholder document. Rendered output is cached per playlist id
// until the catalog changes or the entry expires.
func (g *Gateway) HandleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := mux.Vars(r)["playlistId"]

	if g.Config.CacheEnabled {
		if cached, ok := g.Cache.GetPlaylist(playlistID); ok {
			logger.Debug("{proxy/playlists - HandleGetPlaylist} serving cached playlist %s", playlistID)
			w.Header().Set("Content-Type", "application/x-mpegURL")
			w.Header().Set("Cache-Control", "no-cache")
			w.Write([]byte(cached))
			return
		}
	}

	catalog := g.loadCatalog(w)
	if catalog == nil {
		return
	}

	p := catalog.PlaylistByID(playlistID)
	if p == nil {
		w.Header().Set("Content-Type", "application/x-mpegURL")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFoundPlaylist))
		return
	}

	rendered := playlist.Build(p, catalog.Channels, g.Config.BaseURL, g.Classify)

	if g.Config.CacheEnabled {
		g.Cache.SetPlaylist(playlistID, rendered)
	}

	w.Header().Set("Content-Type", "application/x-mpegURL")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(rendered))
}

// HandlePlaylistMeta returns one playlist's metadata with derived counts.
func (g *Gateway) HandlePlaylistMeta(w http.ResponseWriter, r *http.Request) {
	catalog := g.loadCatalog(w)
	if catalog == nil {
		return
	}

	p := catalog.PlaylistByID(mux.Vars(r)["playlistId"])
	if p == nil {
		http.Error(w, "Playlist not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.playlistMeta(p, catalog))
}

// HandleListPlaylists returns every playlist with its absolute URL and
// derived counts.
func (g *Gateway) HandleListPlaylists(w http.ResponseWriter, r *http.Request) {
	catalog := g.loadCatalog(w)
	if catalog == nil {
		return
	}

	metas := make([]PlaylistMeta, 0, len(catalog.Playlists))
	for i := range catalog.Playlists {
		metas = append(metas, g.playlistMeta(&catalog.Playlists[i], catalog))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metas)
}
