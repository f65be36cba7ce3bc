package proxy

import (
	"io"
	"net/http"

	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/metrics"
	"drmtv-proxy/work/types"
	"drmtv-proxy/work/utils"

	"github.com/gorilla/mux"
)

// streamChannel resolves the channel for a relay request. A missing record or
// a record without an origin URL is a 404 before any upstream call is made.
func (g *Gateway) streamChannel(w http.ResponseWriter, r *http.Request) *types.Channel {
	catalog := g.loadCatalog(w)
	if catalog == nil {
		return nil
	}

	channelID := mux.Vars(r)["channelId"]
	ch := catalog.ChannelByID(channelID)
	if ch == nil || ch.URL == "" {
		logger.Debug("{proxy/stream - streamChannel} channel not found or has no URL: %s", channelID)
		http.Error(w, "Channel not found", http.StatusNotFound)
		return nil
	}
	return ch
}

// HandleRedirect serves the redirect-preferring stream route. Channels with
// no header requirements get a plain redirect and the gateway never touches
// the origin; channels that need a referer, cookie, or custom headers are
// fetched upstream and relayed. An upstream failure degrades silently back
// to a redirect so the player experience is uninterrupted.
func (g *Gateway) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	ch := g.streamChannel(w, r)
	if ch == nil {
		return
	}

	if !ch.NeedsHeaderProfile() {
		logger.Debug("{proxy/stream - HandleRedirect} plain redirect for %s -> %s", ch.ID, utils.LogURL(g.Config, ch.URL))
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}

	resp, err := g.HttpClient.FetchChannel(r.Context(), ch)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		metrics.UpstreamErrors.WithLabelValues("stream_redirect").Inc()
		logger.Warn("{proxy/stream - HandleRedirect} upstream fetch failed for %s, falling back to redirect: %v", ch.ID, err)
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}
	defer resp.Body.Close()

	g.relayBody(w, resp, ch)
}

// HandlePipe serves the pipe-only stream route: always an upstream fetch,
// never a redirect. A failed fetch or missing body is an explicit server
// error. The asymmetry with HandleRedirect is deliberate and load-bearing:
// this route guarantees the origin URL stays hidden even when the upstream
// misbehaves.
func (g *Gateway) HandlePipe(w http.ResponseWriter, r *http.Request) {
	ch := g.streamChannel(w, r)
	if ch == nil {
		return
	}

	resp, err := g.HttpClient.FetchChannel(r.Context(), ch)
	if err != nil || resp.StatusCode >= 400 || resp.Body == nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		metrics.UpstreamErrors.WithLabelValues("stream_pipe").Inc()
		logger.Error("{proxy/stream - HandlePipe} upstream fetch failed for %s: %v", ch.ID, err)
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	g.relayBody(w, resp, ch)
}

// relayBody streams the upstream response to the client, forwarding the
// upstream content type and flushing as bytes arrive. A client disconnect or
// upstream read error ends the copy; both ends close on return.
func (g *Gateway) relayBody(w http.ResponseWriter, resp *http.Response, ch *types.Channel) {
	done := g.trackClient(ch.Name)
	defer done()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")

	written, err := io.Copy(flushWriter{w}, resp.Body)
	metrics.BytesRelayed.WithLabelValues(ch.Name).Add(float64(written))

	if err != nil {
		// mid-stream errors can't change the status line anymore
		logger.Debug("{proxy/stream - relayBody} relay ended for %s after %d bytes: %v", ch.ID, written, err)
	}
}

// flushWriter flushes after every write so live segments reach the player
// without buffering delays.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
