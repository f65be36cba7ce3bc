package proxy

import (
	"io"
	"net/http"

	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/metrics"
)

// HandleCors relays an arbitrary cross-origin GET for the management UI.
// Browsers block the UI from fetching third-party playlist and JSON
// documents directly, so the gateway fetches them server-side with a fixed
// identifying header set, follows redirects, and relays the result with
// permissive cross-origin headers. The fetch is bounded by the configured
// relay timeout.
func (g *Gateway) HandleCors(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, "Invalid url parameter", http.StatusBadRequest)
		return
	}
	req.Header.Set("User-Agent", g.Config.DefaultUserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := g.corsClient.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("cors").Inc()
		logger.Warn("{proxy/cors - HandleCors} fetch failed: %v", err)
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// non-success statuses are relayed as-is with the status line as body
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Status))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, resp.Body)
}
