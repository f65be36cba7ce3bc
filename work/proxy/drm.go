package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"drmtv-proxy/work/drm"
	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/metrics"
	"drmtv-proxy/work/types"
	"drmtv-proxy/work/utils"

	"github.com/gorilla/mux"
)

// HandleDrmManifest serves the DRM-aware manifest/stream route. The
// channel's first active DRM config selects the behavior: ClearKey rewrites
// manifest key signaling to point at the gateway's license broker, Widevine
// pipes the media through untouched (the player's CDM does the work), and
// PlayReady or a missing config falls back to a plain origin redirect.
func (g *Gateway) HandleDrmManifest(w http.ResponseWriter, r *http.Request) {
	catalog := g.loadCatalog(w)
	if catalog == nil {
		return
	}

	channelID := mux.Vars(r)["channelId"]
	ch := catalog.ChannelByID(channelID)
	if ch == nil || ch.URL == "" {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	drmCfg := catalog.ActiveDrmProxyForChannel(ch.ID)
	if drmCfg == nil {
		logger.Debug("{proxy/drm - HandleDrmManifest} no active DRM config for %s, redirecting to origin", ch.ID)
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}

	switch drmCfg.LicenseType {
	case types.DrmClearKey:
		g.serveClearKeyManifest(w, r, ch, drmCfg)
	case types.DrmWidevine:
		g.pipeWidevine(w, r, ch)
	default:
		// playready has no manifest-rewriting step; unknown types degrade
		// the same way
		http.Redirect(w, r, ch.URL, http.StatusFound)
	}
}

// serveClearKeyManifest fetches the origin manifest under the channel's
// header profile, classifies it as DASH or HLS, and rewrites its key
// signaling to reference the gateway's license broker. Fetch failure falls
// back to an origin redirect.
func (g *Gateway) serveClearKeyManifest(w http.ResponseWriter, r *http.Request, ch *types.Channel, drmCfg *types.DrmProxy) {
	resp, err := g.HttpClient.FetchChannel(r.Context(), ch)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		metrics.UpstreamErrors.WithLabelValues("drm_manifest").Inc()
		logger.Warn("{proxy/drm - serveClearKeyManifest} manifest fetch failed for %s, redirecting: %v", ch.ID, err)
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("drm_manifest").Inc()
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	licenseURL := fmt.Sprintf("%s/proxy/drm-license/%s", g.Config.BaseURL, drmCfg.ID)

	text := string(body)
	switch drm.DetectManifest(contentType, ch.URL) {
	case drm.ManifestDash:
		text = drm.InjectDashLicense(text, licenseURL)
	case drm.ManifestHLS:
		text = drm.InjectHlsKey(text, licenseURL, drmCfg.KeyID)
	default:
		// not a manifest the gateway understands; pass through unmodified
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(text))
}

// pipeWidevine relays the media unmodified; the gateway's only contribution
// is the channel's header profile on the upstream fetch.
func (g *Gateway) pipeWidevine(w http.ResponseWriter, r *http.Request, ch *types.Channel) {
	resp, err := g.HttpClient.FetchChannel(r.Context(), ch)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		metrics.UpstreamErrors.WithLabelValues("drm_manifest").Inc()
		logger.Warn("{proxy/drm - pipeWidevine} upstream fetch failed for %s, redirecting: %v", ch.ID, err)
		http.Redirect(w, r, ch.URL, http.StatusFound)
		return
	}
	defer resp.Body.Close()

	g.relayBody(w, resp, ch)
}

// HandleLicense is the license broker, keyed by DRM config id rather than
// channel id. ClearKey answers locally from stored key material; Widevine
// and PlayReady forward the request body to the configured license server
// and relay the response. Forwarding failures surface as explicit errors
// carrying the upstream reason: there is no redirect target that makes
// sense for a license exchange.
func (g *Gateway) HandleLicense(w http.ResponseWriter, r *http.Request) {
	catalog := g.loadCatalog(w)
	if catalog == nil {
		return
	}

	drmID := mux.Vars(r)["drmConfigId"]
	drmCfg := catalog.DrmProxyByID(drmID)
	if drmCfg == nil {
		http.Error(w, "DRM config not found", http.StatusNotFound)
		return
	}
	if !drmCfg.IsActive {
		http.Error(w, fmt.Sprintf("DRM config %s is not active", drmID), http.StatusBadRequest)
		return
	}

	switch drmCfg.LicenseType {
	case types.DrmClearKey:
		g.serveClearKeyLicense(w, drmCfg)
	case types.DrmWidevine:
		g.forwardLicense(w, r, drmCfg, "application/octet-stream")
	case types.DrmPlayReady:
		g.forwardLicense(w, r, drmCfg, "text/xml")
	default:
		metrics.LicenseRequests.WithLabelValues(string(drmCfg.LicenseType), "rejected").Inc()
		http.Error(w, fmt.Sprintf("Unsupported DRM type: %s", drmCfg.LicenseType), http.StatusBadRequest)
	}
}

// serveClearKeyLicense answers a ClearKey request from stored key material
// as a JSON Web Key Set. The request body is ignored.
func (g *Gateway) serveClearKeyLicense(w http.ResponseWriter, drmCfg *types.DrmProxy) {
	keySet, err := drm.ClearKeySet(drmCfg)
	if err != nil {
		metrics.LicenseRequests.WithLabelValues(string(types.DrmClearKey), "error").Inc()
		logger.Error("{proxy/drm - serveClearKeyLicense} %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	metrics.LicenseRequests.WithLabelValues(string(types.DrmClearKey), "success").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keySet)
}

// forwardLicense POSTs the raw request body to the configured license server
// and relays the response verbatim. Widevine exchanges are opaque binary;
// PlayReady is XML and keeps the upstream response content type.
func (g *Gateway) forwardLicense(w http.ResponseWriter, r *http.Request, drmCfg *types.DrmProxy, contentType string) {
	kind := string(drmCfg.LicenseType)

	if drmCfg.LicenseURL == "" {
		metrics.LicenseRequests.WithLabelValues(kind, "rejected").Inc()
		http.Error(w, fmt.Sprintf("No license URL configured for %s", kind), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read license request body", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, drmCfg.LicenseURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "Invalid license URL", http.StatusBadRequest)
		return
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.HttpClient.Do(req)
	if err != nil {
		metrics.LicenseRequests.WithLabelValues(kind, "error").Inc()
		metrics.UpstreamErrors.WithLabelValues("license").Inc()
		logger.Error("{proxy/drm - forwardLicense} %s forward to %s failed: %v", kind, utils.LogURL(g.Config, drmCfg.LicenseURL), err)
		http.Error(w, fmt.Sprintf("License server unreachable: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	metrics.LicenseRequests.WithLabelValues(kind, "success").Inc()

	upstreamType := resp.Header.Get("Content-Type")
	if upstreamType == "" {
		upstreamType = contentType
	}
	w.Header().Set("Content-Type", upstreamType)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
