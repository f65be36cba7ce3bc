package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"drmtv-proxy/work/cache"
	"drmtv-proxy/work/client"
	"drmtv-proxy/work/config"
	"drmtv-proxy/work/drm"
	"drmtv-proxy/work/types"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
)

// fakeRepo is an in-memory catalog store for handler tests.
type fakeRepo struct {
	catalog *types.Catalog
	saved   *types.Catalog
}

func (f *fakeRepo) LoadCatalog() (*types.Catalog, error) { return f.catalog, nil }

func (f *fakeRepo) SaveCatalog(c *types.Catalog) error {
	f.saved = c
	return nil
}

// newTestGateway builds a gateway over an in-memory catalog and a router
// matching the production route shapes, so mux path variables resolve.
func newTestGateway(t *testing.T, catalog *types.Catalog) (*Gateway, *mux.Router) {
	t.Helper()

	cfg := &config.Config{
		BaseURL:          "http://gw.test",
		CacheEnabled:     false,
		CacheDuration:    time.Minute,
		CorsTimeout:      5 * time.Second,
		DefaultUserAgent: "test-agent/1.0",
	}

	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	t.Cleanup(pool.Release)

	cacheInstance := cache.New(cfg.CacheDuration)
	t.Cleanup(cacheInstance.Close)

	g := New(cfg, &fakeRepo{catalog: catalog}, cacheInstance, client.NewHeaderSettingClient(cfg), pool)

	router := mux.NewRouter()
	router.HandleFunc("/playlist/{playlistId}", g.HandleGetPlaylist)
	router.HandleFunc("/playlist/{playlistId}/meta", g.HandlePlaylistMeta)
	router.HandleFunc("/playlists", g.HandleListPlaylists)
	router.HandleFunc("/proxy/redirect/{channelId}", g.HandleRedirect)
	router.HandleFunc("/proxy/stream/{channelId}", g.HandlePipe)
	router.HandleFunc("/proxy/drm/{channelId}", g.HandleDrmManifest)
	router.HandleFunc("/proxy/drm-license/{drmConfigId}", g.HandleLicense)
	router.HandleFunc("/proxy/cors", g.HandleCors)
	return g, router
}

func serve(router *mux.Router, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRedirectPlainChannel(t *testing.T) {
	catalog := &types.Catalog{Channels: []types.Channel{
		{ID: "c1", Name: "Plain", URL: "http://origin.example/live.ts", IsActive: true},
	}}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/redirect/c1", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "http://origin.example/live.ts" {
		t.Errorf("Location = %q, want origin URL", loc)
	}
}

func TestRedirectHeaderProfileRelays(t *testing.T) {
	var gotReferer, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("segmentdata"))
	}))
	defer upstream.Close()

	catalog := &types.Catalog{Channels: []types.Channel{
		{ID: "c1", Name: "Guarded", URL: upstream.URL, Referer: "http://ref.example/", IsActive: true},
	}}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/redirect/c1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected relayed 200, got %d", rr.Code)
	}
	if rr.Body.String() != "segmentdata" {
		t.Errorf("body = %q, want upstream bytes", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("Content-Type = %q, want upstream type", ct)
	}
	if gotReferer != "http://ref.example/" {
		t.Errorf("upstream saw Referer %q", gotReferer)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("upstream saw User-Agent %q, want configured default", gotUA)
	}
}

func TestRedirectUpstreamFailureFallsBack(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	catalog := &types.Catalog{Channels: []types.Channel{
		{ID: "c1", Name: "Guarded", URL: upstream.URL, Referer: "http://ref.example/", IsActive: true},
	}}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/redirect/c1", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect fallback, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != upstream.URL {
		t.Errorf("Location = %q, want %q", loc, upstream.URL)
	}
}

func TestPipeRelays(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pipedbytes"))
	}))
	defer upstream.Close()

	catalog := &types.Catalog{Channels: []types.Channel{
		{ID: "c1", Name: "Piped", URL: upstream.URL, IsActive: true},
	}}
	g, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/stream/c1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "pipedbytes" {
		t.Errorf("body = %q", rr.Body.String())
	}
	// default content type when the upstream sends none beyond Go's sniffing
	if total := g.TotalActiveClients(); total != 0 {
		t.Errorf("active clients after relay = %d, want 0", total)
	}
}

func TestPipeUpstreamFailureNeverRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	catalog := &types.Catalog{Channels: []types.Channel{
		{ID: "c1", Name: "Piped", URL: upstream.URL, IsActive: true},
	}}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/stream/c1", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "" {
		t.Errorf("pipe route leaked a redirect to %q", loc)
	}
}

func TestStreamUnknownChannel(t *testing.T) {
	_, router := newTestGateway(t, &types.Catalog{})

	for _, path := range []string{"/proxy/redirect/missing", "/proxy/stream/missing", "/proxy/drm/missing"} {
		rr := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestPlaylistUnknownServesPlaceholder(t *testing.T) {
	_, router := newTestGateway(t, &types.Catalog{})

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/playlist/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-mpegURL" {
		t.Errorf("Content-Type = %q, placeholder must stay a valid M3U", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "#EXTM3U\n") {
		t.Errorf("placeholder body is not an M3U document: %q", rr.Body.String())
	}
}

func TestPlaylistRenderedHidesOrigin(t *testing.T) {
	catalog := &types.Catalog{
		Channels: []types.Channel{
			{ID: "c1", Name: "Plain", URL: "http://origin.example/plain.ts", IsActive: true},
			{ID: "c2", Name: "Protected", URL: "http://origin.example/drm.mpd", IsActive: true, IsDrm: true},
			{ID: "c3", Name: "Disabled", URL: "http://origin.example/off.ts"},
		},
		Playlists: []types.Playlist{{ID: "p1", Name: "All"}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/playlist/p1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "http://gw.test/proxy/redirect/c1") {
		t.Errorf("plain channel missing gateway redirect URL:\n%s", body)
	}
	if !strings.Contains(body, "http://gw.test/proxy/drm/c2") {
		t.Errorf("DRM channel missing gateway DRM URL:\n%s", body)
	}
	if strings.Contains(body, "origin.example") {
		t.Errorf("origin URLs leaked into rendered playlist:\n%s", body)
	}
	if strings.Contains(body, "Disabled") {
		t.Errorf("inactive channel rendered:\n%s", body)
	}
}

func TestPlaylistMetaCounts(t *testing.T) {
	catalog := &types.Catalog{
		Channels: []types.Channel{
			{ID: "c1", Name: "One", URL: "http://o/1", IsActive: true, IsClassified: true},
			{ID: "c2", Name: "Two", URL: "http://o/2", IsActive: true},
		},
		Playlists: []types.Playlist{{ID: "p1", Name: "All"}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/playlist/p1/meta", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var meta PlaylistMeta
	if err := json.Unmarshal(rr.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.ChannelCount != 2 || meta.AudienceCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", meta.ChannelCount, meta.AudienceCount)
	}
	if meta.URL != "http://gw.test/playlist/p1" {
		t.Errorf("URL = %q", meta.URL)
	}
}

func TestLicenseClearKey(t *testing.T) {
	catalog := &types.Catalog{
		Channels: []types.Channel{{ID: "c1", Name: "CK", URL: "http://o/1", IsActive: true}},
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmClearKey, IsActive: true,
			KeyID: "0123456789abcdef0123456789abcdef",
			Key:   "fedcba9876543210fedcba9876543210",
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/proxy/drm-license/d1", strings.NewReader("{}")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var set drm.KeySet
	if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode key set: %v", err)
	}
	if set.Type != "temporary" || len(set.Keys) != 1 {
		t.Fatalf("unexpected key set: %+v", set)
	}
	key := set.Keys[0]
	if key.Kty != "oct" {
		t.Errorf("kty = %q", key.Kty)
	}
	if len(key.Kid) != 22 || len(key.K) != 22 {
		t.Errorf("kid/k lengths = %d/%d, want 22-char base64url", len(key.Kid), len(key.K))
	}
}

func TestLicenseMissingAndInactive(t *testing.T) {
	catalog := &types.Catalog{
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmClearKey, IsActive: false,
			KeyID: "0123456789abcdef0123456789abcdef", Key: "fedcba9876543210fedcba9876543210",
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/proxy/drm-license/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing config: expected 404, got %d", rr.Code)
	}

	rr = serve(router, httptest.NewRequest(http.MethodPost, "/proxy/drm-license/d1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("inactive config: expected 400, got %d", rr.Code)
	}
}

func TestLicenseWidevineForward(t *testing.T) {
	var gotBody string
	licenseSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("license server saw method %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("license-blob"))
	}))
	defer licenseSrv.Close()

	catalog := &types.Catalog{
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmWidevine, IsActive: true,
			LicenseURL: licenseSrv.URL,
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/proxy/drm-license/d1", strings.NewReader("challenge")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotBody != "challenge" {
		t.Errorf("license server received %q, want the raw challenge", gotBody)
	}
	if rr.Body.String() != "license-blob" {
		t.Errorf("relayed body = %q", rr.Body.String())
	}
}

func TestLicenseForwardWithoutURL(t *testing.T) {
	catalog := &types.Catalog{
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmWidevine, IsActive: true,
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/proxy/drm-license/d1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing license URL, got %d", rr.Code)
	}
}

func TestDrmManifestClearKeyHls(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n#EXTINF:-1,CK\nseg0.ts\n"))
	}))
	defer upstream.Close()

	catalog := &types.Catalog{
		Channels: []types.Channel{{ID: "c1", Name: "CK", URL: upstream.URL, IsActive: true, IsDrm: true}},
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmClearKey, IsActive: true,
			KeyID: "0123456789abcdef0123456789abcdef",
			Key:   "fedcba9876543210fedcba9876543210",
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/drm/c1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	want := `#EXT-X-KEY:METHOD=SAMPLE-AES,URI="http://gw.test/proxy/drm-license/d1",KEYFORMAT="identity"`
	if !strings.Contains(body, want) {
		t.Errorf("key tag not injected:\n%s", body)
	}
	if !strings.Contains(body, "seg0.ts") {
		t.Errorf("manifest content lost:\n%s", body)
	}
}

func TestDrmManifestClearKeyDash(t *testing.T) {
	manifest := `<MPD><ContentProtection schemeIdUri="urn:uuid:e2719d58-a985-b3c9-781a-b030af78d30e" /></MPD>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dash+xml")
		w.Write([]byte(manifest))
	}))
	defer upstream.Close()

	catalog := &types.Catalog{
		Channels: []types.Channel{{ID: "c1", Name: "CK", URL: upstream.URL, IsActive: true, IsDrm: true}},
		DrmProxies: []types.DrmProxy{{
			ID: "d1", ChannelID: "c1", LicenseType: types.DrmClearKey, IsActive: true,
			KeyID: "0123456789abcdef0123456789abcdef",
			Key:   "fedcba9876543210fedcba9876543210",
		}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/drm/c1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<dashif:Laurl>http://gw.test/proxy/drm-license/d1</dashif:Laurl>") {
		t.Errorf("license URL not injected:\n%s", rr.Body.String())
	}
}

func TestDrmManifestWithoutConfigRedirects(t *testing.T) {
	catalog := &types.Catalog{
		Channels: []types.Channel{{ID: "c1", Name: "NoDrm", URL: "http://origin.example/live.mpd", IsActive: true}},
	}
	_, router := newTestGateway(t, catalog)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/drm/c1", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "http://origin.example/live.mpd" {
		t.Errorf("Location = %q", loc)
	}
}

func TestCorsMissingURL(t *testing.T) {
	_, router := newTestGateway(t, &types.Catalog{})

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/cors", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCorsRelays(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	_, router := newTestGateway(t, &types.Catalog{})

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/cors?url="+url.QueryEscape(upstream.URL), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if acao := rr.Header().Get("Access-Control-Allow-Origin"); acao != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", acao)
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCorsRelaysUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	_, router := newTestGateway(t, &types.Catalog{})

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/proxy/cors?url="+url.QueryEscape(upstream.URL), nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected relayed 404, got %d", rr.Code)
	}
}
