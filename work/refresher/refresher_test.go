package refresher

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"drmtv-proxy/work/config"
	"drmtv-proxy/work/types"

	"github.com/benbjohnson/clock"
	"github.com/panjf2000/ants/v2"
)

const mediaPlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-TARGETDURATION:6\n" +
	"#EXTINF:6.000,\nseg0.ts\n" +
	"#EXTINF:6.000,\nseg1.ts\n" +
	"#EXT-X-ENDLIST\n"

type fakeRepo struct {
	catalog   *types.Catalog
	saveCount int
}

func (f *fakeRepo) LoadCatalog() (*types.Catalog, error) { return f.catalog, nil }

func (f *fakeRepo) SaveCatalog(c *types.Catalog) error {
	f.catalog = c
	f.saveCount++
	return nil
}

func newTestRefresher(t *testing.T, repo *fakeRepo, clk clock.Clock) *Refresher {
	t.Helper()

	cfg := &config.Config{
		RefreshTickInterval: time.Minute,
		SourceFetchTimeout:  5 * time.Second,
		DefaultUserAgent:    "test-agent/1.0",
	}

	pool, err := ants.NewPool(1)
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	t.Cleanup(pool.Release)

	return NewWithClock(cfg, repo, pool, clk)
}

func TestRunTickRefreshesDueSource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent/1.0" {
			t.Errorf("fetch carried User-Agent %q", ua)
		}
		w.Write([]byte(mediaPlaylist))
	}))
	defer upstream.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	repo := &fakeRepo{catalog: &types.Catalog{Sources: []types.Source{{
		ID:              "s1",
		Name:            "Provider",
		URL:             upstream.URL,
		AutoRefresh:     true,
		RefreshInterval: 30,
		LastRefreshed:   clk.Now().Add(-31 * time.Minute),
		Status:          types.SourceIdle,
	}}}}

	rf := newTestRefresher(t, repo, clk)
	rf.RunTick()

	src := &repo.catalog.Sources[0]
	if src.Status != types.SourceSuccess {
		t.Errorf("status = %q, want success", src.Status)
	}
	if !src.LastRefreshed.Equal(clk.Now()) {
		t.Errorf("LastRefreshed = %v, want %v", src.LastRefreshed, clk.Now())
	}
	if src.ChannelCount != 2 {
		t.Errorf("ChannelCount = %d, want 2", src.ChannelCount)
	}
	if repo.saveCount != 1 {
		t.Errorf("saveCount = %d, want the outcome persisted once", repo.saveCount)
	}
}

func TestRunTickSkipsSourceNotDue(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	repo := &fakeRepo{catalog: &types.Catalog{Sources: []types.Source{{
		ID:              "s1",
		URL:             upstream.URL,
		AutoRefresh:     true,
		RefreshInterval: 30,
		LastRefreshed:   clk.Now().Add(-10 * time.Minute),
		Status:          types.SourceIdle,
	}}}}

	rf := newTestRefresher(t, repo, clk)
	rf.RunTick()

	if n := hits.Load(); n != 0 {
		t.Errorf("source not due was fetched %d times", n)
	}
	if repo.saveCount != 0 {
		t.Errorf("catalog saved %d times for a tick with no due sources", repo.saveCount)
	}
	if repo.catalog.Sources[0].Status != types.SourceIdle {
		t.Errorf("status changed to %q", repo.catalog.Sources[0].Status)
	}
}

func TestRunTickSkipsDisabledSources(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	repo := &fakeRepo{catalog: &types.Catalog{Sources: []types.Source{
		{ID: "s1", URL: upstream.URL, AutoRefresh: false, RefreshInterval: 30},
		{ID: "s2", URL: upstream.URL, AutoRefresh: true, RefreshInterval: 0},
	}}}

	rf := newTestRefresher(t, repo, clk)
	rf.RunTick()

	if n := hits.Load(); n != 0 {
		t.Errorf("disabled sources were fetched %d times", n)
	}
}

func TestRefreshFailureKeepsLastRefreshed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	last := clk.Now().Add(-45 * time.Minute)

	repo := &fakeRepo{catalog: &types.Catalog{Sources: []types.Source{{
		ID:              "s1",
		URL:             upstream.URL,
		AutoRefresh:     true,
		RefreshInterval: 30,
		LastRefreshed:   last,
		Status:          types.SourceSuccess,
	}}}}

	rf := newTestRefresher(t, repo, clk)
	rf.RunTick()

	src := &repo.catalog.Sources[0]
	if src.Status != types.SourceError {
		t.Errorf("status = %q, want error", src.Status)
	}
	if src.ErrorMessage == "" {
		t.Error("ErrorMessage is empty after a failed refresh")
	}
	if !src.LastRefreshed.Equal(last) {
		t.Errorf("LastRefreshed advanced on failure: %v", src.LastRefreshed)
	}
	if repo.saveCount != 1 {
		t.Errorf("failure outcome not persisted (saveCount = %d)", repo.saveCount)
	}
}

func TestRefreshSourceByIDBypassesInterval(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaPlaylist))
	}))
	defer upstream.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	repo := &fakeRepo{catalog: &types.Catalog{Sources: []types.Source{{
		ID:              "s1",
		URL:             upstream.URL,
		AutoRefresh:     true,
		RefreshInterval: 60,
		LastRefreshed:   clk.Now().Add(-time.Minute), // nowhere near due
		Status:          types.SourceIdle,
	}}}}

	rf := newTestRefresher(t, repo, clk)

	src, err := rf.RefreshSourceByID("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Status != types.SourceSuccess {
		t.Errorf("status = %q, want success", src.Status)
	}
	if !src.LastRefreshed.Equal(clk.Now()) {
		t.Errorf("LastRefreshed = %v", src.LastRefreshed)
	}

	if _, err := rf.RefreshSourceByID("nope"); err == nil {
		t.Error("expected error for unknown source id")
	}
}
