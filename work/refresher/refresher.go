package refresher

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"drmtv-proxy/work/config"
	"drmtv-proxy/work/database"
	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/metrics"
	"drmtv-proxy/work/types"
	"drmtv-proxy/work/utils"

	"github.com/benbjohnson/clock"
	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"
)

// Refresher re-fetches external source documents on independent per-source
// intervals. A fixed-cadence tick walks all sources with auto-refresh
// enabled; a source is due when its own interval has elapsed since its last
// successful refresh. Due sources are processed strictly sequentially within
// a tick, and every per-source status write is persisted immediately rather
// than batched.
//
// LastRefreshed only advances on success, so a failing source is retried
// each time its interval elapses again. That is the only retry mechanism:
// no backoff, no immediate re-attempt.
type Refresher struct {
	cfg        *config.Config
	repo       database.Repository
	httpClient *http.Client
	clock      clock.Clock
	pool       *ants.Pool

	limiters  map[string]ratelimit.Limiter // per-source outbound rate limiters keyed by URL
	limiterMu sync.Mutex

	stopChan chan bool
}

// New builds a refresher on the wall clock.
func New(cfg *config.Config, repo database.Repository, pool *ants.Pool) *Refresher {
	return NewWithClock(cfg, repo, pool, clock.New())
}

// NewWithClock builds a refresher on an injected time source so tests can
// drive tick boundaries deterministically.
func NewWithClock(cfg *config.Config, repo database.Repository, pool *ants.Pool, clk clock.Clock) *Refresher {
	return &Refresher{
		cfg:  cfg,
		repo: repo,
		httpClient: &http.Client{
			Timeout: cfg.SourceFetchTimeout,
		},
		clock:    clk,
		pool:     pool,
		limiters: make(map[string]ratelimit.Limiter),
		stopChan: make(chan bool, 1),
	}
}

// Start runs the scheduler loop until Stop is called. It blocks and should
// be launched in its own goroutine. Each tick body is handed to the worker
// pool so a slow batch of sources never delays the ticker; sources within a
// tick still run sequentially.
func (rf *Refresher) Start() {
	logger.Info("{refresher - Start} source refresh loop starting (tick: %s)", rf.cfg.RefreshTickInterval)

	ticker := rf.clock.Ticker(rf.cfg.RefreshTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rf.stopChan:
			logger.Info("{refresher - Start} source refresh loop stopped")
			return
		case <-ticker.C:
			if err := rf.pool.Submit(rf.RunTick); err != nil {
				logger.Warn("{refresher - Start} could not submit tick to worker pool: %v", err)
			}
		}
	}
}

// Stop signals the scheduler loop to terminate. Non-blocking even if the
// loop already exited.
func (rf *Refresher) Stop() {
	select {
	case rf.stopChan <- true:
	default:
	}
}

// RunTick performs one scheduler pass: load the catalog, refresh every due
// source in order, and persist after each one.
func (rf *Refresher) RunTick() {
	catalog, err := rf.repo.LoadCatalog()
	if err != nil {
		logger.Error("{refresher - RunTick} catalog load failed: %v", err)
		return
	}

	now := rf.clock.Now()
	for i := range catalog.Sources {
		src := &catalog.Sources[i]
		if !src.AutoRefresh || src.RefreshInterval <= 0 {
			continue
		}

		elapsed := now.Sub(src.LastRefreshed)
		if elapsed < time.Duration(src.RefreshInterval)*time.Minute {
			logger.Debug("{refresher - RunTick} source %s not due (elapsed %s of %dm)", src.ID, elapsed, src.RefreshInterval)
			continue
		}

		rf.refreshSource(src)

		// persist each source's outcome immediately
		if err := rf.repo.SaveCatalog(catalog); err != nil {
			logger.Error("{refresher - RunTick} catalog save failed after source %s: %v", src.ID, err)
		}
	}
}

// RefreshSourceByID refreshes a single source regardless of its interval,
// for the admin surface's manual-refresh action. Returns the updated source.
func (rf *Refresher) RefreshSourceByID(sourceID string) (*types.Source, error) {
	catalog, err := rf.repo.LoadCatalog()
	if err != nil {
		return nil, err
	}

	for i := range catalog.Sources {
		src := &catalog.Sources[i]
		if src.ID != sourceID {
			continue
		}
		rf.refreshSource(src)
		if err := rf.repo.SaveCatalog(catalog); err != nil {
			return nil, err
		}
		return src, nil
	}

	return nil, fmt.Errorf("source %s not found", sourceID)
}

// refreshSource fetches one source document and records the outcome on the
// record. Success advances LastRefreshed and derives a channel count from
// the parsed document; failure records the message and leaves LastRefreshed
// untouched so the interval-based retry fires again.
func (rf *Refresher) refreshSource(src *types.Source) {
	rf.limiterFor(src.URL).Take()

	logger.Debug("{refresher - refreshSource} fetching %s (%s)", src.ID, utils.LogURL(rf.cfg, src.URL))

	ctx, cancel := context.WithTimeout(context.Background(), rf.cfg.SourceFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		rf.recordFailure(src, err)
		return
	}
	req.Header.Set("User-Agent", rf.cfg.DefaultUserAgent)

	resp, err := rf.httpClient.Do(req)
	if err != nil {
		rf.recordFailure(src, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rf.recordFailure(src, fmt.Errorf("unexpected status %s", resp.Status))
		return
	}

	src.Status = types.SourceSuccess
	src.ErrorMessage = ""
	src.LastRefreshed = rf.clock.Now()

	// derive a channel count when the document parses as M3U; a document
	// that doesn't parse still counts as a successful refresh
	if count, ok := countM3UEntries(resp); ok {
		src.ChannelCount = count
	}

	metrics.SourceRefreshes.WithLabelValues(src.ID, "success").Inc()
	logger.Info("{refresher - refreshSource} source %s refreshed (%d channels)", src.ID, src.ChannelCount)
}

// recordFailure marks the source errored without advancing LastRefreshed.
func (rf *Refresher) recordFailure(src *types.Source, err error) {
	src.Status = types.SourceError
	src.ErrorMessage = err.Error()
	metrics.SourceRefreshes.WithLabelValues(src.ID, "error").Inc()
	metrics.UpstreamErrors.WithLabelValues("source_refresh").Inc()
	logger.Warn("{refresher - refreshSource} source %s failed: %v", src.ID, err)
}

// countM3UEntries parses the response body as an M3U document and counts its
// entries: segments for a media playlist, variants for a master playlist.
func countM3UEntries(resp *http.Response) (int, bool) {
	pl, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return 0, false
	}

	switch listType {
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		return int(media.Count()), true
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		return len(master.Variants), true
	}
	return 0, false
}

// limiterFor returns the per-source rate limiter, creating it on first use.
func (rf *Refresher) limiterFor(url string) ratelimit.Limiter {
	rf.limiterMu.Lock()
	defer rf.limiterMu.Unlock()

	if limiter, ok := rf.limiters[url]; ok {
		return limiter
	}
	limiter := ratelimit.New(1)
	rf.limiters[url] = limiter
	return limiter
}
