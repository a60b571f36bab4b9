// CLAUDE:SUMMARY Capture coordinator: owns the browser driver, tabs, result store, metrics and event sinks; serializes full-page captures per tab and reaps idle tabs.
// Package fullpage captures entire web pages as one image. Chrome only
// renders the viewport, so the page is scrolled segment by segment, each
// viewport is captured, and the segments are stitched back together with
// fixed and sticky elements hidden for the duration.
//
// Service is the entry point: it owns the browser, the open tabs, the
// SQLite result store and the event sinks. The CLI, the viewer, the
// connectivity actions and the MCP tools all go through it.
package fullpage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesnap/connectivity"
	"github.com/hazyhaar/pagesnap/dbopen"
	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/internal/capture"
	"github.com/hazyhaar/pagesnap/fullpage/internal/sink"
	"github.com/hazyhaar/pagesnap/fullpage/internal/store"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/idgen"
	"github.com/hazyhaar/pagesnap/observability"
	"github.com/hazyhaar/pagesnap/urlguard"
)

// Sink receives capture events. Re-exported from internal.
type Sink = sink.Sink

// Event is one message on the event stream.
type Event = sink.Envelope

// Option configures a Service.
type Option func(*Service)

// WithDriver replaces the browser built from the configuration.
func WithDriver(d browser.Driver) Option { return func(s *Service) { s.driver = d } }

// WithDB uses db for results, metrics and action routes instead of
// opening cfg.Store.Path. The schema is applied; db is not closed by Close.
func WithDB(db *sql.DB) Option { return func(s *Service) { s.db = db } }

// WithSinks adds event sinks next to the configured ones.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.extraSinks = append(s.extraSinks, sinks...) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator replaces the result and tab ID generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Service) { s.newID = gen } }

// WithSleep replaces every wait of the pipeline (settle, backoff).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithURLGuard replaces the check applied to URLs received over the
// viewer API, MCP and the action bridge.
func WithURLGuard(g *urlguard.Guard) Option { return func(s *Service) { s.guard = g } }

// Service coordinates captures. Create one per process.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	driver     browser.Driver
	db         *sql.DB
	ownsDB     bool
	store      *store.Store
	metrics    *observability.MetricsManager
	events     *sink.Broadcast
	sinks      *sink.Router
	extraSinks []Sink
	capturer   *capture.Capturer
	guard      *urlguard.Guard

	newID idgen.Generator
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	tabs    map[string]*tab
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// tab is an open page. Every capture of the tab goes through throttled,
// which wraps page with the per-tab capture quota.
type tab struct {
	page      browser.Page
	throttled browser.Page
	busy      atomic.Bool
	lastSeen  time.Time // guarded by Service.mu
}

// New builds a Service. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		newID:  idgen.Default,
		now:    time.Now,
		tabs:   make(map[string]*tab),
		events: sink.NewBroadcast(),
	}
	for _, o := range opts {
		o(s)
	}

	if s.driver == nil {
		d, err := browser.New(browserConfig(cfg, logger))
		if err != nil {
			return nil, fmt.Errorf("fullpage: %w", err)
		}
		s.driver = d
	}

	if s.db == nil {
		db, err := dbopen.Open(cfg.Store.Path,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(store.Schema),
			dbopen.WithSchema(observability.Schema),
			dbopen.WithSchema(connectivity.Schema))
		if err != nil {
			return nil, fmt.Errorf("fullpage: open store: %w", err)
		}
		s.db, s.ownsDB = db, true
	} else {
		for _, schema := range []string{store.Schema, observability.Schema, connectivity.Schema} {
			if _, err := s.db.Exec(schema); err != nil {
				return nil, fmt.Errorf("fullpage: apply schema: %w", err)
			}
		}
	}
	s.store = store.New(s.db)

	if !cfg.Metrics.Disabled {
		s.metrics = observability.NewMetricsManager(s.db, 0, cfg.Metrics.FlushInterval, logger)
	}

	s.sinks = sink.NewRouter(logger, s.events)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			s.sinks.Add(sink.NewStdout(os.Stdout))
		case "webhook":
			s.sinks.Add(sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)))
		}
	}
	for _, sk := range s.extraSinks {
		s.sinks.Add(sk)
	}

	if s.guard == nil {
		s.guard = &urlguard.Guard{AllowPrivate: cfg.Server.AllowPrivateTargets}
	}

	s.capturer = capture.New(capture.Policy{
		MaxRetries:   cfg.Capture.MaxRetries,
		InitialDelay: cfg.Capture.InitialDelay,
	}, logger)
	if s.sleep != nil {
		s.capturer.Sleep = s.sleep
	} else {
		s.sleep = s.capturer.Sleep
	}
	return s, nil
}

func browserConfig(cfg *Config, logger *slog.Logger) browser.Config {
	b := cfg.Browser
	return browser.Config{
		Driver:            b.Driver,
		RemoteURL:         b.Remote,
		MemoryLimit:       b.MemoryLimit,
		RecycleInterval:   b.RecycleInterval,
		ResourceBlocking:  b.ResourceBlocking,
		Stealth:           browser.ParseStealth(b.Stealth),
		XvfbDisplay:       b.XvfbDisplay,
		ViewportWidth:     b.ViewportWidth,
		ViewportHeight:    b.ViewportHeight,
		DeviceScaleFactor: b.DeviceScaleFactor,
		NavigateTimeout:   b.NavigateTimeout,
		Logger:            logger,
	}
}

// Start launches the browser and the idle-tab reaper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("fullpage: start browser: %w", err)
	}
	if m, ok := s.driver.(*browser.Manager); ok {
		m.SetBusy(s.busy)
		m.SetRecycleCallback(&browser.RecycleCallback{BeforeRecycle: s.dropTabs})
	}

	if s.metrics != nil {
		if n, err := s.metrics.Cleanup(ctx, s.cfg.Metrics.Retention); err != nil {
			s.logger.Warn("fullpage: metrics cleanup failed", "error", err)
		} else if n > 0 {
			s.logger.Info("fullpage: metrics cleaned", "deleted", n)
		}
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.started = true
	s.wg.Add(1)
	go s.reapLoop(rctx)

	s.logger.Info("fullpage: started", "driver", s.cfg.Browser.Driver, "store", s.cfg.Store.Path)
	return nil
}

// Close closes every tab, the browser, the sinks and the store.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	tabs := s.tabs
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	for id, t := range tabs {
		if err := t.page.Close(); err != nil {
			s.logger.Debug("fullpage: close tab", "tab", id, "error", err)
		}
	}
	if err := s.driver.Close(); err != nil {
		s.logger.Warn("fullpage: close browser", "error", err)
	}
	s.sinks.Close()
	if s.metrics != nil {
		s.metrics.Close()
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Events exposes the in-process event stream.
func (s *Service) Events() *sink.Broadcast { return s.events }

// Metrics returns the metrics manager, nil when disabled.
func (s *Service) Metrics() *observability.MetricsManager { return s.metrics }

// DB is the store database. It also holds the connectivity routes table.
func (s *Service) DB() *sql.DB { return s.db }

// Config returns the active configuration.
func (s *Service) Config() *Config { return s.cfg }

// OpenTab opens url in a new tab and returns its ID.
func (s *Service) OpenTab(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.mu.Unlock()

	id := s.newID()
	page, err := s.driver.Open(ctx, url, id)
	if err != nil {
		return "", fmt.Errorf("fullpage: open %s: %w", url, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		page.Close()
		return "", ErrClosed
	}
	s.tabs[id] = &tab{
		page:      page,
		throttled: capture.NewThrottle(page, s.cfg.Capture.MaxPerSecond),
		lastSeen:  s.now(),
	}
	s.logger.Info("fullpage: tab opened", "tab", id, "url", url)
	return id, nil
}

// CloseTab closes the tab and deletes its stored screenshot. The latest
// slot is kept.
func (s *Service) CloseTab(ctx context.Context, tabID string) error {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return &ErrTabNotFound{TabID: tabID}
	}
	if t.busy.Load() {
		s.mu.Unlock()
		return &ErrCaptureInProgress{TabID: tabID}
	}
	delete(s.tabs, tabID)
	s.mu.Unlock()

	s.release(ctx, tabID, t)
	return nil
}

// KeepAlive marks the tab as in use, postponing the idle reaper.
func (s *Service) KeepAlive(tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok {
		return &ErrTabNotFound{TabID: tabID}
	}
	t.lastSeen = s.now()
	return nil
}

// Tabs lists the open tab IDs.
func (s *Service) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tabs))
	for id := range s.tabs {
		ids = append(ids, id)
	}
	return ids
}

// ReapIdle closes tabs not used for longer than the idle timeout and
// returns how many were closed. Busy tabs are never reaped.
func (s *Service) ReapIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.Tabs.IdleTimeout)

	s.mu.Lock()
	idle := make(map[string]*tab)
	for id, t := range s.tabs {
		if !t.busy.Load() && t.lastSeen.Before(cutoff) {
			idle[id] = t
			delete(s.tabs, id)
		}
	}
	s.mu.Unlock()

	for id, t := range idle {
		s.logger.Info("fullpage: reaping idle tab", "tab", id)
		s.release(ctx, id, t)
	}
	return len(idle)
}

func (s *Service) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := max(s.cfg.Tabs.IdleTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapIdle(ctx)
		}
	}
}

func (s *Service) release(ctx context.Context, tabID string, t *tab) {
	if err := t.page.Close(); err != nil {
		s.logger.Debug("fullpage: close tab", "tab", tabID, "error", err)
	}
	if err := s.store.DeleteTab(ctx, tabID); err != nil {
		s.logger.Warn("fullpage: delete tab screenshot", "tab", tabID, "error", err)
	}
}

// acquire marks the tab busy for a full-page capture.
func (s *Service) acquire(tabID string) (*tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	t, ok := s.tabs[tabID]
	if !ok {
		return nil, &ErrTabNotFound{TabID: tabID}
	}
	if !t.busy.CompareAndSwap(false, true) {
		return nil, &ErrCaptureInProgress{TabID: tabID}
	}
	t.lastSeen = s.now()
	return t, nil
}

// busy reports whether any capture is running.
func (s *Service) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tabs {
		if t.busy.Load() {
			return true
		}
	}
	return false
}

// dropTabs forgets every tab; their pages died with the browser.
func (s *Service) dropTabs() {
	s.mu.Lock()
	n := len(s.tabs)
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()
	if n > 0 {
		s.logger.Warn("fullpage: browser recycled, tabs dropped", "count", n)
	}
}

// Latest returns the most recent screenshot.
func (s *Service) Latest(ctx context.Context) (*shot.Result, error) {
	return s.store.Latest(ctx)
}

// Screenshot returns the last screenshot of tabID.
func (s *Service) Screenshot(ctx context.Context, tabID string) (*shot.Result, error) {
	return s.store.Tab(ctx, tabID)
}
