package fullpage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/internal/capture"
	"github.com/hazyhaar/pagesnap/fullpage/internal/planner"
	"github.com/hazyhaar/pagesnap/fullpage/internal/probe"
	"github.com/hazyhaar/pagesnap/fullpage/internal/sticky"
	"github.com/hazyhaar/pagesnap/fullpage/internal/stitch"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/observability"
)

// cleanupTimeout bounds the restore work done after a capture, which runs
// even when the capture context is already cancelled.
const cleanupTimeout = 10 * time.Second

// CaptureOptions overrides the configured capture settings for one call.
// Zero values keep the configuration.
type CaptureOptions struct {
	Format       shot.Format `json:"format,omitempty"`
	Quality      float64     `json:"quality,omitempty"`
	MaxDimension int         `json:"max_dimension,omitempty"`
	// KeepStickies leaves fixed and sticky elements visible.
	KeepStickies bool `json:"keep_stickies,omitempty"`
}

func (s *Service) resolve(o CaptureOptions) (shot.CaptureOptions, int, error) {
	f := o.Format
	if f == "" {
		var err error
		if f, err = shot.ParseFormat(s.cfg.Capture.Format); err != nil {
			return shot.CaptureOptions{}, 0, err
		}
	}
	q := o.Quality
	if q == 0 {
		q = s.cfg.Capture.Quality
	}
	if f.Lossy() && q == 0 {
		q = 100
	}
	maxDim := o.MaxDimension
	if maxDim <= 0 {
		maxDim = s.cfg.Capture.MaxDimension
	}
	return capture.NormalizeOptions(shot.CaptureOptions{Format: f, Quality: q}), maxDim, nil
}

// CaptureVisible captures the viewport of tabID as it currently is. It
// fails with *ErrCaptureInProgress while another capture holds the tab.
func (s *Service) CaptureVisible(ctx context.Context, tabID string, o CaptureOptions) ([]byte, shot.Format, error) {
	t, err := s.acquire(tabID)
	if err != nil {
		return nil, "", err
	}
	defer t.busy.Store(false)

	opts, _, err := s.resolve(o)
	if err != nil {
		return nil, "", err
	}
	img, _, err := s.capturer.CaptureWithRetry(ctx, t.throttled, opts)
	if err != nil {
		return nil, "", err
	}
	return img, opts.Format, nil
}

// CaptureFullPage captures the whole page of tabID. Only one full-page
// capture runs per tab; a second one fails with *ErrCaptureInProgress.
// Page state (stickies, scrollbars, scroll position) is restored on every
// exit path. The result is stored in the latest and per-tab slots and
// emitted to the sinks; a failure is emitted as a captureError event.
func (s *Service) CaptureFullPage(ctx context.Context, tabID string, o CaptureOptions) (*shot.Result, error) {
	t, err := s.acquire(tabID)
	if err != nil {
		var busy *ErrCaptureInProgress
		if !errors.As(err, &busy) {
			s.fail(ctx, tabID, 0, err)
		}
		return nil, err
	}
	defer t.busy.Store(false)

	start := s.now()
	var pct atomic.Int32
	progress := func(p shot.Progress) {
		pct.Store(int32(p.Percent))
		if err := s.sinks.SendProgress(ctx, p); err != nil {
			s.logger.Debug("fullpage: progress not delivered", "tab", tabID, "error", err)
		}
	}

	r, err := s.captureFullPage(ctx, t.throttled, o, progress)
	if err != nil {
		s.fail(ctx, tabID, int(pct.Load()), err)
		return nil, err
	}
	r.Elapsed = s.now().Sub(start)

	s.keep(ctx, r, "")
	s.record(r)
	if err := s.sinks.SendResult(ctx, r); err != nil {
		s.logger.Warn("fullpage: result not delivered", "tab", tabID, "error", err)
	}
	s.logger.Info("fullpage: capture complete",
		"tab", tabID, "id", r.ID, "width", r.Width, "height", r.Height,
		"segments", len(r.Segments), "has_gaps", r.HasGaps, "elapsed", r.Elapsed)
	return r, nil
}

// CaptureURL opens url, captures it, and closes the tab. The result stays
// in the latest slot.
func (s *Service) CaptureURL(ctx context.Context, url string, o CaptureOptions) (*shot.Result, error) {
	tabID, err := s.OpenTab(ctx, url)
	if err != nil {
		s.fail(ctx, "", 0, err)
		return nil, err
	}
	defer func() {
		if err := s.CloseTab(context.WithoutCancel(ctx), tabID); err != nil {
			s.logger.Debug("fullpage: close capture tab", "tab", tabID, "error", err)
		}
	}()
	return s.CaptureFullPage(ctx, tabID, o)
}

// checkTarget vets a URL received from a remote caller.
func (s *Service) checkTarget(ctx context.Context, url string) error {
	if err := s.guard.Check(ctx, url); err != nil {
		s.logger.Warn("fullpage: url rejected", "url", url, "error", err)
		return err
	}
	return nil
}

// CaptureVisibleURL opens url, captures its first viewport, and closes the tab.
func (s *Service) CaptureVisibleURL(ctx context.Context, url string, o CaptureOptions) ([]byte, shot.Format, error) {
	tabID, err := s.OpenTab(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer s.CloseTab(context.WithoutCancel(ctx), tabID)
	return s.CaptureVisible(ctx, tabID, o)
}

// captureFullPage runs the pipeline on page, which carries the tab's
// capture throttle.
func (s *Service) captureFullPage(ctx context.Context, page browser.Page, o CaptureOptions, progress func(shot.Progress)) (*shot.Result, error) {
	opts, maxDim, err := s.resolve(o)
	if err != nil {
		return nil, err
	}

	g, plan, segs, hidden, err := s.scan(ctx, page, opts, o.KeepStickies, progress)
	if err != nil {
		return nil, err
	}

	out, err := stitch.Stitch(ctx, segs, g, stitch.Options{
		Format:       opts.Format,
		Quality:      int(opts.Quality),
		MaxDimension: maxDim,
		Workers:      s.cfg.Capture.Workers,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Dropped) > 0 {
		s.logger.Warn("fullpage: undecodable segments", "tab", page.ID(), "dropped", out.Dropped)
	}

	r := &shot.Result{
		ID:         s.newID(),
		TabID:      page.ID(),
		URL:        page.URL(),
		Image:      out.Image,
		Format:     out.Format,
		Width:      out.Width,
		Height:     out.Height,
		HasGaps:    out.HasGaps,
		Scaled:     out.Scaled,
		Original:   out.Original,
		CapturedAt: s.now(),
		Segments:   summaries(segs),
		Plan:       plan,
		Stickies:   hidden,
	}
	if out.Format.Lossy() {
		r.Quality = int(opts.Quality)
	}
	return r, nil
}

// scan measures the page, hides stickies, and captures every segment. The
// page is put back the way it was before scan returns.
func (s *Service) scan(ctx context.Context, page browser.Page, opts shot.CaptureOptions, keepStickies bool, progress func(shot.Progress)) (shot.Geometry, shot.Plan, []shot.Segment, []shot.StickyRecord, error) {
	log := s.logger.With("tab", page.ID())

	g, err := probe.Probe(ctx, page)
	if err != nil {
		return g, shot.Plan{}, nil, nil, err
	}
	origScroll := g.ScrollY

	previous, err := probe.LockScrollbars(ctx, page)
	locked := err == nil
	if err != nil {
		log.Warn("fullpage: scrollbars not hidden", "error", err)
	}

	var mgr *sticky.Manager
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if mgr != nil {
			if rep, err := mgr.Restore(cctx); err != nil {
				log.Warn("fullpage: sticky restore failed", "error", err)
			} else if len(rep.Failed) > 0 {
				log.Warn("fullpage: some stickies not restored", "failed", rep.Failed)
			}
		}
		if locked {
			if err := probe.Unlock(cctx, page, previous); err != nil {
				log.Warn("fullpage: scrollbars not restored", "error", err)
			}
		}
		if _, err := probe.ScrollTo(cctx, page, origScroll); err != nil {
			log.Warn("fullpage: scroll not restored", "error", err)
		}
	}()

	var hidden []shot.StickyRecord
	if !s.cfg.Sticky.Disable && !keepStickies {
		mgr, hidden = s.hideStickies(ctx, page)
		if len(hidden) > 0 {
			// Hiding can change the layout height.
			if err := s.sleep(ctx, s.cfg.Capture.Settle); err != nil {
				return g, shot.Plan{}, nil, hidden, err
			}
			if g2, err := probe.Probe(ctx, page); err == nil {
				g2.ScrollY = origScroll
				g = g2
			} else {
				log.Warn("fullpage: re-measure failed, keeping first geometry", "error", err)
			}
		}
	}

	step := planner.DefaultStep
	if s.cfg.Capture.Overlap > 0 {
		step = planner.FixedOverlap(s.cfg.Capture.Overlap)
	}
	plan := planner.Plan(g, step)
	log.Debug("fullpage: plan", "page_height", g.PageHeight, "viewport", g.ViewportHeight, "step", plan.Step, "segments", len(plan.Offsets))

	rc := planner.RunnerConfig{
		Settle:   s.cfg.Capture.Settle,
		Capture:  opts,
		Progress: progress,
		Logger:   s.logger,
	}
	if s.cfg.Capture.DisableRecovery {
		rc.Recovery = []planner.Strategy{}
	}
	runner := planner.NewRunner(page, s.capturer, rc)
	runner.Sleep = s.sleep

	segs, err := runner.Execute(ctx, g, plan)
	if err != nil {
		return g, plan, nil, hidden, err
	}
	return g, plan, segs, hidden, nil
}

// hideStickies never fails the capture: a page whose stickies cannot be
// handled is captured with them.
func (s *Service) hideStickies(ctx context.Context, page browser.Page) (*sticky.Manager, []shot.StickyRecord) {
	log := s.logger.With("tab", page.ID())
	opts := []sticky.Option{sticky.WithLogger(s.logger)}
	if s.cfg.Sticky.NoStylesheetFallback {
		opts = append(opts, sticky.WithoutStylesheetFallback())
	}
	mgr := sticky.NewManager(page, opts...)

	records, err := mgr.Detect(ctx)
	if err != nil {
		log.Warn("fullpage: sticky detection failed", "error", err)
		return mgr, nil
	}
	if len(records) == 0 {
		return mgr, nil
	}

	if !s.cfg.Sticky.SkipAudit {
		if dom, err := page.HTML(ctx); err == nil && len(dom) > 0 {
			if audited, err := sticky.Audit(dom, records, s.logger); err == nil {
				records = audited
			}
		}
	}

	rep, err := mgr.Hide(ctx, records)
	if err != nil {
		log.Warn("fullpage: sticky hide failed", "error", err)
	} else if len(rep.Stylesheet) > 0 {
		log.Debug("fullpage: stickies hidden by stylesheet", "selectors", rep.Stylesheet)
	}
	return mgr, mgr.Hidden()
}

// ProcessCaptures stitches segments captured elsewhere (data URLs taken at
// the given scroll offsets) and stores the result like a full-page capture.
// Without offsets the captures are assumed to be stitch.DefaultStep
// viewports apart.
func (s *Service) ProcessCaptures(ctx context.Context, tabID string, dataURLs []string, offsets []int, g shot.Geometry, o CaptureOptions) (*shot.Result, error) {
	r, err := s.processCaptures(ctx, tabID, dataURLs, offsets, g, o)
	if err != nil {
		s.fail(ctx, tabID, 90, err)
		return nil, err
	}
	s.keep(ctx, r, "")
	s.record(r)
	if err := s.sinks.SendResult(ctx, r); err != nil {
		s.logger.Warn("fullpage: result not delivered", "tab", tabID, "error", err)
	}
	return r, nil
}

func (s *Service) processCaptures(ctx context.Context, tabID string, dataURLs []string, offsets []int, g shot.Geometry, o CaptureOptions) (*shot.Result, error) {
	if g.ViewportHeight <= 0 || g.PageHeight <= 0 {
		return nil, &ErrGeometryUnavailable{TabID: tabID, Err: fmt.Errorf("empty dimensions %dx%d", g.PageWidth, g.PageHeight)}
	}
	if g.PageWidth <= 0 {
		g.PageWidth = g.ViewportWidth
	}
	opts, maxDim, err := s.resolve(o)
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		offsets = stitch.DefaultOffsets(len(dataURLs), g.ViewportHeight)
	}
	segs, err := stitch.FromDataURLs(dataURLs, offsets)
	if err != nil {
		return nil, err
	}
	out, err := stitch.Stitch(ctx, segs, g, stitch.Options{
		Format:       opts.Format,
		Quality:      int(opts.Quality),
		MaxDimension: maxDim,
		Workers:      s.cfg.Capture.Workers,
	})
	if err != nil {
		return nil, err
	}
	r := &shot.Result{
		ID:         s.newID(),
		TabID:      tabID,
		Image:      out.Image,
		Format:     out.Format,
		Width:      out.Width,
		Height:     out.Height,
		HasGaps:    out.HasGaps,
		Scaled:     out.Scaled,
		Original:   out.Original,
		CapturedAt: s.now(),
		Segments:   summaries(segs),
		Plan:       shot.Plan{Offsets: offsets},
	}
	if out.Format.Lossy() {
		r.Quality = int(opts.Quality)
	}
	return r, nil
}

// keep writes r to the latest slot and, when it belongs to an open tab,
// to the tab slot. Storage failures are logged; the capture still succeeds.
func (s *Service) keep(ctx context.Context, r *shot.Result, dataURL string) {
	if err := s.store.PutLatest(ctx, r, dataURL); err != nil {
		s.logger.Error("fullpage: store latest", "id", r.ID, "error", err)
	}
	if r.TabID == "" {
		return
	}
	s.mu.Lock()
	_, open := s.tabs[r.TabID]
	s.mu.Unlock()
	if !open {
		return
	}
	if err := s.store.PutTab(ctx, r.TabID, r, dataURL); err != nil {
		s.logger.Error("fullpage: store tab", "tab", r.TabID, "id", r.ID, "error", err)
	}
}

func (s *Service) fail(ctx context.Context, tabID string, pct int, err error) {
	s.logger.Error("fullpage: capture failed", "tab", tabID, "percent", pct, "error", err)
	if s.metrics != nil {
		s.metrics.RecordSimple(observability.MetricCaptureErrors, 1, "count", "tab", tabID)
	}
	if serr := s.sinks.SendError(ctx, shot.Failure{TabID: tabID, Percent: pct, Message: err.Error()}); serr != nil {
		s.logger.Debug("fullpage: error event not delivered", "tab", tabID, "error", serr)
	}
}

func (s *Service) record(r *shot.Result) {
	if s.metrics == nil {
		return
	}
	var failed, retries int
	for _, seg := range r.Segments {
		if seg.Status == shot.StatusFailed {
			failed++
		}
		retries += max(seg.Attempts-1, 0)
	}
	kv := []string{"tab", r.TabID, "format", string(r.Format)}
	s.metrics.RecordSimple(observability.MetricCaptureDurationMs, math.Round(float64(r.Elapsed)/float64(time.Millisecond)), "milliseconds", kv...)
	s.metrics.RecordSimple(observability.MetricCaptureSegments, float64(len(r.Segments)), "count", kv...)
	s.metrics.RecordSimple(observability.MetricSegmentsFailed, float64(failed), "count", kv...)
	s.metrics.RecordSimple(observability.MetricCaptureRetries, float64(retries), "count", kv...)
	s.metrics.RecordSimple(observability.MetricCaptureBytes, float64(len(r.Image)), "bytes", kv...)
}

func summaries(segs []shot.Segment) []shot.SegmentSummary {
	out := make([]shot.SegmentSummary, len(segs))
	for i, seg := range segs {
		out[i] = seg.Summary()
	}
	return out
}
