package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/internal/capture"
	"github.com/hazyhaar/pagesnap/fullpage/internal/probe"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Strategy is an alternate way to capture a segment that failed in the
// main loop.
type Strategy struct {
	Name    string
	Nudge   func(viewportHeight int) int
	Options shot.CaptureOptions
	Settle  time.Duration
}

// DefaultRecovery is tried in order for every failed segment.
var DefaultRecovery = []Strategy{
	{
		Name:    "nudge-down-jpeg",
		Nudge:   func(int) int { return 50 },
		Options: shot.CaptureOptions{Format: shot.FormatJPEG, Quality: 90},
		Settle:  300 * time.Millisecond,
	},
	{
		Name:    "nudge-up-png",
		Nudge:   func(int) int { return -25 },
		Options: shot.CaptureOptions{Format: shot.FormatPNG},
		Settle:  600 * time.Millisecond,
	},
	{
		Name:    "eighth-viewport-jpeg",
		Nudge:   func(vh int) int { return vh / 8 },
		Options: shot.CaptureOptions{Format: shot.FormatJPEG, Quality: 80},
		Settle:  800 * time.Millisecond,
	},
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Settle is the wait after each scroll. Default: 400ms.
	Settle time.Duration

	Capture  shot.CaptureOptions
	Recovery []Strategy // Default: DefaultRecovery. Empty slice disables recovery.

	// Progress receives fire-and-forget updates. May be nil.
	Progress func(shot.Progress)

	Logger *slog.Logger
}

// Runner executes a Plan against one page.
type Runner struct {
	page     browser.Page
	capturer *capture.Capturer
	cfg      RunnerConfig

	// Sleep waits for the settle delay. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner.
func NewRunner(p browser.Page, c *capture.Capturer, cfg RunnerConfig) *Runner {
	if cfg.Settle <= 0 {
		cfg.Settle = 400 * time.Millisecond
	}
	if cfg.Recovery == nil {
		cfg.Recovery = DefaultRecovery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Capture = capture.NormalizeOptions(cfg.Capture)
	return &Runner{page: p, capturer: c, cfg: cfg, Sleep: sleepCtx}
}

// Execute captures every offset of plan in order. A segment that fails
// after retries is marked failed and the loop moves on; failed segments get
// one recovery pass after the loop. The returned slice is in offset order.
// Only cancellation aborts the run; the segments gathered so far are
// returned with ctx.Err().
func (r *Runner) Execute(ctx context.Context, g shot.Geometry, plan shot.Plan) ([]shot.Segment, error) {
	total := len(plan.Offsets)
	segs := make([]shot.Segment, 0, total)
	var failed []int

	for i, off := range plan.Offsets {
		if err := ctx.Err(); err != nil {
			return segs, err
		}
		r.progress(percent(i, total), fmt.Sprintf("Capturing segment %d of %d", i+1, total))

		seg := shot.Segment{Index: i, ScrollOffset: off, Format: r.cfg.Capture.Format}
		actual, img, attempts, err := r.captureAt(ctx, off, r.cfg.Settle, r.cfg.Capture)
		seg.Attempts = attempts
		if err != nil {
			if ctx.Err() != nil {
				return segs, ctx.Err()
			}
			seg.Status = shot.StatusFailed
			seg.Err = err.Error()
			seg.CaptureOffset = off
			failed = append(failed, i)
			r.cfg.Logger.Warn("planner: segment failed", "tab", r.page.ID(), "index", i, "offset", off, "error", err)
			r.progress(percent(i, total), fmt.Sprintf("Skipping segment %d (will try to recover later)", i+1))
		} else {
			seg.Status = shot.StatusOK
			seg.Image = img
			seg.CaptureOffset = actual
		}
		segs = append(segs, seg)
	}

	if len(failed) > 0 && len(r.cfg.Recovery) > 0 {
		r.progress(90, "Attempting to recover missing segments...")
		for _, i := range failed {
			if err := r.recover(ctx, g, &segs[i]); err != nil {
				return segs, err
			}
		}
	}

	r.progress(100, "Capture complete")
	return segs, nil
}

// recover tries each strategy until one captures the segment. It only
// returns an error on cancellation.
func (r *Runner) recover(ctx context.Context, g shot.Geometry, seg *shot.Segment) error {
	maxOff := g.MaxOffset()
	for _, s := range r.cfg.Recovery {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := min(max(seg.ScrollOffset+s.Nudge(g.ViewportHeight), 0), maxOff)
		opts := capture.NormalizeOptions(s.Options)

		actual, img, attempts, err := r.captureAt(ctx, target, s.Settle, opts)
		seg.Attempts += attempts
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.cfg.Logger.Debug("planner: recovery strategy failed", "index", seg.Index, "strategy", s.Name, "error", err)
			seg.Err = err.Error()
			continue
		}

		seg.Image = img
		seg.Format = opts.Format
		seg.CaptureOffset = actual
		seg.Status = shot.StatusRecovered
		seg.Err = ""
		r.cfg.Logger.Info("planner: segment recovered", "tab", r.page.ID(), "index", seg.Index, "strategy", s.Name, "offset", actual)
		r.progress(90, fmt.Sprintf("Using alternative method for segment %d", seg.Index+1))
		return nil
	}
	return nil
}

func (r *Runner) captureAt(ctx context.Context, off int, settle time.Duration, opts shot.CaptureOptions) (int, []byte, int, error) {
	actual, err := probe.ScrollTo(ctx, r.page, off)
	if err != nil {
		return 0, nil, 0, err
	}
	if err := r.Sleep(ctx, settle); err != nil {
		return 0, nil, 0, err
	}
	img, attempts, err := r.capturer.CaptureWithRetry(ctx, r.page, opts)
	if err != nil {
		return actual, nil, attempts, err
	}
	return actual, img, attempts, nil
}

func (r *Runner) progress(pct int, msg string) {
	if r.cfg.Progress != nil {
		r.cfg.Progress(shot.Progress{TabID: r.page.ID(), Percent: pct, Message: msg})
	}
}

func percent(i, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(i) / float64(total) * 100))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
