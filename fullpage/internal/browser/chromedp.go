// CLAUDE:SUMMARY chromedp driver: exec or remote allocator, one tab context per Page, CDP captureScreenshot for viewport captures.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Chromedp is the chromedp Driver.
type Chromedp struct {
	cfg Config

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a chromedp driver. Call Start before Open.
func NewChromedp(cfg Config) *Chromedp {
	cfg.defaults()
	return &Chromedp{cfg: cfg}
}

// Start allocates the browser and creates its first target.
func (d *Chromedp) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var allocCtx context.Context
	var cancel context.CancelFunc
	if d.cfg.RemoteURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), d.cfg.RemoteURL)
		d.cfg.Logger.Info("browser: chromedp connecting to remote", "url", d.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", d.cfg.Stealth != LevelHeadful),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
			chromedp.WindowSize(d.cfg.ViewportWidth, d.cfg.ViewportHeight),
		)
		if d.cfg.Stealth == LevelHeadful {
			opts = append(opts, chromedp.Env("DISPLAY="+d.cfg.XvfbDisplay))
		}
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	bctx, bcancel := chromedp.NewContext(allocCtx)
	if err := runBound(ctx, bctx); err != nil {
		bcancel()
		cancel()
		return fmt.Errorf("browser: chromedp start: %w", err)
	}

	d.allocCancel = cancel
	d.browserCtx = bctx
	d.browserCancel = bcancel
	d.cfg.Logger.Info("browser: chromedp started")
	return nil
}

// Open implements Driver. Each page is its own target.
func (d *Chromedp) Open(ctx context.Context, pageURL, tabID string) (Page, error) {
	d.mu.Lock()
	bctx := d.browserCtx
	d.mu.Unlock()
	if bctx == nil {
		return nil, ErrNoBrowser
	}

	tctx, cancel := chromedp.NewContext(bctx)
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(ctx, d.cfg.NavigateTimeout)
	defer navCancel()

	err := runBound(navCtx, tctx,
		chromedp.EmulateViewport(int64(d.cfg.ViewportWidth), int64(d.cfg.ViewportHeight),
			chromedp.EmulateScale(d.cfg.DeviceScaleFactor)),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	return &cdpTab{ctx: tctx, cancel: cancel, pageURL: pageURL, tabID: tabID}, nil
}

// Close cancels every tab and the browser.
func (d *Chromedp) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCancel != nil {
		d.browserCancel()
		d.browserCancel = nil
		d.browserCtx = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	return nil
}

// runBound runs actions on the chromedp context target while honouring the
// caller's ctx for cancellation.
func runBound(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

type cdpTab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pageURL string
	tabID   string
}

func (t *cdpTab) ID() string  { return t.tabID }
func (t *cdpTab) URL() string { return t.pageURL }

func (t *cdpTab) Eval(ctx context.Context, s Script, arg any, out any) error {
	raw, err := EncodeArg(arg)
	if err != nil {
		return &ScriptError{Script: s.Name, Err: err}
	}
	// A JSON string literal is a valid JS string literal.
	lit, _ := json.Marshal(raw)
	expr := "(" + s.Source + ")(" + string(lit) + ")"

	var res string
	if err := runBound(ctx, t.ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return &ScriptError{Script: s.Name, Err: err}
	}
	return DecodeResult(s, res, out)
}

func (t *cdpTab) Capture(ctx context.Context, opts shot.CaptureOptions) ([]byte, error) {
	var buf []byte
	err := runBound(ctx, t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFormat(cdpFormat(opts.Format))
		if opts.Format.Lossy() {
			params = params.WithQuality(int64(opts.Quality))
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: capture: %w", err)
	}
	return buf, nil
}

func (t *cdpTab) HTML(ctx context.Context) ([]byte, error) {
	var html string
	if err := runBound(ctx, t.ctx, chromedp.Evaluate("("+outerHTMLScript+")()", &html)); err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(html), nil
}

func (t *cdpTab) Close() error {
	t.cancel()
	return nil
}

func cdpFormat(f shot.Format) page.CaptureScreenshotFormat {
	switch f {
	case shot.FormatJPEG:
		return page.CaptureScreenshotFormatJpeg
	case shot.FormatWebP:
		return page.CaptureScreenshotFormatWebp
	}
	return page.CaptureScreenshotFormatPng
}
