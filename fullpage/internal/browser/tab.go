package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Tab is a rod page prepared for capture: stealth patches, fixed viewport
// metrics, optional resource blocking.
type Tab struct {
	page    *rod.Page
	pageURL string
	tabID   string
	stealth StealthLevel
}

// OpenTab creates a tab, sets the viewport, and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, tabID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}
	cfg := mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Stealth >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: cfg.DeviceScaleFactor,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, cfg.ResourceBlocking); err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{page: page, pageURL: pageURL, tabID: tabID, stealth: cfg.Stealth}, nil
}

func (t *Tab) ID() string  { return t.tabID }
func (t *Tab) URL() string { return t.pageURL }

// Eval implements Page.
func (t *Tab) Eval(ctx context.Context, s Script, arg any, out any) error {
	raw, err := EncodeArg(arg)
	if err != nil {
		return &ScriptError{Script: s.Name, Err: err}
	}
	res, err := t.page.Context(ctx).Eval(s.Source, raw)
	if err != nil {
		return &ScriptError{Script: s.Name, Err: err}
	}
	return DecodeResult(s, res.Value.Str(), out)
}

// Capture implements Page.
func (t *Tab) Capture(ctx context.Context, opts shot.CaptureOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: rodFormat(opts.Format)}
	if opts.Format.Lossy() {
		q := int(opts.Quality)
		req.Quality = &q
	}
	data, err := t.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("browser: capture: %w", err)
	}
	return data, nil
}

// HTML implements Page.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.page.Context(ctx).Eval(outerHTMLScript)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}

func rodFormat(f shot.Format) proto.PageCaptureScreenshotFormat {
	switch f {
	case shot.FormatJPEG:
		return proto.PageCaptureScreenshotFormatJpeg
	case shot.FormatWebP:
		return proto.PageCaptureScreenshotFormatWebp
	}
	return proto.PageCaptureScreenshotFormatPng
}
