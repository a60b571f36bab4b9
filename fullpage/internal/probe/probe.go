// Package probe measures the page and moves its scroll position.
package probe

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

var (
	//go:embed js/geometry.js
	geometrySrc string
	//go:embed js/scroll.js
	scrollSrc string
	//go:embed js/lock.js
	lockSrc string
	//go:embed js/unlock.js
	unlockSrc string
)

var (
	geometryScript = browser.Script{Name: "geometry", Source: geometrySrc}
	scrollScript   = browser.Script{Name: "scroll_to", Source: scrollSrc}
	lockScript     = browser.Script{Name: "lock_scrollbars", Source: lockSrc}
	unlockScript   = browser.Script{Name: "unlock_scrollbars", Source: unlockSrc}
)

// ErrGeometryUnavailable is returned when the page cannot be measured.
type ErrGeometryUnavailable struct {
	TabID string
	Err   error
}

func (e *ErrGeometryUnavailable) Error() string {
	return fmt.Sprintf("probe: geometry unavailable for tab %s: %v", e.TabID, e.Err)
}

func (e *ErrGeometryUnavailable) Unwrap() error { return e.Err }

// Probe reads the page and viewport dimensions. Page height is the largest
// of documentElement.scrollHeight, documentElement.clientHeight and
// body.scrollHeight.
func Probe(ctx context.Context, p browser.Page) (shot.Geometry, error) {
	var g shot.Geometry
	if err := p.Eval(ctx, geometryScript, nil, &g); err != nil {
		return shot.Geometry{}, &ErrGeometryUnavailable{TabID: p.ID(), Err: err}
	}
	if g.ViewportHeight <= 0 || g.ViewportWidth <= 0 {
		return shot.Geometry{}, &ErrGeometryUnavailable{
			TabID: p.ID(),
			Err:   fmt.Errorf("empty viewport %dx%d", g.ViewportWidth, g.ViewportHeight),
		}
	}
	if g.PageHeight < g.ViewportHeight {
		g.PageHeight = g.ViewportHeight
	}
	if g.PageWidth <= 0 {
		g.PageWidth = g.ViewportWidth
	}
	return g, nil
}

// ScrollTo scrolls to y and returns the offset the page actually settled at;
// browsers clamp past the bottom.
func ScrollTo(ctx context.Context, p browser.Page, y int) (int, error) {
	var res struct {
		ScrollY int `json:"scroll_y"`
	}
	if err := p.Eval(ctx, scrollScript, map[string]int{"y": y}, &res); err != nil {
		return 0, fmt.Errorf("probe: scroll to %d: %w", y, err)
	}
	return res.ScrollY, nil
}

// LockScrollbars hides the document scrollbars and returns the previous
// inline overflow value for Unlock.
func LockScrollbars(ctx context.Context, p browser.Page) (string, error) {
	var res struct {
		Previous string `json:"previous"`
	}
	if err := p.Eval(ctx, lockScript, nil, &res); err != nil {
		return "", fmt.Errorf("probe: lock scrollbars: %w", err)
	}
	return res.Previous, nil
}

// Unlock restores the inline overflow value returned by LockScrollbars.
func Unlock(ctx context.Context, p browser.Page, previous string) error {
	if err := p.Eval(ctx, unlockScript, map[string]string{"previous": previous}, nil); err != nil {
		return fmt.Errorf("probe: unlock scrollbars: %w", err)
	}
	return nil
}
