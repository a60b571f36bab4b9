package capture

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Throttle rejects captures that arrive faster than a per-second quota with
// ErrRateLimited, the way Chrome's extension capture API does.
type Throttle struct {
	browser.Page

	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewThrottle wraps p. perSecond <= 0 returns p unchanged.
func NewThrottle(p browser.Page, perSecond float64) browser.Page {
	if perSecond <= 0 {
		return p
	}
	return &Throttle{Page: p, interval: time.Duration(float64(time.Second) / perSecond), now: time.Now}
}

// Capture enforces the quota before delegating.
func (t *Throttle) Capture(ctx context.Context, opts shot.CaptureOptions) ([]byte, error) {
	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return nil, ErrRateLimited
	}
	t.last = now
	t.mu.Unlock()

	return t.Page.Capture(ctx, opts)
}
