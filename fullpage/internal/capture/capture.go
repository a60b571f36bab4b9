// CLAUDE:SUMMARY Visible-area capture with exponential backoff on rate-limit errors, option normalisation, and a per-tab throttle.
// Package capture takes viewport screenshots with retry. Only rate-limit
// failures are retried; every other error propagates on the first attempt.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// ErrRateLimited marks a capture rejected because captures arrived too fast.
var ErrRateLimited = errors.New("capture: rate limited")

// ErrEmptyImage is returned when the backend answered without image data.
var ErrEmptyImage = errors.New("capture: no screenshot data returned")

// chromeQuotaMessage is what Chrome reports when the capture quota is hit.
const chromeQuotaMessage = "MAX_CAPTURE_VISIBLE_TAB_CALLS_PER_SECOND"

// IsRateLimited reports whether err is worth retrying after a delay.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || strings.Contains(err.Error(), chromeQuotaMessage)
}

// NormalizeOptions fills the default format and clamps quality to [0,100].
// Quality is dropped for lossless formats.
func NormalizeOptions(o shot.CaptureOptions) shot.CaptureOptions {
	if o.Format == "" {
		o.Format = shot.FormatPNG
	}
	if !o.Format.Lossy() {
		o.Quality = 0
		return o
	}
	q := math.Round(o.Quality)
	o.Quality = math.Max(0, math.Min(100, q))
	return o
}

// Policy is the retry schedule.
type Policy struct {
	MaxRetries   int           // Default: 3.
	InitialDelay time.Duration // Default: 1s, doubled after each retry.
}

// DefaultPolicy is 3 retries starting at one second.
var DefaultPolicy = Policy{MaxRetries: 3, InitialDelay: time.Second}

// Capturer performs visible-area captures.
type Capturer struct {
	policy Policy
	logger *slog.Logger

	// Sleep waits between retries. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Capturer. Zero fields of policy take DefaultPolicy values.
func New(policy Policy, logger *slog.Logger) *Capturer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	} else if policy.MaxRetries == 0 {
		policy.MaxRetries = DefaultPolicy.MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultPolicy.InitialDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{policy: policy, logger: logger, Sleep: sleepCtx}
}

// CaptureWithRetry captures the visible area of p. It returns the image and
// the number of attempts made.
func (c *Capturer) CaptureWithRetry(ctx context.Context, p browser.Page, opts shot.CaptureOptions) ([]byte, int, error) {
	opts = NormalizeOptions(opts)
	delay := c.policy.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("capture: retrying", "tab", p.ID(), "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := c.Sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
			delay *= 2
		}
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		img, err := p.Capture(ctx, opts)
		if err == nil && len(img) == 0 {
			err = ErrEmptyImage
		}
		if err == nil {
			return img, attempt + 1, nil
		}
		if !IsRateLimited(err) {
			return nil, attempt + 1, err
		}
		lastErr = err
	}
	return nil, c.policy.MaxRetries + 1, fmt.Errorf("capture: retries exhausted: %w", lastErr)
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
