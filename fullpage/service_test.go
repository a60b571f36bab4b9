package fullpage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pagesnap/dbopen"
	"github.com/hazyhaar/pagesnap/fullpage/internal/pagetest"
	"github.com/hazyhaar/pagesnap/fullpage/internal/sink"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/idgen"
	"github.com/hazyhaar/pagesnap/observability"
	"github.com/hazyhaar/pagesnap/urlguard"
)

var epoch = time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)

// publicDNS resolves every hostname to a public address.
func publicDNS(context.Context, string) ([]string, error) {
	return []string{"93.184.216.34"}, nil
}

// events records everything the service emits.
type events struct {
	mu       sync.Mutex
	progress []shot.Progress
	results  []*shot.Result
	failures []shot.Failure
}

func (e *events) sink() Sink {
	return sink.NewCallback(
		func(_ context.Context, p shot.Progress) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.progress = append(e.progress, p)
			return nil
		},
		func(_ context.Context, r *shot.Result) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.results = append(e.results, r)
			return nil
		},
		func(_ context.Context, f shot.Failure) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.failures = append(e.failures, f)
			return nil
		},
	)
}

func (e *events) messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.progress))
	for i, p := range e.progress {
		out[i] = p.Message
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Service
	driver *pagetest.Driver
	events *events
	clock  *clock
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// newHarness builds a started service on a fake browser whose pages are
// 200x3000 in a 200x1000 viewport unless newPage says otherwise.
func newHarness(t *testing.T, newPage func(url string) *pagetest.Page, opts ...Option) *harness {
	t.Helper()
	if newPage == nil {
		newPage = func(string) *pagetest.Page { return pagetest.New(200, 3000, 200, 1000) }
	}
	h := &harness{
		driver: pagetest.NewDriver(newPage),
		events: &events{},
		clock:  &clock{now: epoch},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithDriver(h.driver),
		WithDB(dbopen.OpenMemory(t)),
		WithSinks(h.events.sink()),
		WithClock(h.clock.Now),
		WithIDGenerator(idgen.Sequence("id")),
		WithSleep(noSleep),
		WithURLGuard(&urlguard.Guard{Lookup: publicDNS}),
	}
	svc, err := New(DefaultConfig(), logger, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	h.svc = svc
	return h
}

func (h *harness) open(t *testing.T) (string, *pagetest.Page) {
	t.Helper()
	id, err := h.svc.OpenTab(context.Background(), "https://example.test/long")
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.driver.Page(id)
	if err != nil {
		t.Fatal(err)
	}
	return id, p
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func rowIs(img image.Image, y int, want color.RGBA) bool {
	got := color.RGBAModel.Convert(img.At(img.Bounds().Min.X, y)).(color.RGBA)
	return got == want
}

func TestCaptureFullPage(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	p.SetScrollY(300)

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 200 || r.Height != 3000 {
		t.Fatalf("size = %dx%d, want 200x3000", r.Width, r.Height)
	}
	if r.HasGaps || r.Scaled {
		t.Fatalf("has_gaps=%v scaled=%v", r.HasGaps, r.Scaled)
	}
	if want := []int{0, 950, 1900, 2000}; !slices.Equal(r.Plan.Offsets, want) {
		t.Fatalf("plan = %v, want %v", r.Plan.Offsets, want)
	}
	if !slices.Equal(p.Captures(), r.Plan.Offsets) {
		t.Fatalf("captures = %v", p.Captures())
	}
	if r.ID != "id2" || r.TabID != id || r.URL != "https://example.test/long" {
		t.Fatalf("result identity = %+v", r)
	}
	if !r.CapturedAt.Equal(epoch) {
		t.Fatalf("captured_at = %v", r.CapturedAt)
	}

	img := decodePNG(t, r.Image)
	for _, y := range []int{0, 949, 950, 1899, 1900, 2500, 2999} {
		if !rowIs(img, y, pagetest.RowColor(y)) {
			t.Errorf("row %d does not match the page", y)
		}
	}

	if p.ScrollY() != 300 {
		t.Errorf("scroll = %d, want restored to 300", p.ScrollY())
	}
	if p.Overflow() != "" {
		t.Errorf("overflow = %q, want restored", p.Overflow())
	}

	msgs := h.events.messages()
	if len(msgs) == 0 || msgs[0] != "Capturing segment 1 of 4" || msgs[len(msgs)-1] != "Capture complete" {
		t.Errorf("progress = %v", msgs)
	}
	if len(h.events.results) != 1 || h.events.results[0].ID != r.ID {
		t.Errorf("results = %v", h.events.results)
	}
}

func TestCaptureFullPageStoresSlots(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.open(t)
	ctx := context.Background()

	if _, err := h.svc.Latest(ctx); !IsNotFound(err) {
		t.Fatalf("latest before capture: %v", err)
	}

	r, err := h.svc.CaptureFullPage(ctx, id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	latest, err := h.svc.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != r.ID || !bytes.Equal(latest.Image, r.Image) {
		t.Fatalf("latest = %s, want %s", latest.ID, r.ID)
	}
	byTab, err := h.svc.Screenshot(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if byTab.ID != r.ID || len(byTab.Segments) != 4 {
		t.Fatalf("tab slot = %+v", byTab)
	}

	if err := h.svc.CloseTab(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Screenshot(ctx, id); !IsNotFound(err) {
		t.Fatalf("tab slot after close: %v", err)
	}
	if _, err := h.svc.Latest(ctx); err != nil {
		t.Fatalf("latest after close: %v", err)
	}
}

func TestCaptureFullPageHidesStickies(t *testing.T) {
	red := color.RGBA{R: 0xff, A: 0xff}
	h := newHarness(t, func(string) *pagetest.Page {
		p := pagetest.New(200, 3000, 200, 1000)
		p.AddElement(pagetest.Element{
			Selector:  "#masthead",
			Position:  "fixed",
			Heuristic: shot.HeuristicPositioned,
			Box:       shot.Box{Width: 200, Height: 60},
			Display:   "block",
			Band:      &pagetest.Band{Top: 0, Height: 60, Color: red},
		})
		return p
	})
	id, p := h.open(t)

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Stickies) != 1 || r.Stickies[0].Selector != "#masthead" {
		t.Fatalf("stickies = %+v", r.Stickies)
	}
	img := decodePNG(t, r.Image)
	// 30 is inside the first viewport, 980 inside the second.
	for _, y := range []int{30, 980} {
		if !rowIs(img, y, pagetest.RowColor(y)) {
			t.Errorf("row %d shows the fixed header", y)
		}
	}
	if !p.Visible("#masthead") || p.Display("#masthead") != "block" {
		t.Errorf("masthead not restored: visible=%v display=%q", p.Visible("#masthead"), p.Display("#masthead"))
	}
}

func TestCaptureFullPageRestoresStickiesAfterLostHide(t *testing.T) {
	h := newHarness(t, func(string) *pagetest.Page {
		p := pagetest.New(200, 3000, 200, 1000)
		p.AddElement(pagetest.Element{
			Selector: "#masthead", Position: "fixed", Heuristic: shot.HeuristicPositioned,
			Display: "block",
		})
		return p
	})
	id, p := h.open(t)
	p.FailScriptAfter("sticky_hide", context.DeadlineExceeded)

	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatal(err)
	}
	if !p.Visible("#masthead") || p.Display("#masthead") != "block" || p.Marked("#masthead") {
		t.Errorf("masthead left hidden: visible=%v display=%q", p.Visible("#masthead"), p.Display("#masthead"))
	}
}

func TestCaptureFullPageKeepStickies(t *testing.T) {
	red := color.RGBA{R: 0xff, A: 0xff}
	h := newHarness(t, func(string) *pagetest.Page {
		p := pagetest.New(200, 3000, 200, 1000)
		p.AddElement(pagetest.Element{
			Selector: "#masthead", Position: "fixed", Heuristic: shot.HeuristicPositioned,
			Band: &pagetest.Band{Top: 0, Height: 60, Color: red},
		})
		return p
	})
	id, p := h.open(t)

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{KeepStickies: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Stickies) != 0 || p.HideCount("#masthead") != 0 {
		t.Fatalf("stickies touched: %+v", r.Stickies)
	}
	if !rowIs(decodePNG(t, r.Image), 30, red) {
		t.Error("header should be in the image")
	}
}

func TestCaptureFullPageWithGaps(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	boom := errors.New("tab crashed")
	// The planned offset and every recovery nudge around it.
	for _, y := range []int{950, 1000, 925, 1075} {
		p.FailAt(y, -1, boom)
	}

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasGaps {
		t.Fatal("has_gaps = false")
	}
	if r.Segments[1].Status != shot.StatusFailed {
		t.Fatalf("segment 1 = %+v", r.Segments[1])
	}
	for _, i := range []int{0, 2, 3} {
		if r.Segments[i].Status != shot.StatusOK {
			t.Errorf("segment %d = %s", i, r.Segments[i].Status)
		}
	}
	img := decodePNG(t, r.Image)
	for _, y := range []int{0, 999, 1900, 2999} {
		if !rowIs(img, y, pagetest.RowColor(y)) {
			t.Errorf("row %d does not match the page", y)
		}
	}
	if !slices.Contains(h.events.messages(), "Skipping segment 2 (will try to recover later)") {
		t.Errorf("progress = %v", h.events.messages())
	}
}

func TestCaptureFullPageRecovers(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	p.FailAt(950, -1, errors.New("blank frame"))

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.HasGaps {
		t.Fatal("has_gaps = true after recovery")
	}
	if r.Segments[1].Status != shot.StatusRecovered {
		t.Fatalf("segment 1 = %+v", r.Segments[1])
	}
}

func TestCaptureFullPageBusy(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.open(t)

	tb, err := h.svc.acquire(id)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	var busy *ErrCaptureInProgress
	if !errors.As(err, &busy) || busy.TabID != id {
		t.Fatalf("err = %v, want ErrCaptureInProgress", err)
	}
	if len(h.events.failures) != 0 {
		t.Errorf("a rejected capture must not emit an error event: %v", h.events.failures)
	}
	if err := h.svc.CloseTab(context.Background(), id); !errors.As(err, &busy) {
		t.Errorf("close busy tab: %v", err)
	}

	tb.busy.Store(false)
	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatalf("capture after release: %v", err)
	}
}

func TestCaptureFullPageUnknownTab(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.CaptureFullPage(context.Background(), "nope", CaptureOptions{})
	var nf *ErrTabNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v", err)
	}
	if len(h.events.failures) != 1 || h.events.failures[0].TabID != "nope" {
		t.Fatalf("failures = %v", h.events.failures)
	}
}

func TestCaptureFullPageGeometryUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	p.FailScript("geometry", errors.New("execution context destroyed"))

	_, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{})
	var geo *ErrGeometryUnavailable
	if !errors.As(err, &geo) {
		t.Fatalf("err = %v", err)
	}
	if len(p.Captures()) != 0 {
		t.Errorf("captured %v without geometry", p.Captures())
	}
	if len(h.events.failures) != 1 || h.events.failures[0].Percent != 0 {
		t.Errorf("failures = %v", h.events.failures)
	}
}

func TestCaptureCancelledRestoresPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	// The first wait follows the sticky hide, then one per segment.
	sleep := func(ctx context.Context, _ time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}

	h := newHarness(t, func(string) *pagetest.Page {
		p := pagetest.New(200, 3000, 200, 1000)
		p.AddElement(pagetest.Element{
			Selector: "#bar", Position: "sticky", Heuristic: shot.HeuristicPositioned, Display: "flex",
		})
		return p
	}, WithSleep(sleep))
	id, p := h.open(t)
	p.SetScrollY(120)

	_, err := h.svc.CaptureFullPage(ctx, id, CaptureOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.ScrollY() != 120 {
		t.Errorf("scroll = %d, want 120", p.ScrollY())
	}
	if p.Overflow() != "" {
		t.Errorf("overflow = %q", p.Overflow())
	}
	if !p.Visible("#bar") || p.Display("#bar") != "flex" {
		t.Errorf("#bar not restored")
	}
	if len(h.events.failures) != 1 || h.events.failures[0].Percent != 25 {
		t.Errorf("failures = %+v", h.events.failures)
	}

	// The tab is free again.
	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatalf("capture after cancel: %v", err)
	}
}

func TestCaptureFullPageJPEG(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.open(t)

	r, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{Format: shot.FormatJPEG, Quality: 80})
	if err != nil {
		t.Fatal(err)
	}
	if r.Format != shot.FormatJPEG || r.Quality != 80 {
		t.Fatalf("format=%s quality=%d", r.Format, r.Quality)
	}
	if !bytes.HasPrefix(r.Image, []byte{0xff, 0xd8}) {
		t.Fatal("image is not a JPEG")
	}
}

func TestCaptureURL(t *testing.T) {
	h := newHarness(t, nil)

	r, err := h.svc.CaptureURL(context.Background(), "https://example.test/article", CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.URL != "https://example.test/article" {
		t.Fatalf("url = %q", r.URL)
	}
	opened := h.driver.Opened()
	if len(opened) != 1 {
		t.Fatalf("opened = %v", opened)
	}
	p, _ := h.driver.Page(opened[0])
	if !p.Closed() {
		t.Error("capture tab left open")
	}
	if len(h.svc.Tabs()) != 0 {
		t.Errorf("tabs = %v", h.svc.Tabs())
	}
	if latest, err := h.svc.Latest(context.Background()); err != nil || latest.ID != r.ID {
		t.Errorf("latest = %v, %v", latest, err)
	}
}

func TestCaptureVisible(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	p.SetScrollY(500)

	data, f, err := h.svc.CaptureVisible(context.Background(), id, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if f != shot.FormatPNG {
		t.Fatalf("format = %s", f)
	}
	img := decodePNG(t, data)
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 1000 {
		t.Fatalf("bounds = %v", b)
	}
	if !rowIs(img, 0, pagetest.RowColor(500)) {
		t.Error("visible capture ignores the scroll position")
	}
	if p.ScrollY() != 500 {
		t.Errorf("visible capture moved the page to %d", p.ScrollY())
	}
}

func TestCaptureVisibleBusy(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)

	tb, err := h.svc.acquire(id)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = h.svc.CaptureVisible(context.Background(), id, CaptureOptions{})
	var busy *ErrCaptureInProgress
	if !errors.As(err, &busy) || busy.TabID != id {
		t.Fatalf("err = %v, want ErrCaptureInProgress", err)
	}
	if len(p.Captures()) != 0 {
		t.Fatalf("captured during a running capture: %v", p.Captures())
	}

	tb.busy.Store(false)
	if _, _, err := h.svc.CaptureVisible(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatalf("capture after release: %v", err)
	}
	if err := h.svc.CloseTab(context.Background(), id); err != nil {
		t.Errorf("visible capture left the tab busy: %v", err)
	}
}

func TestCaptureQuotaIsPerTab(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.cfg.Capture.MaxPerSecond = 0.001
	id, p := h.open(t)
	other, _ := h.open(t)
	ctx := context.Background()

	if _, _, err := h.svc.CaptureVisible(ctx, id, CaptureOptions{}); err != nil {
		t.Fatal(err)
	}
	// The quota outlives the call: the next capture of the same tab is
	// rejected until the interval elapses, retries included.
	if _, _, err := h.svc.CaptureVisible(ctx, id, CaptureOptions{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second capture err = %v, want ErrRateLimited", err)
	}
	if n := len(p.Captures()); n != 1 {
		t.Errorf("page captured %d times, want 1", n)
	}
	if _, _, err := h.svc.CaptureVisible(ctx, other, CaptureOptions{}); err != nil {
		t.Errorf("another tab shares the quota: %v", err)
	}
}

func TestProcessCaptures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	src := pagetest.New(200, 3000, 200, 1000)

	offsets := []int{0, 950, 1900, 2000}
	urls := make([]string, len(offsets))
	for i, off := range offsets {
		src.SetScrollY(off)
		data, err := src.Capture(ctx, shot.CaptureOptions{Format: shot.FormatPNG})
		if err != nil {
			t.Fatal(err)
		}
		urls[i] = shot.EncodeDataURL(shot.FormatPNG, data)
	}
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000, DevicePixelRatio: 1}

	r, err := h.svc.ProcessCaptures(ctx, "ext-7", urls, offsets, g, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Height != 3000 || r.HasGaps {
		t.Fatalf("height=%d has_gaps=%v", r.Height, r.HasGaps)
	}
	img := decodePNG(t, r.Image)
	if !rowIs(img, 2999, pagetest.RowColor(2999)) {
		t.Error("last row wrong")
	}
	// ext-7 is not an open tab, so only the latest slot is written.
	if _, err := h.svc.Screenshot(ctx, "ext-7"); !IsNotFound(err) {
		t.Errorf("tab slot: %v", err)
	}
	if latest, err := h.svc.Latest(ctx); err != nil || latest.ID != r.ID {
		t.Errorf("latest = %v, %v", latest, err)
	}

	if _, err := h.svc.ProcessCaptures(ctx, "ext-7", urls, offsets, shot.Geometry{}, CaptureOptions{}); err == nil {
		t.Fatal("empty geometry accepted")
	}
	if n := len(h.events.failures); n != 1 || h.events.failures[0].Percent != 90 {
		t.Errorf("failures = %+v", h.events.failures)
	}
}

func TestProcessCapturesWithoutOffsets(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	src := pagetest.New(200, 3000, 200, 1000)

	// A client stepping 85% of the viewport; the browser stops the last
	// scroll at the bottom of the page.
	urls := make([]string, 4)
	for i, y := range []int{0, 850, 1700, 2000} {
		src.SetScrollY(y)
		data, err := src.Capture(ctx, shot.CaptureOptions{Format: shot.FormatPNG})
		if err != nil {
			t.Fatal(err)
		}
		urls[i] = shot.EncodeDataURL(shot.FormatPNG, data)
	}
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000, DevicePixelRatio: 1}

	r, err := h.svc.ProcessCaptures(ctx, "ext-8", urls, nil, g, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.Plan.Offsets, []int{0, 850, 1700, 2550}) {
		t.Errorf("offsets = %v", r.Plan.Offsets)
	}
	img := decodePNG(t, r.Image)
	for _, y := range []int{0, 849, 1699, 2000, 2999} {
		if !rowIs(img, y, pagetest.RowColor(y)) {
			t.Errorf("row %d wrong", y)
		}
	}
}

func TestReapIdle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stale, staleP := h.open(t)
	fresh, _ := h.open(t)

	h.clock.Advance(4 * time.Minute)
	if err := h.svc.KeepAlive(fresh); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Minute)

	if n := h.svc.ReapIdle(ctx); n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if !staleP.Closed() {
		t.Error("stale tab page not closed")
	}
	if tabs := h.svc.Tabs(); len(tabs) != 1 || tabs[0] != fresh {
		t.Fatalf("tabs = %v", tabs)
	}
	var nf *ErrTabNotFound
	if err := h.svc.KeepAlive(stale); !errors.As(err, &nf) {
		t.Errorf("keepalive on reaped tab: %v", err)
	}
}

func TestReapIdleSkipsBusyTab(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.open(t)
	if _, err := h.svc.acquire(id); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Hour)
	if n := h.svc.ReapIdle(context.Background()); n != 0 {
		t.Fatalf("reaped a busy tab")
	}
}

func TestEventsBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.open(t)

	ch, cancel := h.svc.Events().Subscribe(64)
	defer cancel()

	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatal(err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) == 0 || types[len(types)-1] != "screenshotCaptured" {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("no screenshotCaptured event; got %v", types)
		}
	}
	if types[0] != "progressUpdate" {
		t.Errorf("first event = %s", types[0])
	}
}

func TestCaptureMetrics(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	p.FailAt(0, 1, ErrRateLimited)

	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); err != nil {
		t.Fatal(err)
	}
	mm := h.svc.Metrics()
	mm.Flush()

	check := func(name string, want float64) {
		t.Helper()
		ms, err := mm.Query(context.Background(), name, time.Time{}, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(ms) != 1 || ms[0].Value != want {
			t.Errorf("%s = %+v, want %v", name, ms, want)
		}
	}
	check(observability.MetricCaptureSegments, 4)
	check(observability.MetricSegmentsFailed, 0)
	check(observability.MetricCaptureRetries, 1)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Disabled = true
	svc, err := New(cfg, nil,
		WithDriver(pagetest.NewDriver(nil)),
		WithDB(dbopen.OpenMemory(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	if svc.Metrics() != nil {
		t.Fatal("metrics enabled")
	}
}

func TestClosedService(t *testing.T) {
	h := newHarness(t, nil)
	id, p := h.open(t)
	if err := h.svc.Close(); err != nil {
		t.Fatal(err)
	}
	if !p.Closed() || !h.driver.Closed() {
		t.Error("close left the browser open")
	}
	if _, err := h.svc.OpenTab(context.Background(), "https://example.test"); !errors.Is(err, ErrClosed) {
		t.Errorf("open after close: %v", err)
	}
	if _, err := h.svc.CaptureFullPage(context.Background(), id, CaptureOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("capture after close: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.Format = "gif"
	_, err := New(cfg, nil, WithDriver(pagetest.NewDriver(nil)), WithDB(dbopen.OpenMemory(t)))
	if err == nil || !strings.Contains(err.Error(), "gif") {
		t.Fatalf("err = %v", err)
	}
}
