package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/internal/capture"
	"github.com/hazyhaar/pagesnap/fullpage/internal/pagetest"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

func TestPlanShortPage(t *testing.T) {
	for _, h := range []int{0, 500, 1000} {
		p := Plan(shot.Geometry{PageHeight: h, ViewportHeight: 1000}, DefaultStep)
		if !reflect.DeepEqual(p.Offsets, []int{0}) {
			t.Errorf("page %d: offsets = %v, want [0]", h, p.Offsets)
		}
	}
}

func TestPlanConcreteScenario(t *testing.T) {
	g := shot.Geometry{PageHeight: 3000, ViewportHeight: 1000}
	p := Plan(g, FixedOverlap(50))
	want := []int{0, 950, 1900, 2000}
	if !reflect.DeepEqual(p.Offsets, want) {
		t.Fatalf("offsets = %v, want %v", p.Offsets, want)
	}
	if p.Step != 950 {
		t.Errorf("step = %d, want 950", p.Step)
	}
}

func TestPlanExactMultiple(t *testing.T) {
	p := Plan(shot.Geometry{PageHeight: 3000, ViewportHeight: 1000}, FixedOverlap(0))
	want := []int{0, 1000, 2000}
	if !reflect.DeepEqual(p.Offsets, want) {
		t.Errorf("offsets = %v, want %v", p.Offsets, want)
	}
}

func TestPlanProperties(t *testing.T) {
	steps := map[string]StepFunc{
		"default":   DefaultStep,
		"overlap0":  FixedOverlap(0),
		"overlap50": FixedOverlap(50),
		"huge":      func(shot.Geometry) int { return 1 << 20 },
		"negative":  func(shot.Geometry) int { return -5 },
	}
	for name, step := range steps {
		for _, h := range []int{1001, 2999, 3000, 4800, 5001, 12000, 15001, 40000} {
			g := shot.Geometry{PageHeight: h, ViewportHeight: 1000}
			p := Plan(g, step)
			if p.Step < 1 || p.Step > g.ViewportHeight {
				t.Errorf("%s/%d: step %d outside [1, viewport]", name, h, p.Step)
			}
			if p.Offsets[0] != 0 {
				t.Errorf("%s/%d: first offset %d", name, h, p.Offsets[0])
			}
			if last := p.Offsets[len(p.Offsets)-1]; last != h-1000 {
				t.Errorf("%s/%d: last offset %d, want %d", name, h, last, h-1000)
			}
			for i := 1; i < len(p.Offsets); i++ {
				gap := p.Offsets[i] - p.Offsets[i-1]
				if gap <= 0 || gap > g.ViewportHeight {
					t.Errorf("%s/%d: offsets %v not strictly increasing within a viewport", name, h, p.Offsets)
					break
				}
			}
		}
	}
}

func TestDefaultStep(t *testing.T) {
	tests := []struct {
		page int
		want int
	}{
		{3000, 950},
		{5001, 500},
		{15001, 333},
	}
	for _, tt := range tests {
		if got := DefaultStep(shot.Geometry{PageHeight: tt.page, ViewportHeight: 1000}); got != tt.want {
			t.Errorf("DefaultStep(page=%d) = %d, want %d", tt.page, got, tt.want)
		}
	}
}

func newRunner(p *pagetest.Page, cfg RunnerConfig) *Runner {
	c := capture.New(capture.Policy{}, nil)
	c.Sleep = func(context.Context, time.Duration) error { return nil }
	r := NewRunner(p, c, cfg)
	r.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestExecuteAllSucceed(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}
	plan := Plan(g, FixedOverlap(50))

	var events []shot.Progress
	r := newRunner(p, RunnerConfig{Progress: func(e shot.Progress) { events = append(events, e) }})

	segs, err := r.Execute(context.Background(), g, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 4 {
		t.Fatalf("segments = %d, want 4", len(segs))
	}
	for i, s := range segs {
		if s.Index != i || s.ScrollOffset != plan.Offsets[i] || s.CaptureOffset != plan.Offsets[i] {
			t.Errorf("segment %d = %+v", i, s.Summary())
		}
		if s.Status != shot.StatusOK || len(s.Image) == 0 {
			t.Errorf("segment %d status %s, %d bytes", i, s.Status, len(s.Image))
		}
	}
	if len(events) == 0 || events[len(events)-1].Percent != 100 {
		t.Errorf("last progress = %+v, want 100%%", events)
	}
}

func TestExecuteTransientFailureRetried(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	p.FailAt(950, 2, capture.ErrRateLimited)
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}

	segs, err := newRunner(p, RunnerConfig{}).Execute(context.Background(), g, Plan(g, FixedOverlap(50)))
	if err != nil {
		t.Fatal(err)
	}
	if segs[1].Status != shot.StatusOK || segs[1].Attempts != 3 {
		t.Errorf("segment 1 = %+v, want ok after 3 attempts", segs[1].Summary())
	}
}

func TestExecuteSegmentFailsEverything(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	boom := errors.New("capture backend gone")
	// Main offset and every recovery target fail.
	for _, y := range []int{950, 1000, 925, 1075} {
		p.FailAt(y, -1, boom)
	}
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}

	var msgs []string
	r := newRunner(p, RunnerConfig{Progress: func(e shot.Progress) { msgs = append(msgs, e.Message) }})
	segs, err := r.Execute(context.Background(), g, Plan(g, FixedOverlap(50)))
	if err != nil {
		t.Fatal(err)
	}

	if segs[1].Status != shot.StatusFailed {
		t.Fatalf("segment 1 status = %s, want failed", segs[1].Status)
	}
	for _, i := range []int{0, 2, 3} {
		if segs[i].Status != shot.StatusOK {
			t.Errorf("segment %d status = %s, want ok", i, segs[i].Status)
		}
	}
	joined := strings.Join(msgs, "\n")
	if !strings.Contains(joined, "Skipping segment 2 (will try to recover later)") {
		t.Errorf("missing skip message in %q", joined)
	}
	if !strings.Contains(joined, "Attempting to recover missing segments...") {
		t.Errorf("missing recovery message in %q", joined)
	}
}

func TestExecuteRecovery(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	p.FailAt(950, -1, errors.New("blank frame"))
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}

	segs, err := newRunner(p, RunnerConfig{}).Execute(context.Background(), g, Plan(g, FixedOverlap(50)))
	if err != nil {
		t.Fatal(err)
	}
	s := segs[1]
	if s.Status != shot.StatusRecovered {
		t.Fatalf("status = %s, want recovered", s.Status)
	}
	if s.CaptureOffset != 1000 || s.ScrollOffset != 950 {
		t.Errorf("offsets = planned %d / captured %d, want 950 / 1000", s.ScrollOffset, s.CaptureOffset)
	}
	if s.Format != shot.FormatJPEG {
		t.Errorf("format = %s, want jpeg", s.Format)
	}
}

func TestExecuteNoRecovery(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	p.FailAt(0, -1, errors.New("blank frame"))
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}

	r := newRunner(p, RunnerConfig{Recovery: []Strategy{}})
	segs, err := r.Execute(context.Background(), g, Plan(g, FixedOverlap(50)))
	if err != nil {
		t.Fatal(err)
	}
	if segs[0].Status != shot.StatusFailed {
		t.Errorf("status = %s, want failed", segs[0].Status)
	}
	if n := len(p.Captures()); n != 4 {
		t.Errorf("captures = %d, want 4 (no recovery pass)", n)
	}
}

func TestExecuteCancelled(t *testing.T) {
	p := pagetest.New(200, 3000, 200, 1000)
	g := shot.Geometry{PageWidth: 200, PageHeight: 3000, ViewportWidth: 200, ViewportHeight: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(p, RunnerConfig{Progress: func(e shot.Progress) {
		if strings.HasPrefix(e.Message, "Capturing segment 3") {
			cancel()
		}
	}})
	segs, err := r.Execute(ctx, g, Plan(g, FixedOverlap(50)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(segs) != 2 {
		t.Errorf("segments before cancel = %d, want 2", len(segs))
	}
}
