// CLAUDE:SUMMARY Detects fixed/sticky/header/sidebar elements, hides them idempotently by selector, and restores them on every exit path.
// Package sticky hides elements that stay put while the page scrolls, so
// they are not repeated in every captured segment.
//
// The manager moves Idle -> Detected -> Hidden -> Restored. Hide is
// idempotent per selector; Restore always clears the bookkeeping, even when
// the page rejects the restore script.
package sticky

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

var (
	//go:embed js/detect.js
	detectSrc string
	//go:embed js/hide.js
	hideSrc string
	//go:embed js/restore.js
	restoreSrc string
)

var (
	detectScript  = browser.Script{Name: "sticky_detect", Source: detectSrc}
	hideScript    = browser.Script{Name: "sticky_hide", Source: hideSrc}
	restoreScript = browser.Script{Name: "sticky_restore", Source: restoreSrc}
)

// State is the manager lifecycle position.
type State int

const (
	StateIdle State = iota
	StateDetected
	StateHidden
	StateRestored
)

func (s State) String() string {
	switch s {
	case StateDetected:
		return "detected"
	case StateHidden:
		return "hidden"
	case StateRestored:
		return "restored"
	}
	return "idle"
}

// Thresholds tune detection. Zero values take the defaults.
type Thresholds struct {
	MinWidth         int `json:"min_width"`          // Default: 100.
	MinHeight        int `json:"min_height"`         // Default: 30.
	TopBand          int `json:"top_band"`           // header must start above this. Default: 100.
	EdgeBand         int `json:"edge_band"`          // sidebar must touch an edge within this. Default: 50.
	SidebarMinHeight int `json:"sidebar_min_height"` // Default: 200.
}

func (t *Thresholds) defaults() {
	if t.MinWidth <= 0 {
		t.MinWidth = 100
	}
	if t.MinHeight <= 0 {
		t.MinHeight = 30
	}
	if t.TopBand <= 0 {
		t.TopBand = 100
	}
	if t.EdgeBand <= 0 {
		t.EdgeBand = 50
	}
	if t.SidebarMinHeight <= 0 {
		t.SidebarMinHeight = 200
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithThresholds overrides the detection thresholds.
func WithThresholds(t Thresholds) Option { return func(m *Manager) { m.thresholds = t } }

// WithoutStylesheetFallback disables the injected-stylesheet tier used for
// elements that resist an inline display:none.
func WithoutStylesheetFallback() Option { return func(m *Manager) { m.aggressive = false } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// Manager tracks the sticky elements of one page.
type Manager struct {
	page       browser.Page
	logger     *slog.Logger
	thresholds Thresholds
	aggressive bool

	mu       sync.Mutex
	state    State
	detected []shot.StickyRecord
	hidden   map[string]*hiddenEntry
	order    []string
}

type hiddenEntry struct {
	record shot.StickyRecord
	tier   string
}

// NewManager creates a Manager for p.
func NewManager(p browser.Page, opts ...Option) *Manager {
	m := &Manager{
		page:       p,
		logger:     slog.Default(),
		aggressive: true,
		hidden:     make(map[string]*hiddenEntry),
	}
	for _, o := range opts {
		o(m)
	}
	m.thresholds.defaults()
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Hidden returns the records hidden, or whose hide was attempted, in hide
// order.
func (m *Manager) Hidden() []shot.StickyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shot.StickyRecord, 0, len(m.order))
	for _, sel := range m.order {
		out = append(out, m.hidden[sel].record)
	}
	return out
}

// Detect scans the page for sticky candidates. Containment is resolved in
// the page (the outermost element wins); duplicate selectors are dropped.
func (m *Manager) Detect(ctx context.Context) ([]shot.StickyRecord, error) {
	var found []shot.StickyRecord
	if err := m.page.Eval(ctx, detectScript, m.thresholds, &found); err != nil {
		return nil, fmt.Errorf("sticky: detect: %w", err)
	}

	seen := make(map[string]bool, len(found))
	records := found[:0]
	for _, r := range found {
		if r.Selector == "" || seen[r.Selector] {
			continue
		}
		seen[r.Selector] = true
		records = append(records, r)
	}

	m.mu.Lock()
	m.detected = records
	if m.state == StateIdle || m.state == StateRestored {
		m.state = StateDetected
	}
	m.mu.Unlock()

	m.logger.Debug("sticky: detected", "tab", m.page.ID(), "count", len(records))
	return records, nil
}

// HideReport lists the per-selector outcome of Hide.
type HideReport struct {
	Hidden     []string `json:"hidden"`
	Skipped    []string `json:"skipped"` // already hidden or duplicated in the request
	Failed     []string `json:"failed"`
	Stylesheet []string `json:"stylesheet"` // hidden through the injected stylesheet
}

type hideResult struct {
	Selector         string `json:"selector"`
	Found            bool   `json:"found"`
	OriginalDisplay  string `json:"original_display"`
	OriginalPriority string `json:"original_priority"`
	ComputedDisplay  string `json:"computed_display"`
	Hidden           bool   `json:"hidden"`
	Tier             string `json:"tier"`
}

// Hide hides every record not already hidden. A failure to hide one
// element is reported, never returned as an error.
//
// The pending selectors are recorded and the manager moves to Hidden
// before the script runs: a script that errors may still have hidden some
// elements, and Restore must then run.
func (m *Manager) Hide(ctx context.Context, records []shot.StickyRecord) (HideReport, error) {
	var rep HideReport

	m.mu.Lock()
	pending := make([]shot.StickyRecord, 0, len(records))
	for _, r := range records {
		if _, ok := m.hidden[r.Selector]; ok {
			rep.Skipped = append(rep.Skipped, r.Selector)
			continue
		}
		m.hidden[r.Selector] = &hiddenEntry{record: r}
		m.order = append(m.order, r.Selector)
		pending = append(pending, r)
	}
	if len(pending) > 0 {
		m.state = StateHidden
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return rep, nil
	}

	selectors := make([]string, len(pending))
	for i, r := range pending {
		selectors[i] = r.Selector
	}
	arg := struct {
		Selectors  []string `json:"selectors"`
		Aggressive bool     `json:"aggressive"`
	}{selectors, m.aggressive}

	var results []hideResult
	if err := m.page.Eval(ctx, hideScript, arg, &results); err != nil {
		rep.Failed = selectors
		return rep, fmt.Errorf("sticky: hide: %w", err)
	}

	bySelector := make(map[string]hideResult, len(results))
	for _, res := range results {
		bySelector[res.Selector] = res
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	missing := make(map[string]bool)
	for _, r := range pending {
		res, ok := bySelector[r.Selector]
		if !ok || !res.Found {
			rep.Failed = append(rep.Failed, r.Selector)
			missing[r.Selector] = true
			delete(m.hidden, r.Selector)
			continue
		}
		// The inline style was overwritten even when the element resisted,
		// so it stays in the hidden set either way.
		e := m.hidden[r.Selector]
		e.record.OriginalDisplay = res.OriginalDisplay
		e.tier = res.Tier

		if !res.Hidden {
			rep.Failed = append(rep.Failed, r.Selector)
			continue
		}
		rep.Hidden = append(rep.Hidden, r.Selector)
		if res.Tier == "stylesheet" {
			rep.Stylesheet = append(rep.Stylesheet, r.Selector)
		}
	}
	if len(missing) > 0 {
		order := m.order[:0]
		for _, sel := range m.order {
			if !missing[sel] {
				order = append(order, sel)
			}
		}
		m.order = order
	}

	if len(rep.Failed) > 0 {
		m.logger.Warn("sticky: some elements stayed visible", "tab", m.page.ID(), "failed", rep.Failed)
	}
	return rep, nil
}

// RestoreReport lists the per-selector outcome of Restore.
type RestoreReport struct {
	Restored          []string `json:"restored"`
	Failed            []string `json:"failed"`
	Swept             int      `json:"swept"` // marked elements restored outside the selector list
	StylesheetRemoved bool     `json:"stylesheet_removed"`
}

type restoreItem struct {
	Selector string `json:"selector"`
}

// Restore puts back the original inline display of every element the hide
// script marked, including marked elements whose selector no longer
// matches, and removes the injected stylesheet. The hidden set is cleared
// whatever the outcome.
func (m *Manager) Restore(ctx context.Context) (RestoreReport, error) {
	var rep RestoreReport

	m.mu.Lock()
	items := make([]restoreItem, 0, len(m.order))
	for _, sel := range m.order {
		items = append(items, restoreItem{Selector: sel})
	}
	touched := m.state == StateHidden
	m.hidden = make(map[string]*hiddenEntry)
	m.order = nil
	m.state = StateRestored
	m.mu.Unlock()

	if !touched {
		return rep, nil
	}

	var res struct {
		Items []struct {
			Selector string `json:"selector"`
			Restored bool   `json:"restored"`
			Error    string `json:"error"`
		} `json:"items"`
		Swept             int  `json:"swept"`
		StylesheetRemoved bool `json:"stylesheet_removed"`
	}
	arg := struct {
		Items []restoreItem `json:"items"`
	}{items}
	if err := m.page.Eval(ctx, restoreScript, arg, &res); err != nil {
		for _, it := range items {
			rep.Failed = append(rep.Failed, it.Selector)
		}
		return rep, fmt.Errorf("sticky: restore: %w", err)
	}

	for _, it := range res.Items {
		if it.Restored {
			rep.Restored = append(rep.Restored, it.Selector)
			continue
		}
		rep.Failed = append(rep.Failed, it.Selector)
		m.logger.Warn("sticky: restore failed", "tab", m.page.ID(), "selector", it.Selector, "error", it.Error)
	}
	rep.Swept = res.Swept
	rep.StylesheetRemoved = res.StylesheetRemoved
	return rep, nil
}
