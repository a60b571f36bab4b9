// Package pagetest provides an in-memory browser.Page rendering a synthetic
// tall page. Every page row has its own colour, so a stitched image can be
// checked pixel by pixel against the page it came from.
package pagetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// RowColor is the colour of every pixel on page row y.
func RowColor(y int) color.RGBA {
	return color.RGBA{R: uint8(y), G: uint8(y >> 8), B: 0x80, A: 0xff}
}

// Band is a viewport-fixed overlay painted while its element is visible.
type Band struct {
	Top, Height int
	Color       color.RGBA
}

// Element is a sticky candidate on the fake page.
type Element struct {
	Selector  string
	Position  string
	Heuristic shot.Heuristic
	Box       shot.Box
	// Display is the inline display value before any hide.
	Display string
	// Resist makes inline display:none ineffective, as when a framework
	// re-applies styles; only the stylesheet tier hides it.
	Resist bool
	Band   *Band

	inlineHidden bool
	priority     string
	sheet        bool
	hides        int

	// marked mirrors the data-pagesnap-display attribute: the originals
	// saved by the first hide, consumed by restore.
	marked        bool
	savedDisplay  string
	savedPriority string
}

type failure struct {
	remaining int // -1 = forever
	err       error
}

// Page is a scriptable fake tab.
type Page struct {
	mu sync.Mutex

	id, url string
	width   int
	height  int
	vw, vh  int

	// GrowOnHide is added to the page height while any element is hidden.
	GrowOnHide int
	// Overshoot is added to every scroll target before clamping, simulating
	// pages that land a few pixels off.
	Overshoot int
	DOM       string

	scrollY  int
	overflow string
	elements []*Element
	failures map[int]*failure
	evalErr  map[string]error
	afterErr map[string]error

	captures []int
	closed   bool
}

// New creates a page of width x height CSS pixels shown in a vw x vh viewport.
func New(width, height, vw, vh int) *Page {
	return &Page{
		id:       "tab-1",
		url:      "https://example.test/long",
		width:    width,
		height:   height,
		vw:       vw,
		vh:       vh,
		failures: make(map[int]*failure),
		evalErr:  make(map[string]error),
		afterErr: make(map[string]error),
	}
}

// WithID sets the tab ID.
func (p *Page) WithID(id string) *Page { p.id = id; return p }

// AddElement registers a sticky candidate.
func (p *Page) AddElement(e Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := e
	p.elements = append(p.elements, &el)
}

// FailAt makes captures at scroll offset y fail with err. times < 0 fails forever.
func (p *Page) FailAt(y, times int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[y] = &failure{remaining: times, err: err}
}

// FailScript makes every Eval of the named script return err.
func (p *Page) FailScript(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalErr[name] = err
}

// FailScriptAfter makes every Eval of the named script apply its effects
// and then return err, as when the result is lost on the way back.
func (p *Page) FailScriptAfter(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afterErr[name] = err
}

// Rename changes the selector of an element, as a page re-render would.
func (p *Page) Rename(sel, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el := p.find(sel); el != nil {
		el.Selector = to
	}
}

// Marked reports whether sel still carries the saved-display mark.
func (p *Page) Marked(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el := p.find(sel); el != nil {
		return el.marked
	}
	return false
}

// Captures returns the scroll offsets of every Capture call, including failures.
func (p *Page) Captures() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.captures...)
}

// ScrollY is the current scroll offset.
func (p *Page) ScrollY() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollY
}

// SetScrollY moves the page without going through a script.
func (p *Page) SetScrollY(y int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollY = y
}

// Overflow is the documentElement inline overflow value.
func (p *Page) Overflow() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overflow
}

// Display returns the inline display of the element with selector sel.
func (p *Page) Display(sel string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el := p.find(sel); el != nil {
		if el.inlineHidden {
			return "none"
		}
		return el.Display
	}
	return ""
}

// Visible reports whether the element with selector sel is rendered.
func (p *Page) Visible(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el := p.find(sel); el != nil {
		return el.visible()
	}
	return false
}

// HideCount is how many times a hide was applied to sel.
func (p *Page) HideCount(sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el := p.find(sel); el != nil {
		return el.hides
	}
	return 0
}

// StylesheetInjected reports whether the aggressive-hide stylesheet exists.
func (p *Page) StylesheetInjected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range p.elements {
		if el.sheet {
			return true
		}
	}
	return false
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (e *Element) visible() bool {
	if e.sheet {
		return false
	}
	return !(e.inlineHidden && !e.Resist)
}

func (p *Page) find(sel string) *Element {
	for _, el := range p.elements {
		if el.Selector == sel {
			return el
		}
	}
	return nil
}

func (p *Page) pageHeight() int {
	h := p.height
	for _, el := range p.elements {
		if !el.visible() {
			h += p.GrowOnHide
			break
		}
	}
	return max(h, p.vh)
}

func (p *Page) ID() string  { return p.id }
func (p *Page) URL() string { return p.url }

// Eval dispatches on the script name and speaks the same JSON contract as
// the embedded scripts.
func (p *Page) Eval(_ context.Context, s browser.Script, arg any, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.evalErr[s.Name]; err != nil {
		return &browser.ScriptError{Script: s.Name, Err: err}
	}
	raw, err := browser.EncodeArg(arg)
	if err != nil {
		return err
	}

	var res any
	switch s.Name {
	case "geometry":
		res = shot.Geometry{
			PageWidth: p.width, PageHeight: p.pageHeight(),
			ViewportWidth: p.vw, ViewportHeight: p.vh,
			ScrollY: p.scrollY, DevicePixelRatio: 1,
		}
	case "scroll_to":
		var a struct{ Y int }
		json.Unmarshal([]byte(raw), &a)
		y := min(max(a.Y+p.Overshoot, 0), p.pageHeight()-p.vh)
		p.scrollY = y
		res = map[string]int{"scroll_y": y}
	case "lock_scrollbars":
		res = map[string]string{"previous": p.overflow}
		p.overflow = "hidden"
	case "unlock_scrollbars":
		var a struct{ Previous string }
		json.Unmarshal([]byte(raw), &a)
		p.overflow = a.Previous
		res = map[string]bool{"ok": true}
	case "sticky_detect":
		res = p.detect()
	case "sticky_hide":
		res = p.hide(raw)
	case "sticky_restore":
		res = p.restore(raw)
	default:
		return &browser.ScriptError{Script: s.Name, Err: fmt.Errorf("unknown script")}
	}

	if err := p.afterErr[s.Name]; err != nil {
		return &browser.ScriptError{Script: s.Name, Err: err}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return browser.DecodeResult(s, string(data), out)
}

func (p *Page) detect() []shot.StickyRecord {
	out := []shot.StickyRecord{}
	for _, el := range p.elements {
		if !el.visible() {
			continue
		}
		out = append(out, shot.StickyRecord{
			Selector: el.Selector, Position: el.Position,
			Box: el.Box, Heuristic: el.Heuristic,
		})
	}
	return out
}

func (p *Page) hide(raw string) []map[string]any {
	var a struct {
		Selectors  []string `json:"selectors"`
		Aggressive bool     `json:"aggressive"`
	}
	json.Unmarshal([]byte(raw), &a)

	out := []map[string]any{}
	for _, sel := range a.Selectors {
		el := p.find(sel)
		if el == nil {
			out = append(out, map[string]any{"selector": sel, "found": false, "hidden": false})
			continue
		}
		if !el.marked {
			el.marked = true
			el.savedDisplay, el.savedPriority = el.Display, el.priority
		}
		item := map[string]any{
			"selector": sel, "found": true,
			"original_display":  el.savedDisplay,
			"original_priority": el.savedPriority,
		}
		el.inlineHidden = true
		el.hides++
		tier := "inline"
		if !el.visible() {
			item["hidden"] = true
		} else if a.Aggressive {
			el.sheet = true
			item["hidden"] = true
			tier = "stylesheet"
		} else {
			item["hidden"] = false
			tier = ""
		}
		item["tier"] = tier
		out = append(out, item)
	}
	return out
}

func (p *Page) restore(raw string) map[string]any {
	var a struct {
		Items []struct {
			Selector string `json:"selector"`
		} `json:"items"`
	}
	json.Unmarshal([]byte(raw), &a)

	items := []map[string]any{}
	for _, it := range a.Items {
		el := p.find(it.Selector)
		if el == nil {
			items = append(items, map[string]any{"selector": it.Selector, "restored": false, "error": "element not found"})
			continue
		}
		el.put()
		items = append(items, map[string]any{"selector": it.Selector, "restored": true})
	}
	swept := 0
	for _, el := range p.elements {
		if el.put() {
			swept++
		}
	}
	removed := false
	for _, el := range p.elements {
		if el.sheet {
			el.sheet = false
			removed = true
		}
	}
	return map[string]any{"items": items, "swept": swept, "stylesheet_removed": removed}
}

func (e *Element) put() bool {
	if !e.marked {
		return false
	}
	e.inlineHidden = false
	e.Display, e.priority = e.savedDisplay, e.savedPriority
	e.marked = false
	return true
}

// Capture renders the viewport at the current scroll offset.
func (p *Page) Capture(_ context.Context, opts shot.CaptureOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captures = append(p.captures, p.scrollY)
	if f, ok := p.failures[p.scrollY]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		return nil, f.err
	}

	img := p.render()
	var buf bytes.Buffer
	var err error
	if opts.Format == shot.FormatJPEG {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(int(opts.Quality), 1)})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render returns the full page as an image, without overlays.
func (p *Page) Render() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.pageHeight()
	img := image.NewRGBA(image.Rect(0, 0, p.width, h))
	for y := 0; y < h; y++ {
		c := RowColor(y)
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (p *Page) render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.vw, p.vh))
	for row := 0; row < p.vh; row++ {
		c := RowColor(p.scrollY + row)
		for x := 0; x < p.vw; x++ {
			img.SetRGBA(x, row, c)
		}
	}
	for _, el := range p.elements {
		if el.Band == nil || !el.visible() {
			continue
		}
		for row := el.Band.Top; row < el.Band.Top+el.Band.Height && row < p.vh; row++ {
			for x := 0; x < p.vw; x++ {
				img.SetRGBA(x, row, el.Band.Color)
			}
		}
	}
	return img
}

// HTML returns DOM.
func (p *Page) HTML(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []byte(p.DOM), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
