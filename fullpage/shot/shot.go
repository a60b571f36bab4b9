// Package shot defines the structured types produced by the fullpage capture
// pipeline. These are the public API contract: the CLI, the viewer, the MCP
// tools and any sink consumer import this package to read capture results.
package shot

import (
	"fmt"
	"strings"
	"time"
)

// Format is an image encoding accepted by the capture backend.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "png", "jpeg", "jpg" and "webp" (case-insensitive).
// The empty string maps to png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("shot: unknown format %q", s)
}

// Lossy reports whether the quality setting applies to f.
func (f Format) Lossy() bool { return f == FormatJPEG || f == FormatWebP }

// Ext is the file extension without the dot.
func (f Format) Ext() string {
	if f == "" {
		return "png"
	}
	return string(f)
}

// MIME is the media type used in data URLs and HTTP responses.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	}
	return "image/png"
}

// CaptureOptions controls the encoding of a single visible-area capture.
// Quality is only honoured for lossy formats.
type CaptureOptions struct {
	Format  Format  `json:"format,omitempty"`
	Quality float64 `json:"quality,omitempty"`
}

// Geometry is the page measurement taken in the page context.
type Geometry struct {
	PageWidth        int     `json:"page_width"`
	PageHeight       int     `json:"page_height"`
	ViewportWidth    int     `json:"viewport_width"`
	ViewportHeight   int     `json:"viewport_height"`
	ScrollY          int     `json:"scroll_y"`
	DevicePixelRatio float64 `json:"device_pixel_ratio"`
}

// MaxOffset is the largest scroll offset the page accepts.
func (g Geometry) MaxOffset() int {
	if g.PageHeight <= g.ViewportHeight {
		return 0
	}
	return g.PageHeight - g.ViewportHeight
}

// Scale is the device pixel ratio, or 1 when the page did not report one.
func (g Geometry) Scale() float64 {
	if g.DevicePixelRatio <= 0 {
		return 1
	}
	return g.DevicePixelRatio
}

// Box is a bounding rectangle in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Heuristic names the rule that flagged an element as sticky.
type Heuristic string

const (
	HeuristicPositioned Heuristic = "positioned" // computed position fixed or sticky
	HeuristicHeader     Heuristic = "header"     // header/nav near the top
	HeuristicSidebar    Heuristic = "sidebar"    // tall element hugging a horizontal edge
)

// StickyRecord is one element detected as sticky, and later hidden.
type StickyRecord struct {
	Selector        string    `json:"selector"`
	Position        string    `json:"position"`
	Box             Box       `json:"box"`
	Heuristic       Heuristic `json:"heuristic"`
	OriginalDisplay string    `json:"original_display"`
	Unique          bool      `json:"unique"`
}

// SegmentStatus is the outcome of one viewport capture.
type SegmentStatus string

const (
	StatusOK        SegmentStatus = "ok"
	StatusRecovered SegmentStatus = "recovered"
	StatusFailed    SegmentStatus = "failed"
)

// Segment is a single viewport-sized capture at a scroll offset.
// ScrollOffset is the planned offset; CaptureOffset is the scrollY the page
// reported when the image was taken.
type Segment struct {
	Index         int           `json:"index"`
	ScrollOffset  int           `json:"scroll_offset"`
	CaptureOffset int           `json:"capture_offset"`
	Image         []byte        `json:"-"`
	Format        Format        `json:"format"`
	Status        SegmentStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	Err           string        `json:"error,omitempty"`
}

// Summary drops the image bytes.
func (s Segment) Summary() SegmentSummary {
	return SegmentSummary{
		Index:         s.Index,
		ScrollOffset:  s.ScrollOffset,
		CaptureOffset: s.CaptureOffset,
		Status:        s.Status,
		Attempts:      s.Attempts,
		Err:           s.Err,
	}
}

// SegmentSummary is a Segment without its image, as reported in results.
type SegmentSummary struct {
	Index         int           `json:"index"`
	ScrollOffset  int           `json:"scroll_offset"`
	CaptureOffset int           `json:"capture_offset"`
	Status        SegmentStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	Err           string        `json:"error,omitempty"`
}

// Plan is the ordered list of scroll offsets for one capture.
type Plan struct {
	Step    int   `json:"step"`
	Offsets []int `json:"offsets"`
}

// Size is a width/height pair in device pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the composited full-page image and its metadata.
type Result struct {
	ID         string           `json:"id"`
	TabID      string           `json:"tab_id"`
	URL        string           `json:"url"`
	Image      []byte           `json:"-"`
	Format     Format           `json:"format"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	HasGaps    bool             `json:"has_gaps"`
	Scaled     bool             `json:"scaled"`
	Quality    int              `json:"quality,omitempty"`
	Original   Size             `json:"original"`
	CapturedAt time.Time        `json:"captured_at"`
	Segments   []SegmentSummary `json:"segments,omitempty"`
	// Plan and Stickies describe how the image was taken. They are not
	// persisted by the store.
	Plan     Plan           `json:"plan"`
	Stickies []StickyRecord `json:"stickies,omitempty"`
	Elapsed  time.Duration  `json:"elapsed_ns,omitempty"`
}

// Progress is a fire-and-forget status update during a capture.
type Progress struct {
	TabID   string `json:"tab_id,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Failure is the terminal error event of a capture.
type Failure struct {
	TabID   string `json:"tab_id,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}
