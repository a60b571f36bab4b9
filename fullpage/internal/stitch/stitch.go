// CLAUDE:SUMMARY Composites ordered segment captures into one page-sized image at clamped offsets; decode failures become gaps.
// Package stitch composites segment captures into one image.
package stitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagesnap/fullpage/internal/export"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// ErrNothingToStitch is returned when no segment could be decoded.
var ErrNothingToStitch = errors.New("stitch: no usable segment")

// Options controls the output encoding.
type Options struct {
	Format  shot.Format // Default: png.
	Quality int         // jpeg only.

	// MaxDimension caps both sides of the output. Default: export.MaxCanvas.
	MaxDimension int

	// Workers bounds parallel decoding. Default: 4.
	Workers int
}

// Output is the composited image.
type Output struct {
	Image    []byte
	Format   shot.Format
	Width    int
	Height   int
	HasGaps  bool
	Scaled   bool
	Original shot.Size
	// Dropped lists segments whose image could not be decoded.
	Dropped []int
}

// Stitch draws every segment on a PageWidth x PageHeight canvas (in device
// pixels) at min(CaptureOffset, PageHeight-ViewportHeight), in index order,
// so later segments overwrite the overlap. Failed, recovered and
// undecodable segments set HasGaps.
func Stitch(ctx context.Context, segs []shot.Segment, g shot.Geometry, opts Options) (*Output, error) {
	if opts.Format == "" {
		opts.Format = shot.FormatPNG
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = export.MaxCanvas
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	if out, ok := passthrough(segs, g, opts); ok {
		return out, nil
	}

	decoded, err := decodeAll(ctx, segs, opts.Workers)
	if err != nil {
		return nil, err
	}

	scale := g.Scale()
	canvasW := int(math.Round(float64(g.PageWidth) * scale))
	canvasH := int(math.Round(float64(g.PageHeight) * scale))
	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	maxOff := g.MaxOffset()

	out := &Output{}
	drawn := 0
	for i, s := range segs {
		if s.Status == shot.StatusFailed || s.Status == shot.StatusRecovered {
			out.HasGaps = true
		}
		img := decoded[i]
		if img == nil {
			if s.Status != shot.StatusFailed {
				out.Dropped = append(out.Dropped, s.Index)
				out.HasGaps = true
			}
			continue
		}
		y := int(math.Round(float64(min(s.CaptureOffset, maxOff)) * scale))
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(0, y, b.Dx(), y+b.Dy()), img, b.Min, draw.Src)
		drawn++
	}
	if drawn == 0 {
		return nil, ErrNothingToStitch
	}

	out.Original = shot.Size{Width: canvasW, Height: canvasH}
	final, scaled := export.Downscale(canvas, opts.MaxDimension)
	out.Scaled = scaled

	data, f, err := export.Encode(final, opts.Format, opts.Quality)
	if err != nil {
		return nil, err
	}
	fb := final.Bounds()
	out.Image, out.Format = data, f
	out.Width, out.Height = fb.Dx(), fb.Dy()
	return out, nil
}

// passthrough returns the capture itself when the page fits one viewport
// and the capture is already in the requested format and canvas size.
func passthrough(segs []shot.Segment, g shot.Geometry, opts Options) (*Output, bool) {
	if len(segs) != 1 || segs[0].Status != shot.StatusOK || segs[0].Format != opts.Format {
		return nil, false
	}
	if g.MaxOffset() != 0 {
		return nil, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(segs[0].Image))
	if err != nil {
		return nil, false
	}
	scale := g.Scale()
	w := int(math.Round(float64(g.PageWidth) * scale))
	h := int(math.Round(float64(g.PageHeight) * scale))
	if cfg.Width != w || cfg.Height != h || w > opts.MaxDimension || h > opts.MaxDimension {
		return nil, false
	}
	return &Output{
		Image:    segs[0].Image,
		Format:   opts.Format,
		Width:    w,
		Height:   h,
		Original: shot.Size{Width: w, Height: h},
	}, true
}

// decodeAll decodes segment images concurrently. A segment that fails to
// decode is left nil; only cancellation aborts.
func decodeAll(ctx context.Context, segs []shot.Segment, workers int) ([]image.Image, error) {
	decoded := make([]image.Image, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, s := range segs {
		if s.Status == shot.StatusFailed || len(s.Image) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, _, err := image.Decode(bytes.NewReader(s.Image))
			if err != nil {
				return nil
			}
			decoded[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stitch: decode: %w", err)
	}
	return decoded, nil
}

// DefaultStep is the share of the viewport a capturing client advances
// between captures when it does not report its scroll positions.
const DefaultStep = 0.85

// DefaultOffsets returns the offsets of n captures taken every
// floor(viewportHeight*DefaultStep) pixels from the top.
func DefaultOffsets(n, viewportHeight int) []int {
	step := max(int(math.Floor(float64(viewportHeight)*DefaultStep)), 1)
	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = i * step
	}
	return offsets
}

// FromDataURLs builds segments from browser data URLs and their offsets,
// the shape consumers send with processCaptures. There must be one
// strictly increasing offset per capture; see DefaultOffsets for clients
// that send none.
func FromDataURLs(urls []string, offsets []int) ([]shot.Segment, error) {
	if len(urls) != len(offsets) {
		return nil, fmt.Errorf("stitch: %d captures for %d offsets", len(urls), len(offsets))
	}
	segs := make([]shot.Segment, len(urls))
	for i, u := range urls {
		segs[i] = shot.Segment{Index: i, ScrollOffset: offsets[i], CaptureOffset: offsets[i], Status: shot.StatusOK}
		if i > 0 && offsets[i] <= offsets[i-1] {
			return nil, fmt.Errorf("stitch: offsets not increasing at %d", i)
		}
		f, img, err := shot.DecodeDataURL(u)
		if err != nil {
			segs[i].Status = shot.StatusFailed
			segs[i].Err = err.Error()
			continue
		}
		segs[i].Format = f
		segs[i].Image = img
	}
	return segs, nil
}
