// Package export turns a composited screenshot into deliverables: encoded
// images, downscaled copies, and single-page PDFs.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// MaxCanvas is the largest side Chrome accepts for a canvas or image.
const MaxCanvas = 32767

// Downscale shrinks img so that neither side exceeds maxDim, keeping the
// aspect ratio. It reports whether scaling happened.
func Downscale(img image.Image, maxDim int) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img, false
	}

	ratio := float64(maxDim) / float64(max(w, h))
	nw := max(int(float64(w)*ratio), 1)
	nh := max(int(float64(h)*ratio), 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, true
}

// Encode writes img as f. WebP has no encoder here and is written as PNG;
// the returned Format is the one actually used.
func Encode(img image.Image, f shot.Format, quality int) ([]byte, shot.Format, error) {
	var buf bytes.Buffer
	switch f {
	case shot.FormatJPEG:
		if quality <= 0 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: min(quality, 100)}); err != nil {
			return nil, "", fmt.Errorf("export: jpeg: %w", err)
		}
		return buf.Bytes(), shot.FormatJPEG, nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("export: png: %w", err)
		}
		return buf.Bytes(), shot.FormatPNG, nil
	}
}

// PDF writes a one-page PDF holding the image. pdfcpu accepts PNG and JPEG.
func PDF(w io.Writer, img []byte) error {
	imp := pdfcpu.DefaultImportConfig()
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, w, []io.Reader{bytes.NewReader(img)}, imp, conf); err != nil {
		return fmt.Errorf("export: pdf: %w", err)
	}
	return nil
}
