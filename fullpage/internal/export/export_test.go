package export

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	return img
}

func TestDownscale(t *testing.T) {
	cases := []struct {
		w, h, max  int
		ww, wh     int
		wantScaled bool
	}{
		{100, 200, 500, 100, 200, false},
		{100, 200, 0, 100, 200, false},
		{100, 4000, 1000, 25, 1000, true},
		{4000, 100, 2000, 2000, 50, true},
		{10, 1024, 128, 1, 128, true},
	}
	for _, c := range cases {
		out, scaled := Downscale(solid(c.w, c.h), c.max)
		b := out.Bounds()
		if scaled != c.wantScaled || b.Dx() != c.ww || b.Dy() != c.wh {
			t.Errorf("Downscale(%dx%d, %d) = %dx%d scaled=%v, want %dx%d scaled=%v",
				c.w, c.h, c.max, b.Dx(), b.Dy(), scaled, c.ww, c.wh, c.wantScaled)
		}
	}
}

func TestEncode(t *testing.T) {
	img := solid(16, 16)

	data, f, err := Encode(img, shot.FormatPNG, 0)
	if err != nil || f != shot.FormatPNG {
		t.Fatalf("png: %v, %s", err, f)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("png output: %v", err)
	}

	data, f, err = Encode(img, shot.FormatJPEG, 70)
	if err != nil || f != shot.FormatJPEG {
		t.Fatalf("jpeg: %v, %s", err, f)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("jpeg output: %v", err)
	}

	if _, f, _ := Encode(img, shot.FormatWebP, 0); f != shot.FormatPNG {
		t.Errorf("webp encoded as %s, want png", f)
	}
}

func TestPDF(t *testing.T) {
	data, _, err := Encode(solid(20, 40), shot.FormatPNG, 0)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := PDF(&buf, data); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output does not start with a PDF header: %q", buf.Bytes()[:min(8, buf.Len())])
	}
}
