package shot

import (
	"bytes"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatPNG, false},
		{"PNG", FormatPNG, false},
		{"jpg", FormatJPEG, false},
		{"jpeg", FormatJPEG, false},
		{"webp", FormatWebP, false},
		{"gif", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseFormat(%q) err = %v, want err=%v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGeometryMaxOffset(t *testing.T) {
	if got := (Geometry{PageHeight: 3000, ViewportHeight: 1000}).MaxOffset(); got != 2000 {
		t.Errorf("MaxOffset = %d, want 2000", got)
	}
	if got := (Geometry{PageHeight: 600, ViewportHeight: 1000}).MaxOffset(); got != 0 {
		t.Errorf("short page MaxOffset = %d, want 0", got)
	}
	if got := (Geometry{}).Scale(); got != 1 {
		t.Errorf("zero DPR Scale = %v, want 1", got)
	}
}

func TestDataURL(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	u := EncodeDataURL(FormatPNG, img)
	if u[:22] != "data:image/png;base64," {
		t.Fatalf("prefix = %q", u[:22])
	}

	f, got, err := DecodeDataURL(u)
	if err != nil {
		t.Fatal(err)
	}
	if f != FormatPNG || !bytes.Equal(got, img) {
		t.Errorf("decoded %q %v, want png %v", f, got, img)
	}

	for _, bad := range []string{"hello", "data:image/png;base64", "data:text/plain;base64,aGk=", "data:image/png,raw"} {
		if _, _, err := DecodeDataURL(bad); err == nil {
			t.Errorf("DecodeDataURL(%q) succeeded, want error", bad)
		}
	}
}

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 20, 30, 456_000_000, time.UTC)
	got := Filename("full_page_screenshot", FormatPNG, ts)
	want := "full_page_screenshot_2024-05-01T10-20-30.png"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
	if got := Filename("", FormatJPEG, ts); got != "full_page_screenshot_2024-05-01T10-20-30.jpeg" {
		t.Errorf("default base = %q", got)
	}
}
