package fullpage

import (
	"fmt"
	"io"

	"github.com/hazyhaar/pagesnap/fullpage/internal/export"
	"github.com/hazyhaar/pagesnap/fullpage/internal/report"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// WriteReport writes a markdown capture report for r.
func WriteReport(w io.Writer, r *shot.Result) (int, error) {
	return report.Write(w, r)
}

// WritePDF writes r's image as a one-page PDF. PNG and JPEG only.
func WritePDF(w io.Writer, r *shot.Result) error {
	if r == nil || len(r.Image) == 0 {
		return fmt.Errorf("fullpage: no image to export")
	}
	if r.Format == shot.FormatWebP {
		return fmt.Errorf("fullpage: pdf export needs png or jpeg, got %s", r.Format)
	}
	return export.PDF(w, r.Image)
}
