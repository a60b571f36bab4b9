package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesnap/fullpage"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// captureFlags are shared by capture and visible.
type captureFlags struct {
	out          string
	format       string
	quality      float64
	maxDimension int
	keepStickies bool
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Output file; \"-\" writes to stdout (default: output.dir from the config)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Image format: png, jpeg or webp (default: capture.format)")
	cmd.Flags().Float64VarP(&f.quality, "quality", "q", 0, "Quality 1-100 for jpeg and webp")
	cmd.Flags().IntVar(&f.maxDimension, "max-dimension", 0, "Scale the result down so neither side exceeds this many pixels")
	cmd.Flags().BoolVar(&f.keepStickies, "keep-stickies", false, "Leave fixed and sticky elements visible")
}

func (f *captureFlags) options() (fullpage.CaptureOptions, error) {
	o := fullpage.CaptureOptions{
		Quality:      f.quality,
		MaxDimension: f.maxDimension,
		KeepStickies: f.keepStickies,
	}
	if f.quality < 0 || f.quality > 100 {
		return o, fmt.Errorf("--quality %v: want 1..100", f.quality)
	}
	if f.format != "" {
		format, err := shot.ParseFormat(f.format)
		if err != nil {
			return o, err
		}
		o.Format = format
	}
	return o, nil
}

// NewCaptureCmd creates the capture command.
func NewCaptureCmd() *cobra.Command {
	var (
		flags      captureFlags
		reportPath string
		pdfPath    string
		asJSON     bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture a full-page screenshot",
		Long: `Open <url> in a new tab, capture the whole page and write the stitched image.

Segments that still fail after every retry leave a gap; the image is
written anyway and a warning is printed.`,
		Example: `  pagesnap capture https://example.com
  pagesnap capture https://example.com -f jpeg -q 85 -o page.jpg
  pagesnap capture https://example.com --report page.md --pdf page.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			if !quiet {
				done := printProgress(svc, cmd.ErrOrStderr())
				defer done()
			}

			res, err := svc.CaptureURL(ctx, args[0], opts)
			if err != nil {
				return fmt.Errorf("capture %s: %w", args[0], err)
			}

			path, err := writeImage(cmd.OutOrStdout(), flags.out, cfg, res)
			if err != nil {
				return err
			}
			if reportPath != "" {
				if err := writeFile(reportPath, func(w io.Writer) error {
					_, err := fullpage.WriteReport(w, res)
					return err
				}); err != nil {
					return fmt.Errorf("report: %w", err)
				}
			}
			if pdfPath != "" {
				if err := writeFile(pdfPath, func(w io.Writer) error {
					return fullpage.WritePDF(w, res)
				}); err != nil {
					return fmt.Errorf("pdf: %w", err)
				}
			}

			stderr := cmd.ErrOrStderr()
			if res.HasGaps {
				fmt.Fprintln(stderr, "warning: some parts of the page could not be captured and are left blank")
			}
			if res.Scaled {
				fmt.Fprintf(stderr, "note: scaled down from %d x %d\n", res.Original.Width, res.Original.Height)
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
					*shot.Result
					File string `json:"file,omitempty"`
				}{res, path})
			}
			if path != "" {
				fmt.Fprintf(stderr, "saved %s (%d x %d, %s)\n", path, res.Width, res.Height, humanize.Bytes(uint64(len(res.Image))))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&reportPath, "report", "", "Also write a markdown capture report to this file")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Also write the image as a one-page PDF (png and jpeg only)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the capture result as JSON on stdout")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not print progress")

	return cmd
}

// NewVisibleCmd creates the visible command.
func NewVisibleCmd() *cobra.Command {
	var flags captureFlags

	cmd := &cobra.Command{
		Use:   "visible <url>",
		Short: "Capture only the first viewport of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cfg, newLogger(cmd))
			if err != nil {
				return err
			}
			defer svc.Close()

			img, format, err := svc.CaptureVisibleURL(ctx, args[0], opts)
			if err != nil {
				return fmt.Errorf("capture %s: %w", args[0], err)
			}
			res := &shot.Result{Image: img, Format: format, CapturedAt: time.Now()}
			path, err := writeImage(cmd.OutOrStdout(), flags.out, cfg, res)
			if err != nil {
				return err
			}
			if path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%s)\n", path, humanize.Bytes(uint64(len(img))))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// writeImage writes res.Image to out, to stdout when out is "-", or to a
// timestamped file under the configured output directory when out is
// empty. It returns the path written, empty for stdout.
func writeImage(stdout io.Writer, out string, cfg *fullpage.Config, res *shot.Result) (string, error) {
	if out == "-" {
		_, err := stdout.Write(res.Image)
		return "", err
	}
	if out == "" {
		out = filepath.Join(cfg.Output.Dir, shot.Filename(cfg.Output.Basename, res.Format, res.CapturedAt))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("output dir: %w", err)
	}
	if err := os.WriteFile(out, res.Image, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return out, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printProgress relays capture progress to w until the returned func is
// called.
func printProgress(svc *fullpage.Service, w io.Writer) func() {
	events, cancel := svc.Events().Subscribe(64)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for e := range events {
			if p, ok := e.Data.(shot.Progress); ok {
				fmt.Fprintf(w, "[%3d%%] %s\n", p.Percent, p.Message)
			}
		}
	}()
	return func() {
		cancel()
		<-finished
	}
}
