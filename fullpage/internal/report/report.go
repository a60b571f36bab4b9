// CLAUDE:SUMMARY Markdown capture report: properties table, gap alert, segment status pie chart and tables for segments and hidden sticky elements.
// Package report renders a capture as a markdown document.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Write renders r as markdown to w and returns the number of bytes written.
// The plan and sticky sections come from r.Plan and r.Stickies and may be
// empty, as for results read back from the store.
func Write(w io.Writer, r *shot.Result) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("report: nil result")
	}
	md := markdown.NewMarkdown(w)

	writeHeader(md, r, r.Plan)
	writeSegments(md, r.Segments)
	writeStickies(md, r.Stickies)

	md.HorizontalRule()
	md.PlainTextf("Generated by pagesnap for %s", markdown.Code(r.ID))

	return len(md.String()), md.Build()
}

func writeHeader(md *markdown.Markdown, r *shot.Result, plan shot.Plan) {
	md.H1("Capture Report")
	md.PlainText("")

	rows := [][]string{
		{"URL", r.URL},
		{"Tab", markdown.Code(r.TabID)},
		{"Captured", r.CapturedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Dimensions", fmt.Sprintf("%d x %d", r.Width, r.Height)},
		{"Size", humanize.Bytes(uint64(len(r.Image)))},
		{"Format", formatText(r)},
	}
	if r.Scaled {
		rows = append(rows, []string{"Original", fmt.Sprintf("%d x %d (scaled)", r.Original.Width, r.Original.Height)})
	}
	if plan.Step > 0 {
		rows = append(rows, []string{"Scroll step", strconv.Itoa(plan.Step) + "px"})
	}
	if r.Elapsed > 0 {
		rows = append(rows, []string{"Duration", r.Elapsed.Round(time.Millisecond).String()})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	if r.HasGaps {
		md.Warning("Some segments could not be captured normally. The image may contain gaps or repeated bands.")
	} else {
		md.Tip("Every segment was captured on the first pass.")
	}
	md.PlainText("")
}

func formatText(r *shot.Result) string {
	if r.Format.Lossy() && r.Quality > 0 {
		return fmt.Sprintf("%s (quality %d)", r.Format.Ext(), r.Quality)
	}
	return r.Format.Ext()
}

func writeSegments(md *markdown.Markdown, segs []shot.SegmentSummary) {
	if len(segs) == 0 {
		return
	}
	md.H2("Segments")
	md.PlainText("")

	counts := map[shot.SegmentStatus]uint64{}
	rows := make([][]string, 0, len(segs))
	for _, s := range segs {
		counts[s.Status]++
		rows = append(rows, []string{
			strconv.Itoa(s.Index + 1),
			strconv.Itoa(s.ScrollOffset),
			strconv.Itoa(s.CaptureOffset),
			statusText(s.Status),
			strconv.Itoa(s.Attempts),
			escape(s.Err),
		})
	}

	// A single-status chart carries no information.
	if len(counts) > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Segment Outcomes"),
			piechart.WithShowData(true),
		)
		for _, st := range []shot.SegmentStatus{shot.StatusOK, shot.StatusRecovered, shot.StatusFailed} {
			if counts[st] > 0 {
				chart.LabelAndIntValue(string(st), counts[st])
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	md.Table(markdown.TableSet{
		Header: []string{"#", "Planned offset", "Captured at", "Status", "Attempts", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

func statusText(s shot.SegmentStatus) string {
	switch s {
	case shot.StatusOK:
		return "✅ ok"
	case shot.StatusRecovered:
		return "⚠️ recovered"
	case shot.StatusFailed:
		return "❌ failed"
	}
	return string(s)
}

func writeStickies(md *markdown.Markdown, stickies []shot.StickyRecord) {
	md.H2("Hidden Elements")
	md.PlainText("")
	if len(stickies) == 0 {
		md.PlainText("No fixed or sticky elements were hidden.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(stickies))
	for _, s := range stickies {
		unique := "yes"
		if !s.Unique {
			unique = "no"
		}
		rows = append(rows, []string{
			markdown.Code(s.Selector),
			s.Position,
			string(s.Heuristic),
			fmt.Sprintf("%.0fx%.0f at %.0f,%.0f", s.Box.Width, s.Box.Height, s.Box.X, s.Box.Y),
			unique,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Selector", "Position", "Rule", "Box", "Unique"},
		Rows:   rows,
	})
	md.PlainText("")
}

// escape keeps table cells on one line.
func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
