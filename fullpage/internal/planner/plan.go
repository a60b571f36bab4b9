// CLAUDE:SUMMARY Computes scroll offsets covering the page and drives the scroll/settle/capture loop with a second-pass recovery for failed segments.
// Package planner decides where to scroll and runs the per-segment capture
// loop.
package planner

import "github.com/hazyhaar/pagesnap/fullpage/shot"

// StepFunc chooses the distance between consecutive offsets.
type StepFunc func(g shot.Geometry) int

// DefaultStep overlaps more on long pages, where lazy content and sticky
// leftovers are more frequent: a third of the viewport above 15000px, half
// above 5000px, otherwise the viewport minus 50px.
func DefaultStep(g shot.Geometry) int {
	vh := g.ViewportHeight
	switch {
	case g.PageHeight > 15000:
		return vh / 3
	case g.PageHeight > 5000:
		return vh / 2
	}
	return vh - 50
}

// FixedOverlap steps by the viewport height minus px.
func FixedOverlap(px int) StepFunc {
	return func(g shot.Geometry) int { return g.ViewportHeight - px }
}

// Plan lists the offsets 0, step, 2*step, ... strictly below
// PageHeight-ViewportHeight, then that maximum itself. A page no taller
// than the viewport yields [0].
func Plan(g shot.Geometry, step StepFunc) shot.Plan {
	if step == nil {
		step = DefaultStep
	}
	vh := g.ViewportHeight
	maxOff := g.MaxOffset()
	if vh <= 0 || maxOff == 0 {
		return shot.Plan{Step: max(vh, 0), Offsets: []int{0}}
	}

	s := min(max(step(g), 1), vh)
	offsets := make([]int, 0, maxOff/s+2)
	for off := 0; off < maxOff; off += s {
		offsets = append(offsets, off)
	}
	offsets = append(offsets, maxOff)
	return shot.Plan{Step: s, Offsets: offsets}
}
