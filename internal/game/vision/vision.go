// Package vision computes line-of-sight and per-player visibility over the
// battle grid. All functions are pure reads of the provided state.
package vision

import (
	"math"

	"github.com/cormorant-games/skirmish/internal/game/board"
)

// Blocker is one opaque footprint on the grid. Callers build blockers from
// living units and non-destroyed obstacles; dead units and destroyed
// obstacles must be omitted.
type Blocker struct {
	X    int
	Y    int
	Size int
}

// covers reports whether the blocker's footprint covers cell (x, y).
func (b Blocker) covers(x, y int) bool {
	return board.Occupies(b.X, b.Y, b.Size, board.Cell{X: x, Y: y})
}

// HasLineOfSight reports whether the ray from the center of (fromX, fromY)
// to the center of (toX, toY) crosses any blocker cell. The endpoints
// themselves never obstruct.
func HasLineOfSight(fromX, fromY, toX, toY int, blockers []Blocker) bool {
	if fromX == toX && fromY == toY {
		return true
	}

	sx, sy := float64(fromX)+0.5, float64(fromY)+0.5
	tx, ty := float64(toX)+0.5, float64(toY)+0.5
	dx, dy := tx-sx, ty-sy
	adx, ady := math.Abs(dx), math.Abs(dy)

	stepX, stepY := 0, 0
	if dx > 0 {
		stepX = 1
	} else if dx < 0 {
		stepX = -1
	}
	if dy > 0 {
		stepY = 1
	} else if dy < 0 {
		stepY = -1
	}

	tMaxX, tMaxY := math.Inf(1), math.Inf(1)
	tDeltaX, tDeltaY := math.Inf(1), math.Inf(1)
	if adx > 0 {
		tDeltaX = 1.0 / adx
		tMaxX = 0.5 / adx
	}
	if ady > 0 {
		tDeltaY = 1.0 / ady
		tMaxY = 0.5 / ady
	}

	x, y := fromX, fromY
	// The grid walk terminates in at most width+height steps; 4096 guards
	// against degenerate float behavior.
	for range 4096 {
		if x == toX && y == toY {
			return true
		}
		if tMaxX < tMaxY {
			x += stepX
			tMaxX += tDeltaX
		} else if tMaxY < tMaxX {
			y += stepY
			tMaxY += tDeltaY
		} else {
			// Exact corner crossing: advance both axes.
			x += stepX
			y += stepY
			tMaxX += tDeltaX
			tMaxY += tDeltaY
		}
		if x == toX && y == toY {
			return true
		}
		for _, b := range blockers {
			if b.covers(x, y) {
				return false
			}
		}
	}
	return false
}

// Viewer is the sight-relevant subset of a unit: its footprint anchor,
// size, and vision range.
type Viewer struct {
	X           int
	Y           int
	Size        int
	VisionRange int
}

// VisibleCells returns every cell within Manhattan VisionRange of any cell
// of the viewer's footprint that also has line of sight from that footprint
// cell. Cells outside the width x height grid are excluded.
//
// Postcondition: Every returned cell is in bounds and within range.
func VisibleCells(v Viewer, blockers []Blocker, width, height int) map[board.Cell]bool {
	visible := make(map[board.Cell]bool)
	for _, eye := range board.CellsFor(v.X, v.Y, v.Size) {
		minX := max(0, eye.X-v.VisionRange)
		maxX := min(width-1, eye.X+v.VisionRange)
		for x := minX; x <= maxX; x++ {
			spread := v.VisionRange - abs(x-eye.X)
			minY := max(0, eye.Y-spread)
			maxY := min(height-1, eye.Y+spread)
			for y := minY; y <= maxY; y++ {
				c := board.Cell{X: x, Y: y}
				if visible[c] {
					continue
				}
				if HasLineOfSight(eye.X, eye.Y, x, y, blockers) {
					visible[c] = true
				}
			}
		}
	}
	return visible
}

// CanSeeAny reports whether the viewer has vision of at least one of the
// given cells.
func CanSeeAny(v Viewer, cells []board.Cell, blockers []Blocker) bool {
	for _, eye := range board.CellsFor(v.X, v.Y, v.Size) {
		for _, c := range cells {
			if board.Manhattan(eye, c) > v.VisionRange {
				continue
			}
			if HasLineOfSight(eye.X, eye.Y, c.X, c.Y, blockers) {
				return true
			}
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
