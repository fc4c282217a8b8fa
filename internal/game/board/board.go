// Package board provides grid geometry, footprints, and obstacle state for
// battle maps. All functions are pure reads unless documented otherwise.
package board

// Cell is a single grid position.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns the Manhattan distance between a and b.
//
// Postcondition: Returns >= 0.
func Manhattan(a, b Cell) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// CellsFor returns every cell covered by a footprint of the given size
// anchored at (x, y). Size is the side length; a size-2 footprint covers
// 4 cells.
//
// Precondition: size >= 1.
// Postcondition: Returns size*size cells.
func CellsFor(x, y, size int) []Cell {
	cells := make([]Cell, 0, size*size)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			cells = append(cells, Cell{X: x + dx, Y: y + dy})
		}
	}
	return cells
}

// Occupies reports whether a footprint anchored at (x, y) with the given
// size covers cell c.
func Occupies(x, y, size int, c Cell) bool {
	return c.X >= x && c.X < x+size && c.Y >= y && c.Y < y+size
}

// Overlaps reports whether two footprints share at least one cell.
func Overlaps(ax, ay, asize, bx, by, bsize int) bool {
	return ax < bx+bsize && bx < ax+asize && ay < by+bsize && by < ay+asize
}

// Adjacent reports whether two footprints touch orthogonally or diagonally
// without overlapping. A unit standing inside another's footprint is not
// "adjacent" to it.
func Adjacent(ax, ay, asize, bx, by, bsize int) bool {
	if Overlaps(ax, ay, asize, bx, by, bsize) {
		return false
	}
	return ax <= bx+bsize && bx <= ax+asize && ay <= by+bsize && by <= ay+asize
}

// FootprintDistance returns the minimum Manhattan distance between any cell
// of footprint A and any cell of footprint B. Overlapping footprints have
// distance 0.
//
// Postcondition: Returns >= 0.
func FootprintDistance(ax, ay, asize, bx, by, bsize int) int {
	dx := axisGap(ax, asize, bx, bsize)
	dy := axisGap(ay, asize, by, bsize)
	return dx + dy
}

// axisGap returns the gap between two intervals [a, a+asize) and [b, b+bsize)
// on one axis, or 0 when they overlap.
func axisGap(a, asize, b, bsize int) int {
	if a+asize <= b {
		return b - (a + asize - 1) - 1
	}
	if b+bsize <= a {
		return a - (b + bsize - 1) - 1
	}
	return 0
}

// InBounds reports whether a footprint anchored at (x, y) with the given
// size fits entirely inside a width x height grid.
func InBounds(x, y, size, width, height int) bool {
	return x >= 0 && y >= 0 && x+size <= width && y+size <= height
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
