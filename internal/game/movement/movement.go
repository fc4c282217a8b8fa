// Package movement validates unit movement requests. The validator never
// mutates state; callers apply the decision.
package movement

import (
	"errors"

	"github.com/cormorant-games/skirmish/internal/game/board"
)

// EngagementPenalty is the extra movement cost charged when a unit's path
// originates adjacent to a living enemy or crosses an adjacent cell on the
// way. The surcharge discourages disengaging for free. Charged once per
// move regardless of how many enemies the path skirts.
const EngagementPenalty = 2

// Rejection reasons returned in Decision.Err.
var (
	ErrOutOfBounds         = errors.New("destination out of bounds")
	ErrDestinationOccupied = errors.New("destination occupied")
	ErrInsufficientMoves   = errors.New("insufficient movement remaining")
	ErrNoDisplacement      = errors.New("destination equals current position")
)

// Mover is the movement-relevant subset of a unit.
type Mover struct {
	ID        string
	X         int
	Y         int
	Size      int
	MovesLeft int
}

// Occupant is one footprint that blocks the destination: a living unit or a
// non-destroyed obstacle. Callers must exclude the mover itself, dead units,
// and destroyed obstacles.
type Occupant struct {
	ID   string
	X    int
	Y    int
	Size int
	// Enemy marks occupants hostile to the mover; only enemies contribute
	// engagement cost.
	Enemy bool
	// Alive distinguishes units from obstacles for engagement purposes;
	// obstacles never engage.
	Unit bool
}

// Decision is the validator's verdict. When Valid is false, Err names the
// rejection and the costs are zero.
type Decision struct {
	Valid          bool
	Err            error
	BaseCost       int
	EngagementCost int
	TotalCost      int
}

// ValidateMove checks whether the mover may relocate its anchor to
// (toX, toY) on a width x height grid. The base cost is the Manhattan
// distance between anchors; the engagement surcharge is added when the
// mover originates adjacent to a living enemy unit or its path crosses
// such adjacency. The path is the x-then-y lane between the anchors; the
// destination cell itself never contributes, so arriving next to an enemy
// is free.
//
// Validation is a pure read: calling it twice with unchanged state yields
// the same Decision.
//
// Postcondition: Decision.Valid implies TotalCost <= mover.MovesLeft and
// TotalCost == BaseCost + EngagementCost.
func ValidateMove(m Mover, toX, toY int, occupants []Occupant, width, height int) Decision {
	if toX == m.X && toY == m.Y {
		return Decision{Err: ErrNoDisplacement}
	}
	if !board.InBounds(toX, toY, m.Size, width, height) {
		return Decision{Err: ErrOutOfBounds}
	}
	for _, o := range occupants {
		if o.ID == m.ID {
			continue
		}
		if board.Overlaps(toX, toY, m.Size, o.X, o.Y, o.Size) {
			return Decision{Err: ErrDestinationOccupied}
		}
	}

	base := board.Manhattan(board.Cell{X: m.X, Y: m.Y}, board.Cell{X: toX, Y: toY})
	engagement := 0
	if engagedAlongPath(m, toX, toY, occupants) {
		engagement = EngagementPenalty
	}
	total := base + engagement

	if total > m.MovesLeft {
		return Decision{Err: ErrInsufficientMoves}
	}
	return Decision{
		Valid:          true,
		BaseCost:       base,
		EngagementCost: engagement,
		TotalCost:      total,
	}
}

// engagedAlongPath reports whether the mover's footprint is adjacent to a
// living enemy unit at the origin or at any intermediate anchor of the
// x-then-y lane toward (toX, toY). The destination anchor is excluded.
func engagedAlongPath(m Mover, toX, toY int, occupants []Occupant) bool {
	for _, c := range pathAnchors(m.X, m.Y, toX, toY) {
		for _, o := range occupants {
			if !o.Unit || !o.Enemy || o.ID == m.ID {
				continue
			}
			if board.Adjacent(c.X, c.Y, m.Size, o.X, o.Y, o.Size) {
				return true
			}
		}
	}
	return false
}

// pathAnchors returns the anchor cells of the x-then-y lane from
// (fromX, fromY) up to but excluding (toX, toY).
func pathAnchors(fromX, fromY, toX, toY int) []board.Cell {
	cells := make([]board.Cell, 0, abs(toX-fromX)+abs(toY-fromY))
	x, y := fromX, fromY
	for x != toX {
		cells = append(cells, board.Cell{X: x, Y: y})
		if toX > x {
			x++
		} else {
			x--
		}
	}
	for y != toY {
		cells = append(cells, board.Cell{X: x, Y: y})
		if toY > y {
			y++
		} else {
			y--
		}
	}
	return cells
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
