package battle

import (
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/movement"
	"github.com/cormorant-games/skirmish/internal/game/unit"
	"github.com/cormorant-games/skirmish/internal/game/vision"
)

// UnitAt returns the living unit whose footprint covers c, or nil.
// The server, not the client, resolves position-based targets.
func (b *Battle) UnitAt(c board.Cell) *unit.Unit {
	for _, u := range b.Units {
		if u.Alive && u.OccupiesCell(c) {
			return u
		}
	}
	return nil
}

// ObstacleAt returns the non-destroyed obstacle whose footprint covers c,
// or nil.
func (b *Battle) ObstacleAt(c board.Cell) *board.Obstacle {
	for _, o := range b.Obstacles {
		if o.Blocks() && o.OccupiesCell(c) {
			return o
		}
	}
	return nil
}

// LivingUnits returns all units with Alive == true.
func (b *Battle) LivingUnits() []*unit.Unit {
	var out []*unit.Unit
	for _, u := range b.Units {
		if u.Alive {
			out = append(out, u)
		}
	}
	return out
}

// LivingEnemiesOf returns all living units owned by a different player.
func (b *Battle) LivingEnemiesOf(playerID string) []*unit.Unit {
	var out []*unit.Unit
	for _, u := range b.Units {
		if u.Alive && u.PlayerID != playerID {
			out = append(out, u)
		}
	}
	return out
}

// PlayersWithLivingUnits returns the players who have not surrendered and
// still control at least one living unit. The end-condition monitor treats
// the battle as decided when at most one remains.
func (b *Battle) PlayersWithLivingUnits() []*Player {
	var out []*Player
	for _, p := range b.Players {
		if p.Surrendered {
			continue
		}
		for _, u := range b.Units {
			if u.Alive && u.PlayerID == p.ID {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Blockers returns the vision blockers in the current state: living units
// and non-destroyed obstacles. excludeUnitIDs removes the named units,
// typically the viewer and the viewed target.
func (b *Battle) Blockers(excludeUnitIDs ...string) []vision.Blocker {
	excluded := make(map[string]bool, len(excludeUnitIDs))
	for _, id := range excludeUnitIDs {
		excluded[id] = true
	}
	var out []vision.Blocker
	for _, u := range b.Units {
		if !u.Alive || excluded[u.ID] {
			continue
		}
		out = append(out, vision.Blocker{X: u.X, Y: u.Y, Size: u.Size})
	}
	for _, o := range b.Obstacles {
		if o.Blocks() {
			out = append(out, vision.Blocker{X: o.X, Y: o.Y, Size: o.Size})
		}
	}
	return out
}

// OccupantsFor returns the movement occupants relevant to the given mover:
// all living units except the mover, flagged hostile by owner, plus all
// non-destroyed obstacles.
func (b *Battle) OccupantsFor(mover *unit.Unit) []movement.Occupant {
	var out []movement.Occupant
	for _, u := range b.Units {
		if !u.Alive || u.ID == mover.ID {
			continue
		}
		out = append(out, movement.Occupant{
			ID:    u.ID,
			X:     u.X,
			Y:     u.Y,
			Size:  u.Size,
			Enemy: u.PlayerID != mover.PlayerID,
			Unit:  true,
		})
	}
	for _, o := range b.Obstacles {
		if !o.Blocks() {
			continue
		}
		out = append(out, movement.Occupant{
			ID:   o.ID,
			X:    o.X,
			Y:    o.Y,
			Size: o.Size,
		})
	}
	return out
}

// ObserversOf returns the IDs of players with vision of at least one of the
// given cells, plus every player in alwaysInclude. Used to restrict event
// fan-out.
func (b *Battle) ObserversOf(cells []board.Cell, alwaysInclude ...string) []string {
	included := make(map[string]bool, len(b.Players))
	for _, id := range alwaysInclude {
		included[id] = true
	}
	for _, p := range b.Players {
		if included[p.ID] {
			continue
		}
		for _, u := range b.Units {
			if !u.Alive || u.PlayerID != p.ID {
				continue
			}
			viewer := vision.Viewer{X: u.X, Y: u.Y, Size: u.Size, VisionRange: u.VisionRange}
			if vision.CanSeeAny(viewer, cells, b.Blockers(u.ID)) {
				included[p.ID] = true
				break
			}
		}
	}
	out := make([]string, 0, len(included))
	for _, p := range b.Players {
		if included[p.ID] {
			out = append(out, p.ID)
		}
	}
	return out
}
