// Package ai drives computer-controlled units. The controller makes one
// decision pass per turn: close on the nearest enemy, attack if adjacent,
// and always hand the turn back.
package ai

import (
	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// Result accumulates everything the decision pass produced. The caller
// must advance the scheduler afterwards; the controller never leaves a
// turn open.
type Result struct {
	Events       []event.Event
	Deaths       []string
	BattleMayEnd bool
}

// Controller plans and executes one AI turn through the same pipeline
// human actions use.
type Controller struct {
	pipe   *pipeline.Pipeline
	logger *zap.Logger
}

// NewController creates a Controller.
//
// Precondition: pipe and logger must be non-nil.
func NewController(pipe *pipeline.Pipeline, logger *zap.Logger) *Controller {
	return &Controller{pipe: pipe, logger: logger}
}

// Act runs the unit's single decision pass: find the nearest living enemy
// by footprint distance; if none, do nothing. Otherwise take one greedy
// step toward it when not adjacent, then basic-attack when adjacent with
// an attack remaining. Reaction exchanges are bypassed with neutral
// modifiers.
//
// Precondition: The caller holds the session's serialization point and
// must advance the scheduler after Act returns.
func (c *Controller) Act(b *battle.Battle, unitID string) *Result {
	res := &Result{}
	u, ok := b.Unit(unitID)
	if !ok || !u.CanAct() {
		return res
	}

	target := c.nearestEnemy(b, u)
	if target == nil {
		return res
	}

	if !board.Adjacent(u.X, u.Y, u.Size, target.X, target.Y, target.Size) && u.MovesLeft > 0 {
		c.stepToward(b, u, target, res)
	}

	if board.Adjacent(u.X, u.Y, u.Size, target.X, target.Y, target.Size) && u.AttacksLeft > 0 {
		c.attack(b, u, target, res)
	}
	return res
}

func (c *Controller) nearestEnemy(b *battle.Battle, u *unit.Unit) *unit.Unit {
	var nearest *unit.Unit
	best := 0
	for _, enemy := range b.LivingEnemiesOf(u.PlayerID) {
		d := board.FootprintDistance(u.X, u.Y, u.Size, enemy.X, enemy.Y, enemy.Size)
		if nearest == nil || d < best {
			nearest = enemy
			best = d
		}
	}
	return nearest
}

// stepToward attempts a one-cell move that shrinks the distance to the
// target, preferring the axis with the larger gap. An invalid step (an
// occupied cell, usually) falls through to the other axis; if both fail
// the unit holds position.
func (c *Controller) stepToward(b *battle.Battle, u *unit.Unit, target *unit.Unit, res *Result) {
	dx := sign(target.X - u.X)
	dy := sign(target.Y - u.Y)

	steps := [][2]int{{dx, 0}, {0, dy}}
	if abs(target.Y-u.Y) > abs(target.X-u.X) {
		steps = [][2]int{{0, dy}, {dx, 0}}
	}

	for _, step := range steps {
		if step[0] == 0 && step[1] == 0 {
			continue
		}
		out, err := c.pipe.Move(b, u.PlayerID, u.ID, u.X+step[0], u.Y+step[1])
		if err == nil {
			res.Events = append(res.Events, out.Events...)
			return
		}
	}
}

func (c *Controller) attack(b *battle.Battle, u *unit.Unit, target *unit.Unit, res *Result) {
	cell, ok := c.reachableCell(u, target)
	if !ok {
		return
	}

	out, err := c.pipe.ExecuteAction(b, &pipeline.ActionRequest{
		PlayerID:  u.PlayerID,
		UnitID:    u.ID,
		TargetX:   cell.X,
		TargetY:   cell.Y,
		HasTarget: true,
		Neutral:   true,
	})
	if err != nil {
		c.logger.Warn("computer attack rejected",
			zap.String("battle_id", b.ID),
			zap.String("unit_id", u.ID),
			zap.Error(err),
		)
		return
	}
	res.Events = append(res.Events, out.Events...)
	res.Deaths = append(res.Deaths, out.Deaths...)
	if out.BattleMayEnd {
		res.BattleMayEnd = true
	}
}

// reachableCell picks a cell of the target's footprint within basic
// attack range of the attacker.
func (c *Controller) reachableCell(u, target *unit.Unit) (board.Cell, bool) {
	for _, cell := range board.CellsFor(target.X, target.Y, target.Size) {
		if board.FootprintDistance(u.X, u.Y, u.Size, cell.X, cell.Y, 1) <= 1 {
			return cell, true
		}
	}
	return board.Cell{}, false
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
