// Package pipeline is the single entry point for player-submitted actions:
// movement, the action phase, attack and ability execution. Every mutation
// of battle state caused by a player intent flows through here; the
// pipeline itself contains no damage formulas, delegating numbers to the
// effect resolver.
package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/movement"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// OutcomeKind classifies what an execution produced.
type OutcomeKind string

const (
	// OutcomeMoved is a validated, applied relocation.
	OutcomeMoved OutcomeKind = "moved"
	// OutcomeActionStarted acknowledges the action phase opening.
	OutcomeActionStarted OutcomeKind = "action_started"
	// OutcomeTurnEnded signals the caller must advance the scheduler.
	OutcomeTurnEnded OutcomeKind = "turn_ended"
	// OutcomeMissed is a position-targeted attack that found nothing.
	OutcomeMissed OutcomeKind = "missed"
	// OutcomeDeferred means a reaction exchange must resolve before the
	// attack applies. Outcome.Pending carries the saved attack.
	OutcomeDeferred OutcomeKind = "deferred"
	// OutcomeResolved means all effects were applied immediately.
	OutcomeResolved OutcomeKind = "resolved"
)

// Outcome is the result of one pipeline call.
type Outcome struct {
	Kind    OutcomeKind
	Events  []event.Event
	Pending *PendingAttack
	// Deaths lists units that died during this call, in death order.
	Deaths []string
	// BattleMayEnd asks the caller to run an end-condition check.
	BattleMayEnd bool
}

// PendingAttack is an attack frozen between declaration and its reaction
// exchange resolving. Ephemeral, never persisted.
type PendingAttack struct {
	AttackerUnitID string
	DefenderUnitID string
	Ability        *effect.AbilityDef
	RulesetID      string
	// Frozen is the attacker-side resolution captured at declaration.
	// Reaction modifiers scale it; changes to the attacker during the
	// exchange window do not.
	Frozen *effect.Result
}

// Pipeline validates and applies player intents against a battle.
// Stateless across calls; safe to share between sessions as long as each
// session serialises access to its own battle.
type Pipeline struct {
	abilities  *effect.Registry
	conditions *condition.Registry
	resolver   effect.Resolver
	logger     *zap.Logger
}

// New creates a Pipeline.
//
// Precondition: all arguments must be non-nil.
func New(abilities *effect.Registry, conditions *condition.Registry, resolver effect.Resolver, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		abilities:  abilities,
		conditions: conditions,
		resolver:   resolver,
		logger:     logger,
	}
}

// validateActor runs the shared precondition chain: battle active, unit
// exists, alive, not disabled, owned by the requester, and holding the
// active turn. The first violated check is returned.
func (p *Pipeline) validateActor(b *battle.Battle, playerID, unitID string) (*unit.Unit, error) {
	if b.Status != battle.StatusActive {
		return nil, ErrBattleNotActive
	}
	u, ok := b.Unit(unitID)
	if !ok {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrUnknownUnit)
	}
	if !u.Alive {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrUnitDead)
	}
	if u.Conditions.AnyBlocking() {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrUnitDisabled)
	}
	if u.PlayerID != playerID && !(u.AIControlled && playerID == "") {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrNotOwner)
	}
	if b.ActiveUnitID != unitID {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrNotYourTurn)
	}
	return u, nil
}

// Move validates and applies a relocation of the unit's anchor.
//
// Precondition: The caller holds the session's serialization point.
// Postcondition: On success the unit occupies the destination and its move
// budget is debited by the total cost.
func (p *Pipeline) Move(b *battle.Battle, playerID, unitID string, toX, toY int) (*Outcome, error) {
	u, err := p.validateActor(b, playerID, unitID)
	if err != nil {
		return nil, err
	}

	mover := movement.Mover{ID: u.ID, X: u.X, Y: u.Y, Size: u.Size, MovesLeft: u.MovesLeft}
	decision := movement.ValidateMove(mover, toX, toY, b.OccupantsFor(u), b.GridWidth, b.GridHeight)
	if !decision.Valid {
		return nil, decision.Err
	}

	fromX, fromY := u.X, u.Y
	u.X, u.Y = toX, toY
	u.MovesLeft -= decision.TotalCost

	b.AppendLog(fmt.Sprintf("%s moved from (%d,%d) to (%d,%d)", u.Name, fromX, fromY, toX, toY))
	p.logger.Debug("unit moved",
		zap.String("battle_id", b.ID),
		zap.String("unit_id", u.ID),
		zap.Int("total_cost", decision.TotalCost),
	)

	cells := append(board.CellsFor(fromX, fromY, u.Size), board.CellsFor(toX, toY, u.Size)...)
	return &Outcome{
		Kind: OutcomeMoved,
		Events: []event.Event{event.NewPositional(event.TypeUnitMoved, map[string]any{
			"unit_id":         u.ID,
			"from_x":          fromX,
			"from_y":          fromY,
			"to_x":            toX,
			"to_y":            toY,
			"base_cost":       decision.BaseCost,
			"engagement_cost": decision.EngagementCost,
			"moves_left":      u.MovesLeft,
		}, cells, playerID)},
	}, nil
}

// BeginAction opens the unit's action phase. It validates the actor and
// that an action budget remains but consumes nothing; budgets are debited
// by ExecuteAction.
func (p *Pipeline) BeginAction(b *battle.Battle, playerID, unitID string) (*Outcome, error) {
	u, err := p.validateActor(b, playerID, unitID)
	if err != nil {
		return nil, err
	}
	if u.ActionsLeft <= 0 && u.AttacksLeft <= 0 {
		return nil, fmt.Errorf("unit %q: %w", unitID, ErrNoActionsLeft)
	}
	return &Outcome{
		Kind: OutcomeActionStarted,
		Events: []event.Event{event.NewPositional(event.TypeActionStarted, map[string]any{
			"unit_id": u.ID,
		}, board.CellsFor(u.X, u.Y, u.Size), playerID)},
	}, nil
}

// EndAction ends the unit's turn. The caller is expected to run the
// scheduler's advance immediately after a TurnEnded outcome.
func (p *Pipeline) EndAction(b *battle.Battle, playerID, unitID string) (*Outcome, error) {
	if _, err := p.validateActor(b, playerID, unitID); err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeTurnEnded}, nil
}
