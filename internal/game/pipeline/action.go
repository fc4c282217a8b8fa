package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/qte"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// perfectDodgeConditionID is applied to a defender whose dodge arrived
// early enough. Skipped silently when the ruleset does not define it.
const perfectDodgeConditionID = "perfect_dodge"

// ActionRequest is one execute_action intent.
type ActionRequest struct {
	PlayerID    string
	UnitID      string
	AbilityCode string
	TargetX     int
	TargetY     int
	HasTarget   bool
	RulesetID   string

	// Neutral bypasses the reaction exchange, applying ×1.0 modifiers.
	// Used by the AI controller and by restores without a controller.
	Neutral bool
}

// ExecuteAction validates an attack or ability use, resolves its target by
// position, and either applies it, reports a miss, or defers it behind a
// reaction exchange.
//
// Precondition: The caller holds the session's serialization point.
// Postcondition: Resources (budget, mana, cooldown) are consumed on every
// non-error outcome, including misses.
func (p *Pipeline) ExecuteAction(b *battle.Battle, req *ActionRequest) (*Outcome, error) {
	u, err := p.validateActor(b, req.PlayerID, req.UnitID)
	if err != nil {
		return nil, err
	}

	def, err := p.lookupAbility(u, req.AbilityCode)
	if err != nil {
		return nil, err
	}

	if u.CurrentMana < def.ManaCost {
		return nil, fmt.Errorf("ability %q: %w", def.Code, ErrInsufficientMana)
	}
	if u.CooldownRemaining(def.Code) > 0 {
		return nil, fmt.Errorf("ability %q: %w", def.Code, ErrAbilityOnCooldown)
	}
	basicAttack := def.Code == effect.BasicAttackCode
	if basicAttack {
		if u.AttacksLeft <= 0 {
			return nil, fmt.Errorf("ability %q: %w", def.Code, ErrNoAttacksLeft)
		}
	} else if u.ActionsLeft <= 0 {
		return nil, fmt.Errorf("ability %q: %w", def.Code, ErrNoActionsLeft)
	}

	targetX, targetY := req.TargetX, req.TargetY
	if def.Target == effect.TargetSelf {
		targetX, targetY = u.X, u.Y
	} else if !req.HasTarget {
		return nil, fmt.Errorf("ability %q: %w", def.Code, ErrMissingTarget)
	}
	if def.Range > 0 && board.FootprintDistance(u.X, u.Y, u.Size, targetX, targetY, 1) > def.Range {
		return nil, fmt.Errorf("ability %q: %w", def.Code, ErrOutOfRange)
	}

	// All preconditions passed: the action happens. Resources are spent
	// regardless of whether anything is hit.
	p.spendResources(u, def, basicAttack)

	out := &Outcome{}
	p.consumeOnAction(u, out)

	cell := board.Cell{X: targetX, Y: targetY}
	targetUnit := b.UnitAt(cell)
	if targetUnit != nil && def.Target == effect.TargetSelf {
		targetUnit = u
	}

	if targetUnit == nil {
		if ob := b.ObstacleAt(cell); ob != nil {
			return p.resolveObstacleAttack(b, u, def, req, ob, out)
		}
		out.Kind = OutcomeMissed
		b.AppendLog(fmt.Sprintf("%s attacked (%d,%d) and missed", u.Name, targetX, targetY))
		out.Events = append(out.Events, event.NewPositional(event.TypeAttackMissed, map[string]any{
			"unit_id":      u.ID,
			"ability_code": def.Code,
			"target_x":     targetX,
			"target_y":     targetY,
		}, []board.Cell{cell, u.Pos()}, req.PlayerID))
		return out, nil
	}

	if def.RequiresQTE && !req.Neutral && targetUnit.PlayerID != u.PlayerID && !targetUnit.AIControlled {
		out.Kind = OutcomeDeferred
		out.Pending = &PendingAttack{
			AttackerUnitID: u.ID,
			DefenderUnitID: targetUnit.ID,
			Ability:        def,
			RulesetID:      req.RulesetID,
			Frozen:         p.freezeAttack(b, u, targetUnit, def, req.RulesetID),
		}
		out.Events = append(out.Events, event.NewDirect(event.TypeReactionPrompt, map[string]any{
			"attacker_unit_id": u.ID,
			"defender_unit_id": targetUnit.ID,
			"ability_code":     def.Code,
			"magic":            def.Magic,
		}, targetUnit.PlayerID))
		return out, nil
	}

	p.applyAttack(b, u, targetUnit, def, req.RulesetID, qte.Neutral(), out)
	out.Kind = OutcomeResolved
	return out, nil
}

// ApplyDeferred completes an attack whose reaction exchange has resolved.
// Safe to call with a neutral outcome when no exchange controller exists.
//
// Precondition: The caller holds the session's serialization point.
func (p *Pipeline) ApplyDeferred(b *battle.Battle, pending *PendingAttack, reaction qte.Outcome) *Outcome {
	out := &Outcome{Kind: OutcomeResolved}
	attacker, ok := b.Unit(pending.AttackerUnitID)
	if !ok {
		return out
	}
	defender, ok := b.Unit(pending.DefenderUnitID)
	if !ok || !defender.Alive {
		// The defender died while the exchange was pending; the attack
		// strikes nothing.
		out.Events = append(out.Events, event.NewPositional(event.TypeAttackMissed, map[string]any{
			"unit_id":      attacker.ID,
			"ability_code": pending.Ability.Code,
		}, []board.Cell{attacker.Pos()}, attacker.PlayerID))
		return out
	}

	if reaction.Dodged {
		p.applyDodge(b, attacker, defender, pending.Ability, reaction, out)
		return out
	}

	if pending.Frozen != nil {
		// The attacker's roll was captured at declaration; only the
		// reaction and the defender's current conditions scale it now.
		res := *pending.Frozen
		defenderMod := reaction.DefenderMod * condition.DefenseModifier(defender.Conditions)
		res.Damage = effect.ScaleDamage(pending.Frozen.Damage, reaction.AttackerMod, defenderMod)
		p.applyResolved(b, attacker, defender, pending.Ability, &res, out)
		return out
	}

	p.applyAttack(b, attacker, defender, pending.Ability, pending.RulesetID, reaction, out)
	return out
}

// freezeAttack resolves the attacker's side of an exchange at declaration
// time. Returns nil when resolution fails; ApplyDeferred then resolves
// live as a fallback.
func (p *Pipeline) freezeAttack(b *battle.Battle, attacker, defender *unit.Unit, def *effect.AbilityDef, rulesetID string) *effect.Result {
	res, err := p.resolver.Resolve(&effect.Request{
		RulesetID:   rulesetID,
		Ability:     def,
		Attacker:    attacker,
		Target:      defender,
		TargetX:     defender.X,
		TargetY:     defender.Y,
		AttackerMod: condition.AttackModifier(attacker.Conditions),
		DefenderMod: 1.0,
	})
	if err != nil {
		p.logger.Warn("declaration resolution failed",
			zap.String("battle_id", b.ID),
			zap.String("ability_code", def.Code),
			zap.Error(err),
		)
		return nil
	}
	return res
}

func (p *Pipeline) lookupAbility(u *unit.Unit, code string) (*effect.AbilityDef, error) {
	if code == "" || code == effect.BasicAttackCode {
		return effect.BasicAttack(), nil
	}
	if !u.Knows(code) {
		return nil, fmt.Errorf("ability %q: %w", code, ErrUnknownAbility)
	}
	def, err := p.abilities.Get(code)
	if err != nil {
		return nil, fmt.Errorf("ability %q: %w", code, ErrUnknownAbility)
	}
	return def, nil
}

func (p *Pipeline) spendResources(u *unit.Unit, def *effect.AbilityDef, basicAttack bool) {
	if basicAttack {
		u.AttacksLeft--
	} else {
		u.ActionsLeft--
	}
	u.SpendMana(def.ManaCost)
	if def.Cooldown > 0 {
		u.StartCooldown(def.Code, def.Cooldown)
	}
}

// consumeOnAction expires the actor's on_action conditions and records an
// event when any expire.
func (p *Pipeline) consumeOnAction(u *unit.Unit, out *Outcome) {
	expired := u.Conditions.ConsumeOnAction()
	if len(expired) == 0 {
		return
	}
	out.Events = append(out.Events, event.NewPositional(event.TypeConditionsExpired, map[string]any{
		"unit_id":       u.ID,
		"condition_ids": expired,
	}, board.CellsFor(u.X, u.Y, u.Size), u.PlayerID))
}

func (p *Pipeline) resolveObstacleAttack(b *battle.Battle, u *unit.Unit, def *effect.AbilityDef, req *ActionRequest, ob *board.Obstacle, out *Outcome) (*Outcome, error) {
	res, err := p.resolver.Resolve(&effect.Request{
		RulesetID:   req.RulesetID,
		Ability:     def,
		Attacker:    u,
		Obstacle:    ob,
		TargetX:     req.TargetX,
		TargetY:     req.TargetY,
		AttackerMod: 1.0,
		DefenderMod: 1.0,
	})
	if err != nil {
		return nil, err
	}

	ob.ApplyDamage(res.Damage)
	b.AppendLog(fmt.Sprintf("%s hit obstacle %s for %d", u.Name, ob.ID, res.Damage))
	out.Kind = OutcomeResolved
	out.Events = append(out.Events, event.NewPositional(event.TypeObstacleAttacked, map[string]any{
		"unit_id":     u.ID,
		"obstacle_id": ob.ID,
		"damage":      res.Damage,
		"hp_after":    ob.CurrentHP,
		"destroyed":   ob.Destroyed,
	}, append(board.CellsFor(ob.X, ob.Y, ob.Size), u.Pos()), req.PlayerID))
	return out, nil
}

// applyAttack resolves the effect live, folding the exchange and both
// units' condition modifiers into the resolution request.
func (p *Pipeline) applyAttack(b *battle.Battle, attacker, defender *unit.Unit, def *effect.AbilityDef, rulesetID string, reaction qte.Outcome, out *Outcome) {
	attackerMod := reaction.AttackerMod * condition.AttackModifier(attacker.Conditions)
	defenderMod := reaction.DefenderMod * condition.DefenseModifier(defender.Conditions)

	res, err := p.resolver.Resolve(&effect.Request{
		RulesetID:   rulesetID,
		Ability:     def,
		Attacker:    attacker,
		Target:      defender,
		TargetX:     defender.X,
		TargetY:     defender.Y,
		AttackerMod: attackerMod,
		DefenderMod: defenderMod,
	})
	if err != nil {
		p.logger.Warn("effect resolution failed",
			zap.String("battle_id", b.ID),
			zap.String("ability_code", def.Code),
			zap.Error(err),
		)
		return
	}

	p.applyResolved(b, attacker, defender, def, res, out)
}

// applyResolved synchronizes both sides from a resolved result: damage
// through protection pools, healing, inflicted conditions, and death
// processing.
func (p *Pipeline) applyResolved(b *battle.Battle, attacker, defender *unit.Unit, def *effect.AbilityDef, res *effect.Result, out *Outcome) {
	hpLost := p.applyDamageWithTransfer(b, defender, res.Damage, res.DamageType, out)
	if res.Healing > 0 {
		defender.Heal(res.Healing)
	}
	for _, applied := range res.Conditions {
		p.applyCondition(defender, applied, out)
	}

	eventType := event.TypeUnitAttacked
	if def.Code != effect.BasicAttackCode {
		eventType = event.TypeSkillUsed
	}
	b.AppendLog(fmt.Sprintf("%s hit %s for %d", attacker.Name, defender.Name, hpLost))
	out.Events = append(out.Events, event.NewPositional(eventType, map[string]any{
		"attacker_unit_id": attacker.ID,
		"defender_unit_id": defender.ID,
		"ability_code":     def.Code,
		"damage":           res.Damage,
		"hp_lost":          hpLost,
		"hp_after":         defender.CurrentHP,
		"damage_type":      res.DamageType,
	}, []board.Cell{attacker.Pos(), defender.Pos()}, attacker.PlayerID, defender.PlayerID))
}

// applyDamageWithTransfer applies damage to target, honoring the summon
// bond: a killing blow on a unit with a living bound summon leaves the
// unit at 1 HP and routes the lethal remainder to the summon instead.
func (p *Pipeline) applyDamageWithTransfer(b *battle.Battle, target *unit.Unit, dmg int, damageType string, out *Outcome) int {
	hpLost, overkill := target.ApplyDamage(dmg, damageType)

	if !target.Alive && target.BoundSummonID != "" {
		if summon, ok := b.Unit(target.BoundSummonID); ok && summon.Alive {
			target.CurrentHP = 1
			target.Alive = true
			transfer := overkill
			if transfer < 1 {
				transfer = 1
			}
			b.AppendLog(fmt.Sprintf("%s's bond transferred %d damage to %s", target.Name, transfer, summon.Name))
			p.applyDamageWithTransfer(b, summon, transfer, unit.DamagePure, out)
			return hpLost
		}
	}

	if !target.Alive {
		out.Deaths = append(out.Deaths, target.ID)
		out.BattleMayEnd = true
		b.AppendLog(fmt.Sprintf("%s died", target.Name))
		out.Events = append(out.Events, event.NewPositional(event.TypeUnitDied, map[string]any{
			"unit_id": target.ID,
		}, board.CellsFor(target.X, target.Y, target.Size), target.PlayerID))
	}
	return hpLost
}

func (p *Pipeline) applyCondition(target *unit.Unit, applied effect.AppliedCondition, out *Outcome) {
	def, ok := p.conditions.Get(applied.ConditionID)
	if !ok {
		p.logger.Warn("skipping unknown condition",
			zap.String("condition_id", applied.ConditionID),
		)
		return
	}
	stacks := applied.Stacks
	if stacks <= 0 {
		stacks = 1
	}
	if err := target.Conditions.Apply(def, stacks, applied.Rounds); err != nil {
		p.logger.Warn("condition application failed",
			zap.String("condition_id", applied.ConditionID),
			zap.Error(err),
		)
	}
}

// applyDodge relocates the defender when the dodge displacement lands on a
// free in-bounds cell, and grants the perfect-dodge buff when earned.
func (p *Pipeline) applyDodge(b *battle.Battle, attacker, defender *unit.Unit, def *effect.AbilityDef, reaction qte.Outcome, out *Outcome) {
	newX := defender.X + reaction.RelocationDX
	newY := defender.Y + reaction.RelocationDY
	relocated := false
	if p.dodgeCellFree(b, defender, newX, newY) {
		defender.X, defender.Y = newX, newY
		relocated = true
	}

	if reaction.PerfectDodge {
		if buff, ok := p.conditions.Get(perfectDodgeConditionID); ok {
			if err := defender.Conditions.Apply(buff, 1, 1); err != nil {
				p.logger.Warn("perfect dodge buff failed", zap.Error(err))
			}
		}
	}

	b.AppendLog(fmt.Sprintf("%s dodged %s's attack", defender.Name, attacker.Name))
	out.Events = append(out.Events, event.NewPositional(event.TypeAttackDodged, map[string]any{
		"attacker_unit_id": attacker.ID,
		"defender_unit_id": defender.ID,
		"ability_code":     def.Code,
		"relocated":        relocated,
		"to_x":             defender.X,
		"to_y":             defender.Y,
		"perfect":          reaction.PerfectDodge,
	}, []board.Cell{attacker.Pos(), defender.Pos()}, attacker.PlayerID, defender.PlayerID))
}

func (p *Pipeline) dodgeCellFree(b *battle.Battle, mover *unit.Unit, toX, toY int) bool {
	if !board.InBounds(toX, toY, mover.Size, b.GridWidth, b.GridHeight) {
		return false
	}
	for _, other := range b.Units {
		if other.ID == mover.ID || !other.Alive {
			continue
		}
		if board.Overlaps(toX, toY, mover.Size, other.X, other.Y, other.Size) {
			return false
		}
	}
	for _, ob := range b.Obstacles {
		if ob.Blocks() && board.Overlaps(toX, toY, mover.Size, ob.X, ob.Y, ob.Size) {
			return false
		}
	}
	return true
}
