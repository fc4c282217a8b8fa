// Package unit models battle participants: their grid footprint, resource
// pools, per-turn budgets, cooldowns, and active conditions.
package unit

import (
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/condition"
)

// Damage type identifiers used when consuming protection pools.
const (
	DamagePhysical = "physical"
	DamageMagical  = "magical"
	// DamagePure bypasses both protection pools.
	DamagePure = "pure"
)

// Unit is one battle participant. Identity is stable for the battle's
// duration; units are always freshly instantiated from templates and never
// reused across battles.
//
// Invariant: Alive == (CurrentHP > 0) after every mutation through this
// package's methods.
type Unit struct {
	// ID uniquely identifies the unit within one battle.
	ID string `json:"id"`
	// PlayerID is the owning player.
	PlayerID string `json:"player_id"`
	// TemplateID names the template this unit was instantiated from.
	TemplateID string `json:"template_id"`
	// Name is the display name.
	Name string `json:"name"`

	// X, Y anchor the unit's footprint; Size is the side length (1-8).
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`

	CurrentHP   int `json:"current_hp"`
	MaxHP       int `json:"max_hp"`
	CurrentMana int `json:"current_mana"`
	MaxMana     int `json:"max_mana"`

	// Protection pools absorb matching damage before HP.
	PhysicalProtection int `json:"physical_protection"`
	MagicalProtection  int `json:"magical_protection"`

	// Speed orders the action order; VisionRange bounds visibility.
	Speed       int `json:"speed"`
	VisionRange int `json:"vision_range"`

	// Per-turn budgets: MovesLeft/ActionsLeft/AttacksLeft are reset to the
	// Max values when the unit's turn begins.
	MaxMoves    int `json:"max_moves"`
	MovesLeft   int `json:"moves_left"`
	MaxActions  int `json:"max_actions"`
	ActionsLeft int `json:"actions_left"`
	MaxAttacks  int `json:"max_attacks"`
	AttacksLeft int `json:"attacks_left"`

	// Attack is the base damage of the unit's basic attack.
	Attack int `json:"attack"`
	// Abilities are the ability codes this unit knows.
	Abilities []string `json:"abilities"`
	// Cooldowns maps ability code to rounds remaining before reuse.
	Cooldowns map[string]int `json:"cooldowns"`

	Alive bool `json:"alive"`
	// AIControlled marks a computer-driven unit slot.
	AIControlled bool `json:"ai_controlled"`
	// BoundSummonID links a unit to a summon that absorbs lethal damage.
	BoundSummonID string `json:"bound_summon_id,omitempty"`
	// SummonerID is set on summons to the unit that created them.
	SummonerID string `json:"summoner_id,omitempty"`

	Conditions *condition.Set `json:"-"`
}

// Pos returns the unit's anchor cell.
func (u *Unit) Pos() board.Cell {
	return board.Cell{X: u.X, Y: u.Y}
}

// OccupiesCell reports whether the unit's footprint covers c.
func (u *Unit) OccupiesCell(c board.Cell) bool {
	return board.Occupies(u.X, u.Y, u.Size, c)
}

// ApplyDamage applies dmg of the given type, consuming the matching
// protection pool before HP. Pure damage bypasses protection. Returns the
// HP actually lost and the overkill beyond 0 HP.
//
// Precondition: dmg >= 0.
// Postcondition: CurrentHP >= 0; Alive == (CurrentHP > 0).
func (u *Unit) ApplyDamage(dmg int, damageType string) (hpLost, overkill int) {
	remaining := dmg
	switch damageType {
	case DamagePhysical:
		remaining = drainPool(&u.PhysicalProtection, remaining)
	case DamageMagical:
		remaining = drainPool(&u.MagicalProtection, remaining)
	}

	hpLost = remaining
	u.CurrentHP -= remaining
	if u.CurrentHP < 0 {
		overkill = -u.CurrentHP
		hpLost = remaining - overkill
		u.CurrentHP = 0
	}
	u.Alive = u.CurrentHP > 0
	return hpLost, overkill
}

// drainPool subtracts dmg from the pool, returning the portion that passed
// through.
func drainPool(pool *int, dmg int) int {
	if *pool >= dmg {
		*pool -= dmg
		return 0
	}
	rest := dmg - *pool
	*pool = 0
	return rest
}

// Heal restores up to amount HP without exceeding MaxHP.
//
// Precondition: amount >= 0.
// Postcondition: CurrentHP <= MaxHP; Alive == (CurrentHP > 0).
func (u *Unit) Heal(amount int) {
	if !u.Alive {
		return // the dead are not healed back; resurrection is an effect concern
	}
	u.CurrentHP += amount
	if u.CurrentHP > u.MaxHP {
		u.CurrentHP = u.MaxHP
	}
	u.Alive = u.CurrentHP > 0
}

// Kill sets the unit dead regardless of current HP.
//
// Postcondition: CurrentHP == 0; Alive == false.
func (u *Unit) Kill() {
	u.CurrentHP = 0
	u.Alive = false
}

// SpendMana subtracts cost if affordable.
//
// Postcondition: Returns false and leaves mana untouched when cost exceeds
// CurrentMana.
func (u *Unit) SpendMana(cost int) bool {
	if cost > u.CurrentMana {
		return false
	}
	u.CurrentMana -= cost
	return true
}

// ResetTurnBudgets restores the per-turn move/action/attack budgets to their
// base values. Called by the scheduler when the unit's turn begins.
func (u *Unit) ResetTurnBudgets() {
	u.MovesLeft = u.MaxMoves
	u.ActionsLeft = u.MaxActions
	u.AttacksLeft = u.MaxAttacks
}

// Knows reports whether the unit knows the given ability code.
func (u *Unit) Knows(code string) bool {
	for _, a := range u.Abilities {
		if a == code {
			return true
		}
	}
	return false
}

// CooldownRemaining returns the rounds left before code can be used again.
func (u *Unit) CooldownRemaining(code string) int {
	if u.Cooldowns == nil {
		return 0
	}
	return u.Cooldowns[code]
}

// StartCooldown puts code on cooldown for rounds.
//
// Precondition: rounds >= 0; 0 is a no-op.
func (u *Unit) StartCooldown(code string, rounds int) {
	if rounds <= 0 {
		return
	}
	if u.Cooldowns == nil {
		u.Cooldowns = make(map[string]int)
	}
	u.Cooldowns[code] = rounds
}

// TickCooldowns decrements every cooldown by one round, removing entries
// that reach 0. Called once per round wrap for living units.
func (u *Unit) TickCooldowns() {
	for code, left := range u.Cooldowns {
		left--
		if left <= 0 {
			delete(u.Cooldowns, code)
		} else {
			u.Cooldowns[code] = left
		}
	}
}

// CanAct reports whether the unit is alive and not disabled by a blocking
// condition.
func (u *Unit) CanAct() bool {
	return u.Alive && !u.Conditions.AnyBlocking()
}
