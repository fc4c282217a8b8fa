package effect

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/dice"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// Request carries everything a resolver needs to compute an ability's
// numeric effect. Positions and pools are snapshots; the resolver never
// mutates game state.
type Request struct {
	RulesetID string
	Ability   *AbilityDef
	Attacker  *unit.Unit
	Target    *unit.Unit
	Obstacle  *board.Obstacle
	TargetX   int
	TargetY   int

	// AttackerMod and DefenderMod are the multipliers produced by the
	// reaction exchange and active conditions. Neutral is 1.0.
	AttackerMod float64
	DefenderMod float64
}

// Result is a resolver's verdict. The pipeline applies it; resolvers only
// compute it.
type Result struct {
	Damage     int
	DamageType string
	Healing    int
	Conditions []AppliedCondition
}

// Resolver computes an ability's effect from a Request.
type Resolver interface {
	Resolve(req *Request) (*Result, error)
}

// HookCaller is the subset of the scripting manager resolvers need.
type HookCaller interface {
	HasHook(rulesetID, hook string) bool
	CallHook(rulesetID, hook string, args ...lua.LValue) (lua.LValue, error)
}

// LuaResolver resolves abilities through Lua hooks named after the ability
// code, falling back to a built-in roll when no hook is defined.
type LuaResolver struct {
	hooks HookCaller
	src   dice.Source
}

// NewLuaResolver creates a resolver backed by the given hook caller.
//
// Precondition: src must be non-nil. hooks may be nil, in which case every
// ability resolves through the built-in fallback.
func NewLuaResolver(hooks HookCaller, src dice.Source) *LuaResolver {
	return &LuaResolver{hooks: hooks, src: src}
}

// Resolve computes the ability's effect. If the ruleset defines a hook
// named ability_<code>, its returned table drives the result; otherwise
// the ability's power expression is rolled directly.
//
// Precondition: req.Ability and req.Attacker must be non-nil.
// Postcondition: Returns a Result with Damage >= 0, or an error if the
// power expression is malformed.
func (r *LuaResolver) Resolve(req *Request) (*Result, error) {
	if req.Ability == nil {
		return nil, fmt.Errorf("resolve: ability must not be nil")
	}
	if req.Attacker == nil {
		return nil, fmt.Errorf("resolve: attacker must not be nil")
	}

	if r.hooks != nil && r.hooks.HasHook(req.RulesetID, req.Ability.HookName()) {
		return r.resolveHook(req)
	}
	return r.resolveFallback(req)
}

func (r *LuaResolver) resolveFallback(req *Request) (*Result, error) {
	base := req.Attacker.Attack
	if req.Ability.Power != "" {
		rolled, err := dice.Roll(req.Ability.Power, r.src)
		if err != nil {
			return nil, fmt.Errorf("resolving ability %q: %w", req.Ability.Code, err)
		}
		base = rolled
	}

	dmg := ScaleDamage(base, req.AttackerMod, req.DefenderMod)
	return &Result{
		Damage:     dmg,
		DamageType: damageTypeFor(req.Ability),
		Conditions: req.Ability.Conditions,
	}, nil
}

func (r *LuaResolver) resolveHook(req *Request) (*Result, error) {
	args := []lua.LValue{
		lua.LString(req.Attacker.ID),
		lua.LNumber(req.Attacker.Attack),
		lua.LNumber(req.AttackerMod),
		lua.LNumber(req.DefenderMod),
	}
	ret, err := r.hooks.CallHook(req.RulesetID, req.Ability.HookName(), args...)
	if err != nil {
		return nil, fmt.Errorf("resolving ability %q: %w", req.Ability.Code, err)
	}

	res := &Result{
		DamageType: damageTypeFor(req.Ability),
		Conditions: req.Ability.Conditions,
	}
	switch v := ret.(type) {
	case lua.LNumber:
		res.Damage = ScaleDamage(int(v), req.AttackerMod, req.DefenderMod)
	case *lua.LTable:
		if n, ok := v.RawGetString("damage").(lua.LNumber); ok {
			res.Damage = ScaleDamage(int(n), req.AttackerMod, req.DefenderMod)
		}
		if n, ok := v.RawGetString("healing").(lua.LNumber); ok {
			res.Healing = int(n)
		}
		if s, ok := v.RawGetString("damage_type").(lua.LString); ok {
			res.DamageType = string(s)
		}
	default:
		// Hook returned nothing useful; fall back to the power roll.
		return r.resolveFallback(req)
	}
	return res, nil
}

// ScaleDamage applies the exchange multipliers to a raw roll. The result
// is floored and never negative.
func ScaleDamage(base int, attackerMod, defenderMod float64) int {
	if attackerMod == 0 {
		attackerMod = 1.0
	}
	if defenderMod == 0 {
		defenderMod = 1.0
	}
	scaled := int(float64(base) * attackerMod * defenderMod)
	if scaled < 0 {
		return 0
	}
	return scaled
}

func damageTypeFor(def *AbilityDef) string {
	if def.Magic {
		return unit.DamageMagical
	}
	return unit.DamagePhysical
}

// BasicAttack returns the implicit definition used when a unit attacks
// without a registered ability. Damage comes from the unit's Attack stat.
func BasicAttack() *AbilityDef {
	return &AbilityDef{
		Code:        BasicAttackCode,
		Name:        "Basic Attack",
		ManaCost:    0,
		Cooldown:    0,
		Range:       1,
		Magic:       false,
		RequiresQTE: true,
		Target:      TargetUnit,
	}
}
