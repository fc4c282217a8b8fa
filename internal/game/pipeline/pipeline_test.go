package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/movement"
	"github.com/cormorant-games/skirmish/internal/game/qte"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// fixedSource pins every roll for deterministic damage.
type fixedSource struct{ v int }

func (f fixedSource) Intn(n int) int {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

func newTestUnit(id, playerID string, x, y int) *unit.Unit {
	return &unit.Unit{
		ID:          id,
		PlayerID:    playerID,
		Name:        id,
		X:           x,
		Y:           y,
		Size:        1,
		CurrentHP:   20,
		MaxHP:       20,
		CurrentMana: 10,
		MaxMana:     10,
		Speed:       3,
		VisionRange: 6,
		MaxMoves:    3,
		MaxActions:  1,
		MaxAttacks:  1,
		Attack:      6,
		Abilities:   []string{"fireball"},
		Cooldowns:   make(map[string]int),
		Alive:       true,
		Conditions:  condition.NewSet(),
	}
}

type fixture struct {
	pipe *Pipeline
	b    *battle.Battle
}

// newFixture builds a started 10x10 battle with attacker "a1" (alice) at
// (1,5) holding the turn and defender "b1" (bob) at (2,5).
func newFixture(t *testing.T, units ...*unit.Unit) *fixture {
	t.Helper()
	if len(units) == 0 {
		units = []*unit.Unit{
			newTestUnit("a1", "alice", 1, 5),
			newTestUnit("b1", "bob", 2, 5),
		}
	}

	conditions := condition.NewRegistry()
	conditions.Register(&condition.Def{
		ID: "burning", Name: "Burning", Expiry: condition.ExpiryRounds,
		MaxStacks: 3, DamagePerTurn: 3, DamageType: "magical",
	})
	conditions.Register(&condition.Def{
		ID: "perfect_dodge", Name: "Perfect Dodge", Expiry: condition.ExpiryOnAction,
		AttackModifier: 1.25,
	})

	abilities := effect.NewRegistry()
	require.NoError(t, abilities.Register(&effect.AbilityDef{
		Code: "fireball", Name: "Fireball", ManaCost: 4, Cooldown: 2, Range: 4,
		Magic: true, RequiresQTE: true, Target: effect.TargetUnit, Power: "2d6+2",
		Conditions: []effect.AppliedCondition{{ConditionID: "burning", Rounds: 2, Stacks: 1}},
	}))

	resolver := effect.NewLuaResolver(nil, fixedSource{v: 2})
	pipe := New(abilities, conditions, resolver, zaptest.NewLogger(t))

	b := battle.New(10, 10, 60, 64)
	_, err := b.AddPlayer("alice", "red")
	require.NoError(t, err)
	_, err = b.AddPlayer("bob", "blue")
	require.NoError(t, err)
	order := make([]string, 0, len(units))
	for _, u := range units {
		require.NoError(t, b.AddUnit(u))
		order = append(order, u.ID)
	}
	require.NoError(t, b.Start(order))
	return &fixture{pipe: pipe, b: b}
}

func TestMoveDebitsBudget(t *testing.T) {
	f := newFixture(t,
		newTestUnit("a1", "alice", 1, 5),
		newTestUnit("b1", "bob", 8, 8),
	)

	out, err := f.pipe.Move(f.b, "alice", "a1", 4, 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMoved, out.Kind)

	u, _ := f.b.Unit("a1")
	assert.Equal(t, 4, u.X)
	assert.Equal(t, 0, u.MovesLeft, "3-cell move exhausts a budget of 3")

	require.Len(t, out.Events, 1)
	assert.Equal(t, event.TypeUnitMoved, out.Events[0].Type)
	assert.Equal(t, 3, payloadOf(t, out.Events[0])["base_cost"])
}

// payloadOf asserts the event payload is the usual string map.
func payloadOf(t *testing.T, ev event.Event) map[string]any {
	t.Helper()
	m, ok := ev.Payload.(map[string]any)
	require.True(t, ok, "payload is not a map: %T", ev.Payload)
	return m
}

func TestMoveWhileEngagedCostsMore(t *testing.T) {
	f := newFixture(t) // defender adjacent at (2,5)

	_, err := f.pipe.Move(f.b, "alice", "a1", 4, 5)
	assert.ErrorIs(t, err, movement.ErrInsufficientMoves, "engagement surcharge pushes the cost past the budget")

	out, err := f.pipe.Move(f.b, "alice", "a1", 1, 6)
	require.NoError(t, err)
	p := payloadOf(t, out.Events[0])
	assert.Equal(t, 1+movement.EngagementPenalty, p["base_cost"].(int)+p["engagement_cost"].(int))
}

func TestValidateActorRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		player  string
		unitID  string
		wantErr error
	}{
		{"battle not active", func(f *fixture) { f.b.End("", battle.EndReasonDraw) }, "alice", "a1", ErrBattleNotActive},
		{"unknown unit", func(f *fixture) {}, "alice", "ghost", ErrUnknownUnit},
		{"dead unit", func(f *fixture) { u, _ := f.b.Unit("a1"); u.Kill() }, "alice", "a1", ErrUnitDead},
		{"blocked unit", func(f *fixture) {
			u, _ := f.b.Unit("a1")
			u.Conditions.Apply(&condition.Def{ID: "stunned", Name: "Stunned", Expiry: condition.ExpiryEndOfTurn, Blocking: true}, 1, 0)
		}, "alice", "a1", ErrUnitDisabled},
		{"foreign unit", func(f *fixture) {}, "bob", "a1", ErrNotOwner},
		{"not the active turn", func(f *fixture) {}, "bob", "b1", ErrNotYourTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)
			_, err := f.pipe.Move(f.b, tt.player, tt.unitID, 1, 6)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBeginAndEndAction(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipe.BeginAction(f.b, "alice", "a1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeActionStarted, out.Kind)

	u, _ := f.b.Unit("a1")
	u.ActionsLeft, u.AttacksLeft = 0, 0
	_, err = f.pipe.BeginAction(f.b, "alice", "a1")
	assert.ErrorIs(t, err, ErrNoActionsLeft)

	out, err = f.pipe.EndAction(f.b, "alice", "a1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTurnEnded, out.Kind)
}

func TestExecuteActionMissConsumesAttack(t *testing.T) {
	f := newFixture(t,
		newTestUnit("a1", "alice", 1, 5),
		newTestUnit("b1", "bob", 8, 8),
	)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissed, out.Kind)

	u, _ := f.b.Unit("a1")
	assert.Equal(t, 0, u.AttacksLeft, "a miss still spends the attack")
	require.Len(t, out.Events, 1)
	assert.Equal(t, event.TypeAttackMissed, out.Events[0].Type)
}

func TestExecuteActionRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     *ActionRequest
		mutate  func(u *unit.Unit)
		wantErr error
	}{
		{"unknown ability", &ActionRequest{PlayerID: "alice", UnitID: "a1", AbilityCode: "meteor", TargetX: 2, TargetY: 5, HasTarget: true}, nil, ErrUnknownAbility},
		{"insufficient mana", &ActionRequest{PlayerID: "alice", UnitID: "a1", AbilityCode: "fireball", TargetX: 2, TargetY: 5, HasTarget: true}, func(u *unit.Unit) { u.CurrentMana = 1 }, ErrInsufficientMana},
		{"on cooldown", &ActionRequest{PlayerID: "alice", UnitID: "a1", AbilityCode: "fireball", TargetX: 2, TargetY: 5, HasTarget: true}, func(u *unit.Unit) { u.StartCooldown("fireball", 2) }, ErrAbilityOnCooldown},
		{"no attacks left", &ActionRequest{PlayerID: "alice", UnitID: "a1", TargetX: 2, TargetY: 5, HasTarget: true}, func(u *unit.Unit) { u.AttacksLeft = 0 }, ErrNoAttacksLeft},
		{"no actions left", &ActionRequest{PlayerID: "alice", UnitID: "a1", AbilityCode: "fireball", TargetX: 2, TargetY: 5, HasTarget: true}, func(u *unit.Unit) { u.ActionsLeft = 0 }, ErrNoActionsLeft},
		{"missing target", &ActionRequest{PlayerID: "alice", UnitID: "a1"}, nil, ErrMissingTarget},
		{"out of range", &ActionRequest{PlayerID: "alice", UnitID: "a1", TargetX: 8, TargetY: 8, HasTarget: true}, nil, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.mutate != nil {
				u, _ := f.b.Unit("a1")
				tt.mutate(u)
			}
			_, err := f.pipe.ExecuteAction(f.b, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecuteActionDefersBehindReactionExchange(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, out.Kind)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "a1", out.Pending.AttackerUnitID)
	assert.Equal(t, "b1", out.Pending.DefenderUnitID)

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 20, defender.CurrentHP, "no damage before the exchange resolves")

	require.Len(t, out.Events, 1)
	assert.Equal(t, event.TypeReactionPrompt, out.Events[0].Type)
	assert.Equal(t, []string{"bob"}, out.Events[0].OnlyTo)
}

func TestExecuteActionNeutralSkipsExchange(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 14, defender.CurrentHP, "attack stat applied at x1.0")
}

func TestExecuteActionAIDefenderSkipsExchange(t *testing.T) {
	defender := newTestUnit("b1", "bob", 2, 5)
	defender.AIControlled = true
	f := newFixture(t, newTestUnit("a1", "alice", 1, 5), defender)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)
}

func TestApplyDeferredBlockHalvesDamage(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeferred, out.Kind)

	applied := f.pipe.ApplyDeferred(f.b, out.Pending, qte.Outcome{AttackerMod: 1.0, DefenderMod: 0.5})
	assert.Equal(t, OutcomeResolved, applied.Kind)

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 17, defender.CurrentHP, "6 damage halved to 3")
}

func TestApplyDeferredDamageCapturedAtDeclaration(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeferred, out.Kind)
	require.NotNil(t, out.Pending.Frozen)

	// The attacker buffing up mid-exchange must not change the damage.
	attacker, _ := f.b.Unit("a1")
	attacker.Attack = 50

	applied := f.pipe.ApplyDeferred(f.b, out.Pending, qte.Neutral())
	assert.Equal(t, OutcomeResolved, applied.Kind)

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 14, defender.CurrentHP, "damage rolls at declaration, not at resolution")
}

func TestApplyDeferredDodgeRelocates(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)

	applied := f.pipe.ApplyDeferred(f.b, out.Pending, qte.Outcome{
		Dodged: true, PerfectDodge: true, AttackerMod: 1.0, RelocationDY: 1,
	})

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 20, defender.CurrentHP, "a dodge negates all damage")
	assert.Equal(t, 6, defender.Y, "dodge displacement applied")
	assert.True(t, defender.Conditions.Has("perfect_dodge"))

	require.Len(t, applied.Events, 1)
	assert.Equal(t, event.TypeAttackDodged, applied.Events[0].Type)
	assert.Equal(t, true, payloadOf(t, applied.Events[0])["perfect"])
}

func TestApplyDeferredDodgeBlockedRelocation(t *testing.T) {
	blockerUnit := newTestUnit("c1", "bob", 2, 6)
	f := newFixture(t, newTestUnit("a1", "alice", 1, 5), newTestUnit("b1", "bob", 2, 5), blockerUnit)
	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)

	applied := f.pipe.ApplyDeferred(f.b, out.Pending, qte.Outcome{
		Dodged: true, AttackerMod: 1.0, RelocationDY: 1,
	})

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 5, defender.Y, "occupied destination keeps the dodger in place")
	assert.Equal(t, false, payloadOf(t, applied.Events[0])["relocated"])
}

func TestApplyDeferredDefenderAlreadyDead(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)

	defender, _ := f.b.Unit("b1")
	defender.Kill()

	applied := f.pipe.ApplyDeferred(f.b, out.Pending, qte.Neutral())
	require.Len(t, applied.Events, 1)
	assert.Equal(t, event.TypeAttackMissed, applied.Events[0].Type)
}

func TestAbilityAppliesConditionsAndResources(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1", AbilityCode: "fireball",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)

	attacker, _ := f.b.Unit("a1")
	assert.Equal(t, 6, attacker.CurrentMana, "mana cost debited")
	assert.Equal(t, 2, attacker.CooldownRemaining("fireball"))
	assert.Equal(t, 0, attacker.ActionsLeft)
	assert.Equal(t, 1, attacker.AttacksLeft, "abilities spend actions, not attacks")

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 12, defender.CurrentHP, "2d6+2 rolled at fixed face 3")
	assert.True(t, defender.Conditions.Has("burning"))
}

func TestKillingBlowEmitsDeath(t *testing.T) {
	f := newFixture(t)
	defender, _ := f.b.Unit("b1")
	defender.CurrentHP = 3

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, out.Deaths)
	assert.True(t, out.BattleMayEnd)
	assert.False(t, defender.Alive)
}

func TestSummonBondAbsorbsKillingBlow(t *testing.T) {
	bearer := newTestUnit("b1", "bob", 2, 5)
	bearer.CurrentHP = 3
	summon := newTestUnit("s1", "bob", 8, 8)
	summon.SummonerID = "b1"
	summon.CurrentHP = 10
	bearer.BoundSummonID = "s1"
	f := newFixture(t, newTestUnit("a1", "alice", 1, 5), bearer, summon)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)

	assert.True(t, bearer.Alive)
	assert.Equal(t, 1, bearer.CurrentHP, "bearer survives at 1 HP")
	assert.Equal(t, 7, summon.CurrentHP, "overkill of 3 routed to the summon")
	assert.Empty(t, out.Deaths)
}

func TestSummonBondTransferCanKillSummon(t *testing.T) {
	bearer := newTestUnit("b1", "bob", 2, 5)
	bearer.CurrentHP = 3
	summon := newTestUnit("s1", "bob", 8, 8)
	summon.CurrentHP = 2
	bearer.BoundSummonID = "s1"
	f := newFixture(t, newTestUnit("a1", "alice", 1, 5), bearer, summon)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)

	assert.True(t, bearer.Alive)
	assert.False(t, summon.Alive)
	assert.Equal(t, []string{"s1"}, out.Deaths)
	assert.True(t, out.BattleMayEnd)
}

func TestDeadSummonDoesNotAbsorb(t *testing.T) {
	bearer := newTestUnit("b1", "bob", 2, 5)
	bearer.CurrentHP = 3
	summon := newTestUnit("s1", "bob", 8, 8)
	summon.Kill()
	bearer.BoundSummonID = "s1"
	f := newFixture(t, newTestUnit("a1", "alice", 1, 5), bearer, summon)

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)
	assert.False(t, bearer.Alive)
	assert.Equal(t, []string{"b1"}, out.Deaths)
}

func TestObstacleAttack(t *testing.T) {
	f := newFixture(t,
		newTestUnit("a1", "alice", 1, 5),
		newTestUnit("b1", "bob", 8, 8),
	)
	f.b.Obstacles = append(f.b.Obstacles, &board.Obstacle{
		ID: "rock", X: 2, Y: 5, Size: 1, CurrentHP: 5, MaxHP: 5,
	})

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind, "obstacles never trigger an exchange")

	require.Len(t, out.Events, 1)
	assert.Equal(t, event.TypeObstacleAttacked, out.Events[0].Type)
	assert.Equal(t, true, payloadOf(t, out.Events[0])["destroyed"], "6 damage fells a 5 HP rock")
}

func TestOnActionConditionConsumed(t *testing.T) {
	f := newFixture(t)
	attacker, _ := f.b.Unit("a1")
	require.NoError(t, attacker.Conditions.Apply(&condition.Def{
		ID: "perfect_dodge", Name: "Perfect Dodge", Expiry: condition.ExpiryOnAction, AttackModifier: 1.25,
	}, 1, 0))

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1",
		TargetX: 2, TargetY: 5, HasTarget: true, Neutral: true,
	})
	require.NoError(t, err)
	assert.False(t, attacker.Conditions.Has("perfect_dodge"))

	var expiredSeen bool
	for _, ev := range out.Events {
		if ev.Type == event.TypeConditionsExpired {
			expiredSeen = true
		}
	}
	assert.True(t, expiredSeen)
}

func TestSelfTargetNeedsNoPosition(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipe.abilities.Register(&effect.AbilityDef{
		Code: "mend", Name: "Mend", ManaCost: 2, Range: 0,
		Magic: true, Target: effect.TargetSelf, Power: "1d4+1",
	}))
	attacker, _ := f.b.Unit("a1")
	attacker.Abilities = append(attacker.Abilities, "mend")

	out, err := f.pipe.ExecuteAction(f.b, &ActionRequest{
		PlayerID: "alice", UnitID: "a1", AbilityCode: "mend",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)
	assert.Equal(t, 8, attacker.CurrentMana)
	assert.Equal(t, 0, attacker.ActionsLeft)
}

func TestAIUnitsDrivableWithEmptyPlayerID(t *testing.T) {
	ai := newTestUnit("a1", "alice", 1, 5)
	ai.AIControlled = true
	f := newFixture(t, ai, newTestUnit("b1", "bob", 2, 5))

	_, err := f.pipe.Move(f.b, "", "a1", 1, 4)
	assert.NoError(t, err)
}
