package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

type fixedSource struct{}

func (fixedSource) Intn(n int) int { return 0 }

func newAIUnit(id, playerID string, x, y int) *unit.Unit {
	return &unit.Unit{
		ID:           id,
		PlayerID:     playerID,
		Name:         id,
		X:            x,
		Y:            y,
		Size:         1,
		CurrentHP:    20,
		MaxHP:        20,
		Speed:        3,
		VisionRange:  6,
		MaxMoves:     3,
		MaxActions:   1,
		MaxAttacks:   1,
		Attack:       6,
		Cooldowns:    make(map[string]int),
		Alive:        true,
		AIControlled: true,
		Conditions:   condition.NewSet(),
	}
}

func newHumanUnit(id, playerID string, x, y int) *unit.Unit {
	u := newAIUnit(id, playerID, x, y)
	u.AIControlled = false
	return u
}

func setup(t *testing.T, units ...*unit.Unit) (*Controller, *battle.Battle) {
	t.Helper()
	pipe := pipeline.New(
		effect.NewRegistry(),
		condition.NewRegistry(),
		effect.NewLuaResolver(nil, fixedSource{}),
		zaptest.NewLogger(t),
	)
	b := battle.New(10, 10, 60, 64)
	_, err := b.AddPlayer("alice", "red")
	require.NoError(t, err)
	_, err = b.AddPlayer("bot", "grey")
	require.NoError(t, err)
	order := make([]string, 0, len(units))
	for _, u := range units {
		require.NoError(t, b.AddUnit(u))
		order = append(order, u.ID)
	}
	require.NoError(t, b.Start(order))
	return NewController(pipe, zaptest.NewLogger(t)), b
}

func TestActNoEnemiesIsNoOp(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 5, 5)
	ctrl, b := setup(t, ai)

	res := ctrl.Act(b, "ai1")
	assert.Empty(t, res.Events)
	assert.Equal(t, 5, ai.X)
	assert.Equal(t, 1, ai.AttacksLeft)
}

func TestActStepsTowardNearestEnemy(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 1, 1)
	far := newHumanUnit("h1", "alice", 8, 8)
	near := newHumanUnit("h2", "alice", 1, 5)
	ctrl, b := setup(t, ai, far, near)

	res := ctrl.Act(b, "ai1")
	assert.Equal(t, 1, ai.X)
	assert.Equal(t, 2, ai.Y, "one greedy step toward the nearer enemy")

	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeUnitMoved, res.Events[0].Type)
	assert.Empty(t, res.Deaths, "too far to attack this turn")
}

func TestActAttacksWhenAdjacent(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 4, 4)
	target := newHumanUnit("h1", "alice", 5, 4)
	ctrl, b := setup(t, ai, target)

	res := ctrl.Act(b, "ai1")
	assert.Equal(t, 14, target.CurrentHP, "neutral basic attack landed")
	assert.Equal(t, 0, ai.AttacksLeft)

	var attacked bool
	for _, ev := range res.Events {
		if ev.Type == event.TypeUnitAttacked {
			attacked = true
		}
	}
	assert.True(t, attacked)
}

func TestActStepThenAttack(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 3, 4)
	target := newHumanUnit("h1", "alice", 5, 4)
	ctrl, b := setup(t, ai, target)

	ctrl.Act(b, "ai1")
	assert.Equal(t, 4, ai.X, "closed the gap")
	assert.Equal(t, 14, target.CurrentHP, "then attacked")
}

func TestActKillReportsBattleMayEnd(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 4, 4)
	target := newHumanUnit("h1", "alice", 5, 4)
	target.CurrentHP = 3
	ctrl, b := setup(t, ai, target)

	res := ctrl.Act(b, "ai1")
	assert.Equal(t, []string{"h1"}, res.Deaths)
	assert.True(t, res.BattleMayEnd)
}

func TestActBlockedStepFallsThroughToOtherAxis(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 1, 1)
	wall := newAIUnit("ally", "bot", 2, 1)
	target := newHumanUnit("h1", "alice", 5, 2)
	ctrl, b := setup(t, ai, wall, target)

	ctrl.Act(b, "ai1")
	assert.Equal(t, 1, ai.X, "primary axis blocked by the ally")
	assert.Equal(t, 2, ai.Y, "fell through to the vertical step")
}

func TestActHoldsWhenFullyBlocked(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 1, 1)
	wall := newAIUnit("ally", "bot", 2, 1)
	target := newHumanUnit("h1", "alice", 5, 1)
	ctrl, b := setup(t, ai, wall, target)

	ctrl.Act(b, "ai1")
	assert.Equal(t, 1, ai.X)
	assert.Equal(t, 1, ai.Y, "no alternate axis, unit holds position")
}

func TestActDeadUnitDoesNothing(t *testing.T) {
	ai := newAIUnit("ai1", "bot", 4, 4)
	target := newHumanUnit("h1", "alice", 5, 4)
	ctrl, b := setup(t, ai, target)
	ai.Kill()

	res := ctrl.Act(b, "ai1")
	assert.Empty(t, res.Events)
	assert.Equal(t, 20, target.CurrentHP)
}
