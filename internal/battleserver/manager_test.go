package battleserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cormorant-games/skirmish/internal/game/ai"
	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/clock"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/turn"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

func managerTemplates() *unit.Registry {
	reg := unit.NewRegistry()
	reg.Register(&unit.Template{
		ID: "footman", Name: "Footman", Size: 1,
		MaxHP: 20, Speed: 3, VisionRange: 8,
		Moves: 4, Actions: 1, Attacks: 1, Attack: 6,
	})
	reg.Register(&unit.Template{
		ID: "knight", Name: "Knight", Size: 1,
		MaxHP: 25, Speed: 5, VisionRange: 8,
		Moves: 4, Actions: 1, Attacks: 1, Attack: 7,
	})
	reg.Register(&unit.Template{
		ID: "imp", Name: "Imp", Size: 1,
		MaxHP: 8, Speed: 5, VisionRange: 8,
		Moves: 5, Actions: 1, Attacks: 1, Attack: 3,
		Summon: true,
	})
	return reg
}

func newTestManager(t *testing.T, maps map[string]*board.Map) (*Manager, *fakeSink, *fakeStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pipe := pipeline.New(effect.NewRegistry(), condition.NewRegistry(), effect.NewLuaResolver(nil, fixedSource{}), logger)
	sched := turn.NewScheduler()
	monitor := clock.NewMonitor(sched)
	brain := ai.NewController(pipe, logger)
	sink := &fakeSink{}
	store := &fakeStore{}

	defaults := BattleDefaults{GridWidth: 10, GridHeight: 10, TurnDuration: 60, LogCap: 64}
	m := NewManager(pipe, sched, monitor, brain, managerTemplates(), maps, condition.NewRegistry(), sink, store, Settings{}, defaults, logger)
	t.Cleanup(m.CloseAll)
	return m, sink, store
}

func twoPlayerSetup() *BattleSetup {
	return &BattleSetup{
		Players: []PlayerSetup{
			{PlayerID: "alice", FactionID: "red", Units: []UnitPlacement{{TemplateID: "footman", X: 1, Y: 5}}},
			{PlayerID: "bob", FactionID: "blue", Units: []UnitPlacement{{TemplateID: "footman", X: 8, Y: 5}}},
		},
	}
}

func TestCreateBattle(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	sess, err := m.CreateBattle(twoPlayerSetup())
	require.NoError(t, err)

	b := sess.b
	assert.Equal(t, battle.StatusWaiting, b.Status)
	assert.Equal(t, 10, b.GridWidth)
	assert.Len(t, b.Players, 2)
	assert.Len(t, b.Units, 2)

	got, ok := m.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestCreateBattleRejectsSinglePlayer(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	_, err := m.CreateBattle(&BattleSetup{Players: []PlayerSetup{
		{PlayerID: "alice", Units: []UnitPlacement{{TemplateID: "footman", X: 1, Y: 1}}},
	}})
	require.Error(t, err)
}

func TestCreateBattleRejectsUnknownTemplate(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	setup := twoPlayerSetup()
	setup.Players[0].Units[0].TemplateID = "dragon"
	_, err := m.CreateBattle(setup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dragon")
}

func TestCreateBattleUsesMap(t *testing.T) {
	mp := &board.Map{
		ID: "ruins", Name: "Ruins", Width: 16, Height: 12,
		Obstacles: []*board.Obstacle{{ID: "rock-1", Type: "rock", X: 4, Y: 4, Size: 1, CurrentHP: 5, MaxHP: 5}},
	}
	m, _, _ := newTestManager(t, map[string]*board.Map{"ruins": mp})

	setup := twoPlayerSetup()
	setup.MapID = "ruins"
	sess, err := m.CreateBattle(setup)
	require.NoError(t, err)

	b := sess.b
	assert.Equal(t, 16, b.GridWidth)
	assert.Equal(t, 12, b.GridHeight)
	require.Len(t, b.Obstacles, 1)
	assert.NotSame(t, mp.Obstacles[0], b.Obstacles[0], "obstacles are cloned per battle")
}

func TestCreateBattleRejectsUnknownMap(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	setup := twoPlayerSetup()
	setup.MapID = "nowhere"
	_, err := m.CreateBattle(setup)
	require.Error(t, err)
}

func TestCreateBattleSummonBond(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	setup := twoPlayerSetup()
	bound := 0
	setup.Players[0].Units = append(setup.Players[0].Units, UnitPlacement{
		TemplateID: "imp", X: 2, Y: 5, BoundTo: &bound,
	})
	sess, err := m.CreateBattle(setup)
	require.NoError(t, err)

	b := sess.b
	var bearer, summon *unit.Unit
	for _, u := range b.Units {
		switch u.TemplateID {
		case "imp":
			summon = u
		case "footman":
			if u.PlayerID == "alice" {
				bearer = u
			}
		}
	}
	require.NotNil(t, bearer)
	require.NotNil(t, summon)
	assert.Equal(t, bearer.ID, summon.SummonerID)
	assert.Equal(t, summon.ID, bearer.BoundSummonID)
}

func TestCreateBattleRejectsBadBondIndex(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	for _, idx := range []int{-1, 5} {
		setup := twoPlayerSetup()
		bad := idx
		setup.Players[0].Units = append(setup.Players[0].Units, UnitPlacement{
			TemplateID: "imp", X: 2, Y: 5, BoundTo: &bad,
		})
		_, err := m.CreateBattle(setup)
		require.Error(t, err, "bond index %d", idx)
	}

	setup := twoPlayerSetup()
	self := 1
	setup.Players[0].Units = append(setup.Players[0].Units, UnitPlacement{
		TemplateID: "imp", X: 2, Y: 5, BoundTo: &self,
	})
	_, err := m.CreateBattle(setup)
	require.Error(t, err, "self-binding rejected")
}

func TestRematch(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	sess, err := m.CreateBattle(twoPlayerSetup())
	require.NoError(t, err)

	again, err := m.Rematch(sess.b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.b.ID, again.b.ID, "rematch gets a fresh id")
	assert.Len(t, again.b.Units, 2)

	_, err = m.Rematch("missing")
	require.Error(t, err)
}

func TestRemoveDisposes(t *testing.T) {
	m, _, store := newTestManager(t, nil)

	sess, err := m.CreateBattle(twoPlayerSetup())
	require.NoError(t, err)
	id := sess.b.ID

	m.Remove(id)
	_, ok := m.Get(id)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, store.saveCount(), 1, "dispose writes a final checkpoint")

	_, err = m.Rematch(id)
	require.Error(t, err, "setup forgotten with the session")
}

func TestCloseAll(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	s1, err := m.CreateBattle(twoPlayerSetup())
	require.NoError(t, err)
	s2, err := m.CreateBattle(twoPlayerSetup())
	require.NoError(t, err)

	m.CloseAll()
	_, ok := m.Get(s1.b.ID)
	assert.False(t, ok)
	_, ok = m.Get(s2.b.ID)
	assert.False(t, ok)
}
