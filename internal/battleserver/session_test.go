package battleserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cormorant-games/skirmish/internal/game/ai"
	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/clock"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/qte"
	"github.com/cormorant-games/skirmish/internal/game/turn"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

type fixedSource struct{}

func (fixedSource) Intn(n int) int { return 0 }

// fakeStore records persistence calls in memory.
type fakeStore struct {
	mu        sync.Mutex
	saves     int
	lastSnap  *battle.Snapshot
	endedID   string
	endedWin  string
	endReason string
}

func (f *fakeStore) SaveSession(_ context.Context, snap *battle.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.lastSnap = snap
	return nil
}

func (f *fakeStore) LoadSession(context.Context, string) (*battle.Snapshot, error) {
	return nil, nil
}

func (f *fakeStore) DeleteSession(context.Context, string) error { return nil }

func (f *fakeStore) MarkEnded(_ context.Context, battleID, winnerID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedID = battleID
	f.endedWin = winnerID
	f.endReason = reason
	return nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeStore) ended() (string, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endedID, f.endedWin, f.endReason
}

type delivery struct {
	playerIDs []string
	ev        event.Event
}

// fakeSink records deliveries and lets tests wait for an event type.
type fakeSink struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (f *fakeSink) Deliver(_ string, playerIDs []string, ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{playerIDs: playerIDs, ev: ev})
}

func (f *fakeSink) find(eventType string) (delivery, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.ev.Type == eventType {
			return d, true
		}
	}
	return delivery{}, false
}

func (f *fakeSink) waitFor(t *testing.T, eventType string) delivery {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := f.find(eventType); ok {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never delivered", eventType)
	return delivery{}
}

func sessionUnit(id, playerID string, x, y, speed int) *unit.Unit {
	return &unit.Unit{
		ID:          id,
		PlayerID:    playerID,
		Name:        id,
		X:           x,
		Y:           y,
		Size:        1,
		CurrentHP:   20,
		MaxHP:       20,
		Speed:       speed,
		VisionRange: 10,
		MaxMoves:    3,
		MaxActions:  1,
		MaxAttacks:  1,
		Attack:      6,
		Cooldowns:   make(map[string]int),
		Alive:       true,
		Conditions:  condition.NewSet(),
	}
}

type sessionFixture struct {
	sess  *Session
	b     *battle.Battle
	sink  *fakeSink
	store *fakeStore
}

func newSessionFixture(t *testing.T, settings Settings, units ...*unit.Unit) *sessionFixture {
	t.Helper()
	if settings.QTETimeout == 0 {
		settings.QTETimeout = time.Minute
	}
	if settings.AIThinkDelay == 0 {
		settings.AIThinkDelay = 10 * time.Millisecond
	}
	if settings.GraceWindow == 0 {
		settings.GraceWindow = time.Minute
	}

	logger := zaptest.NewLogger(t)
	pipe := pipeline.New(effect.NewRegistry(), condition.NewRegistry(), effect.NewLuaResolver(nil, fixedSource{}), logger)
	sched := turn.NewScheduler()
	monitor := clock.NewMonitor(sched)
	brain := ai.NewController(pipe, logger)
	sink := &fakeSink{}
	store := &fakeStore{}

	b := battle.New(10, 10, 60, 64)
	_, err := b.AddPlayer("alice", "red")
	require.NoError(t, err)
	_, err = b.AddPlayer("bob", "blue")
	require.NoError(t, err)
	if len(units) == 0 {
		units = []*unit.Unit{
			sessionUnit("a1", "alice", 1, 5, 5),
			sessionUnit("b1", "bob", 2, 5, 3),
		}
	}
	for _, u := range units {
		require.NoError(t, b.AddUnit(u))
	}

	sess := NewSession(b, pipe, sched, monitor, brain, sink, store, settings, logger)
	t.Cleanup(sess.Dispose)
	return &sessionFixture{sess: sess, b: b, sink: sink, store: store}
}

func TestSessionStart(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	assert.Equal(t, battle.StatusActive, f.b.Status)
	assert.Equal(t, "a1", f.b.ActiveUnitID, "fastest unit goes first")

	started := f.sink.waitFor(t, event.TypeBattleStarted)
	assert.ElementsMatch(t, []string{"alice", "bob"}, started.playerIDs)
	f.sink.waitFor(t, event.TypeTurnChanged)
	assert.GreaterOrEqual(t, f.store.saveCount(), 1, "starting writes a checkpoint")

	assert.Error(t, f.sess.Start(), "double start rejected")
}

func TestVisibleCellsForOwnFootprintNotOccluding(t *testing.T) {
	golem := sessionUnit("g1", "alice", 2, 2, 5)
	golem.Size = 2
	golem.VisionRange = 4
	f := newSessionFixture(t, Settings{}, golem, sessionUnit("b1", "bob", 8, 8, 3))
	f.b.Obstacles = append(f.b.Obstacles, &board.Obstacle{ID: "rock", X: 4, Y: 3, Size: 1, CurrentHP: 5, MaxHP: 5})

	visible := f.sess.VisibleCellsFor("alice")
	assert.True(t, visible["5,4"], "the clear sight line leaves from a cell of the unit's own footprint")
	assert.False(t, visible["5,3"], "the rock still hides the cell directly behind it")
}

func TestSessionEndActionAdvancesTurn(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	require.NoError(t, f.sess.EndAction("alice", "a1"))
	assert.Equal(t, "b1", f.b.ActiveUnitID)
}

func TestSessionSurrenderEndsBattle(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	require.NoError(t, f.sess.Surrender("bob"))
	assert.Equal(t, battle.StatusEnded, f.b.Status)
	assert.Equal(t, "alice", f.b.WinnerID)
	assert.Equal(t, battle.EndReasonVictory, f.b.EndReason)

	f.sink.waitFor(t, event.TypePlayerSurrendered)
	f.sink.waitFor(t, event.TypeBattleEnded)
	id, win, _ := f.store.ended()
	assert.Equal(t, f.b.ID, id)
	assert.Equal(t, "alice", win)
}

func TestSessionDeferredAttackResolvesOnResponse(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	require.NoError(t, f.sess.ExecuteAction("alice", "a1", "", 2, 5, true))

	prompt := f.sink.waitFor(t, event.TypeReactionPrompt)
	assert.Equal(t, []string{"bob"}, prompt.playerIDs)

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 20, defender.CurrentHP, "damage waits for the exchange")

	ex, ok := f.sess.exchanges.PendingFor("b1")
	require.True(t, ok)
	require.NoError(t, f.sess.RespondQTE("bob", ex.ID, qte.Response{Reaction: qte.ReactionBlock}))

	f.sink.waitFor(t, event.TypeUnitAttacked)
	assert.Equal(t, 17, defender.CurrentHP, "blocked basic attack lands for half")
}

func TestSessionDeferredAttackNeutralWhenDefenderDisconnected(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	f.sess.Disconnect("bob")
	require.NoError(t, f.sess.ExecuteAction("alice", "a1", "", 2, 5, true))

	defender, _ := f.b.Unit("b1")
	assert.Equal(t, 14, defender.CurrentHP, "disconnected defender gets the neutral outcome immediately")
	_, pending := f.sess.exchanges.PendingFor("b1")
	assert.False(t, pending)
}

func TestSessionGraceWindowForcesSurrender(t *testing.T) {
	f := newSessionFixture(t, Settings{GraceWindow: 20 * time.Millisecond})
	require.NoError(t, f.sess.Start())

	f.sess.Disconnect("bob")
	f.sink.waitFor(t, event.TypePlayerLeft)

	f.sink.waitFor(t, event.TypeBattleEnded)
	assert.Equal(t, battle.StatusEnded, f.b.Status)
	assert.Equal(t, "alice", f.b.WinnerID)
}

func TestSessionReconnectCancelsGrace(t *testing.T) {
	f := newSessionFixture(t, Settings{GraceWindow: 50 * time.Millisecond})
	require.NoError(t, f.sess.Start())

	f.sess.Disconnect("bob")
	require.NoError(t, f.sess.Connect("bob"))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, battle.StatusActive, f.b.Status, "reconnect inside the window keeps the battle alive")

	stateSync, ok := f.sink.find("state_sync")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, stateSync.playerIDs)
}

func TestSessionRematchNeedsEveryone(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())

	_, err := f.sess.RequestRematch("alice")
	assert.Error(t, err, "no rematch while active")

	require.NoError(t, f.sess.Surrender("bob"))

	all, err := f.sess.RequestRematch("alice")
	require.NoError(t, err)
	assert.False(t, all)

	all, err = f.sess.RequestRematch("bob")
	require.NoError(t, err)
	assert.True(t, all)
}

func TestSessionAITakesItsTurn(t *testing.T) {
	human := sessionUnit("a1", "alice", 1, 5, 5)
	bot := sessionUnit("b1", "bob", 2, 5, 3)
	bot.AIControlled = true
	f := newSessionFixture(t, Settings{AIThinkDelay: 5 * time.Millisecond}, human, bot)
	require.NoError(t, f.sess.Start())

	require.NoError(t, f.sess.EndAction("alice", "a1"))

	f.sink.waitFor(t, event.TypeUnitAttacked)
	assert.Equal(t, 14, human.CurrentHP, "the computer struck back")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.sess.mu.Lock()
		active := f.b.ActiveUnitID
		f.sess.mu.Unlock()
		if active == "a1" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("turn never returned to the human")
}

func TestSessionDisposeWritesFinalCheckpoint(t *testing.T) {
	f := newSessionFixture(t, Settings{})
	require.NoError(t, f.sess.Start())
	before := f.store.saveCount()

	f.sess.Dispose()
	assert.Greater(t, f.store.saveCount(), before)
}
