package battleserver

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/ai"
	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/clock"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/turn"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// BattleDefaults configure new battles.
type BattleDefaults struct {
	GridWidth    int
	GridHeight   int
	TurnDuration int
	LogCap       int
}

// UnitPlacement positions one unit instantiated from a template.
type UnitPlacement struct {
	TemplateID   string
	X            int
	Y            int
	AIControlled bool
	// BoundTo, when non-nil, marks this unit as a summon bound to the
	// same player's unit at the given placement index.
	BoundTo *int
}

// PlayerSetup describes one participant of a new battle.
type PlayerSetup struct {
	PlayerID  string
	FactionID string
	Units     []UnitPlacement
}

// BattleSetup is everything needed to create (or recreate) a battle.
type BattleSetup struct {
	MapID   string
	Players []PlayerSetup
}

// Manager owns every live session in the process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	setups   map[string]*BattleSetup

	pipe    *pipeline.Pipeline
	sched   *turn.Scheduler
	monitor *clock.Monitor
	brain   *ai.Controller

	templates  *unit.Registry
	maps       map[string]*board.Map
	conditions *condition.Registry

	sink     EventSink
	store    SessionStore
	settings Settings
	defaults BattleDefaults
	logger   *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: pipe, sched, monitor, brain, templates, conditions, sink,
// and logger must be non-nil. maps and store may be nil.
func NewManager(pipe *pipeline.Pipeline, sched *turn.Scheduler, monitor *clock.Monitor, brain *ai.Controller, templates *unit.Registry, maps map[string]*board.Map, conditions *condition.Registry, sink EventSink, store SessionStore, settings Settings, defaults BattleDefaults, logger *zap.Logger) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		setups:     make(map[string]*BattleSetup),
		pipe:       pipe,
		sched:      sched,
		monitor:    monitor,
		brain:      brain,
		templates:  templates,
		maps:       maps,
		conditions: conditions,
		sink:       sink,
		store:      store,
		settings:   settings,
		defaults:   defaults,
		logger:     logger,
	}
}

// CreateBattle builds a battle from its setup, registers the session, and
// returns it in the lobby state. The caller starts it when ready.
//
// Precondition: setup must name at least two players, each with at least
// one non-summon unit, and all template ids must be registered.
func (m *Manager) CreateBattle(setup *BattleSetup) (*Session, error) {
	if len(setup.Players) < 2 {
		return nil, fmt.Errorf("a battle needs at least 2 players, got %d", len(setup.Players))
	}

	width, height := m.defaults.GridWidth, m.defaults.GridHeight
	var obstacles []*board.Obstacle
	if setup.MapID != "" {
		mp, ok := m.maps[setup.MapID]
		if !ok {
			return nil, fmt.Errorf("map %q is not loaded", setup.MapID)
		}
		width, height = mp.Width, mp.Height
		obstacles = mp.Clone()
	}

	b := battle.New(width, height, m.defaults.TurnDuration, m.defaults.LogCap)
	b.Obstacles = obstacles

	for _, ps := range setup.Players {
		if _, err := b.AddPlayer(ps.PlayerID, ps.FactionID); err != nil {
			return nil, err
		}
		placed := make([]*unit.Unit, len(ps.Units))
		for i, placement := range ps.Units {
			tmpl, ok := m.templates.Get(placement.TemplateID)
			if !ok {
				return nil, fmt.Errorf("template %q is not registered", placement.TemplateID)
			}
			u := tmpl.Instantiate(ps.PlayerID, placement.X, placement.Y, placement.AIControlled)
			if err := b.AddUnit(u); err != nil {
				return nil, err
			}
			placed[i] = u
		}
		for i, placement := range ps.Units {
			if placement.BoundTo == nil {
				continue
			}
			idx := *placement.BoundTo
			if idx < 0 || idx >= len(placed) || idx == i {
				return nil, fmt.Errorf("invalid summon bond index %d for player %q", idx, ps.PlayerID)
			}
			placed[i].SummonerID = placed[idx].ID
			placed[idx].BoundSummonID = placed[i].ID
		}
	}

	sess := NewSession(b, m.pipe, m.sched, m.monitor, m.brain, m.sink, m.store, m.settings, m.logger)
	sess.SetOnEnded(m.onSessionEnded)

	m.mu.Lock()
	m.sessions[b.ID] = sess
	m.setups[b.ID] = setup
	m.mu.Unlock()

	m.logger.Info("battle created",
		zap.String("battle_id", b.ID),
		zap.Int("players", len(setup.Players)),
		zap.String("map_id", setup.MapID),
	)
	return sess, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(battleID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[battleID]
	return sess, ok
}

// Restore loads a persisted snapshot, rebuilds the session, and resumes
// its heartbeat if the battle was mid-fight.
//
// Precondition: The battle id must not already be live in this process.
func (m *Manager) Restore(ctx context.Context, battleID string) (*Session, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no session store configured")
	}
	if _, ok := m.Get(battleID); ok {
		return nil, fmt.Errorf("battle %q is already live", battleID)
	}

	snap, err := m.store.LoadSession(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("loading battle %q: %w", battleID, err)
	}
	b, err := snap.Restore(m.conditions)
	if err != nil {
		return nil, fmt.Errorf("restoring battle %q: %w", battleID, err)
	}

	sess := NewSession(b, m.pipe, m.sched, m.monitor, m.brain, m.sink, m.store, m.settings, m.logger)
	sess.SetOnEnded(m.onSessionEnded)

	m.mu.Lock()
	m.sessions[b.ID] = sess
	m.mu.Unlock()

	sess.Resume()
	return sess, nil
}

// Rematch recreates an ended battle from its original setup. The old
// session stays registered until removed; the new battle gets a fresh id
// and freshly instantiated units.
func (m *Manager) Rematch(battleID string) (*Session, error) {
	m.mu.RLock()
	setup, ok := m.setups[battleID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no setup recorded for battle %q", battleID)
	}
	return m.CreateBattle(setup)
}

// Remove disposes and forgets a session.
func (m *Manager) Remove(battleID string) {
	m.mu.Lock()
	sess, ok := m.sessions[battleID]
	delete(m.sessions, battleID)
	delete(m.setups, battleID)
	m.mu.Unlock()
	if ok {
		sess.Dispose()
	}
}

// CloseAll disposes every session. Used during shutdown; each session
// writes a final checkpoint.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.setups = make(map[string]*BattleSetup)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Dispose()
	}
}

// onSessionEnded is the session end callback: the finished battle stays
// queryable until explicitly removed, but its log is flushed here.
func (m *Manager) onSessionEnded(battleID string) {
	m.logger.Info("session finished", zap.String("battle_id", battleID))
}
