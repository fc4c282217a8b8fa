// Package battleserver hosts live battle sessions: per-session intent
// serialization, timer and AI scheduling, reaction exchanges, disconnect
// grace handling, persistence checkpoints, and visibility-restricted
// event delivery.
package battleserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/ai"
	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/clock"
	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/qte"
	"github.com/cormorant-games/skirmish/internal/game/turn"
	"github.com/cormorant-games/skirmish/internal/game/vision"
)

// persistTimeout bounds one checkpoint write.
const persistTimeout = 5 * time.Second

// SessionStore persists battle snapshots across restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, snap *battle.Snapshot) error
	LoadSession(ctx context.Context, battleID string) (*battle.Snapshot, error)
	DeleteSession(ctx context.Context, battleID string) error
	MarkEnded(ctx context.Context, battleID, winnerID, reason string) error
}

// EventSink delivers an event to a set of players in one battle. The
// session computes recipients; the sink only transports.
type EventSink interface {
	Deliver(battleID string, playerIDs []string, ev event.Event)
}

// Settings are the per-session tunables.
type Settings struct {
	QTETimeout   time.Duration
	AIThinkDelay time.Duration
	GraceWindow  time.Duration
	RulesetID    string
}

// Session is one live battle. All state mutation happens under mu, the
// session's single serialization point: client intents, timer ticks, AI
// callbacks, and exchange resolutions all re-enter through it.
type Session struct {
	mu sync.Mutex

	b         *battle.Battle
	pipe      *pipeline.Pipeline
	sched     *turn.Scheduler
	monitor   *clock.Monitor
	exchanges *qte.Controller
	brain     *ai.Controller

	ticker      *clock.Ticker
	graceTimers map[string]*time.Timer
	aiTimer     *time.Timer

	sink     EventSink
	store    SessionStore
	settings Settings
	logger   *zap.Logger

	// onEnded fires once, after the battle transitions to ENDED and the
	// final checkpoint is written.
	onEnded  func(battleID string)
	disposed bool
}

// NewSession wraps a battle in its serialization shell.
//
// Precondition: b, pipe, sched, monitor, brain, sink, and logger must be
// non-nil. store may be nil for ephemeral sessions.
func NewSession(b *battle.Battle, pipe *pipeline.Pipeline, sched *turn.Scheduler, monitor *clock.Monitor, brain *ai.Controller, sink EventSink, store SessionStore, settings Settings, logger *zap.Logger) *Session {
	return &Session{
		b:           b,
		pipe:        pipe,
		sched:       sched,
		monitor:     monitor,
		exchanges:   qte.NewController(settings.QTETimeout, logger),
		brain:       brain,
		graceTimers: make(map[string]*time.Timer),
		sink:        sink,
		store:       store,
		settings:    settings,
		logger:      logger,
	}
}

// BattleID returns the session's battle identity.
func (s *Session) BattleID() string {
	return s.b.ID
}

// SetOnEnded registers the cleanup callback fired after the battle ends.
func (s *Session) SetOnEnded(fn func(battleID string)) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// Start computes the action order, activates the battle, writes the first
// checkpoint, and starts the heartbeat.
//
// Precondition: The battle must be in the lobby state with at least two
// players and one unit.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := turn.ComputeOrder(s.b.LivingUnits())
	if err := s.b.Start(order); err != nil {
		return fmt.Errorf("starting battle %q: %w", s.b.ID, err)
	}

	s.persistLocked()
	s.emit(event.NewBroadcast(event.TypeBattleStarted, map[string]any{
		"battle_id":      s.b.ID,
		"round":          s.b.Round,
		"active_unit_id": s.b.ActiveUnitID,
		"order":          s.b.Order,
	}))
	s.emitTurnChanged()

	s.ticker = clock.NewTicker(s.tick)
	s.maybeScheduleAILocked()

	s.logger.Info("battle started",
		zap.String("battle_id", s.b.ID),
		zap.Int("units", len(s.b.Units)),
	)
	return nil
}

// Resume restarts the heartbeat on a session restored mid-battle. A
// restored session has no exchange controller state; any attack resolved
// before the restore has already been applied or neutrally substituted.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b.Status != battle.StatusActive || s.ticker != nil {
		return
	}
	s.ticker = clock.NewTicker(s.tick)
	s.maybeScheduleAILocked()
	s.logger.Info("battle resumed",
		zap.String("battle_id", s.b.ID),
		zap.Int("round", s.b.Round),
	)
}

// tick is the 1 Hz heartbeat entry point. It runs off the ticker
// goroutine and re-enters the serialization point itself.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	res := s.monitor.Tick(s.b)
	s.handleTickLocked(res)
}

func (s *Session) handleTickLocked(res clock.TickResult) {
	if res.Ended {
		s.finishLocked()
		return
	}
	if res.Stopped {
		return
	}

	s.emit(event.NewBroadcast(event.TypeTimerTick, map[string]any{
		"time_left": res.TimeLeft,
	}))
	if res.TurnExpired && res.Report != nil {
		s.handleAdvanceLocked(*res.Report)
	}
}

// Move handles a move intent.
func (s *Session) Move(playerID, unitID string, toX, toY int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.pipe.Move(s.b, playerID, unitID, toX, toY)
	if err != nil {
		return err
	}
	s.emitAll(out.Events)
	return nil
}

// BeginAction handles a begin_action intent.
func (s *Session) BeginAction(playerID, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.pipe.BeginAction(s.b, playerID, unitID)
	if err != nil {
		return err
	}
	s.emitAll(out.Events)
	return nil
}

// EndAction ends the active unit's turn and advances the scheduler.
func (s *Session) EndAction(playerID, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.pipe.EndAction(s.b, playerID, unitID); err != nil {
		return err
	}
	s.advanceLocked()
	return nil
}

// ExecuteAction handles an attack or ability intent. Attacks on defended
// units open a reaction exchange; the damage applies when it resolves.
func (s *Session) ExecuteAction(playerID, unitID, abilityCode string, targetX, targetY int, hasTarget bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &pipeline.ActionRequest{
		PlayerID:    playerID,
		UnitID:      unitID,
		AbilityCode: abilityCode,
		TargetX:     targetX,
		TargetY:     targetY,
		HasTarget:   hasTarget,
		RulesetID:   s.settings.RulesetID,
	}
	out, err := s.pipe.ExecuteAction(s.b, req)
	if err != nil {
		return err
	}
	s.emitAll(out.Events)

	switch out.Kind {
	case pipeline.OutcomeDeferred:
		s.deferAttackLocked(out.Pending)
	default:
		s.afterEffectsLocked(out)
	}
	return nil
}

// deferAttackLocked opens the reaction exchange for a pending attack,
// falling back to a neutral application when the defender's owner cannot
// respond.
func (s *Session) deferAttackLocked(pending *pipeline.PendingAttack) {
	defender, ok := s.b.Unit(pending.DefenderUnitID)
	if !ok {
		return
	}
	owner, ok := s.b.PlayerByID(defender.PlayerID)
	if !ok || !owner.Connected || s.exchanges == nil {
		out := s.pipe.ApplyDeferred(s.b, pending, qte.Neutral())
		s.emitAll(out.Events)
		s.afterEffectsLocked(out)
		return
	}

	_, err := s.exchanges.Declare(
		pending.AttackerUnitID,
		pending.DefenderUnitID,
		defender.PlayerID,
		pending.Ability.Code,
		pending.Ability.Magic,
		func(reaction qte.Outcome) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.disposed {
				return
			}
			out := s.pipe.ApplyDeferred(s.b, pending, reaction)
			s.emitAll(out.Events)
			s.afterEffectsLocked(out)
		},
	)
	if err != nil {
		out := s.pipe.ApplyDeferred(s.b, pending, qte.Neutral())
		s.emitAll(out.Events)
		s.afterEffectsLocked(out)
	}
}

// RespondQTE handles the defender's reaction to a pending exchange.
func (s *Session) RespondQTE(playerID, exchangeID string, resp qte.Response) error {
	// Intentionally lock-free: Respond re-enters the serialization point
	// through the exchange's resolution callback.
	return s.exchanges.Respond(exchangeID, playerID, resp)
}

// afterEffectsLocked runs post-resolution bookkeeping: cancelling
// exchanges aimed at dead units and re-checking the end condition.
func (s *Session) afterEffectsLocked(out *pipeline.Outcome) {
	for _, deadID := range out.Deaths {
		s.cancelExchangesFor(deadID)
	}
	if out.BattleMayEnd {
		s.forceCheckLocked()
	}
}

func (s *Session) cancelExchangesFor(unitID string) {
	// CancelForUnit resolves pending exchanges synchronously through
	// their callbacks, which would re-enter mu; run it after the current
	// critical section.
	go s.exchanges.CancelForUnit(unitID)
}

// Surrender flags the player and immediately re-checks the end condition.
func (s *Session) Surrender(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.b.PlayerByID(playerID)
	if !ok {
		return fmt.Errorf("player %q is not in battle %q", playerID, s.b.ID)
	}
	if p.Surrendered {
		return nil
	}
	p.Surrendered = true
	s.b.AppendLog(fmt.Sprintf("player %s surrendered", playerID))
	s.emit(event.NewBroadcast(event.TypePlayerSurrendered, map[string]any{
		"player_id": playerID,
	}))
	s.forceCheckLocked()
	return nil
}

// RequestRematch flags the player's rematch wish on an ended battle.
// Returns true when every player has now requested one.
func (s *Session) RequestRematch(playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.b.Status != battle.StatusEnded {
		return false, fmt.Errorf("battle %q has not ended", s.b.ID)
	}
	p, ok := s.b.PlayerByID(playerID)
	if !ok {
		return false, fmt.Errorf("player %q is not in battle %q", playerID, s.b.ID)
	}
	p.RematchRequested = true
	s.emit(event.NewBroadcast(event.TypeRematchRequested, map[string]any{
		"player_id": playerID,
	}))

	for _, other := range s.b.Players {
		if !other.RematchRequested {
			return false, nil
		}
	}
	return true, nil
}

// Connect marks the player present, cancels any pending grace timer, and
// sends them a full state snapshot.
func (s *Session) Connect(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.b.PlayerByID(playerID)
	if !ok {
		return fmt.Errorf("player %q is not in battle %q", playerID, s.b.ID)
	}
	p.Connected = true
	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
		delete(s.graceTimers, playerID)
	}

	s.emit(event.NewBroadcast(event.TypePlayerConnected, map[string]any{
		"player_id": playerID,
	}))
	s.emit(event.NewDirect("state_sync", s.b.Snapshot(), playerID))
	return nil
}

// Disconnect marks the player absent and starts the grace window. If the
// window expires with the player still gone during an active battle, the
// player is force-surrendered.
func (s *Session) Disconnect(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.b.PlayerByID(playerID)
	if !ok {
		return
	}
	p.Connected = false
	s.emit(event.NewBroadcast(event.TypePlayerLeft, map[string]any{
		"player_id": playerID,
	}))

	// Pending exchanges waiting on this player resolve neutrally.
	for _, u := range s.b.Units {
		if u.PlayerID == playerID {
			s.cancelExchangesFor(u.ID)
		}
	}

	if s.b.Status != battle.StatusActive {
		return
	}

	if s.allDisconnectedLocked() {
		s.persistLocked()
	}

	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
	}
	s.graceTimers[playerID] = time.AfterFunc(s.settings.GraceWindow, func() {
		s.expireGrace(playerID)
	})
}

func (s *Session) expireGrace(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.b.Status != battle.StatusActive {
		return
	}
	p, ok := s.b.PlayerByID(playerID)
	if !ok || p.Connected || p.Surrendered {
		return
	}

	p.Surrendered = true
	s.b.AppendLog(fmt.Sprintf("player %s abandoned the battle", playerID))
	s.logger.Info("grace window expired",
		zap.String("battle_id", s.b.ID),
		zap.String("player_id", playerID),
	)
	s.emit(event.NewBroadcast(event.TypePlayerSurrendered, map[string]any{
		"player_id": playerID,
		"forced":    true,
	}))
	s.forceCheckLocked()
}

func (s *Session) allDisconnectedLocked() bool {
	for _, p := range s.b.Players {
		if p.Connected {
			return false
		}
	}
	return true
}

// advanceLocked runs one scheduler advance and its follow-through.
func (s *Session) advanceLocked() {
	report := s.sched.Advance(s.b)
	s.handleAdvanceLocked(report)
}

func (s *Session) handleAdvanceLocked(report turn.Report) {
	for _, dmg := range report.Damage {
		s.emit(event.NewBroadcast(event.TypeConditionsExpired, map[string]any{
			"unit_id":      dmg.UnitID,
			"condition_id": dmg.ConditionID,
			"damage":       dmg.Amount,
			"died":         dmg.Died,
		}))
		if dmg.Died {
			s.cancelExchangesFor(dmg.UnitID)
		}
	}
	if len(report.Expired) > 0 {
		byUnit := make(map[string][]string)
		for _, exp := range report.Expired {
			byUnit[exp.UnitID] = append(byUnit[exp.UnitID], exp.ConditionID)
		}
		for unitID, ids := range byUnit {
			s.emit(event.NewBroadcast(event.TypeConditionsExpired, map[string]any{
				"unit_id":       unitID,
				"condition_ids": ids,
			}))
		}
	}

	switch report.Outcome {
	case turn.BattleShouldEnd:
		s.forceCheckLocked()
	case turn.RoundAdvanced:
		s.persistLocked()
		s.emit(event.NewBroadcast(event.TypeRoundEnded, map[string]any{
			"round": s.b.Round,
		}))
		s.emitTurnChanged()
		s.maybeScheduleAILocked()
	case turn.ActiveUnitChanged:
		s.emitTurnChanged()
		s.maybeScheduleAILocked()
	}
}

func (s *Session) forceCheckLocked() {
	res := s.monitor.ForceCheck(s.b)
	if res.Ended {
		s.finishLocked()
	}
}

// maybeScheduleAILocked arms the think-delay callback when the active
// unit is computer controlled.
func (s *Session) maybeScheduleAILocked() {
	u, ok := s.b.Unit(s.b.ActiveUnitID)
	if !ok || !u.AIControlled {
		return
	}
	activeID := u.ID
	if s.aiTimer != nil {
		s.aiTimer.Stop()
	}
	s.aiTimer = time.AfterFunc(s.settings.AIThinkDelay, func() {
		s.runAI(activeID)
	})
}

func (s *Session) runAI(unitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.b.Status != battle.StatusActive || s.b.ActiveUnitID != unitID {
		return
	}

	res := s.brain.Act(s.b, unitID)
	s.emitAll(res.Events)
	for _, deadID := range res.Deaths {
		s.cancelExchangesFor(deadID)
	}
	if res.BattleMayEnd {
		s.forceCheckLocked()
		if s.b.Status != battle.StatusActive {
			return
		}
	}
	s.advanceLocked()
}

// finishLocked runs the one-shot end sequence: stop timers, close
// exchanges, broadcast, checkpoint, notify.
func (s *Session) finishLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.aiTimer != nil {
		s.aiTimer.Stop()
	}
	for id, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, id)
	}
	go s.exchanges.Close()

	s.emit(event.NewBroadcast(event.TypeBattleEnded, map[string]any{
		"battle_id": s.b.ID,
		"winner_id": s.b.WinnerID,
		"reason":    s.b.EndReason,
	}))
	s.persistLocked()
	s.markEndedLocked()

	s.logger.Info("battle ended",
		zap.String("battle_id", s.b.ID),
		zap.String("winner_id", s.b.WinnerID),
		zap.String("reason", s.b.EndReason),
	)
	if s.onEnded != nil {
		go s.onEnded(s.b.ID)
	}
}

// Dispose stops all timers and writes a final checkpoint. The session is
// unusable afterwards.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.aiTimer != nil {
		s.aiTimer.Stop()
	}
	for id, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, id)
	}
	go s.exchanges.Close()
	s.persistLocked()
}

// persistLocked writes a crash-safe checkpoint. Failures are logged, not
// propagated; losing a checkpoint must never take the battle down.
func (s *Session) persistLocked() {
	if s.store == nil {
		return
	}
	snap := s.b.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.SaveSession(ctx, snap); err != nil {
		s.logger.Error("checkpoint failed",
			zap.String("battle_id", s.b.ID),
			zap.Error(err),
		)
	}
}

func (s *Session) markEndedLocked() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.MarkEnded(ctx, s.b.ID, s.b.WinnerID, s.b.EndReason); err != nil {
		s.logger.Error("marking battle ended failed",
			zap.String("battle_id", s.b.ID),
			zap.Error(err),
		)
	}
}

func (s *Session) emitTurnChanged() {
	s.emit(event.NewBroadcast(event.TypeTurnChanged, map[string]any{
		"round":          s.b.Round,
		"active_unit_id": s.b.ActiveUnitID,
		"time_left":      s.b.TurnTimeLeft,
	}))
}

func (s *Session) emitAll(events []event.Event) {
	for _, ev := range events {
		s.emit(ev)
	}
}

// emit routes one event: direct, broadcast, or visibility-filtered via
// the vision module over the event's positions.
func (s *Session) emit(ev event.Event) {
	if s.sink == nil {
		return
	}
	var recipients []string
	switch {
	case len(ev.OnlyTo) > 0:
		recipients = ev.OnlyTo
	case ev.Broadcast:
		for _, p := range s.b.Players {
			recipients = append(recipients, p.ID)
		}
	default:
		recipients = s.b.ObserversOf(ev.Positions, ev.AlwaysInclude...)
	}
	if len(recipients) == 0 {
		return
	}
	s.sink.Deliver(s.b.ID, recipients, ev)
}

// PlayerIDs returns every participant's id.
func (s *Session) PlayerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.b.Players))
	for _, p := range s.b.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

// VisibleCellsFor exposes a player's fog-of-war view: the union of every
// owned living unit's visible cells.
func (s *Session) VisibleCellsFor(playerID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := make(map[string]bool)
	for _, u := range s.b.Units {
		if u.PlayerID != playerID || !u.Alive {
			continue
		}
		// A unit's own footprint never occludes its rays.
		viewer := vision.Viewer{X: u.X, Y: u.Y, Size: u.Size, VisionRange: u.VisionRange}
		for cell := range vision.VisibleCells(viewer, s.b.Blockers(u.ID), s.b.GridWidth, s.b.GridHeight) {
			visible[fmt.Sprintf("%d,%d", cell.X, cell.Y)] = true
		}
	}
	return visible
}
