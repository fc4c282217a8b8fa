// Package battle holds the aggregate state of one battle session: players,
// units, obstacles, the action order, and round/turn bookkeeping.
//
// A Battle is not safe for concurrent use on its own; the session layer
// serialises all mutation per battle.
package battle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// Status is the battle lifecycle state.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
)

// End reasons recorded when Status becomes StatusEnded.
const (
	EndReasonVictory   = "victory"
	EndReasonDraw      = "draw"
	EndReasonSurrender = "surrender"
)

// Player is one participant. Players are created on join, mutated on
// connect/disconnect/surrender, and removed only pre-battle on lobby leave.
type Player struct {
	ID          string `json:"id"`
	FactionID   string `json:"faction_id"`
	Seat        int    `json:"seat"`
	Connected   bool   `json:"connected"`
	Surrendered bool   `json:"surrendered"`
	// RematchRequested is set after the battle ends when the player asks
	// for a rematch.
	RematchRequested bool `json:"rematch_requested"`
}

// LogEntry is one line in the bounded battle log.
type LogEntry struct {
	Round   int       `json:"round"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Battle is the aggregate root for one battle session.
//
// Invariant: while Status == StatusActive, ActiveUnitID references a unit
// that is alive and not disabled, except transiently while the scheduler is
// reassigning it.
type Battle struct {
	ID     string
	Status Status

	// Round counts completed wraps of the action order, starting at 1.
	Round int
	// TurnIndex is the current position in Order.
	TurnIndex int
	// ActiveUnitID is the unit whose turn it is.
	ActiveUnitID string
	// TurnTimeLeft is the remaining seconds of the active unit's timer.
	TurnTimeLeft int
	// TurnDuration is the configured per-turn timer in seconds.
	TurnDuration int

	GridWidth  int
	GridHeight int

	WinnerID  string
	EndReason string

	Players   []*Player
	Units     map[string]*unit.Unit
	Obstacles []*board.Obstacle
	// Order is the speed-sorted action order. Entries are never physically
	// removed; the scheduler skips dead units.
	Order []string

	logEntries []LogEntry
	logCap     int
	logStart   int
}

// New creates a Battle in the lobby state.
//
// Precondition: gridWidth, gridHeight >= 2; turnDuration > 0; logCap > 0.
// Postcondition: Status == StatusWaiting with empty collections.
func New(gridWidth, gridHeight, turnDuration, logCap int) *Battle {
	return &Battle{
		ID:           uuid.NewString(),
		Status:       StatusWaiting,
		GridWidth:    gridWidth,
		GridHeight:   gridHeight,
		TurnDuration: turnDuration,
		Units:        make(map[string]*unit.Unit),
		logCap:       logCap,
	}
}

// AddPlayer registers a participant while the battle is in the lobby.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the created Player, or an error if the battle has
// started or the id is taken.
func (b *Battle) AddPlayer(id, factionID string) (*Player, error) {
	if b.Status != StatusWaiting {
		return nil, fmt.Errorf("battle %q: cannot join after start", b.ID)
	}
	if _, ok := b.PlayerByID(id); ok {
		return nil, fmt.Errorf("battle %q: player %q already joined", b.ID, id)
	}
	p := &Player{
		ID:        id,
		FactionID: factionID,
		Seat:      len(b.Players),
		Connected: true,
	}
	b.Players = append(b.Players, p)
	return p, nil
}

// RemovePlayer removes a participant pre-battle (lobby leave). Units owned
// by the player are removed as well.
//
// Postcondition: Returns an error if the battle has started or the player
// is unknown.
func (b *Battle) RemovePlayer(id string) error {
	if b.Status != StatusWaiting {
		return fmt.Errorf("battle %q: cannot leave after start", b.ID)
	}
	idx := -1
	for i, p := range b.Players {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("battle %q: player %q not found", b.ID, id)
	}
	b.Players = append(b.Players[:idx], b.Players[idx+1:]...)
	for i, p := range b.Players {
		p.Seat = i
	}
	for uid, u := range b.Units {
		if u.PlayerID == id {
			delete(b.Units, uid)
		}
	}
	return nil
}

// PlayerByID returns the player with the given id.
func (b *Battle) PlayerByID(id string) (*Player, bool) {
	for _, p := range b.Players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// AddUnit registers a unit.
//
// Precondition: u must not be nil; u.ID must be unique within the battle.
func (b *Battle) AddUnit(u *unit.Unit) error {
	if _, exists := b.Units[u.ID]; exists {
		return fmt.Errorf("battle %q: unit %q already present", b.ID, u.ID)
	}
	b.Units[u.ID] = u
	return nil
}

// Unit returns the unit with the given id.
func (b *Battle) Unit(id string) (*unit.Unit, bool) {
	u, ok := b.Units[id]
	return u, ok
}

// Start transitions the battle to ACTIVE with the given action order.
//
// Precondition: Status == StatusWaiting; order must be non-empty and
// reference known units.
// Postcondition: Round == 1; TurnIndex == 0; the first unit is active with
// fresh budgets and a full timer.
func (b *Battle) Start(order []string) error {
	if b.Status != StatusWaiting {
		return fmt.Errorf("battle %q: already started", b.ID)
	}
	if len(order) == 0 {
		return fmt.Errorf("battle %q: empty action order", b.ID)
	}
	for _, id := range order {
		if _, ok := b.Units[id]; !ok {
			return fmt.Errorf("battle %q: action order references unknown unit %q", b.ID, id)
		}
	}
	b.Order = order
	b.Status = StatusActive
	b.Round = 1
	b.TurnIndex = 0
	b.ActiveUnitID = order[0]
	b.TurnTimeLeft = b.TurnDuration
	if u, ok := b.Units[order[0]]; ok {
		u.ResetTurnBudgets()
	}
	return nil
}

// End transitions the battle to ENDED with the given outcome.
//
// Postcondition: Status == StatusEnded; further mutation is rejected by the
// session layer.
func (b *Battle) End(winnerID, reason string) {
	b.Status = StatusEnded
	b.WinnerID = winnerID
	b.EndReason = reason
	b.ActiveUnitID = ""
}

// AppendLog adds a message to the bounded log ring, evicting the oldest
// entry when full.
func (b *Battle) AppendLog(message string) {
	entry := LogEntry{Round: b.Round, Message: message, At: time.Now().UTC()}
	if b.logCap <= 0 {
		return
	}
	if len(b.logEntries) < b.logCap {
		b.logEntries = append(b.logEntries, entry)
		return
	}
	b.logEntries[b.logStart] = entry
	b.logStart = (b.logStart + 1) % b.logCap
}

// Log returns the retained log entries, oldest first.
func (b *Battle) Log() []LogEntry {
	out := make([]LogEntry, 0, len(b.logEntries))
	for i := 0; i < len(b.logEntries); i++ {
		out = append(out, b.logEntries[(b.logStart+i)%len(b.logEntries)])
	}
	return out
}
