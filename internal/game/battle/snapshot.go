package battle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// SnapCondition is one active condition captured in a snapshot.
type SnapCondition struct {
	ID              string `json:"id"`
	Stacks          int    `json:"stacks"`
	RoundsRemaining int    `json:"rounds_remaining"`
}

// SnapUnit is a unit plus its serialised conditions.
type SnapUnit struct {
	unit.Unit
	Conditions []SnapCondition `json:"conditions,omitempty"`
}

// Snapshot is the crash-safe serialisable form of a Battle. It is the only
// shape the persistence bridge ever sees.
type Snapshot struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	Round        int               `json:"round"`
	TurnIndex    int               `json:"turn_index"`
	ActiveUnitID string            `json:"active_unit_id"`
	TurnTimeLeft int               `json:"turn_time_left"`
	TurnDuration int               `json:"turn_duration"`
	GridWidth    int               `json:"grid_width"`
	GridHeight   int               `json:"grid_height"`
	WinnerID     string            `json:"winner_id,omitempty"`
	EndReason    string            `json:"end_reason,omitempty"`
	Players      []*Player         `json:"players"`
	Units        []SnapUnit        `json:"units"`
	Obstacles    []*board.Obstacle `json:"obstacles"`
	Order        []string          `json:"order"`
	Log          []LogEntry        `json:"log"`
	LogCap       int               `json:"log_cap"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Snapshot captures the battle's full state.
//
// Postcondition: The returned value shares no mutable state with the battle.
func (b *Battle) Snapshot() *Snapshot {
	s := &Snapshot{
		ID:           b.ID,
		Status:       b.Status,
		Round:        b.Round,
		TurnIndex:    b.TurnIndex,
		ActiveUnitID: b.ActiveUnitID,
		TurnTimeLeft: b.TurnTimeLeft,
		TurnDuration: b.TurnDuration,
		GridWidth:    b.GridWidth,
		GridHeight:   b.GridHeight,
		WinnerID:     b.WinnerID,
		EndReason:    b.EndReason,
		Order:        append([]string(nil), b.Order...),
		Log:          b.Log(),
		LogCap:       b.logCap,
		SavedAt:      time.Now().UTC(),
	}
	for _, p := range b.Players {
		cp := *p
		s.Players = append(s.Players, &cp)
	}
	for _, u := range b.Units {
		su := SnapUnit{Unit: *u}
		su.Abilities = append([]string(nil), u.Abilities...)
		su.Cooldowns = make(map[string]int, len(u.Cooldowns))
		for code, left := range u.Cooldowns {
			su.Cooldowns[code] = left
		}
		for _, ac := range u.Conditions.All() {
			su.Conditions = append(su.Conditions, SnapCondition{
				ID:              ac.Def.ID,
				Stacks:          ac.Stacks,
				RoundsRemaining: ac.RoundsRemaining,
			})
		}
		s.Units = append(s.Units, su)
	}
	for _, o := range b.Obstacles {
		cp := *o
		s.Obstacles = append(s.Obstacles, &cp)
	}
	return s
}

// Encode serialises the snapshot to JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding battle snapshot %q: %w", s.ID, err)
	}
	return data, nil
}

// DecodeSnapshot parses a JSON snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding battle snapshot: %w", err)
	}
	return &s, nil
}

// Restore rebuilds a live Battle from the snapshot. Conditions are
// reattached through condReg; conditions whose definition no longer exists
// are dropped.
//
// Precondition: condReg must not be nil.
// Postcondition: The returned battle is independent of the snapshot.
func (s *Snapshot) Restore(condReg *condition.Registry) (*Battle, error) {
	if s.GridWidth < 2 || s.GridHeight < 2 {
		return nil, fmt.Errorf("restoring battle %q: invalid grid %dx%d", s.ID, s.GridWidth, s.GridHeight)
	}
	b := &Battle{
		ID:           s.ID,
		Status:       s.Status,
		Round:        s.Round,
		TurnIndex:    s.TurnIndex,
		ActiveUnitID: s.ActiveUnitID,
		TurnTimeLeft: s.TurnTimeLeft,
		TurnDuration: s.TurnDuration,
		GridWidth:    s.GridWidth,
		GridHeight:   s.GridHeight,
		WinnerID:     s.WinnerID,
		EndReason:    s.EndReason,
		Units:        make(map[string]*unit.Unit, len(s.Units)),
		Order:        append([]string(nil), s.Order...),
		logCap:       s.LogCap,
	}
	for _, p := range s.Players {
		cp := *p
		b.Players = append(b.Players, &cp)
	}
	for i := range s.Units {
		su := s.Units[i]
		u := su.Unit
		u.Conditions = condition.NewSet()
		if u.Cooldowns == nil {
			u.Cooldowns = make(map[string]int)
		}
		for _, sc := range su.Conditions {
			def, ok := condReg.Get(sc.ID)
			if !ok {
				continue
			}
			if err := u.Conditions.Apply(def, sc.Stacks, sc.RoundsRemaining); err != nil {
				return nil, fmt.Errorf("restoring battle %q: unit %q condition %q: %w", s.ID, u.ID, sc.ID, err)
			}
		}
		b.Units[u.ID] = &u
	}
	for _, o := range s.Obstacles {
		cp := *o
		b.Obstacles = append(b.Obstacles, &cp)
	}
	for _, entry := range s.Log {
		b.logEntries = append(b.logEntries, entry)
	}
	return b, nil
}
