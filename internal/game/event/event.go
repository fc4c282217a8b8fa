// Package event defines the outbound envelopes a battle session emits.
// Delivery is visibility-restricted: an event reaches only players who can
// see at least one of its relevant positions, plus any always-included
// participants.
package event

import "github.com/cormorant-games/skirmish/internal/game/board"

// Event type identifiers.
const (
	TypeBattleStarted     = "battle_started"
	TypeBattleEnded       = "battle_ended"
	TypeTurnChanged       = "turn_changed"
	TypeRoundEnded        = "round_ended"
	TypeTimerTick         = "timer_tick"
	TypeUnitMoved         = "unit_moved"
	TypeActionStarted     = "action_started"
	TypeAttackMissed      = "attack_missed"
	TypeAttackDodged      = "attack_dodged"
	TypeUnitAttacked      = "unit_attacked"
	TypeSkillUsed         = "skill_used"
	TypeObstacleAttacked  = "obstacle_attacked"
	TypeUnitDied          = "unit_died"
	TypeConditionsExpired = "conditions_expired"
	TypeReactionPrompt    = "reaction_prompt"
	TypePlayerConnected   = "player_connected"
	TypePlayerLeft        = "player_left"
	TypePlayerSurrendered = "player_surrendered"
	TypeRematchRequested  = "rematch_requested"
)

// Event is one outbound notification. Payload must be JSON-marshalable.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`

	// Positions are the grid cells this event is "about". Empty positions
	// with Broadcast false means only AlwaysInclude players receive it.
	Positions []board.Cell `json:"-"`

	// AlwaysInclude lists player ids that receive the event regardless of
	// vision, typically the acting player.
	AlwaysInclude []string `json:"-"`

	// Broadcast delivers to every player in the session, skipping the
	// visibility filter. Used for turn, timer, and lifecycle events.
	Broadcast bool `json:"-"`

	// OnlyTo restricts delivery to exactly these player ids. Overrides
	// all other routing when non-empty.
	OnlyTo []string `json:"-"`
}

// NewBroadcast builds an event delivered to every player.
func NewBroadcast(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload, Broadcast: true}
}

// NewPositional builds a visibility-filtered event about the given cells.
func NewPositional(eventType string, payload any, cells []board.Cell, alwaysInclude ...string) Event {
	return Event{
		Type:          eventType,
		Payload:       payload,
		Positions:     cells,
		AlwaysInclude: alwaysInclude,
	}
}

// NewDirect builds an event delivered only to the named players.
func NewDirect(eventType string, payload any, playerIDs ...string) Event {
	return Event{Type: eventType, Payload: payload, OnlyTo: playerIDs}
}
