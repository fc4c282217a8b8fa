package pipeline

import "errors"

// Typed rejections, checked in a fixed order so clients can rely on which
// violation is reported first.
var (
	ErrBattleNotActive   = errors.New("battle is not active")
	ErrUnknownUnit       = errors.New("unit does not exist")
	ErrUnitDead          = errors.New("unit is dead")
	ErrUnitDisabled      = errors.New("unit is disabled by a blocking condition")
	ErrNotOwner          = errors.New("unit is not controlled by the requesting player")
	ErrNotYourTurn       = errors.New("it is not this unit's turn")
	ErrUnknownAbility    = errors.New("ability is not known to this unit")
	ErrInsufficientMana  = errors.New("not enough mana")
	ErrAbilityOnCooldown = errors.New("ability is on cooldown")
	ErrNoActionsLeft     = errors.New("no actions remaining this turn")
	ErrNoAttacksLeft     = errors.New("no attacks remaining this turn")
	ErrOutOfRange        = errors.New("target is out of range")
	ErrMissingTarget     = errors.New("a target position is required")
)
