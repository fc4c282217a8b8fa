// Package qte implements the timed reaction exchange that gates attack
// outcomes. An exchange is declared when an attack targets a living unit,
// waits for at most one response from the defender's owner, and resolves
// deterministically into damage modifiers and an optional dodge relocation.
package qte

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle phase of a single exchange.
type State string

const (
	StateNone     State = "NONE"
	StateDeclared State = "DECLARED"
	StateAwaiting State = "AWAITING_RESPONSE"
	StateResolved State = "RESOLVED"
)

// Reaction is the defender's declared response.
type Reaction string

const (
	ReactionNone       Reaction = "none"
	ReactionBlock      Reaction = "block"
	ReactionDodgeLeft  Reaction = "dodge_left"
	ReactionDodgeRight Reaction = "dodge_right"
	ReactionDodgeBack  Reaction = "dodge_back"
)

// blockDefenderMod halves incoming damage on a successful block.
const blockDefenderMod = 0.5

// perfectDodgeWindow is the fraction of the response deadline within which
// a dodge counts as perfect.
const perfectDodgeWindow = 1.0 / 3.0

// Response is the defender's single allowed reply to an exchange.
type Response struct {
	Reaction Reaction `json:"reaction"`
}

// Outcome is the resolved verdict of an exchange. Neutral outcomes carry
// ×1.0 modifiers and no dodge.
type Outcome struct {
	Dodged       bool
	PerfectDodge bool
	AttackerMod  float64
	DefenderMod  float64

	// RelocationDX and RelocationDY are the defender's displacement when
	// Dodged is true, relative to the attacker's facing. Zero otherwise.
	RelocationDX int
	RelocationDY int
}

// Neutral returns the fallback outcome substituted on timeout,
// cancellation, or when no exchange controller is available.
func Neutral() Outcome {
	return Outcome{AttackerMod: 1.0, DefenderMod: 1.0}
}

// Exchange is one in-flight reaction negotiation. Exchanges are ephemeral
// and never persisted.
type Exchange struct {
	ID               string
	AttackerUnitID   string
	DefenderUnitID   string
	DefenderPlayerID string
	AbilityCode      string
	Magic            bool
	State            State

	declaredAt time.Time
	timer      *time.Timer
	done       func(Outcome)
}

// Controller owns all pending exchanges for one battle session. Resolution
// callbacks fire from a timer goroutine or the responder's goroutine; the
// caller is responsible for re-entering its own serialization point inside
// the done callback.
type Controller struct {
	mu       sync.Mutex
	pending  map[string]*Exchange
	timeout  time.Duration
	logger   *zap.Logger
	disposed bool
}

// NewController creates a Controller with the given response deadline.
//
// Precondition: timeout must be positive; logger must be non-nil.
// Postcondition: Returns a Controller ready to declare exchanges.
func NewController(timeout time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		pending: make(map[string]*Exchange),
		timeout: timeout,
		logger:  logger,
	}
}

// Declare opens an exchange and arms its response deadline. The done
// callback fires exactly once with the resolved outcome.
//
// Precondition: done must be non-nil.
// Postcondition: Returns the exchange in AWAITING_RESPONSE state, or an
// error if the controller is disposed.
func (c *Controller) Declare(attackerUnitID, defenderUnitID, defenderPlayerID, abilityCode string, magic bool, done func(Outcome)) (*Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, fmt.Errorf("exchange controller is disposed")
	}

	ex := &Exchange{
		ID:               uuid.NewString(),
		AttackerUnitID:   attackerUnitID,
		DefenderUnitID:   defenderUnitID,
		DefenderPlayerID: defenderPlayerID,
		AbilityCode:      abilityCode,
		Magic:            magic,
		State:            StateDeclared,
		declaredAt:       time.Now(),
		done:             done,
	}
	ex.State = StateAwaiting
	ex.timer = time.AfterFunc(c.timeout, func() {
		c.resolve(ex.ID, Neutral(), "timeout")
	})
	c.pending[ex.ID] = ex

	c.logger.Debug("exchange declared",
		zap.String("exchange_id", ex.ID),
		zap.String("attacker_unit_id", attackerUnitID),
		zap.String("defender_unit_id", defenderUnitID),
	)
	return ex, nil
}

// Respond records the defender's reaction. Only the owning player may
// respond, and only once; late or foreign responses are rejected.
//
// Precondition: None.
// Postcondition: On success the exchange is resolved and its callback has
// been invoked.
func (c *Controller) Respond(exchangeID, playerID string, resp Response) error {
	c.mu.Lock()
	ex, ok := c.pending[exchangeID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("exchange %q is not awaiting a response", exchangeID)
	}
	if ex.DefenderPlayerID != playerID {
		c.mu.Unlock()
		return fmt.Errorf("player %q does not control the defender in exchange %q", playerID, exchangeID)
	}
	elapsed := time.Since(ex.declaredAt)
	c.mu.Unlock()

	outcome := resolveReaction(resp.Reaction, elapsed, c.timeout)
	c.resolve(exchangeID, outcome, "response")
	return nil
}

// CancelForUnit neutrally resolves every pending exchange whose defender
// is the given unit. Used when the defender dies or its owner leaves.
func (c *Controller) CancelForUnit(unitID string) {
	c.mu.Lock()
	var ids []string
	for id, ex := range c.pending {
		if ex.DefenderUnitID == unitID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.resolve(id, Neutral(), "defender unavailable")
	}
}

// PendingFor returns the pending exchange targeting the given unit, if any.
func (c *Controller) PendingFor(unitID string) (*Exchange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ex := range c.pending {
		if ex.DefenderUnitID == unitID {
			return ex, true
		}
	}
	return nil, false
}

// Close neutrally resolves all pending exchanges and rejects future
// declarations.
func (c *Controller) Close() {
	c.mu.Lock()
	c.disposed = true
	var ids []string
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.resolve(id, Neutral(), "controller closed")
	}
}

func (c *Controller) resolve(exchangeID string, outcome Outcome, reason string) {
	c.mu.Lock()
	ex, ok := c.pending[exchangeID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, exchangeID)
	ex.State = StateResolved
	if ex.timer != nil {
		ex.timer.Stop()
	}
	done := ex.done
	c.mu.Unlock()

	c.logger.Debug("exchange resolved",
		zap.String("exchange_id", exchangeID),
		zap.String("reason", reason),
		zap.Bool("dodged", outcome.Dodged),
	)
	if done != nil {
		done(outcome)
	}
}

// resolveReaction maps a reaction and its arrival time onto an outcome.
// The mapping is pure: the same inputs always produce the same verdict.
func resolveReaction(reaction Reaction, elapsed, deadline time.Duration) Outcome {
	switch reaction {
	case ReactionBlock:
		return Outcome{AttackerMod: 1.0, DefenderMod: blockDefenderMod}
	case ReactionDodgeLeft, ReactionDodgeRight, ReactionDodgeBack:
		out := Outcome{
			Dodged:      true,
			AttackerMod: 1.0,
			DefenderMod: 0.0,
		}
		switch reaction {
		case ReactionDodgeLeft:
			out.RelocationDX = -1
		case ReactionDodgeRight:
			out.RelocationDX = 1
		case ReactionDodgeBack:
			out.RelocationDY = 1
		}
		if deadline > 0 && float64(elapsed) <= float64(deadline)*perfectDodgeWindow {
			out.PerfectDodge = true
		}
		return out
	default:
		return Neutral()
	}
}
