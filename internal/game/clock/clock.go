// Package clock drives the per-battle heartbeat: a 1 Hz ticker that
// evaluates the end condition, counts down the active unit's turn timer,
// and forces a scheduler advance when the timer runs out.
package clock

import (
	"sync"
	"time"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/turn"
)

// TickInterval is the heartbeat period.
const TickInterval = time.Second

// TickResult describes what one heartbeat did.
type TickResult struct {
	// Stopped is set when the battle is no longer active and the ticker
	// should shut down.
	Stopped bool
	// Ended is set when this tick transitioned the battle to ENDED.
	Ended    bool
	WinnerID string
	Reason   string
	// TimeLeft is the remaining turn time after the decrement.
	TimeLeft int
	// TurnExpired is set when the countdown hit zero and the scheduler
	// was advanced; Report carries the advance details.
	TurnExpired bool
	Report      *turn.Report
}

// Monitor evaluates end conditions and turn expiry for one battle. All
// methods mutate the battle and must be called under the session's
// serialization point.
type Monitor struct {
	sched *turn.Scheduler
}

// NewMonitor creates a Monitor backed by the given scheduler.
func NewMonitor(sched *turn.Scheduler) *Monitor {
	return &Monitor{sched: sched}
}

// Tick runs one heartbeat: stop if inactive, evaluate the end condition,
// otherwise count down and force an advance at zero.
//
// Precondition: The caller holds the session's serialization point.
func (m *Monitor) Tick(b *battle.Battle) TickResult {
	if b.Status != battle.StatusActive {
		return TickResult{Stopped: true}
	}

	if res, ended := m.checkEnd(b); ended {
		return res
	}

	b.TurnTimeLeft--
	res := TickResult{TimeLeft: b.TurnTimeLeft}
	if b.TurnTimeLeft <= 0 {
		report := m.sched.Advance(b)
		res.TurnExpired = true
		res.Report = &report
		res.TimeLeft = b.TurnTimeLeft
	}
	return res
}

// ForceCheck evaluates the end condition immediately, outside the 1 Hz
// cadence. Used after surrenders, deaths, and disconnect expiries.
//
// Precondition: The caller holds the session's serialization point.
func (m *Monitor) ForceCheck(b *battle.Battle) TickResult {
	if b.Status != battle.StatusActive {
		return TickResult{Stopped: true}
	}
	if res, ended := m.checkEnd(b); ended {
		return res
	}
	return TickResult{TimeLeft: b.TurnTimeLeft}
}

// checkEnd counts contenders: players who have not surrendered and still
// control a living unit. One contender wins; zero is a draw.
func (m *Monitor) checkEnd(b *battle.Battle) (TickResult, bool) {
	contenders := b.PlayersWithLivingUnits()
	if len(contenders) > 1 {
		return TickResult{}, false
	}

	res := TickResult{Ended: true, Stopped: true}
	if len(contenders) == 1 {
		res.WinnerID = contenders[0].ID
		res.Reason = battle.EndReasonVictory
	} else {
		res.Reason = battle.EndReasonDraw
	}
	b.End(res.WinnerID, res.Reason)
	return res, true
}

// Ticker invokes a callback once per TickInterval until stopped. The
// callback is responsible for re-entering its session's serialization
// point; the ticker only provides cadence.
type Ticker struct {
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTicker starts a Ticker calling fn at 1 Hz.
//
// Precondition: fn must be non-nil.
// Postcondition: fn fires every TickInterval until Stop.
func NewTicker(fn func()) *Ticker {
	t := &Ticker{stopCh: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-t.stopCh:
				return
			}
		}
	}()
	return t
}

// Stop halts the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
