// Package turn orders units by speed and advances the active turn through
// the action order.
package turn

import (
	"sort"

	"github.com/cormorant-games/skirmish/internal/game/battle"
	"github.com/cormorant-games/skirmish/internal/game/unit"
)

// Outcome classifies one Advance call.
type Outcome int

const (
	// ActiveUnitChanged means the next eligible unit in the same round is
	// now active.
	ActiveUnitChanged Outcome = iota
	// RoundAdvanced means the walk crossed index 0: the round counter was
	// incremented and round-end bookkeeping ran before the new unit was
	// activated.
	RoundAdvanced
	// BattleShouldEnd means a full cycle found no eligible unit; the caller
	// must run the end-condition check instead of looping.
	BattleShouldEnd
)

// ConditionExpiry records one condition removed during end-of-turn
// processing.
type ConditionExpiry struct {
	UnitID      string
	ConditionID string
}

// ConditionDamage records one damage-per-turn application.
type ConditionDamage struct {
	UnitID      string
	ConditionID string
	Amount      int
	Died        bool
}

// Report describes everything one Advance call did.
type Report struct {
	Outcome      Outcome
	ActiveUnitID string
	// ActiveUnitAI is true when the landed unit is computer-controlled and
	// the session must hand control to the AI controller.
	ActiveUnitAI bool
	Expired      []ConditionExpiry
	Damage       []ConditionDamage
}

// ComputeOrder sorts all unit ids by descending speed. The sort is stable:
// ties keep the original slice order.
//
// Postcondition: len(result) == len(units).
func ComputeOrder(units []*unit.Unit) []string {
	sorted := make([]*unit.Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Speed > sorted[j].Speed
	})
	order := make([]string, len(sorted))
	for i, u := range sorted {
		order[i] = u.ID
	}
	return order
}

// Scheduler advances the action order. It is stateless; all state lives on
// the battle.
type Scheduler struct{}

// NewScheduler creates a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Advance processes end-of-turn effects for the departing unit, then walks
// forward through the action order (wrapping) until it finds a unit that is
// alive and not disabled by a blocking condition. Crossing index 0
// increments the round counter and decrements every living unit's
// cooldowns. A full cycle without an eligible unit yields BattleShouldEnd
// rather than looping.
//
// Precondition: b.Status == StatusActive and b.Order is non-empty.
// Postcondition: On ActiveUnitChanged/RoundAdvanced the landed unit has
// fresh per-turn budgets and a full turn timer.
func (s *Scheduler) Advance(b *battle.Battle) Report {
	var report Report

	if departing, ok := b.Unit(b.ActiveUnitID); ok {
		s.processTurnEnd(b, departing, &report)
	}

	n := len(b.Order)
	if n == 0 {
		report.Outcome = BattleShouldEnd
		return report
	}

	wrapped := false
	for step := 1; step <= n; step++ {
		idx := (b.TurnIndex + step) % n
		if b.TurnIndex+step >= n && !wrapped {
			wrapped = true
			s.processRoundEnd(b, &report)
		}
		u, ok := b.Unit(b.Order[idx])
		if !ok || !u.CanAct() {
			continue
		}
		b.TurnIndex = idx
		b.ActiveUnitID = u.ID
		b.TurnTimeLeft = b.TurnDuration
		u.ResetTurnBudgets()
		report.ActiveUnitID = u.ID
		report.ActiveUnitAI = u.AIControlled
		if wrapped {
			report.Outcome = RoundAdvanced
		} else {
			report.Outcome = ActiveUnitChanged
		}
		return report
	}

	report.Outcome = BattleShouldEnd
	return report
}

// processTurnEnd applies damage-per-turn conditions to the departing unit,
// re-checks death, and removes end-of-turn conditions.
func (s *Scheduler) processTurnEnd(b *battle.Battle, departing *unit.Unit, report *Report) {
	if departing.Alive {
		for _, td := range departing.Conditions.TurnDamage() {
			departing.ApplyDamage(td.Amount, td.DamageType)
			report.Damage = append(report.Damage, ConditionDamage{
				UnitID:      departing.ID,
				ConditionID: td.ConditionID,
				Amount:      td.Amount,
				Died:        !departing.Alive,
			})
			if !departing.Alive {
				break
			}
		}
	}
	for _, id := range departing.Conditions.ExpireEndOfTurn() {
		report.Expired = append(report.Expired, ConditionExpiry{
			UnitID:      departing.ID,
			ConditionID: id,
		})
	}
}

// processRoundEnd runs round-wrap bookkeeping: the round counter increments
// and every living unit's cooldowns and round-scoped conditions tick down.
func (s *Scheduler) processRoundEnd(b *battle.Battle, report *Report) {
	b.Round++
	for _, u := range b.Units {
		if !u.Alive {
			continue
		}
		u.TickCooldowns()
		for _, id := range u.Conditions.TickRounds() {
			report.Expired = append(report.Expired, ConditionExpiry{
				UnitID:      u.ID,
				ConditionID: id,
			})
		}
	}
}
