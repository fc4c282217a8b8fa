package condition

import "fmt"

// Active tracks one applied condition on a unit.
type Active struct {
	Def *Def
	// Stacks is the current stack count (always 1 for unstackable).
	Stacks int
	// RoundsRemaining applies only to ExpiryRounds conditions; -1 otherwise.
	RoundsRemaining int
}

// TurnDamage is one pending damage application from a damage-per-turn
// condition, reported by Set.TurnDamage.
type TurnDamage struct {
	ConditionID string
	Amount      int
	DamageType  string
}

// Set tracks all conditions currently applied to one unit.
// It is not safe for concurrent use; the session serialises access.
type Set struct {
	conditions map[string]*Active
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{conditions: make(map[string]*Active)}
}

// Apply adds or updates a condition. If already present, stacks are
// incremented (capped at MaxStacks; unstackable conditions stay at 1) and
// the duration is extended to max(existing, rounds).
//
// Precondition: def must not be nil; rounds is ignored unless def.Expiry is
// ExpiryRounds.
// Postcondition: Has(def.ID) is true.
func (s *Set) Apply(def *Def, stacks, rounds int) error {
	if def == nil {
		return fmt.Errorf("apply: def must not be nil")
	}

	duration := -1
	if def.Expiry == ExpiryRounds {
		duration = rounds
	}

	if existing, ok := s.conditions[def.ID]; ok {
		if def.MaxStacks > 0 {
			newStacks := existing.Stacks + stacks
			if newStacks > def.MaxStacks {
				newStacks = def.MaxStacks
			}
			existing.Stacks = newStacks
		}
		if duration > existing.RoundsRemaining {
			existing.RoundsRemaining = duration
		}
		return nil
	}

	effective := stacks
	if def.MaxStacks == 0 {
		effective = 1
	} else if effective > def.MaxStacks {
		effective = def.MaxStacks
	}
	if effective < 1 {
		effective = 1
	}
	s.conditions[def.ID] = &Active{
		Def:             def,
		Stacks:          effective,
		RoundsRemaining: duration,
	}
	return nil
}

// Remove deletes the condition with the given ID. No-op if absent.
//
// Postcondition: Has(id) is false.
func (s *Set) Remove(id string) {
	delete(s.conditions, id)
}

// TickRounds decrements RoundsRemaining on all ExpiryRounds conditions,
// removing those that reach 0, and returns the removed IDs.
//
// Postcondition: For every id in the returned slice, Has(id) is false.
func (s *Set) TickRounds() []string {
	var expired []string
	for id, ac := range s.conditions {
		if ac.Def.Expiry != ExpiryRounds || ac.RoundsRemaining < 0 {
			continue
		}
		ac.RoundsRemaining--
		if ac.RoundsRemaining <= 0 {
			expired = append(expired, id)
			delete(s.conditions, id)
		}
	}
	return expired
}

// ExpireEndOfTurn removes all ExpiryEndOfTurn conditions and returns their IDs.
// Called by the scheduler for the unit whose turn is ending, after the
// condition's TurnDamage has been applied.
func (s *Set) ExpireEndOfTurn() []string {
	var expired []string
	for id, ac := range s.conditions {
		if ac.Def.Expiry == ExpiryEndOfTurn {
			expired = append(expired, id)
			delete(s.conditions, id)
		}
	}
	return expired
}

// ConsumeOnAction removes all ExpiryOnAction conditions and returns their IDs.
// Called by the pipeline after the bearer executes an action.
func (s *Set) ConsumeOnAction() []string {
	var expired []string
	for id, ac := range s.conditions {
		if ac.Def.Expiry == ExpiryOnAction {
			expired = append(expired, id)
			delete(s.conditions, id)
		}
	}
	return expired
}

// TurnDamage returns the pending damage-per-turn applications, scaled by
// stack count. The caller applies them and re-checks death.
func (s *Set) TurnDamage() []TurnDamage {
	var out []TurnDamage
	for id, ac := range s.conditions {
		if ac.Def.DamagePerTurn <= 0 {
			continue
		}
		out = append(out, TurnDamage{
			ConditionID: id,
			Amount:      ac.Def.DamagePerTurn * ac.Stacks,
			DamageType:  ac.Def.DamageType,
		})
	}
	return out
}

// AnyBlocking reports whether any active condition prevents the bearer from
// taking a turn.
func (s *Set) AnyBlocking() bool {
	for _, ac := range s.conditions {
		if ac.Def.Blocking {
			return true
		}
	}
	return false
}

// Has reports whether the condition with id is currently active.
func (s *Set) Has(id string) bool {
	_, ok := s.conditions[id]
	return ok
}

// Stacks returns the current stack count for condition id, or 0 if absent.
func (s *Set) Stacks(id string) int {
	if ac, ok := s.conditions[id]; ok {
		return ac.Stacks
	}
	return 0
}

// All returns a slice of pointers to the active conditions. The slice is a
// new allocation but the pointed-to values are shared; callers must not
// modify them.
func (s *Set) All() []*Active {
	out := make([]*Active, 0, len(s.conditions))
	for _, ac := range s.conditions {
		out = append(out, ac)
	}
	return out
}

// IDs returns the sorted-stable (insertion-order-independent) set of active
// condition IDs. Order is unspecified.
func (s *Set) IDs() []string {
	out := make([]string, 0, len(s.conditions))
	for id := range s.conditions {
		out = append(out, id)
	}
	return out
}
