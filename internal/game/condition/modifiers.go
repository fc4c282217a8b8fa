package condition

// AttackModifier returns the combined outgoing-damage multiplier from all
// active conditions. Unset modifiers (0) are treated as neutral.
//
// Postcondition: Returns > 0 for any set without a zero-modifier definition.
func AttackModifier(s *Set) float64 {
	total := 1.0
	for _, ac := range s.conditions {
		if ac.Def.AttackModifier > 0 {
			total *= ac.Def.AttackModifier
		}
	}
	return total
}

// DefenseModifier returns the combined incoming-damage multiplier from all
// active conditions on the defender.
func DefenseModifier(s *Set) float64 {
	total := 1.0
	for _, ac := range s.conditions {
		if ac.Def.DefenseModifier > 0 {
			total *= ac.Def.DefenseModifier
		}
	}
	return total
}
