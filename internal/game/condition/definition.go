package condition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExpiryPolicy describes when an applied condition leaves a unit.
type ExpiryPolicy string

const (
	// ExpiryPermanent never expires on its own.
	ExpiryPermanent ExpiryPolicy = "permanent"
	// ExpiryRounds expires after N round-end ticks.
	ExpiryRounds ExpiryPolicy = "rounds"
	// ExpiryEndOfTurn expires when the bearing unit's turn ends.
	ExpiryEndOfTurn ExpiryPolicy = "end_of_turn"
	// ExpiryOnAction expires the first time the bearing unit executes an action.
	ExpiryOnAction ExpiryPolicy = "on_action"
	// ExpiryManual is removed only by explicit effect logic.
	ExpiryManual ExpiryPolicy = "manual"
)

// validPolicies is the set accepted by Def.Validate.
var validPolicies = map[ExpiryPolicy]bool{
	ExpiryPermanent: true,
	ExpiryRounds:    true,
	ExpiryEndOfTurn: true,
	ExpiryOnAction:  true,
	ExpiryManual:    true,
}

// Def is the static definition of a condition, loaded from YAML.
type Def struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Expiry      ExpiryPolicy `yaml:"expiry"`
	// MaxStacks caps re-application; 0 = unstackable.
	MaxStacks int `yaml:"max_stacks"`
	// DamagePerTurn is applied to the bearer at the end of its turn.
	DamagePerTurn int `yaml:"damage_per_turn"`
	// DamageType selects the protection pool consumed by DamagePerTurn:
	// "physical", "magical", or "pure" (bypasses protection).
	DamageType string `yaml:"damage_type"`
	// Blocking prevents the bearer from taking a turn while active.
	Blocking bool `yaml:"blocking"`
	// AttackModifier scales the bearer's outgoing damage (0 = unset, treated as 1.0).
	AttackModifier float64 `yaml:"attack_modifier"`
	// DefenseModifier scales incoming damage against the bearer (0 = unset, treated as 1.0).
	DefenseModifier float64 `yaml:"defense_modifier"`
}

// Validate checks definition invariants.
//
// Postcondition: Returns nil if the definition is valid.
func (d *Def) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("condition id must not be empty")
	}
	if !validPolicies[d.Expiry] {
		return fmt.Errorf("condition %q: unknown expiry policy %q", d.ID, d.Expiry)
	}
	if d.MaxStacks < 0 {
		return fmt.Errorf("condition %q: max_stacks must be >= 0, got %d", d.ID, d.MaxStacks)
	}
	if d.DamagePerTurn < 0 {
		return fmt.Errorf("condition %q: damage_per_turn must be >= 0, got %d", d.ID, d.DamagePerTurn)
	}
	if d.DamagePerTurn > 0 {
		switch d.DamageType {
		case "physical", "magical", "pure":
		default:
			return fmt.Errorf("condition %q: damage_type must be one of [physical, magical, pure], got %q", d.ID, d.DamageType)
		}
	}
	return nil
}

// Registry holds all known condition Defs keyed by ID.
type Registry struct {
	defs map[string]*Def
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Def)}
}

// Register adds def to the registry, overwriting any existing entry with the same ID.
// Precondition: def must not be nil and def.ID must not be empty.
func (r *Registry) Register(def *Def) {
	r.defs[def.ID] = def
}

// Get returns the Def for id, or (nil, false) if not found.
func (r *Registry) Get(id string) (*Def, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// All returns a snapshot slice of all registered Defs.
func (r *Registry) All() []*Def {
	out := make([]*Def, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// LoadDirectory reads every *.yaml file in dir, parses each as a Def,
// validates it, and returns a populated Registry.
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil Registry, or an error if any file fails
// to parse or validate.
func LoadDirectory(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading condition dir %q: %w", dir, err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var def Def
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("validating %q: %w", path, err)
		}
		reg.Register(&def)
	}
	return reg, nil
}
