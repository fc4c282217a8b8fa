package unit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cormorant-games/skirmish/internal/game/condition"
)

// Template defines a reusable unit archetype loaded from YAML.
type Template struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Size is the footprint side length (1-8 cells).
	Size  int `yaml:"size"`
	MaxHP int `yaml:"max_hp"`
	// MaxMana of 0 means the unit has no casting resource.
	MaxMana int `yaml:"max_mana"`
	// PhysicalProtection and MagicalProtection seed the absorption pools.
	PhysicalProtection int `yaml:"physical_protection"`
	MagicalProtection  int `yaml:"magical_protection"`
	Speed              int `yaml:"speed"`
	VisionRange        int `yaml:"vision_range"`
	Moves              int `yaml:"moves"`
	Actions            int `yaml:"actions"`
	Attacks            int `yaml:"attacks"`
	// Attack is the base damage of the unit's basic attack.
	Attack int `yaml:"attack"`
	// Abilities are the ability codes this archetype knows.
	Abilities []string `yaml:"abilities"`
	// Summon marks archetypes that are created mid-battle by other units.
	Summon bool `yaml:"summon"`
}

// Validate checks that the template satisfies basic invariants.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff all bounds hold; the first violation
// otherwise.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("unit template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("unit template %q: name must not be empty", t.ID)
	}
	if t.Size < 1 || t.Size > 8 {
		return fmt.Errorf("unit template %q: size must be 1-8, got %d", t.ID, t.Size)
	}
	if t.MaxHP < 1 {
		return fmt.Errorf("unit template %q: max_hp must be >= 1", t.ID)
	}
	if t.MaxMana < 0 {
		return fmt.Errorf("unit template %q: max_mana must be >= 0", t.ID)
	}
	if t.Speed < 1 {
		return fmt.Errorf("unit template %q: speed must be >= 1", t.ID)
	}
	if t.VisionRange < 1 {
		return fmt.Errorf("unit template %q: vision_range must be >= 1", t.ID)
	}
	if t.Moves < 0 || t.Actions < 0 || t.Attacks < 0 {
		return fmt.Errorf("unit template %q: per-turn budgets must be >= 0", t.ID)
	}
	if t.Attack < 0 {
		return fmt.Errorf("unit template %q: attack must be >= 0", t.ID)
	}
	return nil
}

// Instantiate creates a fresh Unit from the template for the given owner at
// the given anchor position. Every call produces a new identity.
//
// Precondition: t must be validated; playerID must be non-empty.
// Postcondition: The unit is alive with full pools and zeroed turn budgets
// (budgets are set when the scheduler activates it).
func (t *Template) Instantiate(playerID string, x, y int, aiControlled bool) *Unit {
	abilities := make([]string, len(t.Abilities))
	copy(abilities, t.Abilities)
	return &Unit{
		ID:                 uuid.NewString(),
		PlayerID:           playerID,
		TemplateID:         t.ID,
		Name:               t.Name,
		X:                  x,
		Y:                  y,
		Size:               t.Size,
		CurrentHP:          t.MaxHP,
		MaxHP:              t.MaxHP,
		CurrentMana:        t.MaxMana,
		MaxMana:            t.MaxMana,
		PhysicalProtection: t.PhysicalProtection,
		MagicalProtection:  t.MagicalProtection,
		Speed:              t.Speed,
		VisionRange:        t.VisionRange,
		MaxMoves:           t.Moves,
		MaxActions:         t.Actions,
		MaxAttacks:         t.Attacks,
		Attack:             t.Attack,
		Abilities:          abilities,
		Cooldowns:          make(map[string]int),
		Alive:              true,
		AIControlled:       aiControlled,
		Conditions:         condition.NewSet(),
	}
}

// Registry holds all known unit Templates keyed by ID.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds tmpl, overwriting any existing entry with the same ID.
// Precondition: tmpl must not be nil and tmpl.ID must not be empty.
func (r *Registry) Register(tmpl *Template) {
	r.templates[tmpl.ID] = tmpl
}

// Get returns the Template for id, or (nil, false) if not found.
func (r *Registry) Get(id string) (*Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	return len(r.templates)
}

// LoadTemplateFromBytes parses and validates a single template from YAML.
//
// Precondition: data must be valid YAML for a single Template.
// Postcondition: Returns a validated *Template or a non-nil error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var tmpl Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("parsing unit template YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadDirectory reads every *.yaml file in dir as a unit template and
// returns a populated Registry.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil Registry or the first error.
func LoadDirectory(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading unit template dir %q: %w", dir, err)
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
		tmpl, err := LoadTemplateFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		reg.Register(tmpl)
	}
	return reg, nil
}
