package effect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// TargetKind describes what an ability may be aimed at.
type TargetKind string

const (
	TargetUnit     TargetKind = "unit"
	TargetCell     TargetKind = "cell"
	TargetSelf     TargetKind = "self"
	TargetObstacle TargetKind = "obstacle"
)

// BasicAttackCode is the reserved ability code every unit knows implicitly.
const BasicAttackCode = "basic_attack"

// AppliedCondition names a condition an ability inflicts on its target.
type AppliedCondition struct {
	ConditionID string `yaml:"condition_id"`
	Rounds      int    `yaml:"rounds"`
	Stacks      int    `yaml:"stacks"`
}

// AbilityDef is the declarative description of an ability, loaded from YAML.
type AbilityDef struct {
	Code        string             `yaml:"code"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	ManaCost    int                `yaml:"mana_cost"`
	Cooldown    int                `yaml:"cooldown"`
	Range       int                `yaml:"range"`
	Magic       bool               `yaml:"magic"`
	RequiresQTE bool               `yaml:"requires_qte"`
	Target      TargetKind         `yaml:"target"`
	Power       string             `yaml:"power"`
	Conditions  []AppliedCondition `yaml:"conditions"`
}

// Validate checks an AbilityDef for structural violations.
//
// Precondition: None.
// Postcondition: Returns nil if the definition is usable, or an error
// naming every violation found.
func (d *AbilityDef) Validate() error {
	var violations []string
	if d.Code == "" {
		violations = append(violations, "code must not be empty")
	}
	if d.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if d.ManaCost < 0 {
		violations = append(violations, fmt.Sprintf("mana_cost must be >= 0, got %d", d.ManaCost))
	}
	if d.Cooldown < 0 {
		violations = append(violations, fmt.Sprintf("cooldown must be >= 0, got %d", d.Cooldown))
	}
	if d.Range < 0 {
		violations = append(violations, fmt.Sprintf("range must be >= 0, got %d", d.Range))
	}
	switch d.Target {
	case TargetUnit, TargetCell, TargetSelf, TargetObstacle:
	default:
		violations = append(violations, fmt.Sprintf("target must be one of unit, cell, self, obstacle, got %q", d.Target))
	}
	for i, c := range d.Conditions {
		if c.ConditionID == "" {
			violations = append(violations, fmt.Sprintf("conditions[%d].condition_id must not be empty", i))
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("ability %q invalid: %s", d.Code, strings.Join(violations, "; "))
	}
	return nil
}

// HookName returns the Lua global this ability resolves through.
func (d *AbilityDef) HookName() string {
	return "ability_" + d.Code
}

// Registry holds ability definitions keyed by code.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*AbilityDef
}

// NewRegistry creates an empty ability registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*AbilityDef)}
}

// Register validates and stores a definition, replacing any prior entry
// with the same code.
func (r *Registry) Register(def *AbilityDef) error {
	if def == nil {
		return fmt.Errorf("ability definition must not be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Code] = def
	return nil
}

// Get returns the definition for code, or an error if unknown.
func (r *Registry) Get(code string) (*AbilityDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[code]
	if !ok {
		return nil, fmt.Errorf("ability %q is not registered", code)
	}
	return def, nil
}

// Codes returns all registered ability codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.defs))
	for code := range r.defs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type yamlAbilityFile struct {
	Abilities []*AbilityDef `yaml:"abilities"`
}

// LoadAbilitiesFromBytes parses a YAML document of ability definitions.
//
// Precondition: data must be valid YAML matching the ability schema.
// Postcondition: Returns every definition in the document, all validated.
func LoadAbilitiesFromBytes(data []byte) ([]*AbilityDef, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	var file yamlAbilityFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing ability YAML: %w", err)
	}
	for _, def := range file.Abilities {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Abilities, nil
}

// LoadDirectory reads every *.yaml file in dir into the registry.
//
// Precondition: dir must be a readable directory.
// Postcondition: All definitions in all files are registered, or an error
// names the first failing file.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading ability dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || (filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading ability file %q: %w", path, err)
		}
		defs, err := LoadAbilitiesFromBytes(data)
		if err != nil {
			return fmt.Errorf("loading ability file %q: %w", path, err)
		}
		for _, def := range defs {
			if err := r.Register(def); err != nil {
				return fmt.Errorf("registering ability from %q: %w", path, err)
			}
		}
	}
	return nil
}
