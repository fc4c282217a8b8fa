package board

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlMapFile is the top-level YAML structure for battle map files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

// yamlMap is the YAML representation of a battle map.
type yamlMap struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Width     int            `yaml:"width"`
	Height    int            `yaml:"height"`
	Obstacles []yamlObstacle `yaml:"obstacles"`
}

// yamlObstacle is the YAML representation of one obstacle placement.
type yamlObstacle struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
	Size int    `yaml:"size"`
	HP   int    `yaml:"hp"`
}

// Map is a validated battle map layout.
type Map struct {
	ID        string
	Name      string
	Width     int
	Height    int
	Obstacles []*Obstacle
}

// Validate checks map invariants: positive dimensions, in-bounds obstacles
// with unique IDs and positive HP.
//
// Postcondition: Returns nil if the map is valid, or an error naming the
// first violation.
func (m *Map) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("map id must not be empty")
	}
	if m.Width < 2 || m.Height < 2 {
		return fmt.Errorf("map %q: dimensions must be at least 2x2, got %dx%d", m.ID, m.Width, m.Height)
	}
	seen := make(map[string]bool, len(m.Obstacles))
	for _, o := range m.Obstacles {
		if o.ID == "" {
			return fmt.Errorf("map %q: obstacle id must not be empty", m.ID)
		}
		if seen[o.ID] {
			return fmt.Errorf("map %q: duplicate obstacle id %q", m.ID, o.ID)
		}
		seen[o.ID] = true
		if o.Size < 1 {
			return fmt.Errorf("map %q: obstacle %q size must be >= 1, got %d", m.ID, o.ID, o.Size)
		}
		if !InBounds(o.X, o.Y, o.Size, m.Width, m.Height) {
			return fmt.Errorf("map %q: obstacle %q at (%d,%d) size %d is out of bounds", m.ID, o.ID, o.X, o.Y, o.Size)
		}
		if o.MaxHP < 1 {
			return fmt.Errorf("map %q: obstacle %q hp must be >= 1, got %d", m.ID, o.ID, o.MaxHP)
		}
	}
	return nil
}

// LoadMapFromBytes parses and validates a map from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the map schema.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromBytes(data []byte) (*Map, error) {
	var file yamlMapFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}

	m := &Map{
		ID:     file.Map.ID,
		Name:   file.Map.Name,
		Width:  file.Map.Width,
		Height: file.Map.Height,
	}
	for _, yo := range file.Map.Obstacles {
		size := yo.Size
		if size == 0 {
			size = 1
		}
		m.Obstacles = append(m.Obstacles, &Obstacle{
			ID:        yo.ID,
			Type:      yo.Type,
			X:         yo.X,
			Y:         yo.Y,
			Size:      size,
			CurrentHP: yo.HP,
			MaxHP:     yo.HP,
		})
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating map: %w", err)
	}
	return m, nil
}

// LoadMapFromFile reads and validates a single map YAML file.
//
// Precondition: path must point to a valid YAML map file.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	return LoadMapFromBytes(data)
}

// LoadMapsFromDir loads all YAML files in a directory as battle maps.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated maps or the first error encountered.
func LoadMapsFromDir(dir string) (map[string]*Map, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading map directory %s: %w", dir, err)
	}

	maps := make(map[string]*Map)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := LoadMapFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading map from %s: %w", name, err)
		}
		if _, dup := maps[m.ID]; dup {
			return nil, fmt.Errorf("duplicate map id %q in %s", m.ID, name)
		}
		maps[m.ID] = m
	}
	return maps, nil
}

// Clone returns a deep copy of the map's obstacles for instantiating a fresh
// battle. Obstacles are never shared across battles.
func (m *Map) Clone() []*Obstacle {
	out := make([]*Obstacle, len(m.Obstacles))
	for i, o := range m.Obstacles {
		cp := *o
		out[i] = &cp
	}
	return out
}
