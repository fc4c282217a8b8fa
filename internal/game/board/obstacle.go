package board

// Obstacle is a static grid occupant with its own hit points. While not
// destroyed it blocks movement and vision.
type Obstacle struct {
	// ID uniquely identifies the obstacle within one battle.
	ID string `json:"id"`
	// X, Y anchor the obstacle's footprint.
	X int `json:"x"`
	Y int `json:"y"`
	// Size is the footprint side length in cells.
	Size int `json:"size"`
	// Type is the terrain-dependent obstacle kind (rendering/adjacency only).
	Type string `json:"type"`
	// CurrentHP and MaxHP track destructibility.
	CurrentHP int `json:"current_hp"`
	MaxHP     int `json:"max_hp"`
	// Destroyed is true once CurrentHP reaches 0.
	Destroyed bool `json:"destroyed"`
}

// Blocks reports whether the obstacle currently blocks movement and vision.
func (o *Obstacle) Blocks() bool {
	return !o.Destroyed
}

// OccupiesCell reports whether the obstacle's footprint covers c.
func (o *Obstacle) OccupiesCell(c Cell) bool {
	return Occupies(o.X, o.Y, o.Size, c)
}

// ApplyDamage subtracts dmg from CurrentHP, flooring at 0 and flipping
// Destroyed when the floor is reached.
//
// Precondition: dmg >= 0.
// Postcondition: CurrentHP >= 0; Destroyed == (CurrentHP == 0).
func (o *Obstacle) ApplyDamage(dmg int) {
	o.CurrentHP -= dmg
	if o.CurrentHP <= 0 {
		o.CurrentHP = 0
		o.Destroyed = true
	}
}
