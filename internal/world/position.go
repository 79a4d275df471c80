package world

// Units per block for fixed-point positions.
const Units = 32

// eyeHeight is the offset from block floor to player eye in fixed-point units.
const eyeHeight = 51

// Position is a fixed-point location, 32 units per block.
type Position struct {
	X, Y, Z int
}

// Rotation is yaw (heading) and pitch, each 0..255 for a full turn.
type Rotation struct {
	Yaw, Pitch int
}

// Standing returns the eye position of a player standing on block (x, y, z).
func Standing(x, y, z int) Position {
	return Position{X: x*Units + Units/2, Y: y*Units + eyeHeight, Z: z*Units + Units/2}
}

// Block reports the block coordinates containing p.
func (p Position) Block() (x, y, z int) {
	return floorDiv(p.X, Units), floorDiv(p.Y, Units), floorDiv(p.Z, Units)
}

// Sub returns the per-axis displacement p - o.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Sub returns the yaw and pitch displacement r - o.
func (r Rotation) Sub(o Rotation) Rotation {
	return Rotation{Yaw: r.Yaw - o.Yaw, Pitch: r.Pitch - o.Pitch}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
