package sender

import "blockworld/server/internal/world"

// MoveKind is the packet chosen for an entity update.
type MoveKind int

const (
	MoveNone MoveKind = iota
	MoveRelative
	MoveTeleport
)

func (k MoveKind) String() string {
	switch k {
	case MoveRelative:
		return "relative"
	case MoveTeleport:
		return "teleport"
	default:
		return "none"
	}
}

// Movement is the planned update for one entity.
type Movement struct {
	Kind     MoveKind
	Position world.Position
	Rotation world.Rotation
}

// PlanMove compares the old and new placement. Displacement is new - old.
// The relative packet is used only when every delta fits a signed byte.
func PlanMove(oldPos, newPos world.Position, oldRot, newRot world.Rotation) Movement {
	dp := newPos.Sub(oldPos)
	dr := newRot.Sub(oldRot)
	deltas := [...]int{dp.X, dp.Y, dp.Z, dr.Yaw, dr.Pitch}
	zero := true
	fits := true
	for _, d := range deltas {
		if d != 0 {
			zero = false
		}
		if d < -128 || d > 127 {
			fits = false
		}
	}
	switch {
	case zero:
		return Movement{Kind: MoveNone}
	case fits:
		return Movement{Kind: MoveRelative, Position: dp, Rotation: dr}
	default:
		return Movement{Kind: MoveTeleport, Position: newPos, Rotation: newRot}
	}
}
