package model

// Constants shared by server and client. Both sides must integrate with the
// same speed, bounds and tick interval, otherwise prediction permanently
// diverges from authoritative state.
const (
	// Speed is the movement speed in world units per second.
	Speed = 5.0

	// TickRate is the authoritative simulation rate in ticks per second.
	TickRate = 20
)

// Bounds is a closed axis-aligned rectangle that positions are clamped to.
type Bounds struct {
	Min Vec2
	Max Vec2
}

// WorldBounds is the playable area.
var WorldBounds = Bounds{
	Min: Vec2{X: -50, Y: -50},
	Max: Vec2{X: 50, Y: 50},
}

// Clamp constrains p to the bounds on each axis independently.
func (b Bounds) Clamp(p Vec2) Vec2 {
	if p.X < b.Min.X {
		p.X = b.Min.X
	}
	if p.X > b.Max.X {
		p.X = b.Max.X
	}
	if p.Y < b.Min.Y {
		p.Y = b.Min.Y
	}
	if p.Y > b.Max.Y {
		p.Y = b.Max.Y
	}
	return p
}

// Integrate advances a position by one input step and clamps it to bounds.
// This is the only integration routine in the repository: the server applies
// it to authoritative state, the client applies it for prediction and for
// replaying unacknowledged inputs after a correction.
func Integrate(pos, movement Vec2, speed, dt float64, b Bounds) Vec2 {
	return b.Clamp(pos.Add(movement.Scale(speed * dt)))
}
