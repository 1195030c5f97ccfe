package client

import (
	"statesync/internal/model"
	"statesync/internal/sim"
)

// Predictor applies local input to the player's own entity immediately and
// keeps the unacknowledged commands needed to rebuild the predicted position
// when the server corrects it. Not safe for concurrent use; the Client
// serializes access.
type Predictor struct {
	entity    model.Entity
	pending   []sim.Command
	nextSeq   uint64
	speed     float64
	bounds    model.Bounds
	threshold float64
}

// NewPredictor starts predicting from the authoritative entity state the
// server sent in its hello. The threshold is the reconciliation error above
// which the prediction snaps to authoritative truth.
func NewPredictor(start model.Entity, threshold float64) *Predictor {
	return &Predictor{
		entity:    start,
		nextSeq:   start.LastProcessedInput,
		speed:     model.Speed,
		bounds:    model.WorldBounds,
		threshold: threshold,
	}
}

// Step assigns the next sequence number, applies the movement locally and
// returns the command to transmit. The local entity reflects the movement
// before the server has seen it; that immediacy is the point of prediction.
func (p *Predictor) Step(movement model.Vec2, dt float64) sim.Command {
	p.nextSeq++
	cmd := sim.Command{Sequence: p.nextSeq, Movement: movement, DT: dt}
	p.pending = append(p.pending, cmd)
	p.apply(cmd)
	return cmd
}

// apply is the same integration the server performs, via the shared routine.
func (p *Predictor) apply(cmd sim.Command) {
	p.entity.Position = model.Integrate(p.entity.Position, cmd.Movement, p.speed, cmd.DT, p.bounds)
	p.entity.Velocity = cmd.Movement.Scale(p.speed)
}

// Reconcile corrects the prediction against the authoritative state of the
// local entity. Acknowledged commands are always discarded. When the
// authoritative position differs from the prediction beyond the threshold,
// the prediction snaps to it and the remaining pending commands are replayed
// in sequence order, reconstructing the best guess of the current position.
// Reports whether a snap occurred.
func (p *Predictor) Reconcile(auth model.Entity) bool {
	p.prune(auth.LastProcessedInput)

	// Small disagreement is floating-point and timing noise, not
	// desynchronization; correcting it would only cause jitter.
	if p.entity.Position.DistanceTo(auth.Position) <= p.threshold {
		return false
	}

	p.entity.Position = auth.Position
	p.entity.Velocity = auth.Velocity
	p.entity.LastProcessedInput = auth.LastProcessedInput
	for _, cmd := range p.pending {
		p.apply(cmd)
	}
	return true
}

// prune drops every pending command the server has confirmed.
func (p *Predictor) prune(ack uint64) {
	kept := p.pending[:0]
	for _, cmd := range p.pending {
		if cmd.Sequence > ack {
			kept = append(kept, cmd)
		}
	}
	p.pending = kept
}

// Entity returns a copy of the predicted local entity.
func (p *Predictor) Entity() model.Entity {
	return p.entity
}

// PendingLen returns the number of unacknowledged commands.
func (p *Predictor) PendingLen() int {
	return len(p.pending)
}
