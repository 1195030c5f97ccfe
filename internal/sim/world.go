package sim

import (
	"time"

	"statesync/internal/model"
	"statesync/pkg/protocol"
)

// Command is one validated input step for one entity.
type Command struct {
	Sequence uint64
	Movement model.Vec2
	DT       float64
}

// World owns the canonical entity map. It is not safe for concurrent use:
// the server's tick loop is its only caller by construction, which is what
// keeps the authoritative state lock-free.
type World struct {
	entities map[string]*model.Entity
	bounds   model.Bounds
	speed    float64
}

func NewWorld() *World {
	return &World{
		entities: make(map[string]*model.Entity),
		bounds:   model.WorldBounds,
		speed:    model.Speed,
	}
}

// Add spawns an entity at the origin and returns a copy of it.
func (w *World) Add(id string) model.Entity {
	e := &model.Entity{ID: id}
	w.entities[id] = e
	return *e
}

// Remove deletes an entity. Reports whether it existed.
func (w *World) Remove(id string) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	return true
}

// Apply integrates one command for the given entity and records its sequence
// number as the last processed input. A command whose sequence number is not
// greater than the last applied one is ignored, so resends and duplicates
// leave the state unchanged. Reports whether the command was applied.
func (w *World) Apply(id string, cmd Command) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	if cmd.Sequence <= e.LastProcessedInput {
		return false
	}
	e.Position = model.Integrate(e.Position, cmd.Movement, w.speed, cmd.DT, w.bounds)
	e.Velocity = cmd.Movement.Scale(w.speed)
	e.LastProcessedInput = cmd.Sequence
	return true
}

// Get returns a copy of an entity.
func (w *World) Get(id string) (model.Entity, bool) {
	e, ok := w.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return *e, true
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return len(w.entities)
}

// Snapshot copies the full entity map into a broadcast payload. The copy is
// immutable once returned; later ticks never touch it.
func (w *World) Snapshot(now time.Time) protocol.State {
	entities := make([]protocol.EntityState, 0, len(w.entities))
	for _, e := range w.entities {
		entities = append(entities, protocol.EntityState{
			ID:                 e.ID,
			Position:           e.Position,
			Velocity:           e.Velocity,
			LastProcessedInput: e.LastProcessedInput,
		})
	}
	return protocol.State{
		Timestamp: now.UnixMilli(),
		Entities:  entities,
	}
}
