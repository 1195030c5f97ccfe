package client

import (
	"time"

	"statesync/pkg/protocol"
)

// sample is one received snapshot pinned to the local clock. Snapshot
// timestamps come from the server clock; bracketing is done on receipt time
// so the two clocks never have to agree.
type sample struct {
	receivedAt time.Time
	entities   map[string]protocol.EntityState
}

// Interpolator renders remote entities a fixed delay in the past, blending
// between the two snapshots that bracket the render time. The local entity
// is never interpolated; prediction drives it instead.
type Interpolator struct {
	delay   time.Duration
	history time.Duration
	samples []sample
}

func NewInterpolator(delay, history time.Duration) *Interpolator {
	return &Interpolator{
		delay:   delay,
		history: history,
	}
}

// Observe records an authoritative snapshot at its local receipt time and
// drops samples that have aged out of the history window.
func (i *Interpolator) Observe(st protocol.State, receivedAt time.Time) {
	m := make(map[string]protocol.EntityState, len(st.Entities))
	for _, e := range st.Entities {
		m[e.ID] = e
	}
	i.samples = append(i.samples, sample{receivedAt: receivedAt, entities: m})

	cutoff := receivedAt.Add(-i.history)
	trim := 0
	for trim < len(i.samples)-1 && i.samples[trim].receivedAt.Before(cutoff) {
		trim++
	}
	i.samples = i.samples[trim:]
}

// At returns remote entity states positioned for the render time
// now - delay. With two bracketing samples each position is interpolated on
// the segment between them; with fewer the newest sample is returned as-is.
// An entity present only in the later sample is rendered at its raw position
// until a second sample exists for it. excludeID names the local entity.
func (i *Interpolator) At(now time.Time, excludeID string) map[string]protocol.EntityState {
	if len(i.samples) == 0 {
		return nil
	}

	renderTime := now.Add(-i.delay)

	var before, after *sample
	for idx := 1; idx < len(i.samples); idx++ {
		if !i.samples[idx-1].receivedAt.After(renderTime) && i.samples[idx].receivedAt.After(renderTime) {
			before = &i.samples[idx-1]
			after = &i.samples[idx]
			break
		}
	}

	if before == nil {
		// Buffer too short to bracket (connection start, long stall): fall
		// back to the newest sample with no interpolation.
		latest := i.samples[len(i.samples)-1]
		out := make(map[string]protocol.EntityState, len(latest.entities))
		for id, e := range latest.entities {
			if id == excludeID {
				continue
			}
			out[id] = e
		}
		return out
	}

	t := 1.0
	if span := after.receivedAt.Sub(before.receivedAt); span > 0 {
		t = float64(renderTime.Sub(before.receivedAt)) / float64(span)
	}

	out := make(map[string]protocol.EntityState, len(after.entities))
	for id, target := range after.entities {
		if id == excludeID {
			continue
		}
		prev, ok := before.entities[id]
		if !ok {
			// Newly joined: no earlier sample to blend from.
			out[id] = target
			continue
		}
		target.Position = prev.Position.Lerp(target.Position, t)
		out[id] = target
	}
	return out
}
