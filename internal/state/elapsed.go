// Package state holds live, in-process values that other components read
// without touching the store.
package state

import (
	"sync/atomic"

	"github.com/gitter-badger/gnomato/internal/bus"
)

// ZeroElapsed is reported before the timer layer has written anything.
const ZeroElapsed = "00:00:00"

// Elapsed is the current elapsed-time display value. Reads are lock-free,
// so Current is safe to call from bus dispatch goroutines.
type Elapsed struct {
	v   atomic.Pointer[string]
	bus *bus.Bus
}

// NewElapsed returns a holder reporting ZeroElapsed. eventBus may be nil.
func NewElapsed(eventBus *bus.Bus) *Elapsed {
	e := &Elapsed{bus: eventBus}
	zero := ZeroElapsed
	e.v.Store(&zero)
	return e
}

// Current returns the latest value.
func (e *Elapsed) Current() string {
	if p := e.v.Load(); p != nil {
		return *p
	}
	return ZeroElapsed
}

// Set replaces the value and publishes TopicElapsedChanged when it differs.
func (e *Elapsed) Set(value string) {
	prev := e.v.Swap(&value)
	if prev != nil && *prev == value {
		return
	}
	e.bus.Publish(bus.TopicElapsedChanged, bus.ElapsedChangedEvent{Elapsed: value})
}
