// Package bus fans task and state changes out to in-process listeners
// (debug log, audit journal). Publishing never waits on a listener.
package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// queueDepth bounds how far a listener may fall behind before events are
// dropped for it.
const queueDepth = 64

type Event struct {
	Topic   string
	Payload any
}

// Subscription receives events whose topic starts with its prefix.
type Subscription struct {
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
}

func (s *Subscription) Ch() <-chan Event { return s.ch }

// Dropped counts events discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

// Bus is safe for concurrent use. A nil *Bus accepts and drops events.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

func New() *Bus { return &Bus{} }

// Subscribe registers a listener for topics beginning with prefix; "" means
// every topic.
func (b *Bus) Subscribe(prefix string) *Subscription {
	sub := &Subscription{prefix: prefix, ch: make(chan Event, queueDepth)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub and closes its channel. Repeated calls are no-ops.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}
