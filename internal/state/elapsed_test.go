package state

import (
	"sync"
	"testing"
	"time"

	"github.com/gitter-badger/gnomato/internal/bus"
)

func TestElapsed_DefaultsToZero(t *testing.T) {
	e := NewElapsed(nil)
	if got := e.Current(); got != ZeroElapsed {
		t.Fatalf("Current() = %q, want %q", got, ZeroElapsed)
	}

	var empty Elapsed
	if got := empty.Current(); got != ZeroElapsed {
		t.Fatalf("zero value Current() = %q, want %q", got, ZeroElapsed)
	}
}

func TestElapsed_SetPublishesChanges(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicElapsedChanged)
	defer b.Unsubscribe(sub)

	e := NewElapsed(b)
	e.Set("00:05:00")
	e.Set("00:05:00") // unchanged, no event

	if got := e.Current(); got != "00:05:00" {
		t.Fatalf("Current() = %q, want 00:05:00", got)
	}

	select {
	case ev := <-sub.Ch():
		payload := ev.Payload.(bus.ElapsedChangedEvent)
		if payload.Elapsed != "00:05:00" {
			t.Fatalf("event elapsed = %q", payload.Elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for elapsed event")
	}
	if n := len(sub.Ch()); n != 0 {
		t.Fatalf("expected a single event, %d more queued", n)
	}
}

func TestElapsed_ConcurrentReadWrite(t *testing.T) {
	e := NewElapsed(nil)
	values := []string{"00:00:01", "00:00:02", "00:00:03"}

	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				e.Set(v)
			}
		}(v)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := e.Current()
				if got != ZeroElapsed && got != values[0] && got != values[1] && got != values[2] {
					t.Errorf("torn read: %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
