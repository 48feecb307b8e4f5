package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskCreated, TaskEvent{TaskID: 1, Name: "Write spec"})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicTaskCreated {
			t.Fatalf("topic = %q, want %q", ev.Topic, TopicTaskCreated)
		}
		payload, ok := ev.Payload.(TaskEvent)
		if !ok {
			t.Fatalf("payload type = %T, want TaskEvent", ev.Payload)
		}
		if payload.TaskID != 1 || payload.Name != "Write spec" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()
	taskSub := b.Subscribe("task.")
	defer b.Unsubscribe(taskSub)
	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(TopicTaskUpdated, TaskEvent{TaskID: 2})
	b.Publish(TopicElapsedChanged, ElapsedChangedEvent{Elapsed: "00:01:00"})

	select {
	case ev := <-taskSub.Ch():
		if ev.Topic != TopicTaskUpdated {
			t.Fatalf("topic = %q, want %q", ev.Topic, TopicTaskUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task event")
	}
	select {
	case ev := <-taskSub.Ch():
		t.Fatalf("unexpected event on task subscription: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d on catch-all subscription", i)
		}
	}
}

func TestBus_FullQueueDropsAndCounts(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < queueDepth+10; i++ {
		b.Publish(TopicElapsedChanged, i)
	}

	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
			continue
		default:
		}
		break
	}
	if count != queueDepth {
		t.Fatalf("received %d events, want %d", count, queueDepth)
	}
	if sub.Dropped() != 10 {
		t.Fatalf("dropped = %d, want 10", sub.Dropped())
	}
}

func TestBus_NilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(TopicTaskDeleted, TaskEvent{TaskID: 3})
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	other := b.Subscribe("task.")
	defer b.Unsubscribe(other)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not send on the closed channel.
	b.Publish(TopicTaskCreated, TaskEvent{TaskID: 1})
	select {
	case <-other.Ch():
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed the event")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	const goroutines = 8
	const perGoroutine = 4

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				b.Publish(TopicTaskCreated, TaskEvent{TaskID: int64(id*100 + i)})
			}
		}(g)
	}
	wg.Wait()

	if got := len(sub.Ch()); got != goroutines*perGoroutine {
		t.Fatalf("received %d events, want %d", got, goroutines*perGoroutine)
	}
}
