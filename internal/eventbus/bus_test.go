package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewWithConfig(2, 10)
	defer bus.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []string
	record := func(e Event) {
		req := e.Payload.(ActionRequest)
		mu.Lock()
		got = append(got, req.Action)
		mu.Unlock()
		wg.Done()
	}
	bus.Subscribe(EventTypeAction, record)
	bus.Subscribe(EventTypeAction, record)

	if !bus.Publish(Event{Type: EventTypeAction, Payload: ActionRequest{Action: "cycle-mood", DeviceID: "living"}}) {
		t.Fatal("Publish should report delivery")
	}

	waitTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close(context.Background())

	if !bus.Publish(Event{Type: EventTypeMoodActivated, Payload: MoodActivated{DeviceID: "x"}}) {
		t.Error("Publish with no subscribers is not a drop")
	}
}

func TestBus_RecoversFromPanic(t *testing.T) {
	bus := NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)

	calls := 0
	bus.Subscribe(EventTypeAction, func(e Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		wg.Done()
	})

	bus.Publish(Event{Type: EventTypeAction})
	bus.Publish(Event{Type: EventTypeAction})

	waitTimeout(t, &wg)
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewWithConfig(1, 1)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(EventTypeAction, func(e Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})

	bus.Publish(Event{Type: EventTypeAction}) // taken by the worker
	<-started
	bus.Publish(Event{Type: EventTypeAction}) // sits in the queue

	if bus.Publish(Event{Type: EventTypeAction}) {
		t.Error("Publish should report a drop when the queue is full")
	}

	close(block)
	bus.Close(context.Background())
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := New()
	bus.Subscribe(EventTypeAction, func(e Event) {})
	bus.Close(context.Background())
	bus.Close(context.Background()) // idempotent

	if bus.Publish(Event{Type: EventTypeAction}) {
		t.Error("Publish after Close should drop")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
