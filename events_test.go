package keyfold

import (
	"sync"
	"testing"
	"time"
)

func TestEventManager_SubscribeNotify(t *testing.T) {
	m := newEventManager()

	var got []SecurityEvent
	unsubscribe := m.subscribe(func(ev SecurityEvent) {
		got = append(got, ev)
	})
	defer unsubscribe()

	event := SecurityEvent{
		Kind:         EventRotationCommitted,
		UserID:       "alice",
		CollectionID: "col-1",
		At:           time.Now().UTC(),
	}
	m.notify(event)

	if len(got) != 1 {
		t.Fatalf("callback invoked %d times, want 1", len(got))
	}
	if got[0].Kind != EventRotationCommitted || got[0].UserID != "alice" {
		t.Errorf("callback received %+v, want %+v", got[0], event)
	}
}

func TestEventManager_Unsubscribe(t *testing.T) {
	m := newEventManager()

	calls := 0
	unsubscribe := m.subscribe(func(SecurityEvent) { calls++ })

	m.notify(SecurityEvent{Kind: EventIntegrityMismatch})
	unsubscribe()
	m.notify(SecurityEvent{Kind: EventIntegrityMismatch})

	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1", calls)
	}

	// Unsubscribing twice must not panic.
	unsubscribe()
}

func TestEventManager_MultipleSubscribers(t *testing.T) {
	m := newEventManager()

	first, second := 0, 0
	defer m.subscribe(func(SecurityEvent) { first++ })()
	defer m.subscribe(func(SecurityEvent) { second++ })()

	m.notify(SecurityEvent{Kind: EventRotationAborted})

	if first != 1 || second != 1 {
		t.Errorf("callbacks invoked (%d, %d) times, want (1, 1)", first, second)
	}
}

func TestEventManager_UnsubscribeDuringNotify(t *testing.T) {
	m := newEventManager()

	calls := 0
	var unsubscribe func()
	unsubscribe = m.subscribe(func(SecurityEvent) {
		calls++
		unsubscribe()
	})

	// The callback unsubscribes itself; neither call may deadlock.
	m.notify(SecurityEvent{Kind: EventIntegrityMismatch})
	m.notify(SecurityEvent{Kind: EventIntegrityMismatch})

	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1", calls)
	}
}

func TestEventManager_Clear(t *testing.T) {
	m := newEventManager()

	calls := 0
	m.subscribe(func(SecurityEvent) { calls++ })
	m.subscribe(func(SecurityEvent) { calls++ })

	m.clear()
	m.notify(SecurityEvent{Kind: EventRotationCommitted})

	if calls != 0 {
		t.Errorf("callbacks invoked %d times after clear, want 0", calls)
	}
}

func TestEventManager_ConcurrentNotify(t *testing.T) {
	m := newEventManager()

	var mu sync.Mutex
	calls := 0
	defer m.subscribe(func(SecurityEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.notify(SecurityEvent{Kind: EventRotationCommitted})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 10 {
		t.Errorf("callback invoked %d times, want 10", calls)
	}
}
