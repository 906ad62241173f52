package keyfold

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SecurityEventKind identifies a class of security-relevant occurrence.
type SecurityEventKind string

const (
	// EventIntegrityMismatch fires when a computed integrity root differs
	// from the persisted root.
	EventIntegrityMismatch SecurityEventKind = "integrity_mismatch"
	// EventRotationCommitted fires after a collection key rotation commits.
	EventRotationCommitted SecurityEventKind = "rotation_committed"
	// EventRotationAborted fires when a rotation gives up; the prior key
	// generation remains authoritative.
	EventRotationAborted SecurityEventKind = "rotation_aborted"
)

// SecurityEvent describes a security-relevant occurrence in the core.
//
// Unlock attempts deliberately emit no events: an event stream that fires on
// some outcomes and not others would be a side channel into the duress
// subsystem.
type SecurityEvent struct {
	Kind         SecurityEventKind
	UserID       string
	CollectionID string
	Detail       string
	At           time.Time
}

// OnSecurityEvent registers a callback for security events. Callbacks run
// synchronously on the goroutine that produced the event and should return
// quickly. The returned function unsubscribes; it is safe to call more than
// once.
func (c *Core) OnSecurityEvent(fn func(SecurityEvent)) func() {
	return c.events.subscribe(fn)
}

// eventSub is one registered security event callback.
type eventSub struct {
	id       string
	callback func(SecurityEvent)
	active   atomic.Bool
}

// eventManager fans security events out to subscribers with safe lifecycle
// management: a callback is never invoked after its unsubscribe returns.
type eventManager struct {
	mu     sync.RWMutex
	subs   map[string]*eventSub
	nextID atomic.Uint64
}

func newEventManager() *eventManager {
	return &eventManager{
		subs: make(map[string]*eventSub),
	}
}

// subscribe registers a callback and returns its unsubscribe function.
func (m *eventManager) subscribe(fn func(SecurityEvent)) func() {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &eventSub{id: id, callback: fn}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	return func() {
		m.unsubscribe(id)
	}
}

// unsubscribe removes a subscription. Safe to call multiple times.
func (m *eventManager) unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[id]; ok {
		sub.active.Store(false) // mark inactive before removing
		delete(m.subs, id)
	}
}

// notify invokes all active callbacks. Subscriptions are copied under the
// read lock and invoked after releasing it, so a callback may unsubscribe
// itself without deadlocking.
func (m *eventManager) notify(event SecurityEvent) {
	m.mu.RLock()
	if len(m.subs) == 0 {
		m.mu.RUnlock()
		return
	}
	subs := make([]*eventSub, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(event)
		}
	}
}

// clear drops all subscriptions. Called during Core.Close.
func (m *eventManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		sub.active.Store(false)
	}
	m.subs = make(map[string]*eventSub)
}
