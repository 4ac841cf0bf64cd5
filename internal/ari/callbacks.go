package ari

import (
	"reflect"
	"sync"
)

// EventHandler is a class-level callback invoked for every delivered event
// of the type it was registered for.
type EventHandler func(c *Client, ev *Event)

// EntityHandler is a per-entity callback invoked when an event of the
// registered type references the registered entity ID.
type EntityHandler func(c *Client, ev *Event, ent Entity)

type classEntry struct {
	fn  EventHandler
	key uintptr
}

type entityEntry struct {
	fn  EntityHandler
	key uintptr
}

// funcKey identifies a callback for dedup and removal. Function values are
// not comparable in Go, so the code pointer stands in for identity.
func funcKey(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// callbacks holds both callback maps behind one mutex. Dispatch reads
// snapshots, so handlers may register or remove callbacks freely; their
// changes are observed from the next event onward.
type callbacks struct {
	mu     sync.Mutex
	class  map[string][]classEntry
	entity map[string]map[string][]entityEntry
}

func newCallbacks() *callbacks {
	return &callbacks{
		class:  make(map[string][]classEntry),
		entity: make(map[string]map[string][]entityEntry),
	}
}

// addClass appends fn to the class chain for eventType. Registering the
// same function twice for the same type is a no-op.
func (cb *callbacks) addClass(eventType string, fn EventHandler) {
	key := funcKey(fn)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for _, e := range cb.class[eventType] {
		if e.key == key {
			return
		}
	}
	cb.class[eventType] = append(cb.class[eventType], classEntry{fn: fn, key: key})
}

func (cb *callbacks) removeClass(eventType string, fn EventHandler) {
	key := funcKey(fn)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	chain := cb.class[eventType]
	for i, e := range chain {
		if e.key == key {
			cb.class[eventType] = append(chain[:i:i], chain[i+1:]...)
			return
		}
	}
}

func (cb *callbacks) addEntity(eventType, entityID string, fn EntityHandler) {
	key := funcKey(fn)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	byID := cb.entity[eventType]
	if byID == nil {
		byID = make(map[string][]entityEntry)
		cb.entity[eventType] = byID
	}
	for _, e := range byID[entityID] {
		if e.key == key {
			return
		}
	}
	byID[entityID] = append(byID[entityID], entityEntry{fn: fn, key: key})
}

// purgeEntity drops every per-entity chain keyed by entityID across all
// event types. Called on finish eviction and never partially: after it
// returns no callback for the ID remains.
func (cb *callbacks) purgeEntity(entityID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for _, byID := range cb.entity {
		delete(byID, entityID)
	}
}

func (cb *callbacks) classSnapshot(eventType string) []EventHandler {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	chain := cb.class[eventType]
	if len(chain) == 0 {
		return nil
	}
	out := make([]EventHandler, len(chain))
	for i, e := range chain {
		out[i] = e.fn
	}
	return out
}

func (cb *callbacks) entitySnapshot(eventType, entityID string) []EntityHandler {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	chain := cb.entity[eventType][entityID]
	if len(chain) == 0 {
		return nil
	}
	out := make([]EntityHandler, len(chain))
	for i, e := range chain {
		out[i] = e.fn
	}
	return out
}
