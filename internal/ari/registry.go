package ari

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// registry is the canonical index of live entities, one map per kind.
// Get-or-create runs under a per-kind construction mutex so that two
// concurrent payloads for the same ID can never produce two instances.
type registry struct {
	closed atomic.Bool

	channelMu sync.Mutex
	channels  map[string]*Channel

	bridgeMu sync.Mutex
	bridges  map[string]*Bridge

	playbackMu sync.Mutex
	playbacks  map[string]*Playback
}

func newRegistry() *registry {
	return &registry{
		channels:  make(map[string]*Channel),
		bridges:   make(map[string]*Bridge),
		playbacks: make(map[string]*Playback),
	}
}

func (r *registry) channel(id string) (*Channel, bool) {
	r.channelMu.Lock()
	defer r.channelMu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

func (r *registry) bridge(id string) (*Bridge, bool) {
	r.bridgeMu.Lock()
	defer r.bridgeMu.Unlock()
	b, ok := r.bridges[id]
	return b, ok
}

func (r *registry) playback(id string) (*Playback, bool) {
	r.playbackMu.Lock()
	defer r.playbackMu.Unlock()
	p, ok := r.playbacks[id]
	return p, ok
}

// channelFromJSON returns the canonical channel for the payload's ID,
// refreshing it if it already exists. After close the constructed entity
// is returned but no longer indexed.
func (r *registry) channelFromJSON(raw json.RawMessage) (*Channel, error) {
	var p channelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding channel payload: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("channel payload without id")
	}
	r.channelMu.Lock()
	defer r.channelMu.Unlock()
	if ch, ok := r.channels[p.ID]; ok {
		ch.refresh(&p, raw)
		return ch, nil
	}
	ch := newChannel(&p, raw)
	if !r.closed.Load() {
		r.channels[p.ID] = ch
	}
	return ch, nil
}

func (r *registry) bridgeFromJSON(raw json.RawMessage) (*Bridge, error) {
	var p bridgePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding bridge payload: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("bridge payload without id")
	}
	r.bridgeMu.Lock()
	defer r.bridgeMu.Unlock()
	if b, ok := r.bridges[p.ID]; ok {
		b.refresh(&p, raw)
		return b, nil
	}
	b := newBridge(&p, raw)
	if !r.closed.Load() {
		r.bridges[p.ID] = b
	}
	return b, nil
}

func (r *registry) playbackFromJSON(raw json.RawMessage) (*Playback, error) {
	var p playbackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding playback payload: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("playback payload without id")
	}
	r.playbackMu.Lock()
	defer r.playbackMu.Unlock()
	if pb, ok := r.playbacks[p.ID]; ok {
		pb.refresh(&p, raw)
		return pb, nil
	}
	pb := newPlayback(&p, raw)
	if !r.closed.Load() {
		r.playbacks[p.ID] = pb
	}
	return pb, nil
}

func (r *registry) removeChannel(id string) {
	r.channelMu.Lock()
	defer r.channelMu.Unlock()
	delete(r.channels, id)
}

func (r *registry) removeBridge(id string) {
	r.bridgeMu.Lock()
	defer r.bridgeMu.Unlock()
	delete(r.bridges, id)
}

func (r *registry) removePlayback(id string) {
	r.playbackMu.Lock()
	defer r.playbackMu.Unlock()
	delete(r.playbacks, id)
}

// close stops further indexing and drops all live entities.
func (r *registry) close() {
	r.closed.Store(true)
	r.channelMu.Lock()
	r.channels = make(map[string]*Channel)
	r.channelMu.Unlock()
	r.bridgeMu.Lock()
	r.bridges = make(map[string]*Bridge)
	r.bridgeMu.Unlock()
	r.playbackMu.Lock()
	r.playbacks = make(map[string]*Playback)
	r.playbackMu.Unlock()
}
