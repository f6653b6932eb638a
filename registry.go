package mux

import "sync"

// channelMap is a single name -> *ChannelStream mapping guarded by its own
// mutex, the unit ChannelRegistry composes three of (one per ChannelKind).
type channelMap struct {
	mu sync.Mutex
	m  map[ChannelName]*ChannelStream
}

func newChannelMap() *channelMap {
	return &channelMap{m: make(map[ChannelName]*ChannelStream)}
}

func (cm *channelMap) insert(name ChannelName, ch *ChannelStream) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, exists := cm.m[name]; exists {
		return ErrDuplicateChannel
	}
	cm.m[name] = ch
	return nil
}

func (cm *channelMap) get(name ChannelName) (*ChannelStream, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ch, ok := cm.m[name]
	return ch, ok
}

func (cm *channelMap) remove(name ChannelName) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.m, name)
}

// snapshot copies the current set of channels so the caller can dispose them
// without holding cm.mu across the callback (disposal removes entries from
// this very map).
func (cm *channelMap) snapshot() []*ChannelStream {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*ChannelStream, 0, len(cm.m))
	for _, ch := range cm.m {
		out = append(out, ch)
	}
	return out
}

// ChannelRegistry holds the three independent name -> Channel mappings, one
// per ChannelKind. A name may appear at most once per kind; names across
// kinds are independent. All operations are atomic under their kind's lock.
type ChannelRegistry struct {
	kinds [numChannelKinds]*channelMap
}

func newChannelRegistry() *ChannelRegistry {
	r := &ChannelRegistry{}
	for i := range r.kinds {
		r.kinds[i] = newChannelMap()
	}
	return r
}

// Insert adds ch under (kind, name). It fails with ErrDuplicateChannel if an
// entry already exists for that kind and name.
func (r *ChannelRegistry) Insert(kind ChannelKind, name ChannelName, ch *ChannelStream) error {
	return r.kinds[kind].insert(name, ch)
}

// Get looks up the channel for (kind, name).
func (r *ChannelRegistry) Get(kind ChannelKind, name ChannelName) (*ChannelStream, bool) {
	return r.kinds[kind].get(name)
}

// Has reports whether a channel exists for (kind, name).
func (r *ChannelRegistry) Has(kind ChannelKind, name ChannelName) bool {
	_, ok := r.kinds[kind].get(name)
	return ok
}

// Remove deletes the entry for (kind, name), if any.
func (r *ChannelRegistry) Remove(kind ChannelKind, name ChannelName) {
	r.kinds[kind].remove(name)
}

// Snapshot returns a point-in-time copy of all channels of the given kind,
// for use during shutdown iteration.
func (r *ChannelRegistry) Snapshot(kind ChannelKind) []*ChannelStream {
	return r.kinds[kind].snapshot()
}

// SnapshotAll returns a point-in-time copy of every channel across all
// kinds.
func (r *ChannelRegistry) SnapshotAll() []*ChannelStream {
	var all []*ChannelStream
	for k := range r.kinds {
		all = append(all, r.kinds[k].snapshot()...)
	}
	return all
}
