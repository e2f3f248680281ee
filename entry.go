package zkcache

import "sync"

// StaticEntry mirrors one statically registered path. It is created during
// the registration phase and mutated only by the dispatch goroutine after
// Start; readers may observe it concurrently from any goroutine.
type StaticEntry struct {
	path         string
	defaultValue any
	deserializer Deserializer

	mu    sync.Mutex
	value any
	valid bool
	stat  Stat
}

func newStaticEntry(path string, defaultValue any, deserializer Deserializer) *StaticEntry {
	if deserializer == nil {
		deserializer = func(data []byte, _ Stat) (any, error) { return string(data), nil }
	}
	return &StaticEntry{
		path:         path,
		defaultValue: defaultValue,
		deserializer: deserializer,
		value:        defaultValue,
	}
}

// staticSnapshot is the triple readers observe atomically.
type staticSnapshot struct {
	value any
	valid bool
	stat  Stat
}

func (e *StaticEntry) load() staticSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return staticSnapshot{value: e.value, valid: e.valid, stat: e.stat}
}

// setMissing records that the node does not currently exist: value reverts
// to the default and the entry becomes invalid.
func (e *StaticEntry) setMissing() staticSnapshot {
	e.mu.Lock()
	old := e.value
	e.value = e.defaultValue
	e.valid = false
	e.stat = Stat{}
	snap := staticSnapshot{value: e.value, valid: e.valid, stat: e.stat}
	e.mu.Unlock()
	_ = old
	return snap
}

// setDeserialized records a successful fetch. result is the deserializer's
// return value as returned: if it is UseDefault the value reverts to the
// default and the entry becomes invalid, otherwise result becomes the valid
// value. The stat is recorded in both cases.
func (e *StaticEntry) setDeserialized(result any, stat Stat) (snap staticSnapshot, old any) {
	e.mu.Lock()
	old = e.value
	if isUseDefault(result) {
		e.value = e.defaultValue
		e.valid = false
	} else {
		e.value = result
		e.valid = true
	}
	e.stat = stat
	snap = staticSnapshot{value: e.value, valid: e.valid, stat: e.stat}
	e.mu.Unlock()
	return snap, old
}

// setDeserializeFailed records a deserializer failure: value reverts to
// default, the entry is invalid, but the pass is still a success.
func (e *StaticEntry) setDeserializeFailed(stat Stat) (snap staticSnapshot, old any) {
	e.mu.Lock()
	old = e.value
	e.value = e.defaultValue
	e.valid = false
	e.stat = stat
	snap = staticSnapshot{value: e.value, valid: e.valid, stat: e.stat}
	e.mu.Unlock()
	return snap, old
}

// Fetch returns the entry's current value (default if never successfully
// deserialized, or if deserialization failed, or after node deletion).
func (e *StaticEntry) Fetch() any {
	return e.load().value
}

// FetchValid returns (value, true) iff the value came from a successful,
// non-UseDefault deserialization of an existing node.
func (e *StaticEntry) FetchValid() (any, bool) {
	snap := e.load()
	if !snap.valid {
		return nil, false
	}
	return snap.value, true
}

// LastStat returns the most recently observed Stat for this path.
func (e *StaticEntry) LastStat() Stat {
	return e.load().stat
}
