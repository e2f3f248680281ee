package zkcache

import "sync"

// Directory mirrors one registered directory path: the current child set
// and, for each mapped child path, either a deserialized value or the
// static sentinel meaning "look this up in the StaticEntry table instead".
//
// Like StaticEntry, Directory is created during registration and mutated
// only by the dispatch goroutine; readers take the snapshot copy they need
// under the mutex and never hold it across a deserializer call.
type Directory struct {
	path         string
	pathMapper   PathMapper
	deserializer DirDeserializer

	mu      sync.Mutex
	watched map[string]struct{}
	values  map[string]any // any is either a deserialized value or `static`
	version int32
}

func newDirectory(path string, mapper PathMapper, deserializer DirDeserializer) *Directory {
	if deserializer == nil {
		deserializer = func(data []byte) (any, error) { return string(data), nil }
	}
	return &Directory{
		path:         path,
		pathMapper:   mapper,
		deserializer: deserializer,
		watched:      make(map[string]struct{}),
		values:       make(map[string]any),
	}
}

// Mapper exposes the directory's path mapper for engine use.
func (d *Directory) Mapper() PathMapper { return d.pathMapper }

// Deserializer exposes the directory's deserializer for engine use.
func (d *Directory) Deserializer() DirDeserializer { return d.deserializer }

// Watched returns a snapshot of the currently watched mapped paths.
func (d *Directory) Watched() map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]struct{}, len(d.watched))
	for p := range d.watched {
		out[p] = struct{}{}
	}
	return out
}

// replaceWatched installs the new child set wholesale, dropping any value
// entries that are no longer watched, and records the directory node's
// child-list version. It returns the added and removed mapped paths.
func (d *Directory) replaceWatched(incoming map[string]struct{}, version int32) (added, removed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for p := range incoming {
		if _, ok := d.watched[p]; !ok {
			added = append(added, p)
		}
	}
	for p := range d.watched {
		if _, ok := incoming[p]; !ok {
			removed = append(removed, p)
		}
	}

	d.watched = incoming
	for p := range d.values {
		if _, ok := incoming[p]; !ok {
			delete(d.values, p)
		}
	}
	d.version = version
	return added, removed
}

// clear empties the directory, as happens when its own node disappears. It
// returns the mapped paths that were previously watched so the caller can
// release any runtime watches they owned.
func (d *Directory) clear() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous := make([]string, 0, len(d.watched))
	for p := range d.watched {
		previous = append(previous, p)
	}
	d.watched = make(map[string]struct{})
	d.values = make(map[string]any)
	return previous
}

// markStatic records that mappedPath is shadowed by a StaticEntry: readers
// resolve it through the StaticEntry table instead of this Directory's own
// deserializer.
func (d *Directory) markStatic(mappedPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[mappedPath] = static
}

// setValue records a successfully deserialized, non-UseDefault value for a
// runtime-backed mapped path.
func (d *Directory) setValue(mappedPath string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.watched[mappedPath]; !ok {
		return
	}
	d.values[mappedPath] = value
}

// clearValue removes mappedPath's value (used on deserializer failure,
// UseDefault, or node deletion) without affecting watched membership.
func (d *Directory) clearValue(mappedPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.values, mappedPath)
}

// isStaticSlot reports whether mappedPath currently holds the static
// sentinel.
func (d *Directory) isStaticSlot(mappedPath string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[mappedPath]
	if !ok {
		return false
	}
	_, isStatic := v.(staticSlot)
	return isStatic
}

// snapshot returns a copy of the directory's values with static sentinels
// resolved via resolveStatic. A mapped path whose static shadow has since
// been removed (should not happen under the invariants in spec §4.4, but
// defensively) is omitted.
func (d *Directory) snapshot(resolveStatic func(path string) (any, bool)) map[string]any {
	d.mu.Lock()
	entries := make(map[string]any, len(d.values))
	for k, v := range d.values {
		entries[k] = v
	}
	d.mu.Unlock()

	out := make(map[string]any, len(entries))
	for mappedPath, v := range entries {
		if _, ok := v.(staticSlot); ok {
			if resolved, ok := resolveStatic(mappedPath); ok {
				out[mappedPath] = resolved
			}
			continue
		}
		out[mappedPath] = v
	}
	return out
}

// Len reports the number of mapped paths currently carrying a value
// (static or runtime-backed).
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.values)
}
