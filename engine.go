package zkcache

import (
	"sync"
	"time"

	"github.com/petermattis/goid"

	"zkcache/internal/logging"
)

const maxInlineRetries = 8

// WatchEngine is the state machine tying StaticEntry/Directory/
// RuntimeRegistry/PendingQueue to a Client. All of its update_* methods and
// process_pending execute on the Client's single dispatch goroutine; this
// is enforced defensively (assertDispatchThread panics on a violation)
// rather than merely assumed, because the whole correctness argument in
// spec §5 depends on it.
type WatchEngine struct {
	client   Client
	notifier Notifier
	logger   *logging.Logger

	statics        map[string]*StaticEntry
	staticOrder    []string
	directories    map[string]*Directory
	directoryOrder []string

	registry *RuntimeRegistry
	pending  *PendingQueue

	mu            sync.Mutex
	haveSession   bool
	lastSessionID SessionID

	warmMu   sync.Mutex
	warm     chan struct{}
	warmed   bool

	dispatchMu       sync.Mutex
	dispatchCaptured bool
	dispatchGoroutine int64

	subsMu        sync.Mutex
	subscriptions []Subscription
}

func newWatchEngine(
	statics map[string]*StaticEntry,
	staticOrder []string,
	directories map[string]*Directory,
	directoryOrder []string,
	notifier Notifier,
	logger *logging.Logger,
) *WatchEngine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &WatchEngine{
		notifier:       notifier,
		logger:         logger,
		statics:        statics,
		staticOrder:    staticOrder,
		directories:    directories,
		directoryOrder: directoryOrder,
		registry:       newRuntimeRegistry(),
		pending:        newPendingQueue(),
		warm:           make(chan struct{}),
	}
}

// assertDispatchThread captures the dispatch goroutine's identity on first
// use and panics with a *StateError on every subsequent call from a
// different goroutine.
func (e *WatchEngine) assertDispatchThread() {
	id := goid.Get()
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if !e.dispatchCaptured {
		e.dispatchGoroutine = id
		e.dispatchCaptured = true
		return
	}
	if id != e.dispatchGoroutine {
		panic(newStateError("update invoked from goroutine %d, expected dispatch goroutine %d", id, e.dispatchGoroutine))
	}
}

// forgetDispatchThread discards the captured dispatch goroutine identity so
// a fresh one can be captured after a fork hands the cache to a child
// process with a freshly reopened client.
func (e *WatchEngine) forgetDispatchThread() {
	e.dispatchMu.Lock()
	e.dispatchCaptured = false
	e.dispatchMu.Unlock()
}

// Start installs a watch subscription per registered path, an on_connected
// handler, and an on_exception sink, per spec §4.2.
func (e *WatchEngine) Start(client Client) error {
	if client.Connected() || client.Connecting() {
		return newLifecycleError("start called against a client that is already connected or connecting")
	}
	e.client = client

	for _, path := range e.staticOrder {
		p := path
		sub, err := client.Register(p, func(WatchEvent) {
			if !e.updateStatic(p) {
				e.enqueueAndScheduleDrain(p, PendingStatic)
			}
		})
		if err != nil {
			return err
		}
		e.addSubscription(sub)
	}

	for _, path := range e.directoryOrder {
		p := path
		sub, err := client.Register(p, func(WatchEvent) {
			if !e.updateDirectory(p) {
				e.enqueueAndScheduleDrain(p, PendingDirectory)
			}
		})
		if err != nil {
			return err
		}
		e.addSubscription(sub)
	}

	sub, err := client.OnConnected(e.onConnected)
	if err != nil {
		return err
	}
	e.addSubscription(sub)

	sub, err = client.OnException(e.onException)
	if err != nil {
		return err
	}
	e.addSubscription(sub)

	return nil
}

func (e *WatchEngine) addSubscription(sub Subscription) {
	e.subsMu.Lock()
	e.subscriptions = append(e.subscriptions, sub)
	e.subsMu.Unlock()
}

func (e *WatchEngine) enqueueAndScheduleDrain(path string, kind PendingKind) {
	e.pending.Enqueue(path, kind)
	if e.client != nil {
		e.client.Defer(e.processPending)
	}
}

// onConnected implements spec §4.2's reconnect/new-session branch.
func (e *WatchEngine) onConnected() {
	e.assertDispatchThread()
	current := e.client.SessionID()

	e.mu.Lock()
	sameSession := e.haveSession && current == e.lastSessionID
	e.mu.Unlock()

	if sameSession {
		e.processPending()
		return
	}

	e.mu.Lock()
	e.haveSession = true
	e.lastSessionID = current
	e.mu.Unlock()

	e.pending.Clear()

	for _, path := range e.staticOrder {
		if !e.updateStatic(path) {
			e.pending.Enqueue(path, PendingStatic)
		}
	}
	for _, path := range e.directoryOrder {
		if !e.updateDirectory(path) {
			e.pending.Enqueue(path, PendingDirectory)
		}
	}
	for _, path := range e.registry.Paths() {
		if !e.updateRuntime(path) {
			e.pending.Enqueue(path, PendingRuntime)
		}
	}

	e.releaseWarm()
	e.client.Defer(e.processPending)
}

func (e *WatchEngine) onException(err error) {
	if e.logger != nil {
		e.logger.Error("client exception", map[string]string{"error": err.Error()})
	}
}

// releaseWarm closes the warm latch exactly once.
func (e *WatchEngine) releaseWarm() {
	e.warmMu.Lock()
	defer e.warmMu.Unlock()
	if e.warmed {
		return
	}
	e.warmed = true
	close(e.warm)
}

// WaitWarm blocks until the warm latch is released or timeout elapses.
func (e *WatchEngine) WaitWarm(timeout time.Duration) bool {
	e.warmMu.Lock()
	ch := e.warm
	e.warmMu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ResetForReopen clears session state and the warm latch ahead of a
// reopen, per spec §4.6/§5 ("reconstruct the warm latch and clear session
// state before the child's client reconnects").
func (e *WatchEngine) ResetForReopen() {
	e.mu.Lock()
	e.haveSession = false
	e.lastSessionID = 0
	e.mu.Unlock()

	e.warmMu.Lock()
	e.warmed = false
	e.warm = make(chan struct{})
	e.warmMu.Unlock()

	e.pending.Clear()
	e.forgetDispatchThread()
}

// processPending drains every path whose retry may now succeed.
func (e *WatchEngine) processPending() {
	e.assertDispatchThread()
	if e.pending.Len() == 0 {
		return
	}
	if !e.client.Connected() {
		return
	}
	for path, kind := range e.pending.Snapshot() {
		var ok bool
		switch kind {
		case PendingStatic:
			ok = e.updateStatic(path)
		case PendingDirectory:
			ok = e.updateDirectory(path)
		case PendingRuntime:
			ok = e.updateRuntime(path)
		}
		if ok {
			e.pending.Delete(path)
		}
	}
}

// Close unregisters every subscription and drops pending/runtime state.
// Serialised onto the dispatch goroutine per spec §5.
func (e *WatchEngine) Close() error {
	if e.client == nil {
		return e.closeLocal()
	}
	done := make(chan struct{})
	var closeErr error
	e.client.Defer(func() {
		closeErr = e.closeLocal()
		close(done)
	})
	<-done
	return closeErr
}

func (e *WatchEngine) closeLocal() error {
	e.subsMu.Lock()
	subs := e.subscriptions
	e.subscriptions = nil
	e.subsMu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.registry.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.pending.Clear()
	return firstErr
}

func (e *WatchEngine) statWithRetry(path string, watch bool) (Stat, error) {
	for attempt := 0; attempt < maxInlineRetries; attempt++ {
		stat, err := e.client.Stat(path, watch)
		if err == nil {
			return stat, nil
		}
		if !IsTransient(err) || !e.client.Connected() {
			return Stat{}, err
		}
	}
	return e.client.Stat(path, watch)
}

func (e *WatchEngine) getWithRetry(path string, watch bool) ([]byte, Stat, error) {
	for attempt := 0; attempt < maxInlineRetries; attempt++ {
		data, stat, err := e.client.Get(path, watch)
		if err == nil {
			return data, stat, nil
		}
		if !IsTransient(err) || !e.client.Connected() {
			return nil, Stat{}, err
		}
	}
	return e.client.Get(path, watch)
}

func (e *WatchEngine) childrenWithRetry(path string, watch bool) ([]string, error) {
	for attempt := 0; attempt < maxInlineRetries; attempt++ {
		children, err := e.client.Children(path, watch)
		if err == nil {
			return children, nil
		}
		if !IsTransient(err) || !e.client.Connected() {
			return nil, err
		}
	}
	return e.client.Children(path, watch)
}

// updateStatic is spec §4.2's update_static.
func (e *WatchEngine) updateStatic(path string) bool {
	e.assertDispatchThread()

	entry := e.statics[path]
	if entry == nil {
		return true
	}
	if !e.client.Connected() {
		return false
	}

	stat, err := e.statWithRetry(path, true)
	if err != nil {
		e.logWarn("static stat failed", path, err)
		return false
	}

	if !stat.Exists {
		old := entry.Fetch()
		snap := entry.setMissing()
		e.publishStatic(path, snap.value, old, snap.stat, nil)
		return true
	}

	data, stat, err := e.getWithRetry(path, true)
	if err != nil {
		e.logWarn("static get failed", path, err)
		return false
	}

	result, derr := safeDeserialize(func() (any, error) { return entry.deserializer(data, stat) })
	if derr != nil {
		e.logWarn("static deserialize failed", path, derr)
		snap, old := entry.setDeserializeFailed(stat)
		e.publishStatic(path, snap.value, old, stat, derr)
		return true
	}

	snap, old := entry.setDeserialized(result, stat)
	e.publishStatic(path, snap.value, old, stat, nil)
	return true
}

// updateDirectory is spec §4.2's update_directory.
func (e *WatchEngine) updateDirectory(path string) bool {
	e.assertDispatchThread()

	dir := e.directories[path]
	if dir == nil {
		return true
	}
	if !e.client.Connected() {
		return false
	}

	stat, err := e.statWithRetry(path, true)
	if err != nil {
		e.logWarn("directory stat failed", path, err)
		return false
	}

	if !stat.Exists {
		previous := dir.clear()
		e.releaseRuntimeOwnership(dir, previous)
		e.publishDirectory(path, nil, 0, stat, nil)
		return true
	}

	children, err := e.childrenWithRetry(path, true)
	if err != nil {
		e.logWarn("directory children failed", path, err)
		return false
	}

	incoming := make(map[string]struct{}, len(children))
	for _, child := range children {
		incoming[dir.Mapper()(child)] = struct{}{}
	}
	added, removed := dir.replaceWatched(incoming, stat.ChildVersion)

	for _, mapped := range added {
		if _, isStaticPath := e.statics[mapped]; isStaticPath {
			dir.markStatic(mapped)
			continue
		}
		mappedPath := mapped
		owner := dir
		err := e.registry.Acquire(mappedPath, owner, func() (Subscription, error) {
			return e.client.Register(mappedPath, func(WatchEvent) {
				if !e.updateRuntime(mappedPath) {
					e.enqueueAndScheduleDrain(mappedPath, PendingRuntime)
				}
			})
		})
		if err != nil {
			e.logWarn("acquire runtime watch failed", mappedPath, err)
			continue
		}
		if !e.updateRuntime(mappedPath) {
			e.enqueueAndScheduleDrain(mappedPath, PendingRuntime)
		}
	}

	for _, mapped := range removed {
		if _, isStaticPath := e.statics[mapped]; isStaticPath {
			continue
		}
		if err := e.registry.Release(mapped, dir); err != nil {
			e.logWarn("release runtime watch failed", mapped, err)
		}
	}

	values := dir.snapshot(e.resolveStatic)
	childPaths := make([]string, 0, len(values))
	for p := range values {
		childPaths = append(childPaths, p)
	}
	e.publishDirectory(path, childPaths, stat.ChildVersion, stat, nil)
	return true
}

func (e *WatchEngine) releaseRuntimeOwnership(dir *Directory, mappedPaths []string) {
	for _, mapped := range mappedPaths {
		if _, isStaticPath := e.statics[mapped]; isStaticPath {
			continue
		}
		if err := e.registry.Release(mapped, dir); err != nil {
			e.logWarn("release runtime watch failed", mapped, err)
		}
	}
}

// updateRuntime is spec §4.2's update_runtime.
func (e *WatchEngine) updateRuntime(path string) bool {
	e.assertDispatchThread()

	if !e.client.Connected() {
		return false
	}
	owners := e.registry.Owners(path)
	if len(owners) == 0 {
		return true
	}

	stat, err := e.statWithRetry(path, true)
	if err != nil {
		e.logWarn("runtime stat failed", path, err)
		return false
	}

	if !stat.Exists {
		for _, d := range owners {
			d.clearValue(path)
		}
		e.publishRuntime(path, nil, stat, nil)
		return true
	}

	data, stat, err := e.getWithRetry(path, true)
	if err != nil {
		e.logWarn("runtime get failed", path, err)
		return false
	}

	var lastErr error
	var lastValue any
	for _, d := range owners {
		result, derr := safeDeserialize(func() (any, error) { return d.Deserializer()(data) })
		if derr != nil {
			d.clearValue(path)
			lastErr = derr
			continue
		}
		if isUseDefault(result) {
			d.clearValue(path)
			continue
		}
		d.setValue(path, result)
		lastValue = result
	}
	e.publishRuntime(path, lastValue, stat, lastErr)
	return true
}

func (e *WatchEngine) resolveStatic(path string) (any, bool) {
	entry, ok := e.statics[path]
	if !ok {
		return nil, false
	}
	return entry.Fetch(), true
}

func (e *WatchEngine) logWarn(message, path string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.WithPath(path).Warn(message, map[string]string{"error": err.Error()})
}

func (e *WatchEngine) publishStatic(path string, value, old any, stat Stat, derr error) {
	payload := map[string]any{
		"path":        path,
		"value":       value,
		"old_value":   old,
		"version":     stat.Version,
		"data_length": stat.DataLength,
	}
	if !stat.Mtime.IsZero() {
		payload["latency_seconds"] = time.Since(stat.Mtime).Seconds()
	}
	if derr != nil {
		payload["error"] = derr.Error()
	}
	e.notifier.Publish(ChannelStatic, payload)
}

func (e *WatchEngine) publishDirectory(path string, childPaths []string, version int32, stat Stat, derr error) {
	payload := map[string]any{
		"path":              path,
		"directory_paths":   childPaths,
		"directory_version": version,
		"data_length":       stat.DataLength,
	}
	if !stat.Mtime.IsZero() {
		payload["latency_seconds"] = time.Since(stat.Mtime).Seconds()
	}
	if derr != nil {
		payload["error"] = derr.Error()
	}
	e.notifier.Publish(ChannelDirectory, payload)
}

func (e *WatchEngine) publishRuntime(path string, value any, stat Stat, derr error) {
	payload := map[string]any{
		"path":        path,
		"value":       value,
		"data_length": stat.DataLength,
	}
	if !stat.Mtime.IsZero() {
		payload["latency_seconds"] = time.Since(stat.Mtime).Seconds()
	}
	if derr != nil {
		payload["error"] = derr.Error()
	}
	e.notifier.Publish(ChannelRuntime, payload)
}

// safeDeserialize recovers a panicking deserializer and reports it as a
// deserialization failure, per SPEC_FULL's "deserializer panic containment".
func safeDeserialize(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newStateError("deserializer panicked: %v", r)
		}
	}()
	return fn()
}
