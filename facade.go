package zkcache

import (
	"sync"
	"time"

	"zkcache/internal/logging"
)

// phase tracks CacheFacade's three-phase lifecycle: registration calls are
// only valid in Registering, reader calls only from Running onward.
type phase int

const (
	phaseRegistering phase = iota
	phaseRunning
	phaseClosed
)

// CacheFacade is the library's single exported entry point. A caller
// constructs one with New, calls RegisterStatic/RegisterDirectory any
// number of times, then Start(client) once; after that the cache is
// read-only from the caller's perspective until Close.
type CacheFacade struct {
	notifier Notifier
	logger   *logging.Logger

	mu    sync.Mutex
	ph    phase
	owned bool // true when CacheFacade opened its own Client (see NewOwning)

	statics        map[string]*StaticEntry
	staticOrder    []string
	directories    map[string]*Directory
	directoryOrder []string

	engine *WatchEngine
	client Client
}

// Option configures a CacheFacade at construction time.
type Option func(*CacheFacade)

// WithNotifier installs a Notifier that receives every static/directory/
// runtime update event. The default is a no-op sink.
func WithNotifier(n Notifier) Option {
	return func(c *CacheFacade) { c.notifier = n }
}

// WithLogger installs a *logging.Logger. The default is a Logger with no
// output writer, i.e. logs are dropped but still recorded to its buffer.
func WithLogger(l *logging.Logger) Option {
	return func(c *CacheFacade) { c.logger = l }
}

// New constructs a CacheFacade in the Registering phase. The caller is
// expected to supply its own Client to Start (the "caller-owns-client"
// mode described in spec §6).
func New(opts ...Option) *CacheFacade {
	c := &CacheFacade{
		statics:     make(map[string]*StaticEntry),
		directories: make(map[string]*Directory),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}
	return c
}

// NewOwning builds a CacheFacade that also owns its Client. dial is called
// once to open the connection (a caller typically passes
// func() (zkcache.Client, error) { return zkclient.Dial(hosts, opts) } from
// internal/zkclient, or internal/localclient's equivalent in tests — this
// package never imports either adapter, to keep the core free of any
// concrete transport). A caller constructing from a config file loads
// internal/config.Options and passes zkclient.DialFunc(opts) as dial, using
// opts.DialTimeout as the timeout argument below. register populates
// RegisterStatic/RegisterDirectory
// calls; NewOwning then starts the engine and waits up to timeout for the
// warm latch before returning. This is the "cache-owning" construction mode
// of spec §6: host/timeout/options are only meaningful together with a
// dial+register pair, which this signature enforces structurally.
func NewOwning(dial func() (Client, error), timeout time.Duration, register func(*CacheFacade) error, opts ...Option) (*CacheFacade, error) {
	if dial == nil {
		return nil, newArgumentError("NewOwning requires a dial function")
	}
	if timeout <= 0 {
		return nil, newArgumentError("NewOwning requires a positive timeout")
	}
	if register == nil {
		return nil, newArgumentError("NewOwning requires a register function")
	}

	c := New(opts...)
	c.owned = true

	if err := register(c); err != nil {
		return nil, err
	}

	client, err := dial()
	if err != nil {
		return nil, err
	}

	if err := c.Start(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if !c.WaitForWarmCache(timeout) {
		c.logger.Warn("warm cache wait timed out", map[string]string{"timeout": timeout.String()})
	}

	return c, nil
}

func (c *CacheFacade) requirePhase(want phase, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ph != want {
		return newLifecycleError("%s is not valid in the current lifecycle phase", action)
	}
	return nil
}

// RegisterStatic registers a single path whose value is the whole node's
// content. Must be called before Start. Registering the same path twice is
// an error.
func (c *CacheFacade) RegisterStatic(path string, defaultValue any, deserializer Deserializer) (*StaticEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ph != phaseRegistering {
		return nil, newLifecycleError("RegisterStatic is only valid before Start")
	}
	if _, exists := c.statics[path]; exists {
		return nil, newLifecycleError("path %q is already registered as static", path)
	}
	if _, exists := c.directories[path]; exists {
		return nil, newLifecycleError("path %q is already registered as a directory", path)
	}

	entry := newStaticEntry(path, defaultValue, deserializer)
	c.statics[path] = entry
	c.staticOrder = append(c.staticOrder, path)

	c.publishRegistration(ChannelStatic, path, defaultValue)
	return entry, nil
}

// RegisterDirectory registers a directory path whose children are mapped
// through mapper and deserialized through deserializer. Must be called
// before Start. Registering the same path twice is an error.
func (c *CacheFacade) RegisterDirectory(path string, mapper PathMapper, deserializer DirDeserializer) (*Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ph != phaseRegistering {
		return nil, newLifecycleError("RegisterDirectory is only valid before Start")
	}
	if _, exists := c.directories[path]; exists {
		return nil, newLifecycleError("path %q is already registered as a directory", path)
	}
	if _, exists := c.statics[path]; exists {
		return nil, newLifecycleError("path %q is already registered as static", path)
	}
	if mapper == nil {
		mapper = func(childName string) string { return path + "/" + childName }
	}

	dir := newDirectory(path, mapper, deserializer)
	c.directories[path] = dir
	c.directoryOrder = append(c.directoryOrder, path)

	c.publishRegistration(ChannelDirectory, path, nil)
	return dir, nil
}

func (c *CacheFacade) publishRegistration(channel Channel, path string, defaultValue any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(channel, map[string]any{
		"path":    path,
		"value":   defaultValue,
		"default": true,
	})
}

// Start freezes the registration tables and begins serving the supplied
// Client. It is an error to call Start twice, or against a Client that is
// already connected or connecting.
func (c *CacheFacade) Start(client Client) error {
	c.mu.Lock()
	if c.ph != phaseRegistering {
		c.mu.Unlock()
		return newLifecycleError("Start is only valid once, from the Registering phase")
	}
	c.client = client
	c.engine = newWatchEngine(c.statics, c.staticOrder, c.directories, c.directoryOrder, c.notifier, c.logger)
	c.ph = phaseRunning
	c.mu.Unlock()

	return c.engine.Start(client)
}

// Reopen drops session state and, for a CacheFacade-owned Client, closes
// and reopens the underlying connection; for a caller-supplied Client it
// resets engine-side session bookkeeping and defers to the caller's own
// Client.Reopen, whose resulting on_connected callback then drives the
// fresh-session seeding path.
func (c *CacheFacade) Reopen() error {
	c.mu.Lock()
	engine := c.engine
	client := c.client
	c.mu.Unlock()

	if engine == nil || client == nil {
		return newLifecycleError("Reopen is only valid after Start")
	}

	engine.ResetForReopen()
	return client.Reopen()
}

// Close tears down every subscription and, if this CacheFacade owns its
// Client, closes it too. Safe to call more than once.
func (c *CacheFacade) Close() error {
	c.mu.Lock()
	if c.ph == phaseClosed {
		c.mu.Unlock()
		return nil
	}
	c.ph = phaseClosed
	engine := c.engine
	client := c.client
	owned := c.owned
	c.mu.Unlock()

	var firstErr error
	if engine != nil {
		if err := engine.Close(); err != nil {
			firstErr = err
		}
	}
	if owned && client != nil {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fetch returns the current value at a registered static path, or a
// *PathError if path was never registered.
func (c *CacheFacade) Fetch(path string) (any, error) {
	entry, ok := c.statics[path]
	if !ok {
		return nil, newPathError(path)
	}
	return entry.Fetch(), nil
}

// FetchValid returns (value, nil) iff path is registered static and its
// current value came from a successful deserialization of an existing
// node. It returns (nil, nil) if the path is registered but not currently
// valid (never fetched, deleted, or its last deserialization failed), and
// a *PathError if path was never registered, matching Fetch and
// FetchDirectoryValues.
func (c *CacheFacade) FetchValid(path string) (any, error) {
	entry, ok := c.statics[path]
	if !ok {
		return nil, newPathError(path)
	}
	value, valid := entry.FetchValid()
	if !valid {
		return nil, nil
	}
	return value, nil
}

// FetchDirectoryValues returns a snapshot of every mapped child currently
// carrying a value under path, or a *PathError if path was never
// registered as a directory.
func (c *CacheFacade) FetchDirectoryValues(path string) (map[string]any, error) {
	dir, ok := c.directories[path]
	if !ok {
		return nil, newPathError(path)
	}
	return dir.snapshot(c.engine.resolveStatic), nil
}

// WaitForWarmCache blocks until every registered path has undergone at
// least one update pass against the current session, or timeout elapses.
// It returns false on timeout.
func (c *CacheFacade) WaitForWarmCache(timeout time.Duration) bool {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return false
	}
	return engine.WaitWarm(timeout)
}

// IsStaticRegistered reports whether path was registered via
// RegisterStatic.
func (c *CacheFacade) IsStaticRegistered(path string) bool {
	_, ok := c.statics[path]
	return ok
}

// IsDirectoryRegistered reports whether path was registered via
// RegisterDirectory.
func (c *CacheFacade) IsDirectoryRegistered(path string) bool {
	_, ok := c.directories[path]
	return ok
}

// IsRuntimeWatched reports whether path currently has a live RuntimeWatch,
// i.e. it was discovered as a directory child and is not shadowed by a
// StaticEntry.
func (c *CacheFacade) IsRuntimeWatched(path string) bool {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return false
	}
	return engine.registry.Has(path)
}
