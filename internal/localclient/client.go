package localclient

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"zkcache/internal/logging"
	"zkcache"
)

const (
	defaultDebounce    = 50 * time.Millisecond
	defaultDialTimeout = 200 * time.Millisecond
	maxRestartAttempts = 3
	restartBaseDelay   = 100 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	Logger       *logging.Logger
	Debounce     time.Duration
	DialTimeout  time.Duration
}

// Client is a zkcache.Client backed by a directory tree on the local
// filesystem. All Stat/Get/Children/Register/OnConnected/OnException calls,
// and every closure passed to Defer, run on the client's single dispatch
// goroutine, mirroring the single-threaded callback discipline internal/
// watcher.Watcher uses for fsnotify delivery.
type Client struct {
	root   string
	logger *logging.Logger

	raw      *fsnotify.Watcher
	debounce time.Duration

	dispatch chan func()
	done     chan struct{}
	closed   bool

	mu          sync.Mutex
	connected   bool
	connecting  bool
	sessionID   int64
	armed       map[string]bool
	watchedDir  map[string]int
	watchOwners map[string][]string
	handlers    map[string]func(zkcache.WatchEvent)
	onConn      []func()
	onExc       []func(error)

	restartMu       sync.Mutex
	restartAttempts int
	restartTimer    *time.Timer

	debouncer *debouncer
}

// Dial creates a Client rooted at dir and begins a simulated connection.
// dir must already exist.
func Dial(dir string, opts Options) (*Client, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("localclient: root must be a directory")
	}

	raw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}

	c := &Client{
		root:       filepath.Clean(dir),
		logger:     logger,
		raw:        raw,
		debounce:   debounce,
		dispatch:   make(chan func(), 64),
		done:       make(chan struct{}),
		armed:       make(map[string]bool),
		watchedDir:  make(map[string]int),
		watchOwners: make(map[string][]string),
		handlers:    make(map[string]func(zkcache.WatchEvent)),
		debouncer:   newDebouncer(debounce),
	}

	go c.run()
	c.startForwarder()

	c.Defer(func() { c.connecting = true })
	time.AfterFunc(dialTimeout, func() {
		c.Defer(c.becomeConnected)
	})

	return c, nil
}

func (c *Client) mapPath(path string) string {
	return filepath.Join(c.root, filepath.FromSlash(path))
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.dispatch:
			fn()
		case <-c.done:
			return
		}
	}
}

// Defer schedules fn to run on the dispatch goroutine.
func (c *Client) Defer(fn func()) {
	select {
	case c.dispatch <- fn:
	case <-c.done:
	}
}

func (c *Client) becomeConnected() {
	c.mu.Lock()
	c.connecting = false
	c.connected = true
	c.sessionID++
	handlers := append([]func(){}, c.onConn...)
	c.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *Client) SessionID() zkcache.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return zkcache.SessionID(c.sessionID)
}

func (c *Client) OnConnected(handler func()) (zkcache.Subscription, error) {
	c.mu.Lock()
	idx := len(c.onConn)
	c.onConn = append(c.onConn, handler)
	c.mu.Unlock()
	return subFunc(func() error {
		c.mu.Lock()
		if idx < len(c.onConn) {
			c.onConn[idx] = func() {}
		}
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *Client) OnException(handler func(error)) (zkcache.Subscription, error) {
	c.mu.Lock()
	idx := len(c.onExc)
	c.onExc = append(c.onExc, handler)
	c.mu.Unlock()
	return subFunc(func() error {
		c.mu.Lock()
		if idx < len(c.onExc) {
			c.onExc[idx] = func(error) {}
		}
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *Client) raiseException(err error) {
	c.mu.Lock()
	handlers := append([]func(error){}, c.onExc...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// Register installs handler for path. The handler fires once per armed
// watch: a subsequent Stat/Get/Children call with watch=true is required
// to re-arm it, mirroring ZooKeeper's one-shot watch semantics.
func (c *Client) Register(path string, handler func(zkcache.WatchEvent)) (zkcache.Subscription, error) {
	c.mu.Lock()
	c.handlers[path] = handler
	c.mu.Unlock()
	return subFunc(func() error {
		c.mu.Lock()
		delete(c.handlers, path)
		c.armed[path] = false
		c.mu.Unlock()
		c.unwatchLocked(path)
		return nil
	}), nil
}

func (c *Client) Stat(path string, watch bool) (zkcache.Stat, error) {
	if err := c.ensureWatch(path, watch); err != nil {
		return zkcache.Stat{}, err
	}
	mapped := c.mapPath(path)
	info, err := os.Stat(mapped)
	if errors.Is(err, os.ErrNotExist) {
		return zkcache.Stat{Exists: false}, nil
	}
	if err != nil {
		return zkcache.Stat{}, err
	}
	return statFromInfo(info), nil
}

func (c *Client) Get(path string, watch bool) ([]byte, zkcache.Stat, error) {
	if err := c.ensureWatch(path, watch); err != nil {
		return nil, zkcache.Stat{}, err
	}
	mapped := c.mapPath(path)
	info, err := os.Stat(mapped)
	if errors.Is(err, os.ErrNotExist) {
		return nil, zkcache.Stat{Exists: false}, nil
	}
	if err != nil {
		return nil, zkcache.Stat{}, err
	}
	data, err := os.ReadFile(mapped)
	if err != nil {
		return nil, zkcache.Stat{}, err
	}
	return data, statFromInfo(info), nil
}

func (c *Client) Children(path string, watch bool) ([]string, error) {
	if err := c.ensureWatch(path, watch); err != nil {
		return nil, err
	}
	mapped := c.mapPath(path)
	entries, err := os.ReadDir(mapped)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func statFromInfo(info os.FileInfo) zkcache.Stat {
	version := int32(info.ModTime().UnixNano() % (1 << 31))
	return zkcache.Stat{
		Exists:       true,
		Version:      version,
		ChildVersion: version,
		Mtime:        info.ModTime(),
		DataLength:   int32(info.Size()),
	}
}

// Reopen simulates a fresh session: it bumps the session id and re-fires
// on_connected handlers, exercising the engine's new-session seeding path.
func (c *Client) Reopen() error {
	c.mu.Lock()
	c.connected = false
	c.connecting = true
	c.mu.Unlock()
	c.Defer(c.becomeConnected)
	return nil
}

// Close stops the dispatch goroutine and the underlying fsnotify watcher.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)
	if c.raw != nil {
		return c.raw.Close()
	}
	return nil
}

type subFunc func() error

func (f subFunc) Close() error { return f() }
