package zkclient

import (
	"errors"
	"sync"
	"time"

	"github.com/QuangTung97/zk"

	"zkcache/internal/logging"
	"zkcache"
)

// Options configures a Client.
type Options struct {
	Logger         *logging.Logger
	SessionTimeout time.Duration
}

const defaultSessionTimeout = 10 * time.Second

// Client adapts a github.com/QuangTung97/zk connection into zkcache.Client.
type Client struct {
	hosts          []string
	sessionTimeout time.Duration
	logger         *logging.Logger

	dispatch chan func()
	done     chan struct{}

	mu         sync.Mutex
	conn       *zk.Conn
	events     <-chan zk.Event
	connected  bool
	connecting bool
	sessionID  int64
	handlers   map[string]func(zkcache.WatchEvent)
	onConn     []func()
	onExc      []func(error)
}

// Dial opens a connection to hosts and begins dispatching session and
// watch events on a dedicated goroutine.
func Dial(hosts []string, opts Options) (*Client, error) {
	if len(hosts) == 0 {
		return nil, errors.New("zkclient: at least one host is required")
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}

	conn, events, err := zk.Connect(hosts, timeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		hosts:          hosts,
		sessionTimeout: timeout,
		logger:         logger,
		dispatch:       make(chan func(), 64),
		done:           make(chan struct{}),
		conn:           conn,
		events:         events,
		handlers:       make(map[string]func(zkcache.WatchEvent)),
	}

	go c.run()
	go c.forwardSessionEvents(events)
	return c, nil
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

func (c *Client) forwardSessionEvents(events <-chan zk.Event) {
	for ev := range events {
		event := ev
		c.Defer(func() { c.handleSessionEvent(event) })
	}
}

func (c *Client) handleSessionEvent(ev zk.Event) {
	switch ev.State {
	case zk.StateHasSession:
		c.mu.Lock()
		c.connected = true
		c.connecting = false
		c.sessionID = c.conn.SessionID()
		handlers := append([]func(){}, c.onConn...)
		c.mu.Unlock()
		for _, h := range handlers {
			h()
		}
	case zk.StateConnecting:
		c.mu.Lock()
		c.connected = false
		c.connecting = true
		c.mu.Unlock()
	case zk.StateDisconnected:
		c.mu.Lock()
		c.connected = false
		c.connecting = false
		c.mu.Unlock()
	case zk.StateExpired:
		c.mu.Lock()
		c.connected = false
		c.connecting = false
		c.mu.Unlock()
		c.raiseException(errors.New("zkclient: session expired"))
	}
	if ev.Err != nil {
		c.raiseException(ev.Err)
	}
}

func (c *Client) raiseException(err error) {
	c.mu.Lock()
	handlers := append([]func(error){}, c.onExc...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connecting reports whether the underlying connection is mid-handshake
// (between zk.StateConnecting and zk.StateHasSession/disconnect), not
// merely "not yet connected" — a freshly dialed Client that has not yet
// received its first session event is neither Connected nor Connecting,
// so Start's "already connected or connecting" guard accepts it.
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

// Register installs handler for path. The handler is invoked at most once
// per armed watch (a subsequent Stat/Get/Children call with watch=true is
// required to re-arm it), matching ZooKeeper's native one-shot semantics.
func (c *Client) Register(path string, handler func(zkcache.WatchEvent)) (zkcache.Subscription, error) {
	c.mu.Lock()
	c.handlers[path] = handler
	c.mu.Unlock()
	return subFunc(func() error {
		c.mu.Lock()
		delete(c.handlers, path)
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *Client) bridgeWatch(path string, ch <-chan zk.Event) {
	ev, ok := <-ch
	if !ok {
		return
	}
	c.Defer(func() {
		c.mu.Lock()
		handler, ok := c.handlers[path]
		c.mu.Unlock()
		if !ok {
			return
		}
		handler(zkcache.WatchEvent{
			Path:      path,
			Kind:      zkcache.NodeEvent,
			EventName: ev.Type.String(),
			StateName: ev.State.String(),
		})
	})
}

func (c *Client) Stat(path string, watch bool) (zkcache.Stat, error) {
	if watch {
		exists, stat, ch, err := c.conn.ExistsW(path)
		if err != nil {
			return zkcache.Stat{}, classifyErr(err)
		}
		go c.bridgeWatch(path, ch)
		return toStat(exists, stat), nil
	}
	exists, stat, err := c.conn.Exists(path)
	if err != nil {
		return zkcache.Stat{}, classifyErr(err)
	}
	return toStat(exists, stat), nil
}

func (c *Client) Get(path string, watch bool) ([]byte, zkcache.Stat, error) {
	if watch {
		data, stat, ch, err := c.conn.GetW(path)
		if errors.Is(err, zk.ErrNoNode) {
			return nil, zkcache.Stat{Exists: false}, nil
		}
		if err != nil {
			return nil, zkcache.Stat{}, classifyErr(err)
		}
		go c.bridgeWatch(path, ch)
		return data, toStat(true, stat), nil
	}
	data, stat, err := c.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, zkcache.Stat{Exists: false}, nil
	}
	if err != nil {
		return nil, zkcache.Stat{}, classifyErr(err)
	}
	return data, toStat(true, stat), nil
}

func (c *Client) Children(path string, watch bool) ([]string, error) {
	if watch {
		children, _, ch, err := c.conn.ChildrenW(path)
		if errors.Is(err, zk.ErrNoNode) {
			return nil, nil
		}
		if err != nil {
			return nil, classifyErr(err)
		}
		go c.bridgeWatch(path, ch)
		return children, nil
	}
	children, _, err := c.conn.Children(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return children, nil
}

// Reopen closes and re-establishes the underlying connection, yielding a
// fresh session whose StateHasSession event drives the engine's
// new-session seeding path.
func (c *Client) Reopen() error {
	c.mu.Lock()
	old := c.conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, events, err := zk.Connect(c.hosts, c.sessionTimeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.events = events
	c.connected = false
	c.mu.Unlock()

	go c.forwardSessionEvents(events)
	return nil
}

func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}

func toStat(exists bool, stat *zk.Stat) zkcache.Stat {
	if !exists || stat == nil {
		return zkcache.Stat{Exists: exists}
	}
	return zkcache.Stat{
		Exists:       true,
		Version:      stat.Version,
		ChildVersion: stat.Cversion,
		Mtime:        time.UnixMilli(stat.Mtime),
		DataLength:   stat.DataLength,
	}
}

// classifyErr wraps connection-lost-class errors as transient (retryable
// in place) and passes node/protocol errors through as terminal.
func classifyErr(err error) error {
	switch {
	case errors.Is(err, zk.ErrConnectionClosed):
		return zkcache.Transient(err)
	case errors.Is(err, zk.ErrNoServer):
		return zkcache.Transient(err)
	default:
		return err
	}
}

type subFunc func() error

func (f subFunc) Close() error { return f() }
