package zkcache

import (
	"strings"
	"sync"
)

// fakeNode is one node in fakeClient's in-memory tree.
type fakeNode struct {
	exists   bool
	data     []byte
	version  int32
	cversion int32
	children map[string]struct{}
}

// fakeClient is a minimal in-memory Client used by this package's own
// tests. Unlike internal/localclient and internal/zkclient, Defer runs fn
// synchronously on the calling goroutine rather than posting to a separate
// dispatch goroutine — every test in this package therefore drives the
// engine from a single goroutine, which is exactly the discipline
// assertDispatchThread exists to enforce.
type fakeClient struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode

	connected  bool
	connecting bool
	sessionID  int64

	handlers map[string]func(WatchEvent)
	armed    map[string]bool
	onConn   []func()
	onExc    []func(error)

	statErr     error
	getErr      error
	childrenErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nodes:    make(map[string]*fakeNode),
		handlers: make(map[string]func(WatchEvent)),
		armed:    make(map[string]bool),
	}
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *fakeClient) SessionID() SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionID(c.sessionID)
}

func (c *fakeClient) Stat(path string, watch bool) (Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statErr != nil {
		return Stat{}, c.statErr
	}
	if watch {
		c.armed[path] = true
	}
	node, ok := c.nodes[path]
	if !ok || !node.exists {
		return Stat{Exists: false}, nil
	}
	return Stat{Exists: true, Version: node.version, ChildVersion: node.cversion}, nil
}

func (c *fakeClient) Get(path string, watch bool) ([]byte, Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, Stat{}, c.getErr
	}
	if watch {
		c.armed[path] = true
	}
	node, ok := c.nodes[path]
	if !ok || !node.exists {
		return nil, Stat{Exists: false}, nil
	}
	return node.data, Stat{Exists: true, Version: node.version, ChildVersion: node.cversion}, nil
}

func (c *fakeClient) Children(path string, watch bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.childrenErr != nil {
		return nil, c.childrenErr
	}
	if watch {
		c.armed[path] = true
	}
	node, ok := c.nodes[path]
	if !ok || !node.exists {
		return nil, nil
	}
	out := make([]string, 0, len(node.children))
	for name := range node.children {
		out = append(out, name)
	}
	return out, nil
}

func (c *fakeClient) Register(path string, handler func(WatchEvent)) (Subscription, error) {
	c.mu.Lock()
	c.handlers[path] = handler
	c.mu.Unlock()
	return subscriptionFunc(func() error {
		c.mu.Lock()
		delete(c.handlers, path)
		delete(c.armed, path)
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *fakeClient) OnConnected(handler func()) (Subscription, error) {
	c.mu.Lock()
	idx := len(c.onConn)
	c.onConn = append(c.onConn, handler)
	c.mu.Unlock()
	return subscriptionFunc(func() error {
		c.mu.Lock()
		c.onConn[idx] = func() {}
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *fakeClient) OnException(handler func(error)) (Subscription, error) {
	c.mu.Lock()
	idx := len(c.onExc)
	c.onExc = append(c.onExc, handler)
	c.mu.Unlock()
	return subscriptionFunc(func() error {
		c.mu.Lock()
		c.onExc[idx] = func(error) {}
		c.mu.Unlock()
		return nil
	}), nil
}

// Defer runs fn synchronously: every test using fakeClient drives the
// engine from one goroutine, so there is no dispatch queue to post to.
func (c *fakeClient) Defer(fn func()) {
	fn()
}

func (c *fakeClient) Reopen() error {
	c.mu.Lock()
	c.connected = false
	c.connecting = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Close() error {
	return nil
}

// --- test-only mutation helpers ---

func (c *fakeClient) connect(sessionID int64) {
	c.mu.Lock()
	c.connected = true
	c.connecting = false
	c.sessionID = sessionID
	handlers := append([]func(){}, c.onConn...)
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (c *fakeClient) disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) raiseException(err error) {
	c.mu.Lock()
	handlers := append([]func(error){}, c.onExc...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (c *fakeClient) setData(path string, data []byte) {
	c.mu.Lock()
	node := c.nodeLocked(path)
	node.exists = true
	node.data = data
	node.version++
	c.mu.Unlock()
	c.fire(path)
}

func (c *fakeClient) setChildren(path string, names ...string) {
	c.mu.Lock()
	node := c.nodeLocked(path)
	node.exists = true
	node.children = make(map[string]struct{}, len(names))
	for _, n := range names {
		node.children[n] = struct{}{}
	}
	node.cversion++
	c.mu.Unlock()
	c.fire(path)
}

func (c *fakeClient) deleteNode(path string) {
	c.mu.Lock()
	delete(c.nodes, path)
	c.mu.Unlock()
	c.fire(path)
	// a deletion also fires watches on the parent directory's children list
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		c.fire(path[:idx])
	}
}

func (c *fakeClient) nodeLocked(path string) *fakeNode {
	node, ok := c.nodes[path]
	if !ok {
		node = &fakeNode{}
		c.nodes[path] = node
	}
	return node
}

// fire delivers a watch event to path's handler iff it is currently armed,
// then disarms it, matching ZooKeeper's one-shot watch contract.
func (c *fakeClient) fire(path string) {
	c.mu.Lock()
	if !c.armed[path] {
		c.mu.Unlock()
		return
	}
	delete(c.armed, path)
	handler, ok := c.handlers[path]
	c.mu.Unlock()
	if ok {
		handler(WatchEvent{Path: path, Kind: NodeEvent})
	}
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
