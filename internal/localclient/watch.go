package localclient

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"zkcache"
)

// debouncer coalesces bursts of filesystem events into one flush per path,
// the same pattern internal/watcher uses for fsnotify delivery.
type debouncer struct {
	duration time.Duration
	timers   map[string]*time.Timer
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{duration: duration, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) schedule(path string, flush func(string)) {
	if timer, ok := d.timers[path]; ok {
		timer.Reset(d.duration)
		return
	}
	d.timers[path] = time.AfterFunc(d.duration, func() { flush(path) })
}

func (d *debouncer) stop() {
	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = nil
}

func (c *Client) startForwarder() {
	go func() {
		for {
			select {
			case ev, ok := <-c.raw.Events:
				if !ok {
					return
				}
				c.debouncer.schedule(ev.Name, c.flushRaw)
			case err, ok := <-c.raw.Errors:
				if !ok {
					return
				}
				c.handleRawError(err)
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Client) flushRaw(mappedPath string) {
	c.Defer(func() { c.deliverEvent(mappedPath) })
}

// deliverEvent runs on the dispatch goroutine. It fires at most one handler
// per armed registered path, then disarms it: the next Stat/Get/Children
// call with watch=true is required to see future changes, mirroring
// ZooKeeper's one-shot watch contract.
func (c *Client) deliverEvent(mappedPath string) {
	c.mu.Lock()
	var toFire []string
	for p, armed := range c.armed {
		if !armed {
			continue
		}
		mp := c.mapPath(p)
		if mp == mappedPath || filepath.Dir(mappedPath) == mp {
			toFire = append(toFire, p)
		}
	}
	handlers := make(map[string]func(zkcache.WatchEvent), len(toFire))
	for _, p := range toFire {
		c.armed[p] = false
		if h, ok := c.handlers[p]; ok {
			handlers[p] = h
		}
	}
	c.mu.Unlock()

	for p, h := range handlers {
		h(zkcache.WatchEvent{Path: p, Kind: zkcache.NodeEvent, EventName: "changed"})
	}
}

// ensureWatch arms path and, on first arming of its containing directory,
// installs the underlying fsnotify watch. Directory-registered paths are
// also watched directly so child creation/removal is observed.
func (c *Client) ensureWatch(path string, watch bool) error {
	if !watch {
		return nil
	}
	mapped := c.mapPath(path)
	parent := filepath.Dir(mapped)

	c.mu.Lock()
	c.armed[path] = true
	owned := append([]string{}, c.watchOwnersLocked(path)...)
	c.mu.Unlock()

	dirs := []string{parent}
	if info, err := os.Stat(mapped); err == nil && info.IsDir() {
		dirs = append(dirs, mapped)
	}

	for _, dir := range dirs {
		if containsString(owned, dir) {
			continue
		}
		if err := c.addDirWatch(path, dir); err != nil {
			return zkcache.Transient(err)
		}
	}
	return nil
}

func (c *Client) addDirWatch(path, dir string) error {
	c.mu.Lock()
	needAdd := c.watchedDir[dir] == 0
	c.watchedDir[dir]++
	if c.watchOwners == nil {
		c.watchOwners = make(map[string][]string)
	}
	c.watchOwners[path] = append(c.watchOwners[path], dir)
	c.mu.Unlock()

	if !needAdd {
		return nil
	}
	if err := c.raw.Add(dir); err != nil {
		c.mu.Lock()
		c.watchedDir[dir]--
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) watchOwnersLocked(path string) []string {
	return c.watchOwners[path]
}

func (c *Client) unwatchLocked(path string) {
	c.mu.Lock()
	dirs := c.watchOwners[path]
	delete(c.watchOwners, path)
	var toRemove []string
	for _, dir := range dirs {
		c.watchedDir[dir]--
		if c.watchedDir[dir] <= 0 {
			delete(c.watchedDir, dir)
			toRemove = append(toRemove, dir)
		}
	}
	c.mu.Unlock()

	for _, dir := range toRemove {
		_ = c.raw.Remove(dir)
	}
}

func (c *Client) handleRawError(err error) {
	c.Defer(func() { c.raiseException(zkcache.Transient(err)) })
	c.scheduleRestart(err)
}

func (c *Client) scheduleRestart(err error) {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()
	if c.restartTimer != nil {
		return
	}
	if c.restartAttempts >= maxRestartAttempts {
		return
	}
	delay := restartBaseDelay * time.Duration(1<<c.restartAttempts)
	c.restartAttempts++
	c.restartTimer = time.AfterFunc(delay, c.performRestart)
}

func (c *Client) performRestart() {
	c.restartMu.Lock()
	c.restartTimer = nil
	c.restartMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	dirs := make([]string, 0, len(c.watchedDir))
	for dir := range c.watchedDir {
		dirs = append(dirs, dir)
	}
	c.mu.Unlock()
	if closed {
		return
	}

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		c.scheduleRestart(err)
		return
	}
	for _, dir := range dirs {
		_ = replacement.Add(dir)
	}

	c.mu.Lock()
	previous := c.raw
	c.raw = replacement
	c.mu.Unlock()

	c.startForwarder()
	if previous != nil {
		_ = previous.Close()
	}

	c.restartMu.Lock()
	c.restartAttempts = 0
	c.restartMu.Unlock()
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

