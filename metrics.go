package zkcache

// Metrics is a point-in-time snapshot of a CacheFacade's bookkeeping state,
// meant to be copied into a host process's own metrics surface (Prometheus,
// StatsD, whatever it already uses) rather than exposed as one itself.
type Metrics struct {
	StaticCount    int
	DirectoryCount int
	RuntimeWatched int
	PendingLength  int
}

// Metrics returns a snapshot of the cache's current bookkeeping state. Safe
// to call from any goroutine at any lifecycle phase; before Start the
// RuntimeWatched and PendingLength fields read as zero.
func (c *CacheFacade) Metrics() Metrics {
	c.mu.Lock()
	staticCount := len(c.statics)
	directoryCount := len(c.directories)
	engine := c.engine
	c.mu.Unlock()

	m := Metrics{StaticCount: staticCount, DirectoryCount: directoryCount}
	if engine != nil {
		m.RuntimeWatched = engine.registry.Len()
		m.PendingLength = engine.pending.Len()
	}
	return m
}
