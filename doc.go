// Package zkcache is an in-process coordination-data cache for a
// ZooKeeper-style hierarchical, watch-capable key/value store.
//
// Callers register interest in a fixed set of coordination paths during a
// registration phase, then call Start with a concrete Client to begin
// mirroring server state locally. Once started, reads (Fetch, FetchValid,
// FetchDirectoryValues) are served from local memory and never block; the
// cache keeps itself coherent with the server by reacting to watch
// notifications delivered on the Client's single dispatch goroutine.
//
// zkcache does not implement a coordination-store client itself. It
// consumes one (see the Client interface) and a Notifier sink, and is
// indifferent to what backs them: internal/zkclient adapts a real
// ZooKeeper connection, internal/localclient adapts a local directory tree
// for development and tests.
package zkcache
