// Package localclient implements zkcache.Client over the local filesystem
// using fsnotify, for development and tests that want real watch/notify
// behaviour without a ZooKeeper ensemble. A coordination path "/a/b" maps to
// a file or directory under the client's root. Node existence, data, and
// children map directly onto filesystem state; "session" and "connection"
// are simulated so the same engine code exercises both fresh-session
// seeding and mid-session reconnects.
package localclient
