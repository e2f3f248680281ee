package zkcache

import (
	"errors"
	"time"
)

// SessionID identifies a coordination-store session. Sessions are opaque;
// the engine only ever compares them for equality.
type SessionID int64

// Stat mirrors the metadata the coordination store attaches to a node.
type Stat struct {
	Exists       bool
	Version      int32
	ChildVersion int32
	Mtime        time.Time
	DataLength   int32
}

// WatchEventKind distinguishes the node-event family from connection/session
// state transitions delivered to the same handler.
type WatchEventKind int

const (
	// NodeEvent indicates the notification concerns the watched node
	// itself (created, deleted, data changed, children changed).
	NodeEvent WatchEventKind = iota
	// StateEvent indicates the notification concerns the connection or
	// session, not the node.
	StateEvent
)

// WatchEvent is delivered to a per-path handler installed via
// Client.Register.
type WatchEvent struct {
	Path      string
	Kind      WatchEventKind
	EventName string
	StateName string
}

// Subscription is a handle to an installed watch, connection, or exception
// callback. Close is idempotent.
type Subscription interface {
	Close() error
}

// Client is the coordination-store capability the engine consumes. It is
// never implemented by this package; see internal/zkclient for a real
// ZooKeeper-backed adapter and internal/localclient for a filesystem-backed
// one used in development and tests.
//
// Connected, Connecting, and SessionID may be called from any goroutine.
// Stat, Get, and Children block on I/O and must only be called from the
// dispatch goroutine (the same goroutine on which Register/OnConnected/
// OnException handlers and Defer closures run).
type Client interface {
	Connected() bool
	Connecting() bool
	SessionID() SessionID

	Stat(path string, watch bool) (Stat, error)
	Get(path string, watch bool) ([]byte, Stat, error)
	Children(path string, watch bool) ([]string, error)

	Register(path string, handler func(WatchEvent)) (Subscription, error)
	OnConnected(handler func()) (Subscription, error)
	OnException(handler func(error)) (Subscription, error)

	// Defer schedules fn to run on the dispatch goroutine. Defer itself
	// may be called from any goroutine.
	Defer(fn func())

	Reopen() error
	Close() error
}

// Deserializer turns raw node bytes into a value. Returning UseDefault
// forces the entry back to its default with valid=false. Any other error
// is treated as a deserialization failure: the entry becomes invalid but
// the update pass itself still succeeds.
type Deserializer func(data []byte, stat Stat) (any, error)

// DirDeserializer is the Directory analogue of Deserializer: it has no Stat
// parameter because directory child values are fetched independently of
// the directory node's own Stat.
type DirDeserializer func(data []byte) (any, error)

// PathMapper derives the coordination path for a directory child name.
type PathMapper func(childName string) string

// TransientError wraps a Client error that is retryable in place: the
// underlying connection blipped but the session survives. Terminal errors
// (a missing node reported some other way, malformed data, permission
// failures) must not be wrapped and propagate as-is.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "zkcache: transient client error"
	}
	return "zkcache: transient client error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err yields a nil result.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a
// TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
