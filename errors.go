package zkcache

import "fmt"

// ArgumentError reports an invalid parameter supplied during the
// registration phase (e.g. a NewOwning call with a nil dial or register
// function, or a non-positive timeout).
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return "zkcache: argument error: " + e.Message
}

func newArgumentError(format string, args ...any) *ArgumentError {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}

// Error reports a lifecycle-phase violation: registering after Start,
// registering a duplicate path, starting twice, or starting against a
// client that is already connected or connecting.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "zkcache: " + e.Message
}

func newLifecycleError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// PathError reports that a reader looked up a path that was never
// registered.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("zkcache: path not registered: %q", e.Path)
}

func newPathError(path string) *PathError {
	return &PathError{Path: path}
}

// StateError reports an internal invariant violation, such as an update
// pass running off the dispatch goroutine.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return "zkcache: invalid state: " + e.Message
}

func newStateError(format string, args ...any) *StateError {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}
