// Package notifier implements zkcache.Notifier on top of the generic
// internal/event.Bus[T] pub/sub primitive, giving a host process a single
// channel-filterable event stream instead of three independent callbacks.
package notifier
