package zkclient

import (
	"zkcache"
	"zkcache/internal/config"
)

// DialFunc builds the dial closure that CacheFacade.NewOwning expects,
// wiring config.Options (the ensemble host list and session timeout loaded
// by config.Load/config.Parse) into Dial. This is the glue between the
// options loader and the cache-owning construction mode: the root zkcache
// package never imports this adapter or internal/config directly, so a
// caller who wants to build a CacheFacade from a YAML file goes through
// here instead.
func DialFunc(opts config.Options) func() (zkcache.Client, error) {
	return func() (zkcache.Client, error) {
		return Dial(opts.Hosts, Options{SessionTimeout: opts.SessionTimeout})
	}
}
