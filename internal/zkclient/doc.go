// Package zkclient adapts github.com/QuangTung97/zk, a native Go
// ZooKeeper client, into zkcache.Client. It translates that library's
// one-shot watch channels (ExistsW/GetW/ChildrenW) into the engine's
// Register(path, handler) model, and its session event stream into
// OnConnected/OnException.
package zkclient
