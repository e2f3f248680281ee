package zkclient

import (
	"errors"
	"testing"
	"time"

	"github.com/QuangTung97/zk"

	"zkcache"
	"zkcache/internal/config"
)

func newTestClient() *Client {
	return &Client{
		done:     make(chan struct{}),
		handlers: make(map[string]func(zkcache.WatchEvent)),
	}
}

func TestDialRejectsNoHosts(t *testing.T) {
	if _, err := Dial(nil, Options{}); err == nil {
		t.Fatal("expected error dialing with no hosts")
	}
}

func TestDialFuncRejectsEmptyHostsFromConfig(t *testing.T) {
	dial := DialFunc(config.Options{})
	if _, err := dial(); err == nil {
		t.Fatal("expected error dialing with no hosts loaded from config")
	}
}

func TestToStatMissingNode(t *testing.T) {
	stat := toStat(false, nil)
	if stat.Exists {
		t.Fatal("expected Exists false for a missing node")
	}
}

func TestToStatPopulatesFields(t *testing.T) {
	mtime := time.Now().Truncate(time.Millisecond)
	zstat := &zk.Stat{Version: 3, Cversion: 7, Mtime: mtime.UnixMilli(), DataLength: 11}
	stat := toStat(true, zstat)
	if !stat.Exists {
		t.Fatal("expected Exists true")
	}
	if stat.Version != 3 || stat.ChildVersion != 7 || stat.DataLength != 11 {
		t.Fatalf("expected fields copied from zk.Stat, got %+v", stat)
	}
	if !stat.Mtime.Equal(mtime) {
		t.Fatalf("expected mtime %v, got %v", mtime, stat.Mtime)
	}
}

func TestClassifyErrWrapsConnectionLossAsTransient(t *testing.T) {
	if !zkcache.IsTransient(classifyErr(zk.ErrConnectionClosed)) {
		t.Fatal("expected ErrConnectionClosed to classify as transient")
	}
	if !zkcache.IsTransient(classifyErr(zk.ErrNoServer)) {
		t.Fatal("expected ErrNoServer to classify as transient")
	}
}

func TestClassifyErrPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	if got := classifyErr(boom); got != boom {
		t.Fatalf("expected error passed through unchanged, got %v", got)
	}
	if zkcache.IsTransient(classifyErr(boom)) {
		t.Fatal("expected an unrelated error not to classify as transient")
	}
}

func TestClientConnectingIsIndependentOfConnected(t *testing.T) {
	c := newTestClient()
	if c.Connecting() {
		t.Fatal("expected a freshly constructed client, with no session event yet, to report Connecting false")
	}
	if c.Connected() {
		t.Fatal("expected a freshly constructed client to report Connected false")
	}

	c.handleSessionEvent(zk.Event{State: zk.StateConnecting})
	if !c.Connecting() {
		t.Fatal("expected Connecting true after StateConnecting")
	}
	if c.Connected() {
		t.Fatal("expected Connected false while still connecting")
	}

	c.handleSessionEvent(zk.Event{State: zk.StateHasSession})
	if c.Connecting() {
		t.Fatal("expected Connecting false once the session is established")
	}
	if !c.Connected() {
		t.Fatal("expected Connected true once the session is established")
	}
}

func TestClientStartGuardAcceptsFreshlyConstructedClient(t *testing.T) {
	c := newTestClient()
	facade := zkcache.New()
	if err := facade.Start(c); err != nil {
		t.Fatalf("expected Start to accept a freshly constructed client, got %v", err)
	}
}

func TestClientRegisterAndSubscriptionClose(t *testing.T) {
	c := newTestClient()
	called := false
	sub, err := c.Register("/a", func(zkcache.WatchEvent) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.mu.Lock()
	handler, ok := c.handlers["/a"]
	c.mu.Unlock()
	if !ok {
		t.Fatal("expected handler registered")
	}
	handler(zkcache.WatchEvent{})
	if !called {
		t.Fatal("expected handler to be invoked")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.mu.Lock()
	_, stillRegistered := c.handlers["/a"]
	c.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected handler removed after subscription close")
	}
}

func TestClientOnConnectedAndOnExceptionFireAndUnsubscribe(t *testing.T) {
	c := newTestClient()
	connCount := 0
	connSub, err := c.OnConnected(func() { connCount++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var lastErr error
	excSub, err := c.OnException(func(err error) { lastErr = err })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.handleSessionEvent(zk.Event{State: zk.StateDisconnected})
	if c.Connected() {
		t.Fatal("expected Connected false after StateDisconnected")
	}

	boom := errors.New("boom")
	c.raiseException(boom)
	if lastErr != boom {
		t.Fatalf("expected exception handler to receive boom, got %v", lastErr)
	}

	if err := connSub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := excSub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.raiseException(errors.New("after close"))
	if lastErr != boom {
		t.Fatal("expected no further delivery after subscription close")
	}
}

func TestClientHandleSessionEventExpiredRaisesException(t *testing.T) {
	c := newTestClient()
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	var got error
	c.OnException(func(err error) { got = err })

	c.handleSessionEvent(zk.Event{State: zk.StateExpired})

	if c.Connected() {
		t.Fatal("expected Connected false after StateExpired")
	}
	if got == nil {
		t.Fatal("expected an exception to be raised on session expiry")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected second Close to be a no-op, got %v", err)
	}
}
