package zkcache

import (
	"errors"
	"testing"
)

func TestRuntimeRegistryAcquireInstallsOnce(t *testing.T) {
	reg := newRuntimeRegistry()
	ownerA := &Directory{}
	ownerB := &Directory{}
	installs := 0

	install := func() (Subscription, error) {
		installs++
		return subscriptionFunc(func() error { return nil }), nil
	}

	if err := reg.Acquire("/a", ownerA, install); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Acquire("/a", ownerB, install); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if installs != 1 {
		t.Fatalf("expected exactly 1 install call, got %d", installs)
	}
	if !reg.Has("/a") {
		t.Fatal("expected /a to be watched")
	}
	owners := reg.Owners("/a")
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(owners))
	}
}

func TestRuntimeRegistryReleaseClosesOnlyWhenOwnersEmpty(t *testing.T) {
	reg := newRuntimeRegistry()
	ownerA := &Directory{}
	ownerB := &Directory{}
	closed := 0
	install := func() (Subscription, error) {
		return subscriptionFunc(func() error { closed++; return nil }), nil
	}

	reg.Acquire("/a", ownerA, install)
	reg.Acquire("/a", ownerB, install)

	if err := reg.Release("/a", ownerA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 0 {
		t.Fatalf("expected subscription to survive while one owner remains, closed=%d", closed)
	}
	if !reg.Has("/a") {
		t.Fatal("expected /a to still be watched")
	}

	if err := reg.Release("/a", ownerB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected subscription closed once last owner released, closed=%d", closed)
	}
	if reg.Has("/a") {
		t.Fatal("expected /a to no longer be watched")
	}
}

func TestRuntimeRegistryReleaseUnknownPathIsNoop(t *testing.T) {
	reg := newRuntimeRegistry()
	if err := reg.Release("/nowhere", &Directory{}); err != nil {
		t.Fatalf("expected no error releasing unknown path, got %v", err)
	}
}

func TestRuntimeRegistryAcquireInstallFailurePropagates(t *testing.T) {
	reg := newRuntimeRegistry()
	wantErr := errors.New("boom")
	if acquireErr := reg.Acquire("/a", &Directory{}, func() (Subscription, error) {
		return nil, wantErr
	}); acquireErr != wantErr {
		t.Fatalf("expected install error to propagate, got %v", acquireErr)
	}
	if reg.Has("/a") {
		t.Fatal("expected failed install to leave no watch registered")
	}
}

func TestRuntimeRegistryCloseAllClosesEverySubscription(t *testing.T) {
	reg := newRuntimeRegistry()
	closed := 0
	install := func() (Subscription, error) {
		return subscriptionFunc(func() error { closed++; return nil }), nil
	}
	reg.Acquire("/a", &Directory{}, install)
	reg.Acquire("/b", &Directory{}, install)

	if err := reg.CloseAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 subscriptions closed, got %d", closed)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry empty after CloseAll, got %d", reg.Len())
	}
}

func TestRuntimeRegistryPathsReturnsAllWatched(t *testing.T) {
	reg := newRuntimeRegistry()
	install := func() (Subscription, error) { return subscriptionFunc(func() error { return nil }), nil }
	reg.Acquire("/a", &Directory{}, install)
	reg.Acquire("/b", &Directory{}, install)

	paths := reg.Paths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
}
