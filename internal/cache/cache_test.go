// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cache

import (
	"errors"
	"testing"

	"github.com/ozwaldorf/sawthat-frame/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCacheNameDeterministic(t *testing.T) {
	if CacheName("abc") != CacheName("abc") {
		t.Fatal("CacheName must be deterministic")
	}
	name := CacheName("concert-1")
	if len(name) != 12 || name[8:] != ".PNG" { // 8 hex chars + ".PNG"
		t.Fatalf("unexpected cache name format: %q", name)
	}
}

func TestParseCacheNameRoundTrip(t *testing.T) {
	name := CacheName("some-item-id")
	h, ok := ParseCacheName(name)
	if !ok {
		t.Fatal("expected name to parse")
	}
	if h != djb2("some-item-id") {
		t.Fatalf("parsed hash %x does not match djb2", h)
	}
}

func TestWidgetListRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := []string{"a", "b", "c"}
	if err := s.StoreWidgetList(want); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadWidgetList()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOrientationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	for _, o := range []state.Orientation{state.Horizontal, state.Vertical} {
		if err := s.StoreOrientation(o); err != nil {
			t.Fatal(err)
		}
		got, err := s.LoadOrientation()
		if err != nil {
			t.Fatal(err)
		}
		if got != o {
			t.Fatalf("got %v, want %v", got, o)
		}
	}
}

func TestImageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := s.WriteImage("item-1", state.Horizontal, want); err != nil {
		t.Fatal(err)
	}
	if !s.HasImage("item-1", state.Horizontal) {
		t.Fatal("expected cache hit after write")
	}
	if s.HasImage("item-1", state.Vertical) {
		t.Fatal("orientations must not share a namespace")
	}
	buf := make([]byte, len(want))
	n, err := s.ReadImage("item-1", state.Horizontal, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) {
		t.Fatalf("got %d bytes, want %d", n, len(want))
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestReadImageMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadImage("missing", state.Horizontal, make([]byte, 4))
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCleanupStaleRetainsValidRemovesStale(t *testing.T) {
	s := newTestStore(t)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		if err := s.WriteImage(id, state.Horizontal, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := s.CleanupStale([]string{"a", "b", "d"})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected to remove exactly 1 stale entry, removed %d", removed)
	}
	if !s.HasImage("a", state.Horizontal) || !s.HasImage("b", state.Horizontal) || !s.HasImage("d", state.Horizontal) {
		t.Fatal("cleanup_stale must never remove a live entry")
	}
	if s.HasImage("c", state.Horizontal) {
		t.Fatal("cleanup_stale must remove entries absent from the valid list")
	}
}

func TestListCached(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.WriteImage(id, state.Vertical, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	hashes, err := s.ListCached(state.Vertical)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %d cached hashes, want 2", len(hashes))
	}
}
