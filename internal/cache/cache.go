// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cache persists the widget catalog, per-item PNG blobs, and the
// last-applied orientation on the filesystem that stands in for the
// firmware's SD card. The directory layout and filename scheme are the
// portable equivalent of a FAT partition addressed through an
// embedded_sdmmc-style block driver: here the OS filesystem is the block
// device, addressed through os.MkdirAll/os.Open/os.Create directly, since
// there is no Go library in this project's dependency corpus for talking to
// a FAT filesystem on a raw block device and the host OS already provides
// an equivalent abstraction.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ozwaldorf/sawthat-frame/internal/state"
)

// Kind enumerates the error taxonomy surfaced to the orchestrator. All
// errors map to one of these; the orchestrator does not retry on any of
// them.
type Kind int

const (
	SdCard Kind = iota
	NotFound
	Filesystem
	TooLarge
	Write
	Read
)

// Error wraps a Kind with context, matching the small non-exceptional error
// taxonomy the rest of this firmware uses throughout.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	widgetFile      = "widget.json"
	orientationFile = "orient.dat"
	horizDir        = "horiz"
	vertDir         = "vert"
)

// maxImageSize bounds a single cached PNG; larger responses are rejected as
// TooLarge rather than silently truncated.
const maxImageSize = 1 << 20

// Store is the SD-backed cache rooted at a directory (e.g. "/concerts").
type Store struct {
	root string
}

// New binds a Store to root, the cache's top-level directory.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the cache's top-level directory, e.g. for internal/state's
// Store to sit alongside it.
func (s *Store) Root() string { return s.root }

// Init creates the cache directory tree if missing.
func (s *Store) Init() error {
	for _, dir := range []string{s.root, filepath.Join(s.root, horizDir), filepath.Join(s.root, vertDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &Error{Kind: Filesystem, Op: "init", Err: err}
		}
	}
	return nil
}

func orientDir(o state.Orientation) string {
	if o == state.Vertical {
		return vertDir
	}
	return horizDir
}

// CacheName computes the 8-hex-uppercase djb2 filename for an item
// identifier, per the firmware's 8.3-FAT-compatible naming scheme (I7).
func CacheName(id string) string {
	return fmt.Sprintf("%08X.PNG", djb2(id))
}

// ParseCacheName recovers the hash encoded in a cache filename, or false if
// the name doesn't match the scheme.
func ParseCacheName(name string) (uint32, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if len(base) != 8 || !strings.EqualFold(filepath.Ext(name), ".png") {
		return 0, false
	}
	v, err := strconv.ParseUint(base, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

func (s *Store) imagePath(id string, o state.Orientation) string {
	return filepath.Join(s.root, orientDir(o), CacheName(id))
}

// HasImage reports whether a cached PNG exists for (id, orientation).
func (s *Store) HasImage(id string, o state.Orientation) bool {
	f, err := os.Open(s.imagePath(id, o))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ReadImage streams the cached PNG into a caller-owned buffer, returning the
// number of bytes read.
func (s *Store) ReadImage(id string, o state.Orientation, dst []byte) (int, error) {
	f, err := os.Open(s.imagePath(id, o))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &Error{Kind: NotFound, Op: "read_image", Err: err}
		}
		return 0, &Error{Kind: SdCard, Op: "read_image", Err: err}
	}
	defer f.Close()
	n, err := io.ReadFull(f, dst)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, &Error{Kind: Read, Op: "read_image", Err: err}
	}
	return n, nil
}

// WriteImage truncate-and-creates the cached PNG for (id, orientation).
func (s *Store) WriteImage(id string, o state.Orientation, bytes []byte) error {
	if len(bytes) > maxImageSize {
		return &Error{Kind: TooLarge, Op: "write_image", Err: fmt.Errorf("%d bytes exceeds %d", len(bytes), maxImageSize)}
	}
	if err := os.WriteFile(s.imagePath(id, o), bytes, 0o644); err != nil {
		return &Error{Kind: Write, Op: "write_image", Err: err}
	}
	return nil
}

// LoadWidgetList parses the cached catalog. A missing file is reported as
// NotFound so the orchestrator treats it as an empty cache, not a crash.
func (s *Store) LoadWidgetList() ([]string, error) {
	b, err := os.ReadFile(filepath.Join(s.root, widgetFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: NotFound, Op: "load_widget_list", Err: err}
		}
		return nil, &Error{Kind: SdCard, Op: "load_widget_list", Err: err}
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, &Error{Kind: Filesystem, Op: "load_widget_list", Err: err}
	}
	return list, nil
}

// StoreWidgetList writes the catalog as a flat JSON array with no
// surrounding whitespace.
func (s *Store) StoreWidgetList(list []string) error {
	b, err := json.Marshal(list)
	if err != nil {
		return &Error{Kind: Filesystem, Op: "store_widget_list", Err: err}
	}
	if err := os.WriteFile(filepath.Join(s.root, widgetFile), b, 0o644); err != nil {
		return &Error{Kind: Write, Op: "store_widget_list", Err: err}
	}
	return nil
}

// LoadOrientation reads the last-applied orientation.
func (s *Store) LoadOrientation() (state.Orientation, error) {
	b, err := os.ReadFile(filepath.Join(s.root, orientationFile))
	if err != nil {
		if os.IsNotExist(err) {
			return state.Horizontal, &Error{Kind: NotFound, Op: "load_orientation", Err: err}
		}
		return state.Horizontal, &Error{Kind: SdCard, Op: "load_orientation", Err: err}
	}
	if len(b) != 1 {
		return state.Horizontal, &Error{Kind: Filesystem, Op: "load_orientation", Err: errors.New("malformed orient.dat")}
	}
	return state.Orientation(b[0]), nil
}

// StoreOrientation persists the last-applied orientation as a single byte.
func (s *Store) StoreOrientation(o state.Orientation) error {
	if err := os.WriteFile(filepath.Join(s.root, orientationFile), []byte{byte(o)}, 0o644); err != nil {
		return &Error{Kind: Write, Op: "store_orientation", Err: err}
	}
	return nil
}

// ListCached enumerates the cached item hashes for one orientation. Not
// required by any single spec operation, but a natural complement to
// CleanupStale used for diagnostics.
func (s *Store) ListCached(o state.Orientation) ([]uint32, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, orientDir(o)))
	if err != nil {
		return nil, &Error{Kind: Filesystem, Op: "list_cached_items", Err: err}
	}
	hashes := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if h, ok := ParseCacheName(e.Name()); ok {
			hashes = append(hashes, h)
		}
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes, nil
}

// CleanupStale removes cached images whose hash is not among the hashes of
// validList, in both orientations. Collisions bias toward retention: a file
// is removed only if its own hash is absent from the valid set, never
// because of a coincidental match elsewhere (I8).
func (s *Store) CleanupStale(validList []string) (int, error) {
	valid := make(map[uint32]bool, len(validList))
	for _, id := range validList {
		valid[djb2(id)] = true
	}
	removed := 0
	for _, o := range []state.Orientation{state.Horizontal, state.Vertical} {
		dir := filepath.Join(s.root, orientDir(o))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, &Error{Kind: Filesystem, Op: "cleanup_stale", Err: err}
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			h, ok := ParseCacheName(e.Name())
			if !ok || valid[h] {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return removed, &Error{Kind: Filesystem, Op: "cleanup_stale", Err: err}
			}
			removed++
		}
	}
	return removed, nil
}
