// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package state implements the persistent session record that would live in
// RTC-retained memory on the target board. Since a portable build has no such
// memory region, the record is persisted to a single file written once per
// wake, immediately before the process exits to simulate deep sleep.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Magic validates the record after power-on. Bump this when the layout
// changes so a stale file from an older firmware version is rejected instead
// of misread.
const Magic uint32 = 0x53415746 // "SAWF"

// Orientation selects how items are laid out across the panel.
type Orientation uint8

const (
	Horizontal Orientation = iota
	Vertical
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vert"
	}
	return "horiz"
}

// Toggle flips the orientation.
func (o Orientation) Toggle() Orientation {
	if o == Horizontal {
		return Vertical
	}
	return Horizontal
}

// ParseOrientation turns a cache-directory name back into an Orientation.
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "horiz":
		return Horizontal, nil
	case "vert":
		return Vertical, nil
	default:
		return 0, fmt.Errorf("state: unknown orientation %q", s)
	}
}

// Session is the RTC-retained record. It is a fixed-layout struct so that
// Encode/Decode are a straightforward binary.Write/Read pair, mirroring the
// packed C layout the real firmware keeps in retained SRAM.
type Session struct {
	Magic       uint32
	Index       uint32
	TotalItems  uint32
	ShuffleSeed uint64
	Orientation Orientation
	NextSlot    uint8
	SlotItems   [2]uint32
	DataHash    uint32
}

// recordSize is the encoded size in bytes of Session, used to validate a
// file read back from disk before trusting its contents.
const recordSize = 4 + 4 + 4 + 8 + 1 + 1 + 4 + 4 + 4

// Valid reports whether magic indicates every other field is meaningful (I1
// of the spec this record implements: magic is set iff every other field is
// valid).
func (s *Session) Valid() bool {
	return s.Magic == Magic
}

// Invalidate clears magic without touching the rest of the record.
func (s *Session) Invalidate() {
	s.Magic = 0
}

// CanPartial reports whether a partial refresh is permitted this wake: the
// catalog hash must match, both the live and saved orientation must be
// Horizontal, and at least one full refresh must have happened since the
// last fresh start.
func (s *Session) CanPartial(catalogHash uint32, liveOrientation Orientation) bool {
	return s.Valid() &&
		s.DataHash == catalogHash &&
		liveOrientation == Horizontal &&
		s.Orientation == Horizontal &&
		s.Index >= 2
}

// Encode serializes the record to its fixed binary layout.
func (s *Session) Encode() []byte {
	buf := make([]byte, 0, recordSize)
	w := bytes.NewBuffer(buf)
	_ = binary.Write(w, binary.LittleEndian, s.Magic)
	_ = binary.Write(w, binary.LittleEndian, s.Index)
	_ = binary.Write(w, binary.LittleEndian, s.TotalItems)
	_ = binary.Write(w, binary.LittleEndian, s.ShuffleSeed)
	_ = binary.Write(w, binary.LittleEndian, uint8(s.Orientation))
	_ = binary.Write(w, binary.LittleEndian, s.NextSlot)
	_ = binary.Write(w, binary.LittleEndian, s.SlotItems[0])
	_ = binary.Write(w, binary.LittleEndian, s.SlotItems[1])
	_ = binary.Write(w, binary.LittleEndian, s.DataHash)
	return w.Bytes()
}

// Decode parses a record previously produced by Encode. A short or
// malformed buffer yields an error and a zero-value Session with Magic
// unset; Store.Load treats that the same as a missing record.
func Decode(b []byte) (Session, error) {
	var s Session
	if len(b) != recordSize {
		return s, errors.New("state: record size mismatch")
	}
	r := bytes.NewReader(b)
	var orient, nextSlot uint8
	for _, dst := range []any{
		&s.Magic, &s.Index, &s.TotalItems, &s.ShuffleSeed, &orient, &nextSlot,
		&s.SlotItems[0], &s.SlotItems[1], &s.DataHash,
	} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return Session{}, fmt.Errorf("state: decode: %w", err)
		}
	}
	s.Orientation = Orientation(orient)
	s.NextSlot = nextSlot
	return s, nil
}

// Store is the single-owner persistence boundary for Session: it is read
// once at the start of a wake and written exactly once, at the pre-sleep
// point, never partially updated while the process runs.
type Store struct {
	path string
}

// NewStore binds a Store to the given file path. The directory must already
// exist; cmd/frame's default is "/sd/session.bin".
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted record. A missing file is not an error: it
// yields a zero-value (invalid) Session, the same as a fresh-start boot with
// no RTC magic.
func (st *Store) Load() (Session, error) {
	b, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("state: load: %w", err)
	}
	s, err := Decode(b)
	if err != nil {
		// A corrupted record is treated as a missing one, not a fatal error.
		return Session{}, nil
	}
	return s, nil
}

// Save writes the record unconditionally. Callers must call this exactly
// once per wake, immediately before entering deep sleep.
func (st *Store) Save(s Session) error {
	tmp := st.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	if _, err := f.Write(s.Encode()); err != nil {
		f.Close()
		return fmt.Errorf("state: save: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	return os.Rename(tmp, st.path)
}

// Shuffle returns the deterministic permutation of [0,n) produced by seed,
// using a Fisher-Yates shuffle driven by a splitmix64 generator. The same
// (seed, n) pair always yields the same permutation, which is what lets a
// resumed session recompute display order from shuffle_seed alone.
func Shuffle(seed uint64, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := seed
	next := func() uint64 {
		rng += 0x9E3779B97F4A7C15
		z := rng
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		return z ^ (z >> 31)
	}
	for i := n - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Hash computes the djb2 hash over a catalog's item identifiers, each
// separated by a null byte, collapsed to 32 bits. It is a change detector,
// not a cryptographic check.
func Hash(items []string) uint32 {
	var h uint32 = 5381
	for _, item := range items {
		for i := 0; i < len(item); i++ {
			h = h*33 + uint32(item[i])
		}
		h = h*33 + 0
	}
	return h
}
