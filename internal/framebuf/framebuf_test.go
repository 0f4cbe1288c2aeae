// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package framebuf

import "testing"

func TestNewBufferIsWhite(t *testing.T) {
	b := NewBuffer()
	if len(b.Bytes()) != BufferSize {
		t.Fatalf("got %d bytes, want %d", len(b.Bytes()), BufferSize)
	}
	for _, v := range b.Bytes() {
		if v != White.dualPixel() {
			t.Fatalf("expected an all-white buffer, found byte %#x", v)
		}
	}
}

func TestSetPixelNibblePacking(t *testing.T) {
	b := NewBuffer()
	b.SetPixel(0, 0, Black)
	b.SetPixel(1, 0, Red)
	got := b.Bytes()[0]
	want := (byte(Black) << 4) | byte(Red)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestExtractHalfSize(t *testing.T) {
	b := NewBuffer()
	for _, slot := range []int{0, 1} {
		half := b.ExtractHalf(slot)
		if len(half) != HalfBytes {
			t.Fatalf("slot %d: got %d bytes, want %d", slot, len(half), HalfBytes)
		}
	}
}

func TestExtractHalfContent(t *testing.T) {
	b := NewBuffer()
	b.FillRect(0, 0, 400, Height, Black)
	b.FillRect(400, 0, 400, Height, Green)

	left := b.ExtractHalf(0)
	right := b.ExtractHalf(1)
	wantLeft := Black.dualPixel()
	wantRight := Green.dualPixel()
	for i, v := range left {
		if v != wantLeft {
			t.Fatalf("left half byte %d: got %#x, want %#x", i, v, wantLeft)
		}
	}
	for i, v := range right {
		if v != wantRight {
			t.Fatalf("right half byte %d: got %#x, want %#x", i, v, wantRight)
		}
	}
}

func TestRemapPNGIndex(t *testing.T) {
	cases := map[uint8]Color{0: Black, 1: White, 2: Red, 3: Yellow, 4: Blue, 5: Green}
	for idx, want := range cases {
		if got := RemapPNGIndex(idx); got != want {
			t.Errorf("RemapPNGIndex(%d) = %v, want %v", idx, got, want)
		}
	}
	if RemapPNGIndex(99) != White {
		t.Errorf("an invalid index must default to White")
	}
}

func TestPercentageColorThresholds(t *testing.T) {
	cases := []struct {
		percent int
		want    Color
	}{
		{0, Red}, {15, Red}, {16, Yellow}, {40, Yellow}, {41, Green}, {100, Green},
	}
	for _, c := range cases {
		if got := PercentageColor(c.percent); got != c.want {
			t.Errorf("PercentageColor(%d) = %v, want %v", c.percent, got, c.want)
		}
	}
}

func TestDrawBatteryDoesNotPanic(t *testing.T) {
	b := NewBuffer()
	x, y := BatteryPosition(false)
	b.DrawBattery(x, y, 50, false)
	x, y = BatteryPosition(true)
	b.DrawBattery(x, y, 5, true)
}
