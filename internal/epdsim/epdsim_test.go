// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epdsim

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestDrawFillsGridWithoutPanicking(t *testing.T) {
	d := New(&Opts{Cols: 10, Rows: 5})
	var out bytes.Buffer
	d.w = &out

	img := image.NewNRGBA(d.Bounds())
	red := color.NRGBA{255, 0, 0, 255}
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			img.Set(x, y, red)
		}
	}
	if err := d.Draw(d.Bounds(), img, image.Point{}); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected terminal output to be written")
	}
}

func TestHaltResetsTerminalState(t *testing.T) {
	d := New(&Opts{Cols: 4, Rows: 4})
	var out bytes.Buffer
	d.w = &out
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected Halt to write a reset sequence")
	}
}

func TestBoundsMatchesPanelResolution(t *testing.T) {
	d := New(&Opts{})
	b := d.Bounds()
	if b.Dx() != Width || b.Dy() != Height {
		t.Fatalf("got %v, want %dx%d", b, Width, Height)
	}
}
