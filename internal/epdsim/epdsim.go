// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epdsim implements a display.Drawer that renders the panel's
// 800x480 6-color framebuffer to an ANSI-256 terminal, for development and
// CI where no real panel is attached. It generalizes screen1d's 1D LED-strip
// preview to a 2D, downsampled grid.
package epdsim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
)

const (
	// Width and Height match the real panel's native resolution.
	Width  = 800
	Height = 480
)

// Opts configures the terminal preview.
type Opts struct {
	// Cols and Rows size the terminal grid the 800x480 buffer is downsampled
	// into. Zero picks a default that fits a typical terminal window.
	Cols, Rows int
	Palette    *ansi256.Palette

	_ struct{}
}

// Dev is the simulated panel.
type Dev struct {
	w       io.Writer
	cols    int
	rows    int
	palette ansi256.Palette

	pixels []color.NRGBA // cols*rows, row-major
	buf    bytes.Buffer
}

// New returns a Dev that renders to the console.
func New(opts *Opts) *Dev {
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 100
	}
	if rows <= 0 {
		rows = 30
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	return &Dev{
		w:       colorable.NewColorableStdout(),
		cols:    cols,
		rows:    rows,
		palette: *p,
		pixels:  make([]color.NRGBA, cols*rows),
	}
}

func (d *Dev) String() string {
	return "epdsim.Dev"
}

// Halt implements conn.Resource. It resets terminal color state.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// Draw implements display.Drawer. It downsamples src by nearest-neighbor
// sampling into the terminal grid, then renders immediately.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	strideX := Width / d.cols
	strideY := Height / d.rows
	if strideX == 0 {
		strideX = 1
	}
	if strideY == 0 {
		strideY = 1
	}
	for row := 0; row < d.rows; row++ {
		py := row * strideY
		if py < r.Min.Y || py >= r.Max.Y {
			continue
		}
		for col := 0; col < d.cols; col++ {
			px := col * strideX
			if px < r.Min.X || px >= r.Max.X {
				continue
			}
			sx := sp.X + (px - r.Min.X)
			sy := sp.Y + (py - r.Min.Y)
			cr, cg, cb, _ := src.At(sx, sy).RGBA()
			d.pixels[row*d.cols+col] = color.NRGBA{byte(cr >> 8), byte(cg >> 8), byte(cb >> 8), 255}
		}
	}
	_, err := d.refresh()
	return err
}

func (d *Dev) refresh() (int, error) {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\033[H\033[0m")
	for row := 0; row < d.rows; row++ {
		for col := 0; col < d.cols; col++ {
			_, _ = io.WriteString(&d.buf, d.palette.Block(d.pixels[row*d.cols+col]))
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	n, err := d.buf.WriteTo(d.w)
	return int(n), err
}

var _ display.Drawer = (*Dev)(nil)
var _ fmt.Stringer = (*Dev)(nil)
