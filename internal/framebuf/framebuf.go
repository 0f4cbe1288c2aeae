// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package framebuf maintains the 800x480 4-bit-per-pixel framebuffer that
// the panel driver streams to the controller, and composites a battery
// overlay onto it. The buffer satisfies image.Image/draw.Image the same way
// the teacher corpus's panel drivers do, so it can be handed to any
// display.Drawer (the real panel or the terminal preview) uniformly.
package framebuf

import (
	"image"
	"image/color"
)

// Width, Height and BufferSize match the panel's native resolution: 4 bits
// per pixel, two pixels packed per byte.
const (
	Width      = 800
	Height     = 480
	BufferSize = Width * Height / 2
	HalfBytes  = (Width / 2) * Height / 2 // one 400x480 half, packed
)

// Color is a palette index understood by the panel controller.
type Color uint8

const (
	Black  Color = 0x00
	White  Color = 0x01
	Yellow Color = 0x02
	Red    Color = 0x03
	Blue   Color = 0x05
	Green  Color = 0x06
	Clean  Color = 0x07
)

// dualPixel returns a byte with c in both nibbles, used for fills.
func (c Color) dualPixel() byte {
	b := byte(c)
	return (b << 4) | b
}

// colorRemap maps a PNG palette index (as delivered by the edge service:
// 0=Black, 1=White, 2=Red, 3=Yellow, 4=Blue, 5=Green) to this panel's 4-bit
// encoding (0=Black, 1=White, 2=Yellow, 3=Red, 5=Blue, 6=Green).
var colorRemap = [6]Color{Black, White, Red, Yellow, Blue, Green}

// RemapPNGIndex converts a PNG palette index into the panel's 4-bit color
// value. Invalid indices default to White.
func RemapPNGIndex(idx uint8) Color {
	if int(idx) < len(colorRemap) {
		return colorRemap[idx]
	}
	return White
}

// Buffer is the 192000-byte packed framebuffer.
type Buffer struct {
	pix []byte
}

// NewBuffer allocates a framebuffer initialized to White, standing in for
// the PSRAM-backed allocation the real firmware performs at the start of
// each wake.
func NewBuffer() *Buffer {
	b := &Buffer{pix: make([]byte, BufferSize)}
	b.Clear(White)
	return b
}

// Bytes returns the raw packed buffer for streaming to the panel.
func (b *Buffer) Bytes() []byte { return b.pix }

// Clear fills the entire framebuffer with one color.
func (b *Buffer) Clear(c Color) {
	fill := c.dualPixel()
	for i := range b.pix {
		b.pix[i] = fill
	}
}

// SetPixel writes a single pixel. Out-of-bounds writes are silently
// ignored, matching the original firmware's bounds-checked set_pixel.
func (b *Buffer) SetPixel(x, y int, c Color) {
	if x < 0 || y < 0 || x >= Width || y >= Height {
		return
	}
	idx := y*(Width/2) + x/2
	if x%2 == 0 {
		b.pix[idx] = (b.pix[idx] & 0x0F) | (byte(c) << 4)
	} else {
		b.pix[idx] = (b.pix[idx] & 0xF0) | byte(c)
	}
}

// FillRect fills a rectangular region with one color.
func (b *Buffer) FillRect(x, y, w, h int, c Color) {
	for row := y; row < y+h && row < Height; row++ {
		for col := x; col < x+w && col < Width; col++ {
			b.SetPixel(col, row, c)
		}
	}
}

// WriteRow writes a row of PNG palette indices starting at (xOffset, y),
// remapping each index into the panel's palette.
func (b *Buffer) WriteRow(xOffset, y int, pixels []uint8) {
	for i, p := range pixels {
		b.SetPixel(xOffset+i, y, RemapPNGIndex(p))
	}
}

// ExtractHalf returns the contiguous packed slice for slot 0 (columns
// 0-399) or slot 1 (columns 400-799), row-major.
func (b *Buffer) ExtractHalf(slot int) []byte {
	out := make([]byte, HalfBytes)
	rowBytes := Width / 2
	halfRowBytes := rowBytes / 2
	byteOffset := slot * halfRowBytes
	for row := 0; row < Height; row++ {
		src := b.pix[row*rowBytes+byteOffset : row*rowBytes+byteOffset+halfRowBytes]
		copy(out[row*halfRowBytes:(row+1)*halfRowBytes], src)
	}
	return out
}

// PackedImage is a read-only image.Image view over an arbitrary packed
// 4bpp byte buffer, for backends (the terminal preview) that need to
// render a buffer this package already produced — a full Buffer.Bytes()
// or a half-width Buffer.ExtractHalf() slice — without owning a Buffer.
type PackedImage struct {
	Pix           []byte
	Width, Height int
}

// ColorModel implements image.Image.
func (p PackedImage) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (p PackedImage) Bounds() image.Rectangle { return image.Rect(0, 0, p.Width, p.Height) }

// At implements image.Image, unpacking the 4bpp nibble at (x, y).
func (p PackedImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return color.RGBA{}
	}
	idx := y*(p.Width/2) + x/2
	raw := p.Pix[idx]
	if x%2 == 0 {
		return Color(raw >> 4).toRGBA()
	}
	return Color(raw & 0x0F).toRGBA()
}

// toRGBA renders the palette index as the nearest display-safe color, used
// only for the terminal preview panel and the battery-icon compositor
// scratch canvas, never sent to real hardware.
func (c Color) toRGBA() color.RGBA {
	switch c {
	case Black:
		return color.RGBA{0, 0, 0, 255}
	case White:
		return color.RGBA{255, 255, 255, 255}
	case Yellow:
		return color.RGBA{255, 220, 0, 255}
	case Red:
		return color.RGBA{220, 30, 30, 255}
	case Blue:
		return color.RGBA{30, 60, 220, 255}
	case Green:
		return color.RGBA{30, 160, 60, 255}
	default:
		return color.RGBA{255, 255, 255, 255}
	}
}

// ColorModel implements image.Image.
func (b *Buffer) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, Width, Height) }

// At implements image.Image, unpacking the 4bpp nibble at (x, y).
func (b *Buffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= Width || y >= Height {
		return color.RGBA{}
	}
	idx := y*(Width/2) + x/2
	raw := b.pix[idx]
	if x%2 == 0 {
		return Color(raw >> 4).toRGBA()
	}
	return Color(raw & 0x0F).toRGBA()
}

// Set implements draw.Image by quantizing the nearest palette color.
func (b *Buffer) Set(x, y int, c color.Color) {
	b.SetPixel(x, y, nearestColor(c))
}

func nearestColor(c color.Color) Color {
	r, g, bl, _ := c.RGBA()
	best := White
	bestDist := uint32(1) << 31
	for _, cand := range [...]Color{Black, White, Yellow, Red, Blue, Green} {
		cr, cg, cb, _ := cand.toRGBA().RGBA()
		dr, dg, db := diff(r, cr), diff(g, cg), diff(bl, cb)
		dist := dr*dr + dg*dg + db*db
		if dist < bestDist {
			bestDist = dist
			best = cand
		}
	}
	return best
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

var _ image.Image = (*Buffer)(nil)
