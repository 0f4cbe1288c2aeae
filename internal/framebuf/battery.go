// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package framebuf

import (
	"github.com/fogleman/gg"
)

// Battery icon dimensions. Horizontal mode draws the icon with its tip on
// the right; vertical mode rotates it with the tip on top.
const (
	BatteryWidthH  = 48
	BatteryHeightH = 24
	BatteryWidthV  = 24
	BatteryHeightV = 48
)

// PercentageColor picks the fill color for a battery percentage: 0-15 red,
// 16-40 yellow, otherwise green.
func PercentageColor(percent int) Color {
	switch {
	case percent <= 15:
		return Red
	case percent <= 40:
		return Yellow
	default:
		return Green
	}
}

// BatteryPosition returns where the icon's top-left corner should land:
// centered horizontally in Horizontal mode, right-aligned in Vertical mode,
// 8 pixels from the top in both.
func BatteryPosition(vertical bool) (x, y int) {
	if vertical {
		return Width - BatteryWidthV - 8, 8
	}
	return (Width - BatteryWidthH) / 2, 8
}

// DrawBattery composites a battery icon (border, tip, proportional fill
// bar) at (fbX, fbY). The icon is rasterized on a small RGBA canvas with
// github.com/fogleman/gg, then quantized into the framebuffer's palette on
// blit — no text is drawn, since text composition belongs to the edge
// service, not the firmware.
func (b *Buffer) DrawBattery(fbX, fbY, percent int, vertical bool) {
	w, h := BatteryWidthH, BatteryHeightH
	if vertical {
		w, h = BatteryWidthV, BatteryHeightV
	}
	fill := PercentageColor(percent).toRGBA()

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB255(int(fill.R), int(fill.G), int(fill.B))

	const border = 2
	if vertical {
		bodyW, bodyH, bodyY := BatteryWidthV, 42, 6
		tipW, tipH := 12, border+4
		tipX := (bodyW - tipW) / 2
		dc.DrawRectangle(float64(tipX), 0, float64(tipW), float64(tipH))
		dc.Fill()

		pct := clampPercent(percent)
		fillMaxH := bodyH - 8
		fillH := fillMaxH * pct / 100
		fillYEnd := bodyY + bodyH - 4
		fillYStart := fillYEnd - fillH
		dc.DrawRectangle(4, float64(fillYStart), float64(bodyW-8), float64(fillH))
		dc.Fill()
	} else {
		bodyW, bodyH := 42, BatteryHeightH
		tipW, tipH := border+4, 12
		tipY := (bodyH - tipH) / 2
		dc.DrawRectangle(float64(bodyW), float64(tipY), float64(tipW), float64(tipH))
		dc.Fill()

		pct := clampPercent(percent)
		fillMaxW := bodyW - 8
		fillW := fillMaxW * pct / 100
		dc.DrawRectangle(4, 4, float64(fillW), float64(bodyH-8))
		dc.Fill()
	}

	// Border: black outline over a white interior, drawn last so it is never
	// covered by the fill bar.
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(border)
	bodyW, bodyH, bodyY := w, h, 0
	if vertical {
		bodyH, bodyY = 42, 6
	} else {
		bodyW = 42
	}
	dc.DrawRectangle(1, float64(bodyY)+1, float64(bodyW)-2, float64(bodyH)-2)
	dc.Stroke()

	img := dc.Image()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.Set(fbX+x, fbY+y, img.At(x, y))
		}
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
