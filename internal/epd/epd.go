// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epd drives a Good Display GDEP073E01-class 800x480 six-color
// (Spectra 6) e-paper panel over SPI, following periph.io's own
// conn.Conn/gpio.PinIO device-driver idiom (see inky.Dev and
// waveshare2in13v2.Dev in this corpus) rather than the embedded-hal trait
// bounds the firmware this is ported from used.
package epd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ozwaldorf/sawthat-frame/internal/framebuf"
)

// Command opcodes, named after the controller datasheet exactly as the
// firmware's Rust driver names them.
const (
	cmdPSR    byte = 0x00
	cmdPWRR   byte = 0x01
	cmdPOF    byte = 0x02
	cmdPOFS   byte = 0x03
	cmdPON    byte = 0x04
	cmdBTST1  byte = 0x05
	cmdBTST2  byte = 0x06
	cmdDSLP   byte = 0x07
	cmdBTST3  byte = 0x08
	cmdDTM    byte = 0x10
	cmdDRF    byte = 0x12
	cmdIPC    byte = 0x13
	cmdPLL    byte = 0x30
	cmdTSE    byte = 0x41
	cmdCDI    byte = 0x50
	cmdTCON   byte = 0x60
	cmdTRES   byte = 0x61
	cmdVDCS   byte = 0x82
	cmdTVDCS  byte = 0x84
	cmdAGID   byte = 0x86
	cmdCMDH   byte = 0xAA
	cmdPWS    byte = 0xE3
	cmdCCSET  byte = 0xE0
	cmdTSSET  byte = 0xE6
	cmdPTLW   byte = 0x83
)

// Width, Height and BufferSize mirror internal/framebuf's panel geometry.
const (
	Width      = framebuf.Width
	Height     = framebuf.Height
	BufferSize = framebuf.BufferSize
)

// RefreshMode selects the init/refresh register sequence: Standard gives
// the best image quality (~15-20s); Fast trades quality for speed (~5-8s).
type RefreshMode int

const (
	Standard RefreshMode = iota
	Fast
)

// Rect describes a partial-update window. NewRect rounds x down to an even
// column and width up to an even count, so every Rect built with NewRect
// satisfies the panel's byte-alignment requirement; bounds are not checked
// there (see Valid).
type Rect struct {
	X, Y, W, H int
}

// NewRect builds a Rect with alignment applied.
func NewRect(x, y, w, h int) Rect {
	return Rect{X: x &^ 1, Y: y, W: (w + 1) &^ 1, H: h}
}

// Valid reports whether the rect lies within the panel and is non-empty.
func (r Rect) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 &&
		r.X+r.W <= Width && r.Y+r.H <= Height
}

// BufferSize is the number of packed bytes this rect's pixel data occupies.
func (r Rect) BufferSize() int {
	return r.W * r.H / 2
}

// errAlignment is returned when a caller passes a Rect or buffer that
// violates the panel's alignment contract; release builds return this
// error instead of asserting, per the firmware's Programmer-error handling.
var errAlignment = errors.New("epd: rect/buffer alignment violation")

// errBusyTimeout is returned when the busy line never releases.
var errBusyTimeout = errors.New("epd: busy line timeout")

const busyTimeout = 40 * time.Second

// Dev is a handle to the panel controller.
type Dev struct {
	c    conn.Conn
	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIO

	mode RefreshMode
}

// New returns a Dev communicating over the named SPI port and GPIO pins,
// following the same host.Init + gpioreg.ByName + spireg.Open sequence used
// throughout this corpus's panel drivers.
func New(spiName, dcPin, csPin, rstPin, busyPin string, mode RefreshMode) (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}

	dc := gpioreg.ByName(dcPin)
	if dc == nil {
		return nil, fmt.Errorf("epd: failed to find DC pin %q", dcPin)
	}
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("epd: failed to find CS pin %q", csPin)
	}
	rst := gpioreg.ByName(rstPin)
	if rst == nil {
		return nil, fmt.Errorf("epd: failed to find RST pin %q", rstPin)
	}
	busy := gpioreg.ByName(busyPin)
	if busy == nil {
		return nil, fmt.Errorf("epd: failed to find BUSY pin %q", busyPin)
	}
	if err := busy.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, err
	}

	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, err
	}
	c, err := port.Connect(5*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, err
	}

	d := &Dev{c: c, dc: dc, cs: cs, rst: rst, busy: busy, mode: mode}
	return d, nil
}

func (d *Dev) sendCommand(cmd byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := d.c.Tx([]byte{cmd}, nil)
	d.cs.Out(gpio.High)
	return err
}

func (d *Dev) sendData(data []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := d.c.Tx(data, nil)
	d.cs.Out(gpio.High)
	return err
}

func (d *Dev) cmdWithData(cmd byte, data []byte) error {
	if err := d.sendCommand(cmd); err != nil {
		return err
	}
	return d.sendData(data)
}

// waitIdle polls the busy line (active low) until it releases or
// busyTimeout elapses.
func (d *Dev) waitIdle() error {
	deadline := time.Now().Add(busyTimeout)
	for d.busy.Read() == gpio.Low {
		if time.Now().After(deadline) {
			return errBusyTimeout
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// IsBusy reports whether the panel is still refreshing.
func (d *Dev) IsBusy() bool {
	return d.busy.Read() == gpio.Low
}

func (d *Dev) hardwareReset() error {
	if err := d.rst.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	if err := d.rst.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	if err := d.rst.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Init performs the hardware reset and the ~15-register init sequence for
// the configured RefreshMode, then powers on and waits idle.
func (d *Dev) Init() error {
	if err := d.hardwareReset(); err != nil {
		return err
	}
	var err error
	if d.mode == Fast {
		err = d.initFast()
	} else {
		err = d.initStandard()
	}
	if err != nil {
		return err
	}
	if err := d.sendCommand(cmdPON); err != nil {
		return err
	}
	return d.waitIdle()
}

func (d *Dev) initStandard() error {
	steps := []struct {
		cmd  byte
		data []byte
	}{
		{cmdCMDH, []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
		{cmdPWRR, []byte{0x3F}},
		{cmdPSR, []byte{0x5F, 0x69}},
		{cmdPOFS, []byte{0x00, 0x54, 0x00, 0x44}},
		{cmdBTST1, []byte{0x40, 0x1F, 0x1F, 0x2C}},
		{cmdBTST2, []byte{0x6F, 0x1F, 0x17, 0x49}},
		{cmdBTST3, []byte{0x6F, 0x1F, 0x1F, 0x22}},
		{cmdPLL, []byte{0x08}},
		{cmdCDI, []byte{0x3F}},
		{cmdTCON, []byte{0x02, 0x00}},
		{cmdTRES, []byte{0x03, 0x20, 0x01, 0xE0}},
		{cmdTVDCS, []byte{0x01}},
		{cmdPWS, []byte{0x2F}},
	}
	return d.runSteps(steps)
}

func (d *Dev) initFast() error {
	steps := []struct {
		cmd  byte
		data []byte
	}{
		{cmdCMDH, []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
		{cmdPWRR, []byte{0x3F, 0x00, 0x32, 0x2A, 0x0E, 0x2A}},
		{cmdPSR, []byte{0x5F, 0x69}},
		{cmdPOFS, []byte{0x00, 0x54, 0x00, 0x44}},
		{cmdBTST1, []byte{0x40, 0x1F, 0x1F, 0x2C}},
		{cmdBTST2, []byte{0x6F, 0x1F, 0x16, 0x25}},
		{cmdBTST3, []byte{0x6F, 0x1F, 0x1F, 0x22}},
		{cmdIPC, []byte{0x00, 0x04}},
		{cmdPLL, []byte{0x02}},
		{cmdTSE, []byte{0x00}},
		{cmdCDI, []byte{0x3F}},
		{cmdTCON, []byte{0x02, 0x00}},
		{cmdTRES, []byte{0x03, 0x20, 0x01, 0xE0}},
		{cmdVDCS, []byte{0x1E}},
		{cmdTVDCS, []byte{0x01}},
		{cmdAGID, []byte{0x00}},
		{cmdPWS, []byte{0x2F}},
		{cmdCCSET, []byte{0x00}},
		{cmdTSSET, []byte{0x00}},
	}
	return d.runSteps(steps)
}

func (d *Dev) runSteps(steps []struct {
	cmd  byte
	data []byte
}) error {
	for _, s := range steps {
		if err := d.cmdWithData(s.cmd, s.data); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) boosterForMode() []byte {
	if d.mode == Standard {
		return []byte{0x6F, 0x1F, 0x17, 0x49}
	}
	return []byte{0x6F, 0x1F, 0x16, 0x25}
}

// refreshStart issues PON, the mode-dependent BTST2 and DRF, returning as
// soon as the controller has accepted the refresh command. The caller must
// follow with RefreshWait (or the blocking forms) before starting a new
// operation; it is a contract violation to do otherwise while the panel is
// Refreshing.
func (d *Dev) refreshStart() error {
	if err := d.sendCommand(cmdPON); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.cmdWithData(cmdBTST2, d.boosterForMode()); err != nil {
		return err
	}
	if err := d.cmdWithData(cmdDRF, []byte{0x00}); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	return nil
}

// RefreshWait blocks until a started refresh completes and powers the
// panel off.
func (d *Dev) RefreshWait() error {
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.cmdWithData(cmdPOF, []byte{0x00}); err != nil {
		return err
	}
	return d.waitIdle()
}

func (d *Dev) refresh() error {
	if err := d.refreshStart(); err != nil {
		return err
	}
	return d.RefreshWait()
}

// Clear streams the full framebuffer at one palette color, then refreshes.
func (d *Dev) Clear(c framebuf.Color) error {
	if err := d.ClearStart(c); err != nil {
		return err
	}
	return d.RefreshWait()
}

// ClearStart begins a full-panel clear without blocking for completion.
func (d *Dev) ClearStart(c framebuf.Color) error {
	if err := d.sendCommand(cmdDTM); err != nil {
		return err
	}
	b := byte(c)<<4 | byte(c)
	buf := make([]byte, BufferSize)
	for i := range buf {
		buf[i] = b
	}
	if err := d.sendData(buf); err != nil {
		return err
	}
	return d.refreshStart()
}

// Display streams BufferSize packed bytes and refreshes, blocking until
// done.
func (d *Dev) Display(buf []byte) error {
	if err := d.DisplayStart(buf); err != nil {
		return err
	}
	return d.RefreshWait()
}

// DisplayStart streams the buffer and starts the refresh without blocking
// for completion.
func (d *Dev) DisplayStart(buf []byte) error {
	if len(buf) != BufferSize {
		return fmt.Errorf("%w: got %d bytes, want %d", errAlignment, len(buf), BufferSize)
	}
	if err := d.sendCommand(cmdDTM); err != nil {
		return err
	}
	if err := d.sendData(buf); err != nil {
		return err
	}
	return d.refreshStart()
}

func (d *Dev) setPartialWindow(r Rect) error {
	xEnd := r.X + r.W - 1
	yEnd := r.Y + r.H - 1
	if err := d.sendCommand(cmdPTLW); err != nil {
		return err
	}
	data := []byte{
		byte((r.X >> 8) & 0x03), byte(r.X & 0xFF),
		byte((xEnd >> 8) & 0x03), byte(xEnd & 0xFF),
		byte((r.Y >> 8) & 0x03), byte(r.Y & 0xFF),
		byte((yEnd >> 8) & 0x03), byte(yEnd & 0xFF),
		0x01,
	}
	return d.sendData(data)
}

// PartialUpdate updates a rectangular sub-region of the panel, blocking
// until the refresh completes. rect must have even X and W and be non-empty,
// and buf must be exactly rect.BufferSize() bytes; violations return
// errAlignment rather than asserting, per this firmware's release-build
// error discipline. Bounds are not checked (see PartialUpdateStart).
func (d *Dev) PartialUpdate(rect Rect, buf []byte) error {
	if err := d.PartialUpdateStart(rect, buf); err != nil {
		return err
	}
	return d.RefreshWait()
}

// PartialUpdateStart begins a partial-window update without blocking for
// completion. Only parity and non-emptiness are enforced here (the
// alignment debug_assert the original firmware carries); a rect whose
// rounded width pushes a byte or two past the panel edge is passed through
// to the controller rather than refused, matching the documented release-
// build behavior for this exact edge case.
func (d *Dev) PartialUpdateStart(rect Rect, buf []byte) error {
	if rect.X%2 != 0 || rect.W%2 != 0 || rect.W <= 0 || rect.H <= 0 {
		return fmt.Errorf("%w: rect %+v fails alignment", errAlignment, rect)
	}
	if len(buf) != rect.BufferSize() {
		return fmt.Errorf("%w: got %d bytes, want %d", errAlignment, len(buf), rect.BufferSize())
	}
	if err := d.setPartialWindow(rect); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDTM); err != nil {
		return err
	}
	if err := d.sendData(buf); err != nil {
		return err
	}
	return d.refreshStart()
}

// Sleep powers the panel down into its lowest-power state. WakeUp
// reinitializes the controller from scratch.
func (d *Dev) Sleep() error {
	if err := d.cmdWithData(cmdPOF, []byte{0x00}); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.cmdWithData(cmdDSLP, []byte{0xA5}); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// WakeUp reinitializes the controller after Sleep.
func (d *Dev) WakeUp() error {
	return d.Init()
}

// ShowColorBands paints six solid-color bands (2 rows x 3 cols: Black,
// White, Yellow / Red, Blue, Green) as a driver self-test, the portable
// equivalent of the firmware's manufacturing bring-up diagnostic.
func (d *Dev) ShowColorBands() error {
	colors := [6]framebuf.Color{framebuf.Black, framebuf.White, framebuf.Yellow, framebuf.Red, framebuf.Blue, framebuf.Green}
	buf := make([]byte, BufferSize)
	blockW := Width / 3
	rowBytes := Width / 2
	for row := 0; row < Height; row++ {
		colorRow := 0
		if row >= Height/2 {
			colorRow = 3
		}
		for col := 0; col < rowBytes; col++ {
			px := col * 2
			c1 := colors[colorRow+min(px/blockW, 2)]
			c2 := colors[colorRow+min((px+1)/blockW, 2)]
			buf[row*rowBytes+col] = byte(c1)<<4 | byte(c2)
		}
	}
	return d.Display(buf)
}

// Halt implements conn.Resource: it puts the panel to sleep.
func (d *Dev) Halt() error {
	return d.Sleep()
}

// String implements conn.Resource/fmt.Stringer.
func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%s, mode=%v}", d.c, d.mode)
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// Draw implements display.Drawer by quantizing src into the panel's
// palette and performing a full-panel Display.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	buf := framebuf.NewBuffer()
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			buf.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return d.Display(buf.Bytes())
}

var _ conn.Resource = (*Dev)(nil)
var _ display.Drawer = (*Dev)(nil)
