// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package buttonled implements the button monitor and LED indicator tasks.
// Both communicate with the orchestrator through atomics rather than
// channels, mirroring the original firmware's single-threaded cooperative
// scheduler: correctness only depends on the outcome eventually being
// visible, never on the precise moment it lands.
package buttonled

import (
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Outcome is the button monitor's latched verdict.
type Outcome int32

const (
	// None means no button outcome is pending.
	None Outcome = iota
	// Next is a tap (held under holdThreshold): advance to the next item.
	Next
	// Flip is a hold (held at or past holdThreshold): toggle orientation.
	Flip
)

// holdThreshold discriminates a tap from a hold.
const holdThreshold = 500 * time.Millisecond

// pollInterval is how often both tasks sample their inputs.
const pollInterval = 50 * time.Millisecond

// flashPulse is the on/off duration of one green-LED flash.
const flashPulse = 100 * time.Millisecond

// RedMode is the red LED's operating mode, set by the orchestrator to
// reflect network activity.
type RedMode int32

const (
	// RedOff: no activity, LED fully off.
	RedOff RedMode = iota
	// RedSolid: normal operation.
	RedSolid
	// RedBlink: a network fetch is in progress.
	RedBlink
	// RedFastBlink: Wi-Fi is associating.
	RedFastBlink
)

// Signals is the shared atomic state the LED task reads and the
// orchestrator/button monitor write. It has no mutex: every field is
// accessed exclusively through sync/atomic, per the relaxed-ordering
// contract the original firmware relies on.
type Signals struct {
	outcome     atomic.Int32 // Outcome
	redMode     atomic.Int32 // RedMode
	flashCount  atomic.Int32 // pending green flashes (1 or 3)
	monitorDone atomic.Bool
}

// RequestFlash posts a green-LED flash request. Never blocks.
func (s *Signals) RequestFlash(n int) {
	s.flashCount.Store(int32(n))
}

// SetRedMode sets the red LED's mode. Never blocks.
func (s *Signals) SetRedMode(m RedMode) {
	s.redMode.Store(int32(m))
}

// Latch records an outcome directly and requests its matching LED flash
// count, the same effect classify+store has inside RunButtonMonitor. It
// lets a caller that already knows the outcome — the orchestrator's
// boot-time button sample, or a test — latch it without spinning a
// goroutine.
func (s *Signals) Latch(o Outcome) {
	s.outcome.Store(int32(o))
	if o == Flip {
		s.RequestFlash(3)
	} else if o == Next {
		s.RequestFlash(1)
	}
}

// ConsumeOutcome reads and clears the latched button outcome. The
// orchestrator calls this exactly once the panel is idle, so it never
// observes a stale outcome left over from a prior wake.
func (s *Signals) ConsumeOutcome() Outcome {
	return Outcome(s.outcome.Swap(int32(None)))
}

// MonitorFinished reports whether the button monitor task has terminated.
func (s *Signals) MonitorFinished() bool {
	return s.monitorDone.Load()
}

// classify discriminates a tap from a hold by elapsed press duration.
func classify(held time.Duration) Outcome {
	if held >= holdThreshold {
		return Flip
	}
	return Next
}

// latch stores the classified outcome and requests the matching LED flash
// count (one flash for a tap, three for a hold).
func (s *Signals) latch(held time.Duration) {
	switch classify(held) {
	case Flip:
		s.outcome.Store(int32(Flip))
		s.RequestFlash(3)
	default:
		s.outcome.Store(int32(Next))
		s.RequestFlash(1)
	}
}

// RunButtonMonitor polls button for up to window, discriminates tap vs.
// hold by holdThreshold, latches the outcome into s, requests the matching
// LED flash count, and returns. It blocks the caller until then; cmd/frame
// calls it from the orchestrator's post-refresh button-window wait, once per
// refresh cycle.
func RunButtonMonitor(button gpio.PinIn, s *Signals, window time.Duration) {
	defer s.monitorDone.Store(true)

	deadline := time.Now().Add(window)
	var pressStart time.Time
	pressed := false

	for time.Now().Before(deadline) {
		// Button is active-low: Low means pressed.
		down := button.Read() == gpio.Low
		switch {
		case down && !pressed:
			pressed = true
			pressStart = time.Now()
		case !down && pressed:
			s.latch(time.Since(pressStart))
			return
		}
		time.Sleep(pollInterval)
	}
	// Still held when the window closed: classify by elapsed hold time.
	if pressed {
		s.latch(time.Since(pressStart))
	}
}

// RunLEDTask drives the red and green LEDs from s until stop is closed.
// Meant to run in its own long-lived goroutine for the life of a wake
// cycle.
func RunLEDTask(green, red gpio.PinOut, s *Signals, stop <-chan struct{}) {
	var blinkOn bool
	var lastBlink time.Time

	for {
		select {
		case <-stop:
			_ = green.Out(gpio.High) // active-low outputs: High is off
			_ = red.Out(gpio.High)
			return
		default:
		}

		if n := s.flashCount.Swap(0); n > 0 {
			flashGreen(green, int(n))
		}

		switch RedMode(s.redMode.Load()) {
		case RedOff:
			_ = red.Out(gpio.High)
		case RedSolid:
			_ = red.Out(gpio.Low)
		case RedBlink:
			blinkOn, lastBlink = tickBlink(red, blinkOn, lastBlink, 500*time.Millisecond)
		case RedFastBlink:
			blinkOn, lastBlink = tickBlink(red, blinkOn, lastBlink, 100*time.Millisecond)
		}

		time.Sleep(pollInterval)
	}
}

func flashGreen(green gpio.PinOut, n int) {
	for i := 0; i < n; i++ {
		_ = green.Out(gpio.Low)
		time.Sleep(flashPulse)
		_ = green.Out(gpio.High)
		time.Sleep(flashPulse)
	}
}

func tickBlink(pin gpio.PinOut, on bool, last time.Time, period time.Duration) (bool, time.Time) {
	if time.Since(last) < period {
		return on, last
	}
	on = !on
	if on {
		_ = pin.Out(gpio.Low)
	} else {
		_ = pin.Out(gpio.High)
	}
	return on, time.Now()
}
