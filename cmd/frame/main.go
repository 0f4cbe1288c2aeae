// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Binary frame is the bootstrap entrypoint for the e-ink photo frame: it
// brings up the PMIC power rails, the panel, and the network, runs exactly
// one wake cycle, and exits so the caller (an RTC-driven deep-sleep wrapper
// on real hardware, or a plain loop under the simulator) can put the device
// back to sleep.
package main

import (
	"flag"
	"image"
	"log"
	"os"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ozwaldorf/sawthat-frame/internal/buttonled"
	"github.com/ozwaldorf/sawthat-frame/internal/cache"
	"github.com/ozwaldorf/sawthat-frame/internal/epd"
	"github.com/ozwaldorf/sawthat-frame/internal/epdsim"
	"github.com/ozwaldorf/sawthat-frame/internal/framebuf"
	"github.com/ozwaldorf/sawthat-frame/internal/netfetch"
	"github.com/ozwaldorf/sawthat-frame/internal/orchestrator"
	"github.com/ozwaldorf/sawthat-frame/internal/pmic"
	"github.com/ozwaldorf/sawthat-frame/internal/state"
)

var (
	widgetName = flag.String("widget", "default", "widget name to request from the edge service")
	baseURL    = flag.String("base-url", "https://frame.example.com", "edge service base URL")
	cacheRoot  = flag.String("cache-root", "/sd/cache", "root directory of the SD card cache")
	sessionDB  = flag.String("session-file", "/sd/session.bin", "path to the persisted session record")

	spiName  = flag.String("spi", "", "SPI port name for the panel (empty picks the first one)")
	dcPin    = flag.String("dc-pin", "GPIO25", "panel DC pin")
	csPin    = flag.String("cs-pin", "GPIO8", "panel CS pin")
	rstPin   = flag.String("rst-pin", "GPIO17", "panel RST pin")
	busyPin  = flag.String("busy-pin", "GPIO24", "panel BUSY pin")
	fastMode = flag.Bool("fast-refresh", false, "use the panel's fast (lower quality) refresh mode")

	buttonPin = flag.String("button-pin", "GPIO27", "button input pin")
	greenPin  = flag.String("green-led-pin", "GPIO5", "green LED output pin")
	redPin    = flag.String("red-led-pin", "GPIO6", "red LED output pin")

	wakeCause    = flag.String("wake-cause", "timer", "why the device woke: power-on, timer, or button")
	buttonHeldMs = flag.Int("button-held-ms", 0, "milliseconds the button was already held when the wake sampled it")

	simulate = flag.Bool("simulate", false, "render to a terminal preview instead of the real panel and skip PMIC/GPIO bring-up")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "frame: ", log.LstdFlags)

	if _, err := host.Init(); err != nil {
		logger.Fatalf("host.Init: %v", err)
	}

	wake, err := parseWakeInput(*wakeCause, *buttonHeldMs)
	if err != nil {
		logger.Fatalf("invalid -wake-cause: %v", err)
	}

	cacheStore := cache.New(*cacheRoot)
	sessionStore := state.NewStore(*sessionDB)
	netClient := netfetch.New(*baseURL)

	hw, err := bringUpHardware(logger)
	if err != nil {
		logger.Fatalf("hardware bring-up: %v", err)
	}
	defer hw.stop()

	cfg := orchestrator.Config{WidgetName: *widgetName}
	deps := &orchestrator.Deps{
		Store:            sessionStore,
		Cache:            cacheStore,
		NetProv:          &lazyNetwork{client: netClient},
		Panel:            hw.panel,
		Signals:          hw.signals,
		BatteryPercent:   hw.batteryPercent,
		SeedSource:       seedFromClock,
		Sleep:            time.Sleep,
		WaitButtonWindow: hw.waitButtonWindow,
	}

	result, err := orchestrator.RunWake(cfg, deps, wake)
	if err != nil {
		logger.Fatalf("wake cycle failed: %v", err)
	}
	if result.Aborted {
		logger.Printf("wake cycle aborted: %s", result.AbortReason)
		os.Exit(1)
	}
	logger.Printf("wake cycle done: %d cycle(s), items shown %v, next slot %d", result.Cycles, result.ItemsShown, result.Session.NextSlot)
}

// parseWakeInput translates the command-line wake description into the
// orchestrator's WakeInput, the same role the real firmware's interrupt
// vector plays in deciding why RunWake was entered.
func parseWakeInput(cause string, heldMs int) (orchestrator.WakeInput, error) {
	switch cause {
	case "power-on":
		return orchestrator.WakeInput{Cause: orchestrator.WakePowerOn}, nil
	case "timer":
		return orchestrator.WakeInput{Cause: orchestrator.WakeTimer}, nil
	case "button":
		return orchestrator.WakeInput{
			Cause:        orchestrator.WakeButton,
			ButtonHeldMs: time.Duration(heldMs) * time.Millisecond,
		}, nil
	default:
		return orchestrator.WakeInput{}, &unknownWakeCauseError{cause}
	}
}

type unknownWakeCauseError struct{ cause string }

func (e *unknownWakeCauseError) Error() string {
	return "unknown wake cause " + e.cause + " (want power-on, timer, or button)"
}

type pinNotFoundError struct{ name string }

func (e *pinNotFoundError) Error() string {
	return "pin " + e.name + " not found"
}

// hardware bundles everything bringUpHardware assembles: the panel,
// battery reader, button/LED shared state, a real button-window wait
// function backed by the button GPIO, and a teardown to run before sleep.
type hardware struct {
	panel            orchestrator.Panel
	batteryPercent   func() (int, error)
	signals          *buttonled.Signals
	waitButtonWindow func(*buttonled.Signals, time.Duration) buttonled.Outcome
	stop             func()
}

// bringUpHardware opens the panel (real or simulated), the PMIC power
// rails, the button input, and the LED goroutine. The returned hardware.stop must
// run before the caller sleeps, so the LED task leaves both LEDs off.
func bringUpHardware(logger *log.Logger) (*hardware, error) {
	signals := &buttonled.Signals{}
	stopLED := make(chan struct{})

	if *simulate {
		logger.Println("simulate: skipping PMIC/GPIO bring-up, using terminal preview panel")
		dev := epdsim.New(&epdsim.Opts{})
		return &hardware{
			panel:          simPanel{dev},
			batteryPercent: func() (int, error) { return 80, nil },
			signals:        signals,
			waitButtonWindow: func(s *buttonled.Signals, window time.Duration) buttonled.Outcome {
				time.Sleep(window)
				return s.ConsumeOutcome()
			},
			stop: func() {},
		}, nil
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, err
	}
	power, err := pmic.New(bus)
	if err != nil {
		return nil, err
	}
	if err := power.EnableLDO(2, 3.3); err != nil {
		return nil, err
	}
	if err := power.EnableLDO(3, 3.3); err != nil {
		return nil, err
	}

	mode := epd.Standard
	if *fastMode {
		mode = epd.Fast
	}
	dev, err := epd.New(*spiName, *dcPin, *csPin, *rstPin, *busyPin, mode)
	if err != nil {
		return nil, err
	}

	button := gpioreg.ByName(*buttonPin)
	if button == nil {
		return nil, &pinNotFoundError{*buttonPin}
	}
	green := gpioreg.ByName(*greenPin)
	if green == nil {
		return nil, &pinNotFoundError{*greenPin}
	}
	red := gpioreg.ByName(*redPin)
	if red == nil {
		return nil, &pinNotFoundError{*redPin}
	}

	go buttonled.RunLEDTask(green, red, signals, stopLED)

	return &hardware{
		panel:          dev,
		batteryPercent: power.BatteryPercent,
		signals:        signals,
		waitButtonWindow: func(s *buttonled.Signals, window time.Duration) buttonled.Outcome {
			buttonled.RunButtonMonitor(button, s, window)
			return s.ConsumeOutcome()
		},
		stop: func() {
			close(stopLED)
			_ = power.Halt()
		},
	}, nil
}

// simPanel adapts *epdsim.Dev to orchestrator.Panel. The simulator has no
// busy line or sleep rail, so those become no-ops; Display/PartialUpdate
// wrap the packed 4-bit buffer in a framebuf.PackedImage and hand it to
// dev.Draw, so the terminal preview actually shows what was rendered.
type simPanel struct {
	dev *epdsim.Dev
}

func (p simPanel) Init() error { return nil }

func (p simPanel) DisplayStart(buf []byte) error {
	img := framebuf.PackedImage{Pix: buf, Width: framebuf.Width, Height: framebuf.Height}
	return p.dev.Draw(p.dev.Bounds(), img, image.Point{})
}

func (p simPanel) PartialUpdateStart(rect epd.Rect, buf []byte) error {
	img := framebuf.PackedImage{Pix: buf, Width: rect.W, Height: rect.H}
	r := image.Rect(rect.X, rect.Y, rect.X+rect.W, rect.Y+rect.H)
	return p.dev.Draw(r, img, image.Point{})
}

func (p simPanel) RefreshWait() error { return nil }
func (p simPanel) IsBusy() bool       { return false }
func (p simPanel) Sleep() error       { return nil }

// lazyNetwork defers opening an HTTP connection until the first Connect,
// so a wake whose catalog and first images come from the SD cache does not
// touch the network until after its first refresh.
type lazyNetwork struct {
	client    *netfetch.Client
	connected atomic.Bool
}

func (n *lazyNetwork) Connect() (orchestrator.Network, error) {
	n.connected.Store(true)
	return n.client, nil
}

func (n *lazyNetwork) Connected() bool {
	return n.connected.Load()
}

// seedFromClock derives the per-wake shuffle seed from the wall clock,
// matching the original firmware's use of a free-running RTC tick count
// with no entropy requirement beyond "differs wake to wake".
func seedFromClock() uint64 {
	return uint64(time.Now().UnixNano())
}
