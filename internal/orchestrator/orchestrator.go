// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package orchestrator drives one wake cycle: it classifies why the device
// woke up, picks a cache-first or network boot path, renders and refreshes
// the panel one or more times in response to button activity, and persists
// the session record once, at the end of the wake, before the caller enters
// deep sleep. It is the single writer of persistent session state, confined to
// this one function path, per the retained-state discipline the firmware
// follows throughout.
package orchestrator

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"

	"github.com/ozwaldorf/sawthat-frame/internal/buttonled"
	"github.com/ozwaldorf/sawthat-frame/internal/epd"
	"github.com/ozwaldorf/sawthat-frame/internal/framebuf"
	"github.com/ozwaldorf/sawthat-frame/internal/state"
)

// Cache is the subset of *cache.Store the orchestrator depends on, narrowed
// to an interface so tests can supply an in-memory fake.
type Cache interface {
	Init() error
	HasImage(id string, o state.Orientation) bool
	ReadImage(id string, o state.Orientation, dst []byte) (int, error)
	WriteImage(id string, o state.Orientation, bytes []byte) error
	LoadWidgetList() ([]string, error)
	StoreWidgetList(list []string) error
	LoadOrientation() (state.Orientation, error)
	StoreOrientation(o state.Orientation) error
	CleanupStale(validList []string) (int, error)
}

// Network is the subset of *netfetch.Client the orchestrator depends on.
type Network interface {
	FetchWidgetData(widgetName string) ([]string, error)
	FetchPNG(widgetName, itemID string, o state.Orientation, dst io.Writer) (int64, error)
}

// NetworkProvider brings the network up lazily, the one suspension point
// the orchestrator defers for as long as possible: with a populated SD
// cache the first refresh is drawn from cached data, and the network is
// only connected after that refresh for prefetch and the catalog refetch.
type NetworkProvider interface {
	// Connect brings up the network if it isn't already, and returns a
	// Network bound to one pooled connection for the rest of this wake.
	Connect() (Network, error)
	// Connected reports whether Connect has already succeeded this wake.
	Connected() bool
}

// Panel is the subset of *epd.Dev the orchestrator depends on.
type Panel interface {
	Init() error
	DisplayStart(buf []byte) error
	PartialUpdateStart(rect epd.Rect, buf []byte) error
	RefreshWait() error
	IsBusy() bool
	Sleep() error
}

// WakeCause is the reason the device woke up.
type WakeCause int

const (
	// WakePowerOn is a cold boot or RTC-invalidating reset: always a fresh start.
	WakePowerOn WakeCause = iota
	// WakeTimer is the scheduled fifteen-minute refresh.
	WakeTimer
	// WakeButton is a user-initiated wake via the button's wake-capable pin.
	WakeButton
)

// refreshWindow is the post-refresh interval during which a button press
// re-enters the display loop instead of going to sleep.
const refreshWindow = 10 * time.Second

// catalogRetryInterval is how long the orchestrator waits between catalog
// fetch attempts when no cache is available.
const catalogRetryInterval = 30 * time.Second

// WakeInput describes why the device woke and, for a button wake, how long
// the button was held when first sampled.
type WakeInput struct {
	Cause        WakeCause
	ButtonHeldMs time.Duration
}

// Config names the widget this frame displays.
type Config struct {
	WidgetName string
}

// Deps wires the orchestrator to its collaborators. BatteryPercent and
// SeedSource are function-valued so tests can make both deterministic;
// WaitButtonWindow lets a test collapse the real 10-second wait to an
// immediate, scripted outcome.
type Deps struct {
	Store            *state.Store
	Cache            Cache
	NetProv          NetworkProvider
	Panel            Panel
	Signals          *buttonled.Signals
	BatteryPercent   func() (int, error)
	SeedSource       func() uint64
	Sleep            func(time.Duration)
	WaitButtonWindow func(*buttonled.Signals, time.Duration) buttonled.Outcome
}

func (d *Deps) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
	}
}

func (d *Deps) waitButtonWindow(window time.Duration) buttonled.Outcome {
	if d.WaitButtonWindow != nil {
		return d.WaitButtonWindow(d.Signals, window)
	}
	return d.Signals.ConsumeOutcome()
}

// Result summarizes what one wake cycle did, for logging and for tests.
type Result struct {
	Session      state.Session
	Cycles       int
	ItemsShown   []string
	Aborted      bool
	AbortReason  string
}

// live is the in-memory working copy of session fields for the duration of
// one wake. It is promoted to a state.Session only at the very end, so
// every intra-wake cycle mutates a single owner's copy, matching the
// "written once, at the sleep boundary" discipline for the real record.
type live struct {
	index       int
	totalItems  int
	seed        uint64
	orientation state.Orientation
	nextSlot    int
	slotItems   [2]int
	catalogHash uint32
	catalog     []string
}

// RunWake executes exactly one wake cycle end to end, saves the resulting
// session with a single Store.Save at the end, and returns it in the
// Result. A wake that aborts before that point returns without saving.
func RunWake(cfg Config, deps *Deps, wake WakeInput) (Result, error) {
	result := Result{}

	// Discard any stale outcome left over from a prior wake before this wake
	// can latch its own (open question resolution, §9): the orchestrator
	// must never observe a prior wake's press.
	deps.Signals.ConsumeOutcome()
	if wake.Cause == WakeButton {
		latchBoot(deps.Signals, wake.ButtonHeldMs)
	}

	if err := deps.Cache.Init(); err != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("cache init: %v", err)
		return result, nil
	}

	session, err := deps.Store.Load()
	if err != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("state load: %v", err)
		return result, nil
	}

	liveOrientation, err := deps.Cache.LoadOrientation()
	if err != nil {
		liveOrientation = state.Horizontal // no SD record yet: default
	}

	catalog, catalogFromCache, err := loadOrFetchCatalog(cfg, deps)
	if err != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("catalog: %v", err)
		return result, nil
	}
	catalogHash := state.Hash(catalog)

	l := bootLive(session, catalog, catalogHash, liveOrientation, deps.SeedSource)
	canPartial := session.CanPartial(catalogHash, liveOrientation)

	if err := deps.Panel.Init(); err != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("panel init: %v", err)
		result.Session = session
		return result, nil
	}

	refreshFailed := false
	for {
		shown, usePartial := cycleItems(&l, canPartial)
		result.ItemsShown = append(result.ItemsShown, shown...)
		result.Cycles++

		if err := renderAndRefresh(cfg, deps, &l, shown, usePartial); err != nil {
			// A lost refresh ends this wake as aborted without saving, so
			// persistent state stays untouched and the next wake retries.
			result.Aborted = true
			result.AbortReason = fmt.Sprintf("refresh: %v", err)
			refreshFailed = true
			break
		}

		overlapWork(cfg, deps, &l, catalogFromCache, &catalog)

		outcome := deps.waitButtonWindow(refreshWindow)
		switch outcome {
		case buttonled.Next:
			canPartial = l.orientation == state.Horizontal
			continue
		case buttonled.Flip:
			l.orientation = l.orientation.Toggle()
			if err := deps.Cache.StoreOrientation(l.orientation); err != nil {
				result.Aborted = true
				result.AbortReason = fmt.Sprintf("store orientation: %v", err)
			}
			l.slotItems = [2]int{0, 0}
			l.nextSlot = 0
			canPartial = false // slot layout is invalid after an orientation flip
			continue
		default:
		}
		break
	}

	if refreshFailed {
		result.Session = session
		return result, nil
	}

	result.Session = state.Session{
		Magic:       state.Magic,
		Index:       uint32(l.index),
		TotalItems:  uint32(l.totalItems),
		ShuffleSeed: l.seed,
		Orientation: l.orientation,
		NextSlot:    uint8(l.nextSlot),
		SlotItems:   [2]uint32{uint32(l.slotItems[0]), uint32(l.slotItems[1])},
		DataHash:    catalogHash,
	}
	if err := deps.Store.Save(result.Session); err != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("state save: %v", err)
	}
	return result, nil
}

// latchBoot classifies a button sample taken at the very start of a button
// wake (before the display loop runs) and latches the outcome the same way
// the in-refresh button monitor would, so it is consumed by the first
// post-refresh window check (S3).
func latchBoot(s *buttonled.Signals, heldMs time.Duration) {
	if heldMs >= 500*time.Millisecond {
		s.Latch(buttonled.Flip)
		return
	}
	s.Latch(buttonled.Next)
}

func loadOrFetchCatalog(cfg Config, deps *Deps) ([]string, bool, error) {
	catalog, err := deps.Cache.LoadWidgetList()
	if err == nil && len(catalog) > 0 {
		return catalog, true, nil
	}
	// Cache miss or corrupt: bring the network up now and block on the
	// catalog before anything else can proceed.
	net, err := deps.NetProv.Connect()
	if err != nil {
		return nil, false, err
	}
	for {
		catalog, err = net.FetchWidgetData(cfg.WidgetName)
		if err == nil {
			break
		}
		deps.sleep(catalogRetryInterval)
	}
	if err := deps.Cache.StoreWidgetList(catalog); err != nil {
		return nil, false, err
	}
	return catalog, false, nil
}

func bootLive(session state.Session, catalog []string, catalogHash uint32, liveOrientation state.Orientation, seedSource func() uint64) live {
	l := live{totalItems: len(catalog), catalog: catalog, catalogHash: catalogHash, orientation: liveOrientation}
	if session.Valid() && session.DataHash == catalogHash {
		l.index = int(session.Index)
		l.seed = session.ShuffleSeed
		l.nextSlot = int(session.NextSlot)
		l.slotItems = [2]int{int(session.SlotItems[0]), int(session.SlotItems[1])}
		return l
	}
	l.index = 0
	l.seed = seedSource()
	l.nextSlot = 0
	l.slotItems = [2]int{0, 0}
	return l
}

// cycleItems advances index/slots per I3/I4 and returns the shuffled
// identifiers to display this cycle plus whether this was a partial update.
func cycleItems(l *live, usePartial bool) ([]string, bool) {
	order := state.Shuffle(l.seed, l.totalItems)
	if usePartial {
		item := order[l.index%l.totalItems]
		slot := l.nextSlot
		l.slotItems[slot] = item
		l.nextSlot ^= 1
		l.index++
		return []string{l.catalog[item]}, true
	}
	if l.orientation == state.Vertical {
		item := order[l.index%l.totalItems]
		l.index++
		l.slotItems = [2]int{item, item}
		l.nextSlot = 0
		return []string{l.catalog[item]}, false
	}
	a := order[l.index%l.totalItems]
	b := order[(l.index+1)%l.totalItems]
	l.slotItems = [2]int{a, b}
	l.nextSlot = 0
	l.index += 2
	return []string{l.catalog[a], l.catalog[b]}, false
}

func renderAndRefresh(cfg Config, deps *Deps, l *live, shown []string, usePartial bool) error {
	buf := framebuf.NewBuffer()
	partialSlot := (l.nextSlot + 1) % 2 // the slot just written, before nextSlot advanced past it
	switch {
	case usePartial:
		loadItemImage(cfg, deps, l, shown[0], buf, partialSlot*framebuf.Width/2)
	case l.orientation == state.Vertical:
		loadItemImage(cfg, deps, l, shown[0], buf, 0)
	default:
		for i, id := range shown {
			loadItemImage(cfg, deps, l, id, buf, i*framebuf.Width/2)
		}
	}
	if pct, err := deps.BatteryPercent(); err == nil {
		x, y := framebuf.BatteryPosition(l.orientation == state.Vertical)
		buf.DrawBattery(x, y, pct, l.orientation == state.Vertical)
	}

	if usePartial {
		rect := epd.NewRect(partialSlot*framebuf.Width/2, 0, framebuf.Width/2, framebuf.Height)
		if err := deps.Panel.PartialUpdateStart(rect, buf.ExtractHalf(partialSlot)); err != nil {
			return err
		}
	} else {
		if err := deps.Panel.DisplayStart(buf.Bytes()); err != nil {
			return err
		}
	}
	return deps.Panel.RefreshWait()
}

func loadItemImage(cfg Config, deps *Deps, l *live, id string, buf *framebuf.Buffer, xOffset int) {
	scratch := make([]byte, 1<<20)
	if deps.Cache.HasImage(id, l.orientation) {
		if n, err := deps.Cache.ReadImage(id, l.orientation, scratch); err == nil {
			paintPNG(buf, xOffset, scratch[:n])
			return
		}
	}
	if deps.NetProv.Connected() {
		net, err := deps.NetProv.Connect()
		if err != nil {
			return
		}
		var out bytes.Buffer
		if _, err := net.FetchPNG(cfg.WidgetName, id, l.orientation, &out); err == nil {
			_ = deps.Cache.WriteImage(id, l.orientation, out.Bytes())
			paintPNG(buf, xOffset, out.Bytes())
		}
	}
}

// paintPNG decodes a PNG already quantized to this panel's six-color
// palette (the edge service owns dithering and palette selection; see
// spec.md §1/§6) and streams its rows into buf starting at xOffset,
// remapping each palette index through framebuf.RemapPNGIndex. A decode
// failure or a PNG that isn't palette-indexed leaves buf untouched rather
// than painting garbage.
func paintPNG(buf *framebuf.Buffer, xOffset int, data []byte) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	pal, ok := img.(*image.Paletted)
	if !ok {
		return
	}
	b := pal.Bounds()
	row := make([]uint8, b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			row[x-b.Min.X] = pal.ColorIndexAt(x, y)
		}
		buf.WriteRow(xOffset, y-b.Min.Y, row)
	}
}

func overlapWork(cfg Config, deps *Deps, l *live, catalogFromCache bool, catalog *[]string) {
	if !deps.NetProv.Connected() {
		if _, err := deps.NetProv.Connect(); err != nil {
			return
		}
	}
	net, err := deps.NetProv.Connect()
	if err != nil {
		return
	}

	// Prefetch the next item's PNG if not already cached.
	order := state.Shuffle(l.seed, l.totalItems)
	nextItem := l.catalog[order[l.index%l.totalItems]]
	if !deps.Cache.HasImage(nextItem, l.orientation) {
		var out bytes.Buffer
		if _, err := net.FetchPNG(cfg.WidgetName, nextItem, l.orientation, &out); err == nil {
			_ = deps.Cache.WriteImage(nextItem, l.orientation, out.Bytes())
		}
	}

	if catalogFromCache {
		fresh, err := net.FetchWidgetData(cfg.WidgetName)
		if err != nil {
			return
		}
		if !sameCatalog(fresh, *catalog) {
			_ = deps.Cache.StoreWidgetList(fresh)
			_, _ = deps.Cache.CleanupStale(fresh)
			*catalog = fresh
		}
	}

	for deps.Panel.IsBusy() {
		deps.sleep(200 * time.Millisecond)
	}
}

func sameCatalog(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
