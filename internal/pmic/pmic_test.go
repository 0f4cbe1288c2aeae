// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pmic

import (
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestEnableLDOWritesVoltageThenEnableBits(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: []byte{regLDOVol2Ctrl, 0x1C}},
			{Addr: Address, W: []byte{regLDOOnOffCtrl, 0x04}},
		},
		DontPanic: true,
	}
	d, err := New(bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.EnableLDO(2, 3.3); err != nil {
		t.Fatalf("EnableLDO: %v", err)
	}
}

func TestEnableLDORejectsUnknownRail(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	d, _ := New(bus)
	if err := d.EnableLDO(5, 3.3); err == nil {
		t.Fatal("expected an error for an invalid LDO index")
	}
}

func TestEnableLDORejectsOutOfRangeVoltage(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	d, _ := New(bus)
	if err := d.EnableLDO(2, 5.0); err == nil {
		t.Fatal("expected an error for an out-of-range voltage")
	}
}

func TestBatteryPercentReadsRegister(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: []byte{regBatPercent}, R: []byte{72}},
		},
		DontPanic: true,
	}
	d, _ := New(bus)
	p, err := d.BatteryPercent()
	if err != nil {
		t.Fatalf("BatteryPercent: %v", err)
	}
	if p != 72 {
		t.Fatalf("got %d, want 72", p)
	}
}

func TestBatteryPercentClampsAt100(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: []byte{regBatPercent}, R: []byte{255}},
		},
		DontPanic: true,
	}
	d, _ := New(bus)
	p, err := d.BatteryPercent()
	if err != nil {
		t.Fatalf("BatteryPercent: %v", err)
	}
	if p != 100 {
		t.Fatalf("got %d, want clamped 100", p)
	}
}
