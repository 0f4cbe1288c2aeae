// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pmic accesses the frame's power-management IC over I2C: two
// switchable LDO rails (for the panel and SD card supplies) and a
// battery-percentage register, following the teacher corpus's register-read
// and register-write idiom (aht20, am2320, ina260, and inky's bus.Tx use).
package pmic

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// Address is the fixed I2C address of the PMIC.
const Address uint16 = 0x34

const (
	regLDOOnOffCtrl uint8 = 0x90 // ALDO enable bits
	regLDOVol2Ctrl  uint8 = 0x94 // ALDO3 voltage
	regLDOVol3Ctrl  uint8 = 0x95 // ALDO4 voltage
	regBatPercent   uint8 = 0xA4 // battery percentage, 0-100
)

// ldoVoltageRegister maps an LDO index (2 or 3, matching ALDO3/ALDO4) to its
// voltage-control register.
var ldoVoltageRegister = map[int]uint8{
	2: regLDOVol2Ctrl,
	3: regLDOVol3Ctrl,
}

// Dev is the PMIC device.
type Dev struct {
	d       *i2c.Dev
	enabled uint8 // shadow of the ALDO enable bitmask, since it's write-only in practice
}

// New returns a Dev bound to the given I2C bus at the PMIC's fixed address.
func New(bus i2c.Bus) (*Dev, error) {
	return &Dev{d: &i2c.Dev{Bus: bus, Addr: Address}}, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("pmic.Dev{%#x}", Address)
}

// EnableLDO enables LDO rail n (2 or 3, i.e. ALDO3/ALDO4) at the given
// voltage in volts. The register encodes voltage as (mV-500)/100, matching
// the PMIC's ALDO voltage-control format (0.5V-3.4V in 100mV steps).
func (d *Dev) EnableLDO(n int, volts float64) error {
	reg, ok := ldoVoltageRegister[n]
	if !ok {
		return fmt.Errorf("pmic: invalid LDO index %d, want 2 or 3", n)
	}
	mv := volts * 1000
	if mv < 500 || mv > 3400 {
		return fmt.Errorf("pmic: voltage %.2fV out of the 0.5-3.4V ALDO range", volts)
	}
	code := uint8((mv - 500) / 100)
	if err := d.d.Tx([]byte{reg, code}, nil); err != nil {
		return fmt.Errorf("pmic: set LDO%d voltage: %w", n, err)
	}
	d.enabled |= 1 << uint(n)
	if err := d.d.Tx([]byte{regLDOOnOffCtrl, d.enabled}, nil); err != nil {
		return fmt.Errorf("pmic: enable LDO%d: %w", n, err)
	}
	return nil
}

// DisableLDO turns off rail n.
func (d *Dev) DisableLDO(n int) error {
	if _, ok := ldoVoltageRegister[n]; !ok {
		return fmt.Errorf("pmic: invalid LDO index %d, want 2 or 3", n)
	}
	d.enabled &^= 1 << uint(n)
	if err := d.d.Tx([]byte{regLDOOnOffCtrl, d.enabled}, nil); err != nil {
		return fmt.Errorf("pmic: disable LDO%d: %w", n, err)
	}
	return nil
}

// BatteryPercent reads the battery's state of charge as a percentage
// (0-100).
func (d *Dev) BatteryPercent() (int, error) {
	reg := []byte{regBatPercent}
	val := make([]byte, 1)
	if err := d.d.Tx(reg, val); err != nil {
		return 0, fmt.Errorf("pmic: read battery percent: %w", err)
	}
	p := int(val[0])
	if p > 100 {
		p = 100
	}
	return p, nil
}

// Halt implements conn.Resource. The PMIC has no state to tear down; rails
// stay enabled across Halt since the panel may still be mid-refresh.
func (d *Dev) Halt() error {
	return nil
}
