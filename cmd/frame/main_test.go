// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"testing"
	"time"

	"github.com/ozwaldorf/sawthat-frame/internal/orchestrator"
)

func TestParseWakeInput(t *testing.T) {
	cases := []struct {
		cause   string
		heldMs  int
		want    orchestrator.WakeCause
		wantErr bool
	}{
		{"power-on", 0, orchestrator.WakePowerOn, false},
		{"timer", 0, orchestrator.WakeTimer, false},
		{"button", 750, orchestrator.WakeButton, false},
		{"bogus", 0, 0, true},
	}
	for _, c := range cases {
		got, err := parseWakeInput(c.cause, c.heldMs)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseWakeInput(%q): expected an error", c.cause)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseWakeInput(%q): %v", c.cause, err)
		}
		if got.Cause != c.want {
			t.Errorf("parseWakeInput(%q).Cause = %v, want %v", c.cause, got.Cause, c.want)
		}
	}
	got, err := parseWakeInput("button", 750)
	if err != nil {
		t.Fatalf("parseWakeInput: %v", err)
	}
	if want := 750 * time.Millisecond; got.ButtonHeldMs != want {
		t.Errorf("ButtonHeldMs = %v, want %v", got.ButtonHeldMs, want)
	}
}
