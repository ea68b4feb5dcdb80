// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package imager

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/regaccess"
	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/usecase"
	"periph.io/x/periph/conn/conntest"
	"periph.io/x/periph/conn/mmr"
)

func newTestDev(ops []conntest.IO) *Dev {
	p := &conntest.Playback{Ops: ops}
	reg := regaccess.New(mmr.Dev16{Conn: p, Order: binary.BigEndian})
	d := New(reg, pseudodata.FamilyM2450A12, ExternalConfig{})
	return d
}

func validUseCase() *usecase.UseCaseDefinition {
	return &usecase.UseCaseDefinition{
		Name:              "default",
		TargetFrameRateHz: 30,
		Width:             320,
		Height:            240,
		ExposureGroups:    []usecase.ExposureGroup{{Name: "g0", MinExposureUs: 10, MaxExposureUs: 1000, CurrentExposureUs: 500}},
		RawFrameSets:      []usecase.RawFrameSet{{ExposureGroup: 0, PhasesMilliDeg: []uint32{0, 90000, 180000, 270000}}},
		Streams:           []usecase.Stream{{Name: "s0", FrameGroups: [][]int{{0}}}},
	}
}

func TestInitializeRequiresVirgin(t *testing.T) {
	d := newTestDev(nil)
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := d.Initialize(); status.CodeOf(err) != status.CodeWrongState {
		t.Fatalf("err=%v", err)
	}
}

func TestVerifyUseCaseSuccess(t *testing.T) {
	d := newTestDev(nil)
	if r := d.VerifyUseCase(validUseCase()); r != Success {
		t.Fatalf("got %v", r)
	}
}

func TestVerifyUseCaseBadExposure(t *testing.T) {
	d := newTestDev(nil)
	u := validUseCase()
	u.ExposureGroups[0].CurrentExposureUs = 5000
	if r := d.VerifyUseCase(u); r != ExposureTime {
		t.Fatalf("got %v", r)
	}
}

func TestExecuteUseCaseRequiresReady(t *testing.T) {
	d := newTestDev(nil)
	if err := d.ExecuteUseCase(validUseCase(), nil); status.CodeOf(err) != status.CodeWrongState {
		t.Fatalf("err=%v", err)
	}
}

func TestStartStopCaptureLifecycle(t *testing.T) {
	d := newTestDev(nil)
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	u := validUseCase()
	if err := d.ExecuteUseCase(u, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if d.State() != usecase.Capturing {
		t.Fatalf("state=%v", d.State())
	}
	if err := d.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if d.State() != usecase.Ready {
		t.Fatalf("state=%v", d.State())
	}
	// Safe to call again after a trigger-forced stop.
	if err := d.StopCapture(); err != nil {
		t.Fatal(err)
	}
}

func TestStartCaptureWaitsOutEyeSafety(t *testing.T) {
	d := newTestDev(nil)
	base := time.Now()
	d.nowFunc = func() time.Time { return base }
	var slept time.Duration
	d.sleepFunc = func(dur time.Duration) { slept = dur }

	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	u := validUseCase()
	u.RawFrameSets[0].TEyeSafety = 50 * time.Millisecond
	if err := d.ExecuteUseCase(u, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if err := d.StopCapture(); err != nil {
		t.Fatal(err)
	}

	if err := d.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if slept != u.RawFrameSets[0].TEyeSafety {
		t.Fatalf("slept %v want %v", slept, u.RawFrameSets[0].TEyeSafety)
	}
}

func TestReconfigureExposureTimesRequiresCapturing(t *testing.T) {
	d := newTestDev(nil)
	if _, err := d.ReconfigureExposureTimes([]uint32{100}); status.CodeOf(err) != status.CodeWrongState {
		t.Fatalf("err=%v", err)
	}
}

func TestReconfigureExposureTimesSequence(t *testing.T) {
	ops := []conntest.IO{
		{W: []byte{0x01, 0x10}, R: []byte{0x00, 0x02}}, // poll CFGCNT_PENDING_BIT == 0; an unrelated bit (bit 1) is set, proving the poll masks rather than requiring the whole register to read zero
		{W: []byte{0x01, 0x20, 0x00, 0xC8}},             // write exposure register
		{W: []byte{0x01, 0x10, 0x00, 0x01}},             // masked write of the config-changed bit
		{W: []byte{0x01, 0x11}, R: []byte{0x00, 0x05}},  // read reconfig counter
	}
	d := newTestDev(ops)
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := d.ExecuteUseCase(validUseCase(), nil); err != nil {
		t.Fatal(err)
	}
	if err := d.StartCapture(); err != nil {
		t.Fatal(err)
	}
	idx, err := d.ReconfigureExposureTimes([]uint32{200})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 5 {
		t.Fatalf("idx=%d", idx)
	}
}
