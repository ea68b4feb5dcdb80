// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pseudodata

import "fmt"

// FamilyM2450A12 and FamilyM2453A11 are the two pseudodata layouts shipped
// by this package. Additional families register themselves the same way
// from their own init().
const (
	FamilyM2450A12 Family = "M2450_A12"
	FamilyM2453A11 Family = "M2453_A11"
)

func init() {
	Register(m2450a12{})
	Register(m2453a11{})
}

// m2450a12 increments its frame counter once per raw frame and packs
// sequence index, binning and image size into a handful of words near the
// start of the row, with the reconfig index far out at word 148.
type m2450a12 struct{}

const m2450a12ReconfigIndex = 148

func (m2450a12) Family() Family        { return FamilyM2450A12 }
func (m2450a12) PerSuperframe() bool   { return false }
func (m2450a12) RequiredWidth() int {
	req := m2450a12ReconfigIndex
	if req < 7 {
		req = 7
	}
	return req + 1
}

func (m2450a12) Decode(row []uint16, width int) (Frame, error) {
	if err := requireWidth(row, m2450a12{}); err != nil {
		return Frame{}, err
	}
	binning := int((row[1] >> 5) & 3)
	return Frame{
		FrameNumber:    row[0] & frameNumberMask,
		SequenceIndex:  int(row[1] >> 7),
		ReconfigIndex:  row[m2450a12ReconfigIndex] & frameNumberMask,
		Binning:        binning,
		Width:          int((row[1]&31)<<4) >> binning,
		Height:         int(row[2]&511) >> binning,
		ADCTemperature: row[5],
	}, nil
}

// m2453a11 increments its frame counter once per superframe and reads
// horizontal/vertical size as inclusive pixel ranges rather than direct
// widths.
type m2453a11 struct {
	usesInternalCurrentMonitor bool
}

const (
	m2453vRef2V1 = 46
	m2453vRef2V4 = 47
	m2453vNtc2V1 = 48
	m2453vNtc2V4 = 49

	m2453RawValueMask = 0xFFF // only the low 12 bits of each word are valid
)

func (m2453a11) Family() Family      { return FamilyM2453A11 }
func (m2453a11) PerSuperframe() bool { return true }
func (m2453a11) RequiredWidth() int  { return m2453vNtc2V4 + 1 }

func (f m2453a11) Decode(row []uint16, width int) (Frame, error) {
	if err := requireWidth(row, f); err != nil {
		return Frame{}, err
	}
	hsize := 1 + int(row[23]) - int(row[22])
	vsize := 1 + int(row[25]) - int(row[24])
	var eyeErr bool
	if f.usesInternalCurrentMonitor {
		lo := row[41] & 0x3FF
		hi := row[42] & 0x1F
		eyeErr = lo != 0 || hi != 0
	}
	return Frame{
		FrameNumber:    row[3] & frameNumberMask,
		SequenceIndex:  int(row[4]),
		ReconfigIndex:  row[2] & frameNumberMask,
		Binning:        1,
		Width:          hsize,
		Height:         vsize,
		ADCTemperature: m2453TemperatureRaw(row),
		EyeSafetyFault: eyeErr,
	}, nil
}

// m2453TemperatureRaw combines the four vRef/vNtc ADC words the M2453
// pseudodata carries (word indices 46-49, matching getTemperatureRawValues)
// into the single raw reading tempmonitor.Monitor consumes: the NTC bridge
// leg's average reading above its reference leg's, each masked to its
// valid 12 bits. The split-into-four-words layout encodes a ratiometric
// bridge measurement, not a temperature directly, so this is a coarse
// stand-in for the bridge's actual transfer function (Open Question, same
// caveat as m2450a12's row[5]).
func m2453TemperatureRaw(row []uint16) uint16 {
	vRef1 := int(row[m2453vRef2V4] & m2453RawValueMask)
	vRef2 := int(row[m2453vRef2V1] & m2453RawValueMask)
	vNtc1 := int(row[m2453vNtc2V4] & m2453RawValueMask)
	vNtc2 := int(row[m2453vNtc2V1] & m2453RawValueMask)
	diff := (vNtc1+vNtc2)/2 - (vRef1+vRef2)/2
	if diff < 0 {
		diff = 0
	}
	return uint16(diff)
}

func requireWidth(row []uint16, interp Interpreter) error {
	if len(row) < interp.RequiredWidth() {
		return fmt.Errorf("pseudodata: %s needs row width %d, got %d", interp.Family(), interp.RequiredWidth(), len(row))
	}
	return nil
}
