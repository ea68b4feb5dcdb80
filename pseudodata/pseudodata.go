// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pseudodata decodes the metadata FLIR-style imagers embed in the
// first pixels of every raw frame: frame number, sequence index, reconfig
// index, binning, image size, raw ADC temperature counts, eye-safety flags
// and optional exposure time (spec §4.2).
//
// Every imager family needs its own field layout, so an Interpreter is
// looked up by Family from a registry populated at init time by this
// package's per-family files (see families.go), mirroring how
// devices/lepton/cci.go keys its register windows off a single fixed
// protocol rather than leaving anything to be inferred at call time.
package pseudodata

import "fmt"

// frameNumberMask is the modulus of the wrap-around frame and reconfig
// counters: both are 12 bit fields.
const frameNumberMask = 1<<12 - 1

// Frame is the decoded pseudodata of a single raw frame.
type Frame struct {
	FrameNumber    uint16 // 12 bit wrap-around counter.
	SequenceIndex  int
	ReconfigIndex  uint16 // 12 bit wrap-around counter.
	Binning        int
	Width          int
	Height         int
	ADCTemperature uint16 // raw ADC counts; conversion is family specific.
	EyeSafetyFault bool
	ExposureUs     uint32
	HasExposureUs  bool
}

// Family identifies an imager family's pseudodata layout and wrap-around
// semantics.
type Family string

// FollowingFrameNumber returns (base+k) mod 4096, where k=n for families
// that increment the frame counter once per raw frame, and k=1 regardless
// of n for families that increment it once per superframe (spec §4.2).
func FollowingFrameNumber(base uint16, n int, perSuperframe bool) uint16 {
	k := n
	if perSuperframe {
		k = 1
	}
	return uint16((int(base) + k) & frameNumberMask)
}

// IsGreaterFrame reports whether b is the logical successor of a under
// 12 bit wrap-around: b is greater than a if (b-a) mod 4096 is in (0, 2048).
func IsGreaterFrame(a, b uint16) bool {
	d := (int(b) - int(a)) & frameNumberMask
	return d > 0 && d < 1<<11
}

// Interpreter decodes one family's raw-frame pseudodata.
type Interpreter interface {
	// Family identifies the imager family this interpreter decodes.
	Family() Family
	// RequiredWidth is the minimum ROI width, in pixels, this interpreter
	// needs to find all of its fields.
	RequiredWidth() int
	// PerSuperframe reports whether this family's frame counter increments
	// once per superframe rather than once per raw frame; it is passed to
	// FollowingFrameNumber when matching frames into a group.
	PerSuperframe() bool
	// Decode parses pseudodata out of row, the first row (or first N
	// pixels) of a raw frame, given the ROI width it was captured at.
	Decode(row []uint16, width int) (Frame, error)
}

var registry = map[Family]Interpreter{}

// Register adds interp to the family registry. It is meant to be called
// from init() in a per-family source file; registering the same family
// twice is a programming error and panics.
func Register(interp Interpreter) {
	f := interp.Family()
	if _, dup := registry[f]; dup {
		panic(fmt.Sprintf("pseudodata: family %q already registered", f))
	}
	registry[f] = interp
}

// Lookup returns the registered Interpreter for family. It panics if no
// interpreter was registered: the per-family following-frame-number rule
// must always be explicit, never inferred from a default.
func Lookup(family Family) Interpreter {
	interp, ok := registry[family]
	if !ok {
		panic(fmt.Sprintf("pseudodata: no interpreter registered for family %q", family))
	}
	return interp
}

// Registered reports whether family has a registered Interpreter, without
// panicking; callers that need to probe for support (e.g. the module
// factory) should use this instead of Lookup.
func Registered(family Family) bool {
	_, ok := registry[family]
	return ok
}
