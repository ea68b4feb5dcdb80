// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fakebus provides deterministic, stateful fakes for exercising the
// capture pipeline without real hardware: a memory-mapped register file
// backing an imager's register access, and a synthetic raw-frame generator
// standing in for a Bridge vendor channel. It plays the role
// fake_lepton.go's synthetic noise pattern played for the teacher — "gets
// us going for testing without a device" — generalized from one fixed image
// format to the pseudodata families this module registers.
package fakebus

import (
	"encoding/binary"
	"sync"

	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/usecase"
)

// RegisterMap is a stateful conn.Conn simulating a 16 bit-addressed register
// file, enough to back an mmr.Dev16 for regaccess.Dev without a real bus.
// It only implements the subset of the protocol regaccess.Dev actually
// uses: single/burst reads of consecutive registers, same for writes.
type RegisterMap struct {
	mu    sync.Mutex
	order binary.ByteOrder
	regs  map[uint16]uint16
}

// NewRegisterMap returns an empty RegisterMap using order to decode
// addresses and values, matching whatever order the mmr.Dev16 under test is
// configured with.
func NewRegisterMap(order binary.ByteOrder) *RegisterMap {
	return &RegisterMap{order: order, regs: map[uint16]uint16{}}
}

// Set seeds addr with value, as if firmware had initialized it.
func (r *RegisterMap) Set(addr, value uint16) {
	r.mu.Lock()
	r.regs[addr] = value
	r.mu.Unlock()
}

// Get returns addr's current value.
func (r *RegisterMap) Get(addr uint16) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[addr]
}

// Tx implements conn.Conn. A write carries the address followed by one or
// more consecutive register values; a read carries only the address and
// fills r with one or more consecutive register values.
func (r *RegisterMap) Tx(w, read []byte) error {
	if len(w) < 2 {
		return status.New(status.CodeInvalidValue, "fakebus: short register transaction")
	}
	addr := r.order.Uint16(w[0:2])
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(read) == 0 {
		for i := 2; i+2 <= len(w); i += 2 {
			r.regs[addr] = r.order.Uint16(w[i : i+2])
			addr++
		}
		return nil
	}
	for i := 0; i+2 <= len(read); i += 2 {
		r.order.PutUint16(read[i:i+2], r.regs[addr])
		addr++
	}
	return nil
}

// FrameSource is a bridge.VendorChannel that synthesizes raw frames for a
// use case, cycling sequence indices 0..total-1 and advancing the frame
// number per the family's wrap-around rule (once per raw frame, or once per
// full cycle for perSuperframe families). It never reports calibration-
// accurate pixel data — only the pseudodata fields the Frame Collector
// matches on.
type FrameSource struct {
	mu       sync.Mutex
	cond     *sync.Cond
	family   pseudodata.Family
	total    int
	width    int
	pos      int
	counter  uint16
	perSuper bool
	closed   bool
}

const frameNumberMask = 0x0FFF

// NewFrameSource returns a FrameSource generating frames matching ucd's raw
// frame layout, encoded for interp's family.
func NewFrameSource(ucd *usecase.UseCaseDefinition, interp pseudodata.Interpreter) *FrameSource {
	total := 0
	for _, rfs := range ucd.RawFrameSets {
		total += rfs.RawFrameCount()
	}
	if total == 0 {
		total = 1
	}
	f := &FrameSource{
		family:   interp.Family(),
		total:    total,
		width:    interp.RequiredWidth(),
		perSuper: interp.PerSuperframe(),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Read produces the next raw frame in the cycle.
func (f *FrameSource) Read(buf []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, status.New(status.CodeDisconnected, "fakebus: frame source closed")
	}
	pos := f.pos
	if f.perSuper {
		if pos == 1 {
			f.counter = (f.counter + 1) & frameNumberMask
		}
	}
	frameNumber := f.counter
	if !f.perSuper {
		f.counter = (f.counter + 1) & frameNumberMask
	}
	f.pos++
	if f.pos >= f.total {
		f.pos = 0
	}
	f.mu.Unlock()

	row := encodeRow(f.family, f.width, frameNumber, uint16(pos))
	out := make([]byte, len(row)*2)
	for i, w := range row {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return copy(buf, out), nil
}

// Cancel unblocks any Read in progress; FrameSource never actually blocks,
// so this only prevents further frames from being produced.
func (f *FrameSource) Cancel() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// encodeRow writes frameNumber/sequenceIndex at the words each registered
// family's Decode reads them back from. Families not listed here are not
// yet supported by this fake (Open Question: add a case as new families are
// registered in pseudodata).
func encodeRow(family pseudodata.Family, width int, frameNumber, sequenceIndex uint16) []uint16 {
	row := make([]uint16, width)
	switch family {
	case pseudodata.FamilyM2453A11:
		row[3] = frameNumber
		row[4] = sequenceIndex
	default: // pseudodata.FamilyM2450A12 and anything sharing its layout
		row[0] = frameNumber
		row[1] = sequenceIndex << 7
	}
	return row
}
