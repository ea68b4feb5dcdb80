// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package storageformat parses the two on-flash layouts a module's
// calibration storage can use: the fixed-offset Pico-legacy header and the
// table-of-contents based Zwetschge format (spec §4.4).
//
// The fixed-offset struct, documented field by field with its byte range,
// follows the same style zchee-go-qcow2/header.go uses for its own
// on-disk header.
package storageformat

import (
	"encoding/binary"
	"fmt"

	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/storage"
)

// picoLegacyHeaderSize is the byte size of the fixed Pico-legacy header.
const picoLegacyHeaderSize = 6 + 2 + 4 + 4 + 4 + 4 + 4 // magic+pad+5*u32

// PicoLegacyHeader is the fixed-offset header stored at a constant offset
// from the end of flash.
type PicoLegacyHeader struct {
	Magic              [6]byte // 0:6
	HeaderVersion      uint32  // 8:12
	SerialNumber       uint32  // 12:16
	HardwareRevision   uint32  // 16:20
	CalibrationAddress uint32  // 20:24
	CalibrationSize    uint32  // 24:28
}

// ParsePicoLegacyHeader decodes a PicoLegacyHeader from its fixed-size
// on-flash representation.
func ParsePicoLegacyHeader(buf []byte) (PicoLegacyHeader, error) {
	var h PicoLegacyHeader
	if len(buf) < picoLegacyHeaderSize {
		return h, status.New(status.CodeInvalidValue, "storageformat: pico-legacy header truncated")
	}
	copy(h.Magic[:], buf[0:6])
	// buf[6:8] is padding.
	h.HeaderVersion = binary.LittleEndian.Uint32(buf[8:12])
	h.SerialNumber = binary.LittleEndian.Uint32(buf[12:16])
	h.HardwareRevision = binary.LittleEndian.Uint32(buf[16:20])
	h.CalibrationAddress = binary.LittleEndian.Uint32(buf[20:24])
	h.CalibrationSize = binary.LittleEndian.Uint32(buf[24:28])
	return h, nil
}

// SerialNumberString renders SerialNumber as a plain decimal string, e.g.
// serial number 1234 renders as "1234" with no padding or grouping.
func (h PicoLegacyHeader) SerialNumberString() string {
	return fmt.Sprintf("%d", h.SerialNumber)
}

// ModuleIdentifier returns HardwareRevision as a little-endian 4 byte module
// identifier.
func (h PicoLegacyHeader) ModuleIdentifier() [4]byte {
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], h.HardwareRevision)
	return id
}

// PicoLegacy reads the Pico-legacy format from a module's storage: the
// header sits at a fixed offset from the end of flash, and the calibration
// blob it points to is read on demand.
type PicoLegacy struct {
	Access    storage.Accessor
	ImageSize uint32
}

// ReadHeader locates and parses the header at ImageSize-picoLegacyHeaderSize.
func (p *PicoLegacy) ReadHeader() (PicoLegacyHeader, error) {
	offset := p.ImageSize - picoLegacyHeaderSize
	buf, err := p.Access.Read(offset, picoLegacyHeaderSize)
	if err != nil {
		return PicoLegacyHeader{}, err
	}
	return ParsePicoLegacyHeader(buf)
}

// GetCalibrationData reads the calibration blob a parsed header points to.
func (p *PicoLegacy) GetCalibrationData(h PicoLegacyHeader) ([]byte, error) {
	if h.CalibrationSize == 0 {
		return nil, nil
	}
	return p.Access.Read(h.CalibrationAddress, int(h.CalibrationSize))
}
