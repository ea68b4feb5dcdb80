// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package storage implements the three non-volatile storage transports a
// module's calibration/use-case data can live behind: I²C EEPROM, SPI flash
// addressed directly, and SPI flash addressed indirectly through the
// imager's SPI gateway registers (spec §4.3).
//
// Each transport is built the way lepton/bus.go builds its I²C/SPI access:
// a thin wrapper around a periph.io/x/periph bus/port connection plus the
// retry and timing rules the underlying chip actually needs.
package storage

import (
	"time"

	"github.com/tofcore/tofcore/status"
)

// sleep is overridden in tests to avoid real delays.
var sleep = time.Sleep

// Accessor is a random-access byte range backed by non-volatile storage.
type Accessor interface {
	Read(offset uint32, length int) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// checkBounds enforces offset+length <= imageSize, when imageSize is known
// (a zero imageSize means the extent is not tracked, e.g. unprovisioned
// storage).
func checkBounds(offset uint32, length int, imageSize uint32) error {
	if imageSize == 0 {
		return nil
	}
	if uint64(offset)+uint64(length) > uint64(imageSize) {
		return status.New(status.CodeOutOfBounds, "storage: access exceeds image size")
	}
	return nil
}
