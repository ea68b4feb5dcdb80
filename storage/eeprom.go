// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storage

import (
	"time"

	"github.com/tofcore/tofcore/status"
	"periph.io/x/periph/conn/i2c"
)

// EEPROM accesses an I²C EEPROM: reads split at the bus master's
// MaxDataSize, writes additionally split at PageSize with a configurable
// settle delay between pages, and a bounded page-write retry policy.
type EEPROM struct {
	Dev         *i2c.Dev
	PageSize    int
	MaxDataSize int // 0 means unbounded; the bus master's max Tx size.
	AddrWidth   int // register address width in bytes; 0 means 2.
	WriteTime   time.Duration
	ImageSize   uint32
}

func (e *EEPROM) addrWidth() int {
	if e.AddrWidth == 0 {
		return 2
	}
	return e.AddrWidth
}

func (e *EEPROM) encodeAddr(addr uint32) []byte {
	if e.addrWidth() == 1 {
		return []byte{byte(addr)}
	}
	return []byte{byte(addr >> 8), byte(addr)}
}

// Read reads length bytes starting at offset, splitting into chunks no
// larger than MaxDataSize.
func (e *EEPROM) Read(offset uint32, length int) ([]byte, error) {
	if err := checkBounds(offset, length, e.ImageSize); err != nil {
		return nil, err
	}
	out := make([]byte, 0, length)
	for len(out) < length {
		n := length - len(out)
		if e.MaxDataSize > 0 && n > e.MaxDataSize {
			n = e.MaxDataSize
		}
		addr := offset + uint32(len(out))
		buf := make([]byte, n)
		if err := e.Dev.Tx(e.encodeAddr(addr), buf); err != nil {
			return nil, status.Wrap(status.CodeRuntimeError, "storage: eeprom read failed", err)
		}
		out = append(out, buf...)
	}
	return out, nil
}

// pageChunkSize bounds a write to the remainder of the current page and to
// MaxDataSize (minus the address bytes every write also carries).
func (e *EEPROM) pageChunkSize(addr uint32, remaining int) int {
	n := remaining
	if e.PageSize > 0 {
		spaceInPage := int(uint32(e.PageSize) - addr%uint32(e.PageSize))
		if n > spaceInPage {
			n = spaceInPage
		}
	}
	if e.MaxDataSize > 0 {
		if max := e.MaxDataSize - e.addrWidth(); n > max {
			n = max
		}
	}
	return n
}

func (e *EEPROM) writePage(addr uint32, data []byte) error {
	buf := append(e.encodeAddr(addr), data...)
	if err := e.Dev.Tx(buf, nil); err != nil {
		return status.Wrap(status.CodeRuntimeError, "storage: eeprom page write failed", err)
	}
	return nil
}

// Write writes data starting at offset, splitting at page boundaries.
// Writes retry the same page on error, aborting once the cumulative error
// count exceeds writesAttempted/100; if the very first page fails, Write
// fails immediately without attempting a partial write (spec §4.3).
func (e *EEPROM) Write(offset uint32, data []byte) error {
	if err := checkBounds(offset, len(data), e.ImageSize); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	pos := 0
	writesAttempted := 0
	writeErrors := 0
	firstPage := true
	for pos < len(data) {
		addr := offset + uint32(pos)
		n := e.pageChunkSize(addr, len(data)-pos)
		if n <= 0 {
			return status.New(status.CodeLogicError, "storage: eeprom configured with a non-positive write chunk size")
		}
		writesAttempted++
		err := e.writePage(addr, data[pos:pos+n])
		if err != nil {
			writeErrors++
			if firstPage {
				return status.Wrap(status.CodeRuntimeError, "storage: eeprom first page write failed", err)
			}
			if writeErrors > writesAttempted/100 {
				return status.Wrap(status.CodeRuntimeError, "storage: eeprom write error rate exceeded", err)
			}
			continue
		}
		firstPage = false
		pos += n
		if e.WriteTime > 0 {
			sleep(e.WriteTime)
		}
	}
	return nil
}
