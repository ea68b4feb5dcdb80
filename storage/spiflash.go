// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storage

import (
	"time"

	"github.com/tofcore/tofcore/status"
	"periph.io/x/periph/conn/spi"
)

// Generic SPI NOR flash commands and geometry (spec §4.3).
const (
	cmdWriteEnable = 0x06
	cmdRead        = 0x03
	cmdWrite       = 0x02
	cmdEraseSector = 0x20
	cmdStatus      = 0x05

	flashSectorSize = 4096
	flashPageSize   = 256

	statusBusyBit = 0x01
)

// statusPollSchedule is the exponential-then-plateau backoff used between
// STATUS reads while waiting for an erase or page write to complete.
var statusPollSchedule = buildStatusPollSchedule()

func buildStatusPollSchedule() []time.Duration {
	ms := []int{0, 1, 1, 3, 5, 40, 100, 150, 150, 150, 150, 150, 1000, 1000, 1000, 1000}
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

// SPIFlash accesses a generic SPI NOR flash directly over a spi.Conn.
type SPIFlash struct {
	Conn      spi.Conn
	ImageSize uint32
}

func addr24(a uint32) []byte {
	return []byte{byte(a >> 16), byte(a >> 8), byte(a)}
}

// Read reads length bytes starting at offset with a single READ command.
func (f *SPIFlash) Read(offset uint32, length int) ([]byte, error) {
	if err := checkBounds(offset, length, f.ImageSize); err != nil {
		return nil, err
	}
	cmd := append([]byte{cmdRead}, addr24(offset)...)
	out := make([]byte, length)
	if err := f.Conn.Tx(cmd, out); err != nil {
		return nil, status.Wrap(status.CodeRuntimeError, "storage: spi flash read failed", err)
	}
	return out, nil
}

func (f *SPIFlash) writeEnable() error {
	if err := f.Conn.Tx([]byte{cmdWriteEnable}, nil); err != nil {
		return status.Wrap(status.CodeRuntimeError, "storage: spi flash write_enable failed", err)
	}
	return nil
}

func (f *SPIFlash) readStatus() (byte, error) {
	var r [1]byte
	if err := f.Conn.Tx([]byte{cmdStatus}, r[:]); err != nil {
		return 0, status.Wrap(status.CodeRuntimeError, "storage: spi flash status read failed", err)
	}
	return r[0], nil
}

func (f *SPIFlash) waitIdle() error {
	for _, d := range statusPollSchedule {
		sleep(d)
		st, err := f.readStatus()
		if err != nil {
			return err
		}
		if st&statusBusyBit == 0 {
			return nil
		}
	}
	return status.New(status.CodeTimeout, "storage: spi flash status poll timed out")
}

// WriteSectorBased erases and rewrites complete sectors starting at start,
// which must be sector aligned: each sector is erased (WRITE_ENABLE then
// ERASE_SECTOR, then a STATUS poll), then programmed page by page
// (WRITE_ENABLE then WRITE, then a STATUS poll per page).
func (f *SPIFlash) WriteSectorBased(start uint32, buffer []byte) error {
	if start%flashSectorSize != 0 {
		return status.New(status.CodeInvalidValue, "storage: spi flash write must be sector aligned")
	}
	if err := checkBounds(start, len(buffer), f.ImageSize); err != nil {
		return err
	}
	for sectorOff := 0; sectorOff < len(buffer); sectorOff += flashSectorSize {
		sectorAddr := start + uint32(sectorOff)
		if err := f.writeEnable(); err != nil {
			return err
		}
		if err := f.Conn.Tx(append([]byte{cmdEraseSector}, addr24(sectorAddr)...), nil); err != nil {
			return status.Wrap(status.CodeRuntimeError, "storage: spi flash erase failed", err)
		}
		if err := f.waitIdle(); err != nil {
			return err
		}
		sectorEnd := sectorOff + flashSectorSize
		if sectorEnd > len(buffer) {
			sectorEnd = len(buffer)
		}
		for pageOff := sectorOff; pageOff < sectorEnd; pageOff += flashPageSize {
			pageEnd := pageOff + flashPageSize
			if pageEnd > sectorEnd {
				pageEnd = sectorEnd
			}
			pageAddr := start + uint32(pageOff)
			if err := f.writeEnable(); err != nil {
				return err
			}
			cmd := append(append([]byte{cmdWrite}, addr24(pageAddr)...), buffer[pageOff:pageEnd]...)
			if err := f.Conn.Tx(cmd, nil); err != nil {
				return status.Wrap(status.CodeRuntimeError, "storage: spi flash page write failed", err)
			}
			if err := f.waitIdle(); err != nil {
				return err
			}
		}
	}
	return nil
}
