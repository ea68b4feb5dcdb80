// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storage

import (
	"time"

	"github.com/tofcore/tofcore/regaccess"
)

// gateway trigger codes; the specific values are imager-internal and only
// need to be distinct and nonzero.
const (
	gatewayTriggerRead  = 1
	gatewayTriggerWrite = 2
)

// GatewayRegisters names the imager registers the SPI gateway protocol uses.
// A 24 bit flash address is carried as two consecutive 16 bit registers
// (low word, then high byte in the low byte of the next word), the same
// convention cci.go uses for its 16 bit command/data windows.
type GatewayRegisters struct {
	WriteAddr  uint16 // SPIWRADDR, SPIWRADDR+1
	ReadAddr   uint16 // SPIRADDR, SPIRADDR+1
	Length     uint16 // SPILEN
	Trigger    uint16 // SPITRIG
	Status     uint16 // SPISTATUS; 0 means idle
	DataBuffer uint16 // register window the transferred bytes land in
}

// SPIGateway accesses flash indirectly by asking the imager to perform the
// SPI transaction on the host's behalf, the way execute_use_case does for a
// flash-defined imager (spec §4.3, §4.5).
type SPIGateway struct {
	Reg       *regaccess.Dev
	Regs      GatewayRegisters
	ImageSize uint32
}

func (g *SPIGateway) pollIdle() error {
	return g.Reg.PollUntil(g.Regs.Status, 0, 150*time.Microsecond, 10*time.Millisecond)
}

// Read triggers a flash-to-gateway transfer of length bytes starting at
// offset, then reads the result back from the register-mapped data buffer.
func (g *SPIGateway) Read(offset uint32, length int) ([]byte, error) {
	if err := checkBounds(offset, length, g.ImageSize); err != nil {
		return nil, err
	}
	if err := g.Reg.WriteBurst(g.Regs.ReadAddr, []uint16{uint16(offset), uint16(offset >> 16)}); err != nil {
		return nil, err
	}
	if err := g.Reg.Write(g.Regs.Length, uint16(length)); err != nil {
		return nil, err
	}
	if err := g.Reg.Write(g.Regs.Trigger, gatewayTriggerRead); err != nil {
		return nil, err
	}
	if err := g.pollIdle(); err != nil {
		return nil, err
	}
	words, err := g.Reg.ReadBurst(g.Regs.DataBuffer, (length+1)/2)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return out[:length], nil
}

// Write stages data into the register-mapped data buffer, then triggers a
// gateway-to-flash transfer at offset.
func (g *SPIGateway) Write(offset uint32, data []byte) error {
	if err := checkBounds(offset, len(data), g.ImageSize); err != nil {
		return err
	}
	words := make([]uint16, 0, (len(data)+1)/2)
	for i := 0; i < len(data); i += 2 {
		hi := data[i]
		var lo byte
		if i+1 < len(data) {
			lo = data[i+1]
		}
		words = append(words, uint16(hi)<<8|uint16(lo))
	}
	if len(words) > 0 {
		if err := g.Reg.WriteBurst(g.Regs.DataBuffer, words); err != nil {
			return err
		}
	}
	if err := g.Reg.WriteBurst(g.Regs.WriteAddr, []uint16{uint16(offset), uint16(offset >> 16)}); err != nil {
		return err
	}
	if err := g.Reg.Write(g.Regs.Length, uint16(len(data))); err != nil {
		return err
	}
	if err := g.Reg.Write(g.Regs.Trigger, gatewayTriggerWrite); err != nil {
		return err
	}
	return g.pollIdle()
}
